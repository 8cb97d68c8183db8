// @title           ScholarPress Portal API
// @version         1.0
// @description     API for an academic submission portal: authors register, submit papers with an uploaded manuscript, pay the submission fee, run AI screening checks, and admins triage the queue.
// @BasePath        /api
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
// @description     Format: Bearer <token>
package main

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"

	"github.com/scholarpress/portal-backend/internal/aicheck"
	"github.com/scholarpress/portal-backend/internal/auth"
	"github.com/scholarpress/portal-backend/internal/jobs"
	"github.com/scholarpress/portal-backend/internal/papers"
	"github.com/scholarpress/portal-backend/internal/payments"
	"github.com/scholarpress/portal-backend/internal/session"
	"github.com/scholarpress/portal-backend/internal/storage"
	"github.com/scholarpress/portal-backend/internal/users"
	"github.com/scholarpress/portal-backend/pkg/config"
	"github.com/scholarpress/portal-backend/pkg/database"
	"github.com/scholarpress/portal-backend/pkg/logger"
	"github.com/scholarpress/portal-backend/pkg/metrics"
	"github.com/scholarpress/portal-backend/pkg/models"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config:", err)
	}

	zl, err := logger.New(cfg.AppEnv == "dev")
	if err != nil {
		log.Fatal("logger:", err)
	}
	defer zl.Sync()

	auth.UseSecret(cfg.JWTSecret)

	db := database.Init(cfg.DatabaseURL)
	if err := db.AutoMigrate(
		&models.User{}, &models.Paper{}, &models.Payment{}, &models.PaperHistory{},
	); err != nil {
		zl.Fatal("migration failed", zap.Error(err))
	}

	var sb *storage.Supabase
	if cfg.SupabaseURL != "" {
		sb = storage.NewSupabase(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseBucket)
	} else {
		zl.Warn("SUPABASE_URL unset; file storage disabled")
	}

	var scorer aicheck.Scorer
	if cfg.GeminiAPIKey != "" {
		gs, err := aicheck.NewGeminiScorer(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			zl.Fatal("gemini client", zap.Error(err))
		}
		defer gs.Close()
		scorer = gs
	} else {
		zl.Warn("GEMINI_API_KEY unset; AI checks disabled")
	}

	orch := session.New(db, zl, cfg.BootstrapAdminEmail)

	app := fiber.New(fiber.Config{
		ErrorHandler: auth.ErrorHandler,
	})

	app.Get("/health", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	api := app.Group("/api")

	// Auth
	authH := auth.NewHandler(db, orch, zl, cfg)
	api.Post("/signup", authH.Signup)
	api.Post("/login", authH.Login)
	api.Post("/password/reset", authH.RequestPasswordReset)
	api.Post("/password/confirm", authH.ConfirmPasswordReset)
	api.Get("/auth/:provider/redirect", authH.OAuthRedirect)
	api.Get("/auth/:provider/callback", authH.OAuthCallback)

	// Session
	sessH := session.NewHandler(db, orch)
	api.Post("/session/redirect", auth.RequireAuth(), sessH.SetRedirect)
	api.Get("/session/landing", auth.RequireAuth(), sessH.Landing)

	// Users
	userH := users.NewHandler(db, zl)
	api.Get("/me", auth.RequireAuth(), userH.Me)
	api.Patch("/me", auth.RequireAuth(), userH.UpdateMe)

	// Papers
	paperH := papers.NewHandler(db, sb, zl)
	api.Post("/papers", auth.RequireAuth(), paperH.Submit)
	api.Get("/papers/mine", auth.RequireAuth(), paperH.ListMine)
	api.Get("/papers/published", paperH.ListPublished)
	api.Get("/papers/:id", auth.RequireAuth(), paperH.Get)
	api.Delete("/papers/:id", auth.RequireAuth(), paperH.Delete)

	// AI checks
	checkH := aicheck.NewHandler(db, scorer, zl)
	api.Post("/papers/:id/checks/plagiarism", auth.RequireAuth(), checkH.Plagiarism)
	api.Post("/papers/:id/checks/acceptance", auth.RequireAuth(), checkH.Acceptance)

	// Payments
	payH := payments.NewHandler(db, cfg, zl)
	api.Post("/papers/:id/checkout", auth.RequireAuth(), payH.CreateCheckout)
	api.Post("/payments/stripe/webhook", payH.StripeWebhook)
	if cfg.AppEnv == "dev" && cfg.PaymentProvider == "mock" {
		api.Post("/payments/mock/complete", payH.MockComplete) // protected by X-Dev-Secret
	}

	// Admin
	admin := api.Group("/admin", auth.RequireAuth(), auth.RequireAdmin())
	admin.Get("/papers", paperH.AdminList)
	admin.Patch("/papers/:id/status", paperH.SetStatus)
	admin.Patch("/papers/:id/feedback", paperH.Feedback)
	admin.Get("/users", userH.AdminList)
	admin.Patch("/users/:id/admin", userH.SetAdmin)

	// Background maintenance
	runner := jobs.NewRunner(db, sb, zl, cfg.OrphanGraceHours)
	if err := runner.Start(cfg.CronSchedule); err != nil {
		zl.Fatal("cron start", zap.Error(err))
	}
	defer runner.Stop()

	zl.Info("server starting", zap.String("port", cfg.HTTPPort))
	if err := app.Listen(":" + cfg.HTTPPort); err != nil {
		zl.Fatal("server stopped", zap.Error(err))
	}
}
