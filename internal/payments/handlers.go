package payments

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/scholarpress/portal-backend/internal/auth"
	"github.com/scholarpress/portal-backend/pkg/config"
	"github.com/scholarpress/portal-backend/pkg/metrics"
	"github.com/scholarpress/portal-backend/pkg/models"
	"github.com/scholarpress/portal-backend/pkg/utils"
)

type Handler struct {
	db  *gorm.DB
	cfg *config.Config
	log *zap.Logger
}

func NewHandler(db *gorm.DB, cfg *config.Config, log *zap.Logger) *Handler {
	if cfg.PaymentProvider == "stripe" {
		stripe.Key = cfg.StripeSecretKey
	}
	return &Handler{db: db, cfg: cfg, log: log}
}

type checkoutResponse struct {
	PaymentID   uuid.UUID `json:"payment_id"`
	RedirectURL string    `json:"redirect_url"`
	Provider    string    `json:"provider"`
}

/* ========== Create Checkout (author) ========== */

// @Summary      Create a submission-fee checkout
// @Description  Creates an initiated payment for a paper awaiting its fee and
// @Description  returns the URL to redirect the author to. With the mock
// @Description  provider the URL points at a fake checkout page; with Stripe
// @Description  it is a real Checkout Session.
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "paper id (uuid)"
// @Success      201  {object}  checkoutResponse
// @Failure      404  {object}  models.ErrorResponse
// @Failure      409  {object}  models.ErrorResponse
// @Router       /papers/{id}/checkout [post]
func (h *Handler) CreateCheckout(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	paperID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid paper id")
	}

	var p models.Paper
	if err := h.db.First(&p, "id = ?", paperID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if p.OwnerID.String() != userID {
		return fiber.ErrForbidden
	}
	if p.Status != models.PaperPaymentPending {
		return fiber.NewError(fiber.StatusConflict, "paper is not awaiting payment")
	}

	pay := models.Payment{
		PaperID:     p.ID,
		OwnerID:     p.OwnerID,
		AmountCents: h.cfg.SubmissionFeeCents,
		Provider:    h.cfg.PaymentProvider,
		Status:      models.PayInitiated,
		CreatedAt:   time.Now(),
	}
	if err := h.db.Create(&pay).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	if h.cfg.PaymentProvider == "stripe" {
		return h.stripeCheckout(c, &p, &pay)
	}

	// Mock path: hand back a fake checkout URL. The frontend redirects to its
	// success page and calls /payments/mock/complete from there.
	mockURL := "mock://checkout?payment_id=" + pay.ID.String()
	return c.Status(fiber.StatusCreated).JSON(checkoutResponse{
		PaymentID:   pay.ID,
		RedirectURL: mockURL,
		Provider:    "mock",
	})
}

func (h *Handler) stripeCheckout(c *fiber.Ctx, p *models.Paper, pay *models.Payment) error {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String("usd"),
				UnitAmount: stripe.Int64(pay.AmountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Submission fee: " + p.Title),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		ClientReferenceID: stripe.String(pay.ID.String()),
		SuccessURL:        stripe.String(h.cfg.CheckoutSuccessURL),
		CancelURL:         stripe.String(h.cfg.CheckoutCancelURL),
	}

	s, err := checkoutsession.New(params)
	if err != nil {
		h.log.Error("stripe session create failed", zap.String("payment_id", pay.ID.String()), zap.Error(err))
		return fiber.NewError(fiber.StatusBadGateway, "could not start checkout")
	}
	if err := h.db.Model(pay).Update("stripe_session_id", s.ID).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	return c.Status(fiber.StatusCreated).JSON(checkoutResponse{
		PaymentID:   pay.ID,
		RedirectURL: s.URL,
		Provider:    "stripe",
	})
}

/* ========== Stripe webhook ========== */

// @Summary      Stripe webhook receiver
// @Description  Verifies the event signature and, on checkout.session.completed,
// @Description  marks the payment paid and moves the paper into review intake.
// @Description  Safe to replay.
// @Tags         payments
// @Accept       json
// @Produce      json
// @Router       /payments/stripe/webhook [post]
func (h *Handler) StripeWebhook(c *fiber.Ctx) error {
	event, err := webhook.ConstructEvent(c.Body(), c.Get("Stripe-Signature"), h.cfg.StripeWebhookSecret)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid signature")
	}

	if event.Type != "checkout.session.completed" {
		// Acknowledge everything else so Stripe stops retrying.
		return c.JSON(fiber.Map{"received": true})
	}

	var s stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
		return fiber.ErrBadRequest
	}

	var pay models.Payment
	if err := h.db.First(&pay, "stripe_session_id = ?", s.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			h.log.Warn("webhook for unknown session", zap.String("session_id", s.ID))
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	if err := h.complete(c, pay.ID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"received": true})
}

/* ========== Mock Complete (dev only) ========== */

// Body: { "payment_id": "<uuid>" }
// Header: X-Dev-Secret: <DEV_PAYMENT_SECRET>
type mockCompleteReq struct {
	PaymentID string `json:"payment_id"`
}

func (h *Handler) MockComplete(c *fiber.Ctx) error {
	if h.cfg.AppEnv != "dev" || h.cfg.PaymentProvider != "mock" {
		return fiber.ErrNotFound
	}
	if c.Get("X-Dev-Secret") == "" || c.Get("X-Dev-Secret") != h.cfg.DevPaymentSecret {
		return fiber.NewError(http.StatusUnauthorized, "missing/invalid X-Dev-Secret")
	}
	var in mockCompleteReq
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}
	pid, err := uuid.Parse(in.PaymentID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payment id")
	}

	if err := h.complete(c, pid); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true})
}

// complete marks the payment paid and finishes the paper's submission:
// status moves to submitted, the paid and submission timestamps are set and
// the due date is cleared. Replays are no-ops.
func (h *Handler) complete(c *fiber.Ctx, paymentID uuid.UUID) error {
	tx := h.db.Begin()

	var pay models.Payment
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&pay, "id = ?", paymentID).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if pay.Status == models.PayPaid {
		tx.Rollback()
		return nil // already applied
	}

	var p models.Paper
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&p, "id = ?", pay.PaperID).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}

	now := time.Now()
	if err := tx.Model(&models.Payment{}).Where("id = ?", pay.ID).
		Update("status", models.PayPaid).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}
	transitioned := p.Status == models.PaperPaymentPending
	if transitioned {
		if err := tx.Model(&models.Paper{}).Where("id = ?", p.ID).
			Updates(map[string]any{
				"status":           models.PaperSubmitted,
				"paid_at":          now,
				"submission_date":  now,
				"payment_due_date": nil,
			}).Error; err != nil {
			tx.Rollback()
			return fiber.ErrInternalServerError
		}
	}

	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}

	metrics.PaymentsCompleted.Inc()
	if transitioned {
		utils.LogPaperHistory(c.UserContext(), h.db, p.ID, pay.OwnerID, "payment_completed",
			p.Status, models.PaperSubmitted, "submission fee paid")
	}
	return nil
}
