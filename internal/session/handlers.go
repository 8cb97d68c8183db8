package session

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/scholarpress/portal-backend/pkg/models"
	"github.com/scholarpress/portal-backend/pkg/validation"
)

// Handler exposes the navigation-intent endpoints. The intent replaces the
// old ad hoc browser-local keys: it is set once by whichever route demanded
// a login, and consumed exactly once by the landing resolution.
type Handler struct {
	db   *gorm.DB
	orch *Orchestrator
}

func NewHandler(db *gorm.DB, orch *Orchestrator) *Handler {
	return &Handler{db: db, orch: orch}
}

type SetRedirectRequest struct {
	Path string `json:"path" validate:"required,max=500"`
}

// @Summary      Record a post-login redirect
// @Tags         session
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  SetRedirectRequest  true  "absolute path"
// @Success      204
// @Failure      400  {object}  models.ValidationErrorResponse
// @Router       /session/redirect [post]
func (h *Handler) SetRedirect(c *fiber.Ctx) error {
	var in SetRedirectRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}
	userID := c.Locals("userID").(string)
	if err := h.orch.SetRedirect(c.UserContext(), userID, in.Path); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// @Summary      Resolve the post-login landing route
// @Description  Incomplete profiles always land on the completion form; a
// @Description  recorded redirect is returned once and cleared; otherwise the
// @Description  role-based default applies.
// @Tags         session
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /session/landing [get]
func (h *Handler) Landing(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)

	var u models.User
	if err := h.db.First(&u, "id = ?", userID).Error; err != nil {
		return fiber.ErrUnauthorized
	}

	route, err := h.orch.LandingRoute(c.UserContext(), &u)
	if err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"route": route, "complete": IsComplete(&u)})
}
