package users

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/scholarpress/portal-backend/internal/auth"
	"github.com/scholarpress/portal-backend/internal/session"
	"github.com/scholarpress/portal-backend/pkg/models"
	"github.com/scholarpress/portal-backend/pkg/validation"
)

type Handler struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewHandler(db *gorm.DB, log *zap.Logger) *Handler {
	return &Handler{db: db, log: log}
}

/* ================================ DTOs ================================= */

// ProfileResponse is the stable public shape of a profile plus the two
// derived flags the client drives navigation with.
type ProfileResponse struct {
	models.User
	Complete bool `json:"complete"`
}

type UpdateProfileRequest struct {
	Username     *string `json:"username" validate:"omitempty,username"`
	Role         *string `json:"role" validate:"omitempty,oneof=author reviewer admin"`
	PhoneNumber  *string `json:"phone_number" validate:"omitempty,phone"`
	Institution  *string `json:"institution" validate:"omitempty,max=200"`
	ResearcherID *string `json:"researcher_id" validate:"omitempty,orcid"`
	DisplayName  *string `json:"display_name" validate:"omitempty,min=2,max=80"`
}

func (h *Handler) current(c *fiber.Ctx) (*models.User, error) {
	var u models.User
	if err := h.db.First(&u, "id = ?", auth.MustUserID(c)).Error; err != nil {
		return nil, fiber.ErrUnauthorized
	}
	return &u, nil
}

/* ================================= Me =================================== */

// @Summary      Get current user profile
// @Tags         users
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  ProfileResponse
// @Failure      401  {object}  models.ErrorResponse
// @Router       /me [get]
func (h *Handler) Me(c *fiber.Ctx) error {
	u, err := h.current(c)
	if err != nil {
		return err
	}
	return c.JSON(ProfileResponse{User: *u, Complete: session.IsComplete(u)})
}

// @Summary      Update my profile
// @Description  Complete or edit the profile. Username and phone number must
// @Description  be unique across all profiles.
// @Tags         users
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  UpdateProfileRequest  true  "profile fields"
// @Success      200  {object}  ProfileResponse
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      409  {object}  models.ErrorResponse
// @Router       /me [patch]
func (h *Handler) UpdateMe(c *fiber.Ctx) error {
	u, err := h.current(c)
	if err != nil {
		return err
	}

	var in UpdateProfileRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	updates := map[string]any{}

	if in.Username != nil {
		username := strings.TrimSpace(*in.Username)
		if taken, err := h.taken(c, "username", username, u.ID); err != nil {
			return err
		} else if taken {
			return fiber.NewError(fiber.StatusConflict, "username already taken")
		}
		updates["username"] = username
	}
	if in.PhoneNumber != nil {
		phone := strings.TrimSpace(*in.PhoneNumber)
		if taken, err := h.taken(c, "phone_number", phone, u.ID); err != nil {
			return err
		} else if taken {
			return fiber.NewError(fiber.StatusConflict, "phone number already in use")
		}
		updates["phone_number"] = phone
	}
	if in.Role != nil {
		updates["role"] = models.Role(*in.Role)
	}
	if in.Institution != nil {
		updates["institution"] = strings.TrimSpace(*in.Institution)
	}
	if in.ResearcherID != nil {
		updates["researcher_id"] = strings.TrimSpace(strings.ToUpper(*in.ResearcherID))
	}
	if in.DisplayName != nil {
		updates["display_name"] = strings.TrimSpace(*in.DisplayName)
	}

	if len(updates) > 0 {
		if err := h.db.Model(u).Updates(updates).Error; err != nil {
			// Unique index race: two requests passed the pre-check together.
			return fiber.NewError(fiber.StatusConflict, "username or phone number already in use")
		}
	}

	if err := h.db.First(u, "id = ?", u.ID).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(ProfileResponse{User: *u, Complete: session.IsComplete(u)})
}

// taken reports whether another profile already holds this unique value.
func (h *Handler) taken(c *fiber.Ctx, column, value string, selfID any) (bool, error) {
	if value == "" {
		return false, fiber.NewError(fiber.StatusBadRequest, column+" must not be empty")
	}
	var count int64
	if err := h.db.Model(&models.User{}).
		Where(column+" = ? AND id <> ?", value, selfID).
		Count(&count).Error; err != nil {
		return false, fiber.ErrInternalServerError
	}
	return count > 0, nil
}

/* ================================ Admin ================================= */

type AdminUserItem struct {
	models.User
	Complete bool `json:"complete"`
}

// @Summary      List users (admin)
// @Tags         admin
// @Security     BearerAuth
// @Produce      json
// @Param        page      query int false "page"
// @Param        pageSize  query int false "pageSize"
// @Success      200  {object}  map[string]any
// @Failure      403  {object}  models.ErrorResponse
// @Router       /admin/users [get]
func (h *Handler) AdminList(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	size, _ := strconv.Atoi(c.Query("pageSize", "10"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 50 {
		size = 10
	}

	var total int64
	if err := h.db.Model(&models.User{}).Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var list []models.User
	if err := h.db.Order("created_at DESC").
		Offset((page - 1) * size).Limit(size).
		Find(&list).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	items := make([]AdminUserItem, 0, len(list))
	for i := range list {
		items = append(items, AdminUserItem{User: list[i], Complete: session.IsComplete(&list[i])})
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": items,
	})
}

type SetAdminRequest struct {
	IsAdmin bool `json:"is_admin"`
}

// @Summary      Grant or revoke admin (admin)
// @Description  The only path that writes the admin flag; regular profile
// @Description  updates can never touch it.
// @Tags         admin
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string           true  "user id (uuid)"
// @Param        payload  body  SetAdminRequest  true  "admin flag"
// @Success      200  {object}  models.User
// @Failure      404  {object}  models.ErrorResponse
// @Router       /admin/users/{id}/admin [patch]
func (h *Handler) SetAdmin(c *fiber.Ctx) error {
	var in SetAdminRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}

	var u models.User
	if err := h.db.First(&u, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	if err := h.db.Model(&u).Update("is_admin", in.IsAdmin).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	h.log.Info("admin flag changed",
		zap.String("user_id", u.ID.String()),
		zap.Bool("is_admin", in.IsAdmin),
		zap.String("actor", auth.MustUserID(c)))

	u.IsAdmin = in.IsAdmin
	return c.JSON(u)
}
