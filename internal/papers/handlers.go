package papers

import (
	"errors"
	"math"
	"mime"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/scholarpress/portal-backend/internal/auth"
	"github.com/scholarpress/portal-backend/internal/storage"
	"github.com/scholarpress/portal-backend/pkg/metrics"
	"github.com/scholarpress/portal-backend/pkg/models"
	"github.com/scholarpress/portal-backend/pkg/sanitize"
	"github.com/scholarpress/portal-backend/pkg/utils"
	"github.com/scholarpress/portal-backend/pkg/validation"
)

// ===== DTOs =====

type SubmitRequest struct {
	Title         string `json:"title" validate:"required,max=200"`
	Abstract      string `json:"abstract" validate:"max=5000"`
	PaymentOption string `json:"payment_option" validate:"required,oneof=pay_now pay_later"`
}

type PaperListItem struct {
	ID             uuid.UUID          `json:"id"`
	Title          string             `json:"title"`
	Status         models.PaperStatus `json:"status"`
	DisplayStatus  models.PaperStatus `json:"display_status"`
	UploadedAt     time.Time          `json:"uploaded_at"`
	PaymentDueDate *time.Time         `json:"payment_due_date,omitempty"`
}

type PaperDetail struct {
	models.Paper
	DisplayStatus models.PaperStatus `json:"display_status"`
}

type PagePapers struct {
	Page     int             `json:"page"`
	PageSize int             `json:"pageSize"`
	Total    int64           `json:"total"`
	Pages    int             `json:"pages"`
	Items    []PaperListItem `json:"items"`
}

type Handler struct {
	db  *gorm.DB
	sb  *storage.Supabase
	log *zap.Logger
}

func NewHandler(db *gorm.DB, sb *storage.Supabase, log *zap.Logger) *Handler {
	return &Handler{db: db, sb: sb, log: log}
}

func parsePage(c *fiber.Ctx) (page, size int) {
	page, _ = strconv.Atoi(c.Query("page", "1"))
	size, _ = strconv.Atoi(c.Query("pageSize", "10"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 50 {
		size = 10
	}
	return
}

// listValues reads a multi-valued form field, accepting both "authors[]"
// repeats and a single comma-separated "authors".
func listValues(form map[string][]string, key string) []string {
	vals := form[key+"[]"]
	if len(vals) == 0 {
		vals = form[key]
	}
	if len(vals) == 1 && strings.Contains(vals[0], ",") {
		vals = strings.Split(vals[0], ",")
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (h *Handler) item(p *models.Paper, now time.Time) PaperListItem {
	return PaperListItem{
		ID:             p.ID,
		Title:          p.Title,
		Status:         p.Status,
		DisplayStatus:  DisplayStatus(p, now),
		UploadedAt:     p.UploadedAt,
		PaymentDueDate: p.PaymentDueDate,
	}
}

/* ================================ Submit ================================ */

// @Summary      Submit paper
// @Description  Upload a paper file with metadata. pay_later starts a
// @Description  payment-pending paper due in 2 hours; pay_now records the fee
// @Description  as settled and submits immediately.
// @Tags         papers
// @Security     BearerAuth
// @Accept       multipart/form-data
// @Produce      json
// @Param        title           formData  string  true   "title"
// @Param        abstract        formData  string  false  "abstract"
// @Param        authors         formData  string  false  "author names (repeat or comma-separated)"
// @Param        keywords        formData  string  false  "keywords (repeat or comma-separated)"
// @Param        payment_option  formData  string  true   "pay_now or pay_later"
// @Param        file            formData  file    true   "PDF/DOC/DOCX, max 20MB"
// @Success      201  {object}  PaperDetail
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      403  {object}  models.ErrorResponse
// @Router       /papers [post]
func (h *Handler) Submit(c *fiber.Ctx) error {
	ownerID, err := uuid.Parse(auth.MustUserID(c))
	if err != nil {
		return fiber.ErrUnauthorized
	}

	form, err := c.MultipartForm()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "multipart form required")
	}

	get := func(key string) string {
		if v := form.Value[key]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}

	// A client may declare the owner explicitly; it must match the caller.
	if declared := get("owner_id"); declared != "" && declared != ownerID.String() {
		return fiber.NewError(fiber.StatusForbidden, "owner does not match authenticated user")
	}

	in := SubmitRequest{
		Title:         get("title"),
		Abstract:      get("abstract"),
		PaymentOption: get("payment_option"),
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "paper file is required")
	}
	if fh.Size <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "empty file")
	}
	if fh.Size > 20*1024*1024 {
		return fiber.NewError(fiber.StatusRequestEntityTooLarge, "max 20MB per file")
	}

	ct := fh.Header.Get("Content-Type")
	if ct == "" {
		ct = mime.TypeByExtension(filepath.Ext(fh.Filename))
	}
	switch ct {
	case "application/pdf",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		// ok
	default:
		return fiber.NewError(fiber.StatusBadRequest, "only PDF, DOC or DOCX are allowed")
	}

	now := time.Now()
	p := models.Paper{
		ID:            uuid.New(),
		OwnerID:       ownerID,
		Title:         in.Title,
		Abstract:      in.Abstract,
		Authors:       listValues(form.Value, "authors"),
		Keywords:      listValues(form.Value, "keywords"),
		FileName:      fh.Filename,
		UploadedAt:    now,
		PaymentOption: models.PaymentOption(in.PaymentOption),
	}

	switch p.PaymentOption {
	case models.PayLater:
		due := now.Add(PayLaterWindow)
		p.Status = models.PaperPaymentPending
		p.PaymentDueDate = &due
	default: // pay_now
		p.Status = models.PaperSubmitted
		p.PaidAt = &now
		p.SubmissionDate = &now
	}

	// Upload first, then write the row. A row-write failure leaves an
	// orphaned object which the scheduled sweep reclaims.
	if h.sb != nil {
		f, err := fh.Open()
		if err != nil {
			return fiber.ErrInternalServerError
		}
		defer f.Close()

		key := h.sb.MakeObjectKey(p.ID.String(), fh.Filename)
		if err := h.sb.Upload(key, f, ct, fh.Size); err != nil {
			h.log.Error("paper upload failed", zap.String("key", key), zap.Error(err))
			return fiber.NewError(fiber.StatusBadGateway, "file upload failed")
		}
		p.FileKey = key
		p.FileURL = h.sb.PublicURL(key)
	} else {
		p.FileKey = "paper/" + p.ID.String() + "/" + fh.Filename
	}

	if err := h.db.Create(&p).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	utils.LogPaperHistory(c.UserContext(), h.db, p.ID, ownerID, "submitted", "", p.Status, "")
	metrics.PapersSubmitted.Inc()

	return c.Status(fiber.StatusCreated).JSON(PaperDetail{Paper: p, DisplayStatus: DisplayStatus(&p, now)})
}

/* ================================ Reads ================================= */

// @Summary      List my papers
// @Tags         papers
// @Security     BearerAuth
// @Produce      json
// @Param        page      query int false "page"
// @Param        pageSize  query int false "pageSize"
// @Success      200  {object}  PagePapers
// @Router       /papers/mine [get]
func (h *Handler) ListMine(c *fiber.Ctx) error {
	ownerID := auth.MustUserID(c)
	page, size := parsePage(c)

	var total int64
	if err := h.db.Model(&models.Paper{}).
		Where("owner_id = ?", ownerID).
		Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var list []models.Paper
	if err := h.db.Where("owner_id = ?", ownerID).
		Order("uploaded_at DESC").
		Offset((page - 1) * size).Limit(size).
		Find(&list).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	now := time.Now()
	items := make([]PaperListItem, 0, len(list))
	for i := range list {
		items = append(items, h.item(&list[i], now))
	}

	return c.JSON(PagePapers{
		Page: page, PageSize: size, Total: total,
		Pages: int(math.Ceil(float64(total) / float64(size))),
		Items: items,
	})
}

// Published listing item: public, so only presentation fields.
type PublishedItem struct {
	ID         uuid.UUID `json:"id"`
	Title      string    `json:"title"`
	Preview    string    `json:"preview"`
	Authors    []string  `json:"authors"`
	Keywords   []string  `json:"keywords"`
	FileURL    string    `json:"file_url"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// @Summary      List published papers
// @Description  Public listing of papers with status published
// @Tags         papers
// @Produce      json
// @Param        page      query int false "page"
// @Param        pageSize  query int false "pageSize"
// @Success      200  {object}  map[string]any
// @Router       /papers/published [get]
func (h *Handler) ListPublished(c *fiber.Ctx) error {
	page, size := parsePage(c)

	dbq := h.db.Model(&models.Paper{}).Where("status = ?", models.PaperPublished)

	var total int64
	if err := dbq.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var list []models.Paper
	if err := dbq.Order("uploaded_at DESC").
		Offset((page - 1) * size).Limit(size).
		Find(&list).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	items := make([]PublishedItem, 0, len(list))
	for _, p := range list {
		items = append(items, PublishedItem{
			ID:         p.ID,
			Title:      p.Title,
			Preview:    sanitize.Summary(p.Abstract, 240),
			Authors:    p.Authors,
			Keywords:   p.Keywords,
			FileURL:    p.FileURL,
			UploadedAt: p.UploadedAt,
		})
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": items,
	})
}

// @Summary      List all papers (admin)
// @Tags         admin
// @Security     BearerAuth
// @Produce      json
// @Param        page      query int    false "page"
// @Param        pageSize  query int    false "pageSize"
// @Param        status    query string false "status filter"
// @Param        order     query string false "asc or desc by upload date (default desc)"
// @Success      200  {object}  PagePapers
// @Failure      403  {object}  models.ErrorResponse
// @Router       /admin/papers [get]
func (h *Handler) AdminList(c *fiber.Ctx) error {
	page, size := parsePage(c)

	dbq := h.db.Model(&models.Paper{})
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		if !models.ValidPaperStatus(models.PaperStatus(status)) {
			return fiber.NewError(fiber.StatusBadRequest, "invalid status filter")
		}
		dbq = dbq.Where("status = ?", status)
	}

	order := "uploaded_at DESC"
	if c.Query("order") == "asc" {
		order = "uploaded_at ASC"
	}

	var total int64
	if err := dbq.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var list []models.Paper
	if err := dbq.Order(order).
		Offset((page - 1) * size).Limit(size).
		Find(&list).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	now := time.Now()
	items := make([]PaperListItem, 0, len(list))
	for i := range list {
		items = append(items, h.item(&list[i], now))
	}

	return c.JSON(PagePapers{
		Page: page, PageSize: size, Total: total,
		Pages: int(math.Ceil(float64(total) / float64(size))),
		Items: items,
	})
}

// load fetches a paper and enforces owner-or-admin access.
func (h *Handler) load(c *fiber.Ctx) (*models.Paper, error) {
	var p models.Paper
	if err := h.db.First(&p, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.ErrNotFound
		}
		return nil, fiber.ErrInternalServerError
	}
	if p.OwnerID.String() != auth.MustUserID(c) && !auth.IsAdmin(c) {
		return nil, fiber.ErrForbidden
	}
	return &p, nil
}

// @Summary      Paper detail
// @Tags         papers
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "paper id (uuid)"
// @Success      200  {object}  PaperDetail
// @Failure      404  {object}  models.ErrorResponse
// @Router       /papers/{id} [get]
func (h *Handler) Get(c *fiber.Ctx) error {
	p, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(PaperDetail{Paper: *p, DisplayStatus: DisplayStatus(p, time.Now())})
}

/* ============================ Admin writes ============================== */

type SetStatusRequest struct {
	Status string     `json:"status" validate:"required"`
	PaidAt *time.Time `json:"paid_at"`
	Reason string     `json:"reason" validate:"max=500"`
}

// @Summary      Set paper status (admin)
// @Description  Unconditional status write; any status is reachable from any
// @Description  status. Setting submitted with a paid_at timestamp also
// @Description  records the submission date and clears the payment due date.
// @Tags         admin
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string            true  "paper id (uuid)"
// @Param        payload  body  SetStatusRequest  true  "status payload"
// @Success      200  {object}  PaperDetail
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /admin/papers/{id}/status [patch]
func (h *Handler) SetStatus(c *fiber.Ctx) error {
	var in SetStatusRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}
	target := models.PaperStatus(in.Status)
	if !models.ValidPaperStatus(target) {
		return fiber.NewError(fiber.StatusBadRequest, "invalid status")
	}

	var p models.Paper
	if err := h.db.First(&p, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	old := p.Status

	updates := map[string]any{"status": target}
	if target == models.PaperSubmitted && in.PaidAt != nil {
		updates["paid_at"] = *in.PaidAt
		updates["submission_date"] = *in.PaidAt
		updates["payment_due_date"] = nil
	}

	// Full-field overwrite: concurrent writers are last-write-wins.
	if err := h.db.Model(&p).Updates(updates).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	actorID, _ := uuid.Parse(auth.MustUserID(c))
	utils.LogPaperHistory(c.UserContext(), h.db, p.ID, actorID, "status_changed", old, target, in.Reason)

	if err := h.db.First(&p, "id = ?", p.ID).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(PaperDetail{Paper: p, DisplayStatus: DisplayStatus(&p, time.Now())})
}

type FeedbackRequest struct {
	Feedback string `json:"feedback" validate:"required,max=5000"`
}

// @Summary      Send feedback (admin)
// @Description  Stores feedback for the author and moves the paper to
// @Description  action_required
// @Tags         admin
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string           true  "paper id (uuid)"
// @Param        payload  body  FeedbackRequest  true  "feedback payload"
// @Success      200  {object}  PaperDetail
// @Failure      404  {object}  models.ErrorResponse
// @Router       /admin/papers/{id}/feedback [patch]
func (h *Handler) Feedback(c *fiber.Ctx) error {
	var in FeedbackRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	var p models.Paper
	if err := h.db.First(&p, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	old := p.Status

	if err := h.db.Model(&p).Updates(map[string]any{
		"admin_feedback": in.Feedback,
		"status":         models.PaperActionRequired,
	}).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	actorID, _ := uuid.Parse(auth.MustUserID(c))
	utils.LogPaperHistory(c.UserContext(), h.db, p.ID, actorID, "feedback", old, models.PaperActionRequired, "")

	if err := h.db.First(&p, "id = ?", p.ID).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(PaperDetail{Paper: p, DisplayStatus: DisplayStatus(&p, time.Now())})
}

/* ================================ Delete ================================ */

// @Summary      Delete paper
// @Description  Owner or admin removes the paper. The stored file is deleted
// @Description  best-effort; the database row is removed regardless.
// @Tags         papers
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "paper id (uuid)"
// @Success      200  {object}  map[string]any
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /papers/{id} [delete]
func (h *Handler) Delete(c *fiber.Ctx) error {
	p, err := h.load(c)
	if err != nil {
		return err
	}

	if h.sb != nil && p.FileKey != "" {
		if err := h.sb.Delete(p.FileKey); err != nil {
			// Swallowed: the row delete proceeds, the sweep reclaims the object.
			h.log.Warn("storage delete failed",
				zap.String("key", p.FileKey), zap.Error(err))
		}
	}

	if err := h.db.Delete(&models.Paper{}, "id = ?", p.ID).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	actorID, _ := uuid.Parse(auth.MustUserID(c))
	utils.LogPaperHistory(c.UserContext(), h.db, p.ID, actorID, "deleted", p.Status, "", "")

	return c.JSON(fiber.Map{"ok": true})
}
