package aicheck

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/scholarpress/portal-backend/internal/auth"
	"github.com/scholarpress/portal-backend/pkg/metrics"
	"github.com/scholarpress/portal-backend/pkg/models"
)

type Handler struct {
	db     *gorm.DB
	scorer Scorer
	log    *zap.Logger
}

func NewHandler(db *gorm.DB, scorer Scorer, log *zap.Logger) *Handler {
	return &Handler{db: db, scorer: scorer, log: log}
}

// paperText builds the blob both scoring calls operate on: title, abstract
// and the metadata lines. File text extraction stays out of scope; the
// uploaded document is referenced by name only.
func paperText(p *models.Paper) string {
	var b strings.Builder
	b.WriteString("Title: " + p.Title + "\n")
	if len(p.Authors) > 0 {
		b.WriteString("Authors: " + strings.Join(p.Authors, ", ") + "\n")
	}
	if len(p.Keywords) > 0 {
		b.WriteString("Keywords: " + strings.Join(p.Keywords, ", ") + "\n")
	}
	b.WriteString("\nAbstract:\n" + p.Abstract + "\n")
	b.WriteString("\nAttached document: " + p.FileName + "\n")
	return b.String()
}

// load fetches the paper and enforces owner-or-admin access.
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

// @Summary      Run plagiarism check
// @Description  Calls the scoring model and persists the returned score and
// @Description  highlighted sections. A failed call leaves any prior score
// @Description  untouched.
// @Tags         checks
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "paper id (uuid)"
// @Success      200  {object}  PlagiarismResult
// @Failure      404  {object}  models.ErrorResponse
// @Failure      502  {object}  models.ErrorResponse
// @Router       /papers/{id}/checks/plagiarism [post]
func (h *Handler) Plagiarism(c *fiber.Ctx) error {
	p, err := h.load(c)
	if err != nil {
		return err
	}
	if h.scorer == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "AI checks are not configured")
	}

	res, err := h.scorer.Plagiarism(c.UserContext(), paperText(p))
	if err != nil {
		metrics.AIChecksRun.WithLabelValues("plagiarism", "error").Inc()
		h.log.Warn("plagiarism check failed", zap.String("paper_id", p.ID.String()), zap.Error(err))
		return fiber.NewError(fiber.StatusBadGateway, "plagiarism check failed")
	}

	// Struct update so the highlighted sections go through the JSON serializer.
	if err := h.db.Model(p).
		Select("plagiarism_score", "highlighted_sections").
		Updates(models.Paper{
			PlagiarismScore:     &res.Score,
			HighlightedSections: res.HighlightedSections,
		}).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	metrics.AIChecksRun.WithLabelValues("plagiarism", "ok").Inc()
	return c.JSON(res)
}

// @Summary      Run acceptance check
// @Description  Calls the scoring model and persists the returned probability
// @Description  and reasoning. A failed call leaves any prior score untouched.
// @Tags         checks
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "paper id (uuid)"
// @Success      200  {object}  AcceptanceResult
// @Failure      404  {object}  models.ErrorResponse
// @Failure      502  {object}  models.ErrorResponse
// @Router       /papers/{id}/checks/acceptance [post]
func (h *Handler) Acceptance(c *fiber.Ctx) error {
	p, err := h.load(c)
	if err != nil {
		return err
	}
	if h.scorer == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "AI checks are not configured")
	}

	res, err := h.scorer.Acceptance(c.UserContext(), paperText(p))
	if err != nil {
		metrics.AIChecksRun.WithLabelValues("acceptance", "error").Inc()
		h.log.Warn("acceptance check failed", zap.String("paper_id", p.ID.String()), zap.Error(err))
		return fiber.NewError(fiber.StatusBadGateway, "acceptance check failed")
	}

	if err := h.db.Model(p).Updates(map[string]any{
		"acceptance_score":     res.Score,
		"acceptance_reasoning": res.Reasoning,
	}).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	metrics.AIChecksRun.WithLabelValues("acceptance", "ok").Inc()
	return c.JSON(res)
}
