package papers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/scholarpress/portal-backend/pkg/models"
)

/* ============================================================================
   Helpers
   ============================================================================ */

// openTestDB loads TEST_DATABASE_URL, opens a real Postgres connection,
// runs migrations, and registers a cleanup that truncates test tables after run.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	_ = godotenv.Load()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{}, &models.Paper{}, &models.Payment{}, &models.PaperHistory{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		sql := `
TRUNCATE TABLE
	paper_histories,
	payments,
	papers,
	users
RESTART IDENTITY CASCADE`
		if err := db.Exec(sql).Error; err != nil {
			t.Logf("truncate failed (ignored): %v", err)
		}
	})

	return db
}

// injectAuth puts the auth locals into Fiber context so MustUserID / IsAdmin
// work without a real JWT.
func injectAuth(userID uuid.UUID, admin bool) fiber.Handler {
	id := userID.String()
	return func(c *fiber.Ctx) error {
		c.Locals("userID", id)
		c.Locals("isAdmin", admin)
		return c.Next()
	}
}

// newTestApp registers routes in a safe order: static paths before /:id.
func newTestApp(h *Handler, userID uuid.UUID, admin bool) *fiber.App {
	app := fiber.New()
	app.Use(injectAuth(userID, admin))

	app.Get("/api/papers/mine", h.ListMine)
	app.Get("/api/papers/published", h.ListPublished)
	app.Post("/api/papers", h.Submit)

	app.Get("/api/admin/papers", h.AdminList)
	app.Patch("/api/admin/papers/:id/status", h.SetStatus)
	app.Patch("/api/admin/papers/:id/feedback", h.Feedback)

	app.Get("/api/papers/:id", h.Get)
	app.Delete("/api/papers/:id", h.Delete)

	return app
}

// submitBody builds a multipart form with the given fields and one PDF part.
func submitBody(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = w.WriteField(k, v)
	}

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, "paper.pdf"))
	hdr.Set("Content-Type", "application/pdf")
	part, err := w.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write([]byte("%PDF-1.4 fake"))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

// seedPaper inserts one paper row directly.
func seedPaper(t *testing.T, db *gorm.DB, owner uuid.UUID, status models.PaperStatus, due *time.Time) *models.Paper {
	t.Helper()
	p := models.Paper{
		ID:             uuid.New(),
		OwnerID:        owner,
		Title:          "Seeded " + uuid.NewString()[:6],
		Abstract:       "An abstract.",
		Authors:        []string{"A. Author"},
		FileName:       "paper.pdf",
		FileKey:        "paper/seed/paper.pdf",
		Status:         status,
		UploadedAt:     time.Now(),
		PaymentOption:  models.PayLater,
		PaymentDueDate: due,
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatal(err)
	}
	return &p
}

/* ============================================================================
   Tests — submission
   ============================================================================ */

// pay_later starts a payment-pending paper with a due date two hours out.
func Test_Submit_PayLater_StartsPaymentPending(t *testing.T) {
	db := openTestDB(t)
	owner := uuid.New()
	h := NewHandler(db, nil, zap.NewNop())
	app := newTestApp(h, owner, false)

	body, ct := submitBody(t, map[string]string{
		"title":          "Neural Basket Weaving",
		"abstract":       "We weave baskets with gradients.",
		"authors":        "Ada Lovelace, Alan Turing",
		"keywords":       "weaving,nets",
		"payment_option": "pay_later",
	})
	req := httptest.NewRequest("POST", "/api/papers", body)
	req.Header.Set("Content-Type", ct)

	before := time.Now()
	resp, _ := app.Test(req)
	if resp.StatusCode != 201 {
		t.Fatalf("want 201, got %d", resp.StatusCode)
	}

	var out PaperDetail
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if out.Status != models.PaperPaymentPending {
		t.Fatalf("want payment_pending, got %q", out.Status)
	}
	if out.PaidAt != nil || out.SubmissionDate != nil {
		t.Fatal("unpaid submission must not carry paid/submission timestamps")
	}
	if out.PaymentDueDate == nil {
		t.Fatal("missing payment due date")
	}
	gap := out.PaymentDueDate.Sub(before)
	if gap < PayLaterWindow-time.Minute || gap > PayLaterWindow+time.Minute {
		t.Fatalf("due date should be ~2h out, gap=%v", gap)
	}
	if len(out.Authors) != 2 {
		t.Fatalf("comma-separated authors should split, got %v", out.Authors)
	}
}

// pay_now settles the fee and submits in one step.
func Test_Submit_PayNow_SubmitsImmediately(t *testing.T) {
	db := openTestDB(t)
	owner := uuid.New()
	app := newTestApp(NewHandler(db, nil, zap.NewNop()), owner, false)

	body, ct := submitBody(t, map[string]string{
		"title":          "Instant Gratification",
		"payment_option": "pay_now",
	})
	req := httptest.NewRequest("POST", "/api/papers", body)
	req.Header.Set("Content-Type", ct)

	resp, _ := app.Test(req)
	if resp.StatusCode != 201 {
		t.Fatalf("want 201, got %d", resp.StatusCode)
	}

	var out PaperDetail
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if out.Status != models.PaperSubmitted {
		t.Fatalf("want submitted, got %q", out.Status)
	}
	if out.PaidAt == nil || out.SubmissionDate == nil {
		t.Fatal("pay_now must record paid and submission timestamps")
	}
	if out.PaymentDueDate != nil {
		t.Fatal("pay_now must not set a due date")
	}
	if out.DisplayStatus != models.PaperSubmitted {
		t.Fatalf("display status should match, got %q", out.DisplayStatus)
	}
}

// A declared owner_id that differs from the caller is rejected.
func Test_Submit_OwnerMismatch_Forbidden(t *testing.T) {
	db := openTestDB(t)
	owner := uuid.New()
	app := newTestApp(NewHandler(db, nil, zap.NewNop()), owner, false)

	body, ct := submitBody(t, map[string]string{
		"title":          "Spoofed",
		"payment_option": "pay_now",
		"owner_id":       uuid.NewString(),
	})
	req := httptest.NewRequest("POST", "/api/papers", body)
	req.Header.Set("Content-Type", ct)

	resp, _ := app.Test(req)
	if resp.StatusCode != 403 {
		t.Fatalf("want 403, got %d", resp.StatusCode)
	}
}

// Missing payment option fails validation, not silently defaults.
func Test_Submit_MissingPaymentOption_Validates(t *testing.T) {
	db := openTestDB(t)
	owner := uuid.New()
	app := newTestApp(NewHandler(db, nil, zap.NewNop()), owner, false)

	body, ct := submitBody(t, map[string]string{"title": "No Option"})
	req := httptest.NewRequest("POST", "/api/papers", body)
	req.Header.Set("Content-Type", ct)

	resp, _ := app.Test(req)
	if resp.StatusCode != 400 {
		t.Fatalf("want 400, got %d", resp.StatusCode)
	}
}

// A submission without a file is rejected before anything is written.
func Test_Submit_MissingFile_Rejected(t *testing.T) {
	db := openTestDB(t)
	owner := uuid.New()
	app := newTestApp(NewHandler(db, nil, zap.NewNop()), owner, false)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("title", "No File Attached")
	_ = w.WriteField("payment_option", "pay_now")
	_ = w.Close()

	req := httptest.NewRequest("POST", "/api/papers", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, _ := app.Test(req)
	if resp.StatusCode != 400 {
		t.Fatalf("want 400, got %d", resp.StatusCode)
	}

	var n int64
	_ = db.Model(&models.Paper{}).Where("owner_id = ?", owner).Count(&n).Error
	if n != 0 {
		t.Fatal("nothing should be written for a rejected submission")
	}
}

/* ============================================================================
   Tests — listing and display status
   ============================================================================ */

// An unpaid paper past its due date lists as payment_overdue while the
// stored column keeps payment_pending.
func Test_ListMine_OverdueIsDisplayOnly(t *testing.T) {
	db := openTestDB(t)
	owner := uuid.New()
	past := time.Now().Add(-time.Hour)
	p := seedPaper(t, db, owner, models.PaperPaymentPending, &past)

	app := newTestApp(NewHandler(db, nil, zap.NewNop()), owner, false)
	req := httptest.NewRequest("GET", "/api/papers/mine", nil)
	resp, _ := app.Test(req)
	if resp.StatusCode != 200 {
		t.Fatalf("got %d", resp.StatusCode)
	}

	var out PagePapers
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if len(out.Items) != 1 {
		t.Fatalf("want 1 item, got %d", len(out.Items))
	}
	if out.Items[0].Status != models.PaperPaymentPending {
		t.Fatalf("stored status must stay payment_pending, got %q", out.Items[0].Status)
	}
	if out.Items[0].DisplayStatus != models.PaperPaymentOverdue {
		t.Fatalf("display status should be payment_overdue, got %q", out.Items[0].DisplayStatus)
	}

	var stored models.Paper
	_ = db.First(&stored, "id = ?", p.ID).Error
	if stored.Status != models.PaperPaymentPending {
		t.Fatalf("overdue must never be written back, column holds %q", stored.Status)
	}
}

// Published listing is public and previews the abstract.
func Test_ListPublished_PreviewsAbstract(t *testing.T) {
	db := openTestDB(t)
	owner := uuid.New()
	p := seedPaper(t, db, owner, models.PaperPublished, nil)
	long := strings.Repeat("word ", 100)
	_ = db.Model(p).Update("abstract", long).Error

	// A stranger can read the published list.
	app := newTestApp(NewHandler(db, nil, zap.NewNop()), uuid.New(), false)
	req := httptest.NewRequest("GET", "/api/papers/published", nil)
	resp, _ := app.Test(req)
	if resp.StatusCode != 200 {
		t.Fatalf("got %d", resp.StatusCode)
	}

	var out struct {
		Items []struct {
			ID      string `json:"id"`
			Preview string `json:"preview"`
		} `json:"items"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if len(out.Items) != 1 || out.Items[0].ID != p.ID.String() {
		t.Fatalf("published paper missing from listing: %#v", out.Items)
	}
	if len(out.Items[0].Preview) >= len(long) {
		t.Fatal("preview should be truncated")
	}
}

// Papers that are not published never appear in the public listing.
func Test_ListPublished_ExcludesOtherStatuses(t *testing.T) {
	db := openTestDB(t)
	owner := uuid.New()
	seedPaper(t, db, owner, models.PaperSubmitted, nil)
	seedPaper(t, db, owner, models.PaperUnderReview, nil)

	app := newTestApp(NewHandler(db, nil, zap.NewNop()), uuid.New(), false)
	resp, _ := app.Test(httptest.NewRequest("GET", "/api/papers/published", nil))

	var out struct {
		Total int64 `json:"total"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if out.Total != 0 {
		t.Fatalf("want 0 published, got %d", out.Total)
	}
}

/* ============================================================================
   Tests — access control
   ============================================================================ */

// A non-owner, non-admin caller cannot read someone else's paper.
func Test_Get_StrangerForbidden_AdminAllowed(t *testing.T) {
	db := openTestDB(t)
	owner := uuid.New()
	p := seedPaper(t, db, owner, models.PaperSubmitted, nil)
	h := NewHandler(db, nil, zap.NewNop())

	stranger := newTestApp(h, uuid.New(), false)
	resp, _ := stranger.Test(httptest.NewRequest("GET", "/api/papers/"+p.ID.String(), nil))
	if resp.StatusCode != 403 {
		t.Fatalf("stranger: want 403, got %d", resp.StatusCode)
	}

	admin := newTestApp(h, uuid.New(), true)
	resp2, _ := admin.Test(httptest.NewRequest("GET", "/api/papers/"+p.ID.String(), nil))
	if resp2.StatusCode != 200 {
		t.Fatalf("admin: want 200, got %d", resp2.StatusCode)
	}
}

/* ============================================================================
   Tests — admin writes
   ============================================================================ */

// Setting submitted with paid_at records the fee settlement and clears the
// due date.
func Test_SetStatus_SubmittedWithPaidAt(t *testing.T) {
	db := openTestDB(t)
	owner := uuid.New()
	due := time.Now().Add(time.Hour)
	p := seedPaper(t, db, owner, models.PaperPaymentPending, &due)

	admin := uuid.New()
	app := newTestApp(NewHandler(db, nil, zap.NewNop()), admin, true)

	paidAt := time.Now().Truncate(time.Second)
	payload, _ := json.Marshal(map[string]any{
		"status":  "submitted",
		"paid_at": paidAt,
		"reason":  "fee settled manually",
	})
	req := httptest.NewRequest("PATCH", "/api/admin/papers/"+p.ID.String()+"/status", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req)
	if resp.StatusCode != 200 {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}

	var stored models.Paper
	_ = db.First(&stored, "id = ?", p.ID).Error
	if stored.Status != models.PaperSubmitted {
		t.Fatalf("want submitted, got %q", stored.Status)
	}
	if stored.PaidAt == nil || stored.SubmissionDate == nil {
		t.Fatal("paid_at and submission_date should be recorded")
	}
	if stored.PaymentDueDate != nil {
		t.Fatal("due date should be cleared")
	}

	// Audit entry recorded.
	var n int64
	_ = db.Model(&models.PaperHistory{}).
		Where("paper_id = ? AND action = ?", p.ID, "status_changed").
		Count(&n).Error
	if n != 1 {
		t.Fatalf("want 1 audit entry, got %d", n)
	}
}

// Any status is reachable from any status; the write is unconditional.
func Test_SetStatus_AnyToAny(t *testing.T) {
	db := openTestDB(t)
	owner := uuid.New()
	p := seedPaper(t, db, owner, models.PaperRejected, nil)

	app := newTestApp(NewHandler(db, nil, zap.NewNop()), uuid.New(), true)
	payload, _ := json.Marshal(map[string]string{"status": "published"})
	req := httptest.NewRequest("PATCH", "/api/admin/papers/"+p.ID.String()+"/status", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req)
	if resp.StatusCode != 200 {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}

	var stored models.Paper
	_ = db.First(&stored, "id = ?", p.ID).Error
	if stored.Status != models.PaperPublished {
		t.Fatalf("rejected -> published should be allowed, got %q", stored.Status)
	}
}

// Two writes in quick succession leave the state of the later one; there is
// no version check and no merge.
func Test_SetStatus_LastWriteWins(t *testing.T) {
	db := openTestDB(t)
	owner := uuid.New()
	p := seedPaper(t, db, owner, models.PaperSubmitted, nil)

	app := newTestApp(NewHandler(db, nil, zap.NewNop()), uuid.New(), true)
	for _, status := range []string{"under_review", "accepted"} {
		payload, _ := json.Marshal(map[string]string{"status": status})
		req := httptest.NewRequest("PATCH", "/api/admin/papers/"+p.ID.String()+"/status", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)
		if resp.StatusCode != 200 {
			t.Fatalf("set %s: got %d", status, resp.StatusCode)
		}
	}

	var stored models.Paper
	_ = db.First(&stored, "id = ?", p.ID).Error
	if stored.Status != models.PaperAccepted {
		t.Fatalf("later write should win, got %q", stored.Status)
	}
}

// The display-only overdue value is not a persistable status.
func Test_SetStatus_RejectsOverdue(t *testing.T) {
	db := openTestDB(t)
	owner := uuid.New()
	p := seedPaper(t, db, owner, models.PaperSubmitted, nil)

	app := newTestApp(NewHandler(db, nil, zap.NewNop()), uuid.New(), true)
	payload, _ := json.Marshal(map[string]string{"status": "payment_overdue"})
	req := httptest.NewRequest("PATCH", "/api/admin/papers/"+p.ID.String()+"/status", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req)
	if resp.StatusCode != 400 {
		t.Fatalf("want 400, got %d", resp.StatusCode)
	}
}

// Feedback stores the note and moves the paper to action_required.
func Test_Feedback_MovesToActionRequired(t *testing.T) {
	db := openTestDB(t)
	owner := uuid.New()
	p := seedPaper(t, db, owner, models.PaperUnderReview, nil)

	app := newTestApp(NewHandler(db, nil, zap.NewNop()), uuid.New(), true)
	payload, _ := json.Marshal(map[string]string{"feedback": "Section 3 needs a proper baseline."})
	req := httptest.NewRequest("PATCH", "/api/admin/papers/"+p.ID.String()+"/feedback", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req)
	if resp.StatusCode != 200 {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}

	var stored models.Paper
	_ = db.First(&stored, "id = ?", p.ID).Error
	if stored.Status != models.PaperActionRequired {
		t.Fatalf("want action_required, got %q", stored.Status)
	}
	if stored.AdminFeedback == "" {
		t.Fatal("feedback not stored")
	}
}

/* ============================================================================
   Tests — delete
   ============================================================================ */

// Owner delete removes the row even with no storage backend configured.
func Test_Delete_RemovesRow(t *testing.T) {
	db := openTestDB(t)
	owner := uuid.New()
	p := seedPaper(t, db, owner, models.PaperDraft, nil)

	app := newTestApp(NewHandler(db, nil, zap.NewNop()), owner, false)
	resp, _ := app.Test(httptest.NewRequest("DELETE", "/api/papers/"+p.ID.String(), nil))
	if resp.StatusCode != 200 {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}

	var n int64
	_ = db.Model(&models.Paper{}).Where("id = ?", p.ID).Count(&n).Error
	if n != 0 {
		t.Fatal("row should be gone")
	}
}

// A stranger cannot delete someone else's paper.
func Test_Delete_StrangerForbidden(t *testing.T) {
	db := openTestDB(t)
	owner := uuid.New()
	p := seedPaper(t, db, owner, models.PaperDraft, nil)

	app := newTestApp(NewHandler(db, nil, zap.NewNop()), uuid.New(), false)
	resp, _ := app.Test(httptest.NewRequest("DELETE", "/api/papers/"+p.ID.String(), nil))
	if resp.StatusCode != 403 {
		t.Fatalf("want 403, got %d", resp.StatusCode)
	}

	var n int64
	_ = db.Model(&models.Paper{}).Where("id = ?", p.ID).Count(&n).Error
	if n != 1 {
		t.Fatal("row should survive")
	}
}
