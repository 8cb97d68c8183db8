package auth

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/scholarpress/portal-backend/internal/session"
	"github.com/scholarpress/portal-backend/pkg/config"
	"github.com/scholarpress/portal-backend/pkg/models"
)

/* ============================================================================
   Helpers
   ============================================================================ */

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

func newTestApp(t *testing.T, db *gorm.DB, bootstrapAdmin string) *fiber.App {
	t.Helper()
	UseSecret("test-secret")

	orch := session.New(db, zap.NewNop(), bootstrapAdmin)
	h := NewHandler(db, orch, zap.NewNop(), &config.Config{})

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Post("/api/signup", h.Signup)
	app.Post("/api/login", h.Login)
	app.Post("/api/password/reset", h.RequestPasswordReset)
	app.Post("/api/password/confirm", h.ConfirmPasswordReset)
	app.Get("/api/whoami", RequireAuth(), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"userID": MustUserID(c), "isAdmin": IsAdmin(c)})
	})
	return app
}

func postJSON(t *testing.T, app *fiber.App, path string, body any) (int, map[string]any) {
	t.Helper()
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

/* ============================================================================
   Tests — signup and login
   ============================================================================ */

// Signup issues a working session token; the bootstrap email becomes admin.
func Test_Signup_IssuesToken_BootstrapAdmin(t *testing.T) {
	db := openTestDB(t)
	app := newTestApp(t, db, "root@portal.test")

	code, out := postJSON(t, app, "/api/signup", map[string]string{
		"name": "Root", "email": "Root@Portal.Test", "password": "hunter22",
	})
	if code != 201 {
		t.Fatalf("want 201, got %d (%v)", code, out)
	}
	if out["is_admin"] != true {
		t.Fatal("bootstrap email should sign up as admin")
	}
	if out["complete"] == true {
		t.Fatal("fresh signup cannot be complete")
	}

	token, _ := out["token"].(string)
	if token == "" {
		t.Fatal("missing token")
	}
	req := httptest.NewRequest("GET", "/api/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, _ := app.Test(req)
	if resp.StatusCode != 200 {
		t.Fatalf("token should authenticate, got %d", resp.StatusCode)
	}
	var who map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&who)
	if who["isAdmin"] != true {
		t.Fatal("admin claim should round-trip")
	}
}

// A duplicate email conflicts and hands out no token.
func Test_Signup_DuplicateEmail_NoToken(t *testing.T) {
	db := openTestDB(t)
	app := newTestApp(t, db, "")

	if code, _ := postJSON(t, app, "/api/signup", map[string]string{
		"name": "One", "email": "dup@x.com", "password": "secret1",
	}); code != 201 {
		t.Fatalf("first signup: got %d", code)
	}

	code, out := postJSON(t, app, "/api/signup", map[string]string{
		"name": "Two", "email": "dup@x.com", "password": "secret2",
	})
	if code != 409 {
		t.Fatalf("want 409, got %d", code)
	}
	if _, hasToken := out["token"]; hasToken {
		t.Fatal("conflict response must not carry a token")
	}
}

// Wrong password and unknown email both answer a plain 401.
func Test_Login_BadCredentials(t *testing.T) {
	db := openTestDB(t)
	app := newTestApp(t, db, "")
	_, _ = postJSON(t, app, "/api/signup", map[string]string{
		"name": "Ana", "email": "ana@x.com", "password": "correct1",
	})

	if code, _ := postJSON(t, app, "/api/login", map[string]string{
		"email": "ana@x.com", "password": "wrong",
	}); code != 401 {
		t.Fatalf("wrong password: want 401, got %d", code)
	}
	if code, _ := postJSON(t, app, "/api/login", map[string]string{
		"email": "ghost@x.com", "password": "whatever",
	}); code != 401 {
		t.Fatalf("unknown email: want 401, got %d", code)
	}
	if code, _ := postJSON(t, app, "/api/login", map[string]string{
		"email": "ana@x.com", "password": "correct1",
	}); code != 200 {
		t.Fatalf("good login: want 200, got %d", code)
	}
}

// Accounts created through OAuth have no local password and cannot password-login.
func Test_Login_OAuthAccountRejected(t *testing.T) {
	db := openTestDB(t)
	app := newTestApp(t, db, "")

	if err := db.Create(&models.User{
		Email:    "social@x.com",
		Provider: models.ProviderGoogle,
	}).Error; err != nil {
		t.Fatal(err)
	}

	code, out := postJSON(t, app, "/api/login", map[string]string{
		"email": "social@x.com", "password": "anything",
	})
	if code != 401 {
		t.Fatalf("want 401, got %d", code)
	}
	if msg, _ := out["message"].(string); msg == "" {
		t.Fatal("expected an explanatory message")
	}
}

/* ============================================================================
   Tests — password reset
   ============================================================================ */

// The reset request answers 202 for existing and unknown accounts alike,
// and never leaks the token in the response.
func Test_PasswordReset_UniformResponse(t *testing.T) {
	db := openTestDB(t)
	app := newTestApp(t, db, "")
	_, _ = postJSON(t, app, "/api/signup", map[string]string{
		"name": "Bea", "email": "bea@x.com", "password": "original1",
	})

	codeKnown, outKnown := postJSON(t, app, "/api/password/reset", map[string]string{"email": "bea@x.com"})
	codeGhost, outGhost := postJSON(t, app, "/api/password/reset", map[string]string{"email": "nosuch@x.com"})
	if codeKnown != 202 || codeGhost != 202 {
		t.Fatalf("want 202/202, got %d/%d", codeKnown, codeGhost)
	}
	if _, ok := outKnown["token"]; ok {
		t.Fatal("reset token must not be in the response")
	}
	if outKnown["message"] != outGhost["message"] {
		t.Fatal("responses must be indistinguishable")
	}
}

// A valid reset token rewrites the password; a session token does not pass.
func Test_PasswordReset_ConfirmRewritesHash(t *testing.T) {
	db := openTestDB(t)
	app := newTestApp(t, db, "")
	_, signup := postJSON(t, app, "/api/signup", map[string]string{
		"name": "Cy", "email": "cy@x.com", "password": "oldpass1",
	})

	var u models.User
	if err := db.First(&u, "email = ?", "cy@x.com").Error; err != nil {
		t.Fatal(err)
	}
	resetToken, err := issueResetToken(u.ID.String())
	if err != nil {
		t.Fatal(err)
	}

	// A session token is not a reset token.
	if code, _ := postJSON(t, app, "/api/password/confirm", map[string]string{
		"token": signup["token"].(string), "password": "newpass1",
	}); code != 401 {
		t.Fatalf("session token: want 401, got %d", code)
	}

	if code, _ := postJSON(t, app, "/api/password/confirm", map[string]string{
		"token": resetToken, "password": "newpass1",
	}); code != 200 {
		t.Fatalf("confirm: want 200, got %d", code)
	}

	var after models.User
	_ = db.First(&after, "id = ?", u.ID).Error
	if bcrypt.CompareHashAndPassword([]byte(after.PasswordHash), []byte("newpass1")) != nil {
		t.Fatal("new password should verify")
	}
	if bcrypt.CompareHashAndPassword([]byte(after.PasswordHash), []byte("oldpass1")) == nil {
		t.Fatal("old password should no longer verify")
	}
}

// Reset tokens cannot be used as session tokens.
func Test_ResetToken_NotASession(t *testing.T) {
	db := openTestDB(t)
	app := newTestApp(t, db, "")
	_, _ = postJSON(t, app, "/api/signup", map[string]string{
		"name": "Di", "email": "di@x.com", "password": "password1",
	})

	var u models.User
	_ = db.First(&u, "email = ?", "di@x.com").Error
	resetToken, _ := issueResetToken(u.ID.String())

	req := httptest.NewRequest("GET", "/api/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+resetToken)
	resp, _ := app.Test(req)
	if resp.StatusCode != 401 {
		t.Fatalf("reset token must not authenticate, got %d", resp.StatusCode)
	}
}

// Tokens are bound to the key installed via UseSecret; rotating the key
// invalidates previously issued sessions.
func Test_TokensBoundToInstalledSecret(t *testing.T) {
	db := openTestDB(t)
	app := newTestApp(t, db, "")
	t.Cleanup(func() { UseSecret("test-secret") })

	_, out := postJSON(t, app, "/api/signup", map[string]string{
		"name": "Ed", "email": "ed@x.com", "password": "password1",
	})
	token, _ := out["token"].(string)
	if token == "" {
		t.Fatal("signup should return a token")
	}

	req := httptest.NewRequest("GET", "/api/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, _ := app.Test(req)
	if resp.StatusCode != 200 {
		t.Fatalf("token should authenticate under the issuing key, got %d", resp.StatusCode)
	}

	UseSecret("rotated-secret")
	req = httptest.NewRequest("GET", "/api/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, _ = app.Test(req)
	if resp.StatusCode != 401 {
		t.Fatalf("token signed under the old key must be rejected, got %d", resp.StatusCode)
	}
}
