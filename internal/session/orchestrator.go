package session

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/scholarpress/portal-backend/pkg/models"
)

// Identity is what the sign-in path knows about a user, regardless of
// whether it came from a password login or an OAuth userinfo response.
type Identity struct {
	Email       string
	DisplayName string
	PhotoURL    string
	Provider    models.AuthProvider
}

// Orchestrator bridges authentication events to portal profiles: it
// hydrates or creates the profile row, reconciles provider drift, and
// resolves the post-login landing route.
type Orchestrator struct {
	db             *gorm.DB
	log            *zap.Logger
	bootstrapAdmin string
}

func New(db *gorm.DB, log *zap.Logger, bootstrapAdmin string) *Orchestrator {
	return &Orchestrator{
		db:             db,
		log:            log,
		bootstrapAdmin: strings.ToLower(strings.TrimSpace(bootstrapAdmin)),
	}
}

// IsAdminValue interprets a stored or token-carried admin flag strictly:
// only a boolean true grants privilege. Legacy data has carried "true"
// strings and numeric 1s; all of those must read as non-admin.
func IsAdminValue(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

// IsComplete reports whether the profile can use the portal. Username,
// role and phone number must all be present.
func IsComplete(u *models.User) bool {
	return u != nil && u.Username != nil && u.Role != nil && u.PhoneNumber != nil
}

// BootstrapAdmin reports whether a first-time profile with this email is
// granted the admin flag.
func (o *Orchestrator) BootstrapAdmin(email string) bool {
	return o.bootstrapAdmin != "" &&
		strings.ToLower(strings.TrimSpace(email)) == o.bootstrapAdmin
}

// Hydrate looks up the profile for an authenticated identity, creating it
// on first sign-in. For existing profiles, display name and photo drift
// from the provider is reconciled best-effort: a failed update is logged
// and the stale profile is returned.
//
// A create failure is unrecoverable: the caller must not issue a session
// token for an identity with no profile row.
func (o *Orchestrator) Hydrate(ctx context.Context, id Identity) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(id.Email))
	if email == "" {
		return nil, errors.New("identity has no email")
	}

	var u models.User
	err := o.db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		u = models.User{
			Email:       email,
			Provider:    id.Provider,
			DisplayName: id.DisplayName,
			PhotoURL:    id.PhotoURL,
			IsAdmin:     o.BootstrapAdmin(email),
		}
		if err := o.db.WithContext(ctx).Create(&u).Error; err != nil {
			return nil, err
		}
		o.log.Info("profile created",
			zap.String("email", email),
			zap.Bool("bootstrap_admin", u.IsAdmin))
		return &u, nil

	case err != nil:
		return nil, err
	}

	o.reconcile(ctx, &u, id)
	return &u, nil
}

// reconcile pushes provider-side display name/photo changes into the
// stored profile. Best-effort: permission or connectivity failures must
// not break the sign-in.
func (o *Orchestrator) reconcile(ctx context.Context, u *models.User, id Identity) {
	updates := map[string]any{}
	if id.DisplayName != "" && id.DisplayName != u.DisplayName {
		updates["display_name"] = id.DisplayName
	}
	if id.PhotoURL != "" && id.PhotoURL != u.PhotoURL {
		updates["photo_url"] = id.PhotoURL
	}
	if len(updates) == 0 {
		return
	}
	if err := o.db.WithContext(ctx).Model(u).Updates(updates).Error; err != nil {
		o.log.Warn("profile drift reconcile failed",
			zap.String("user_id", u.ID.String()), zap.Error(err))
		return
	}
	if v, ok := updates["display_name"]; ok {
		u.DisplayName = v.(string)
	}
	if v, ok := updates["photo_url"]; ok {
		u.PhotoURL = v.(string)
	}
}

// SetRedirect records a pending navigation intent for the user. The value
// is consumed exactly once by LandingRoute.
func (o *Orchestrator) SetRedirect(ctx context.Context, userID string, path string) error {
	path = strings.TrimSpace(path)
	if path == "" || !strings.HasPrefix(path, "/") {
		return errors.New("redirect path must be absolute")
	}
	return o.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("pending_redirect", path).Error
}

// LandingRoute resolves where the client should navigate after login:
//
//  1. Incomplete profile → the completion form, always.
//  2. A pending redirect intent → consumed (read and cleared in the same
//     statement) and returned once.
//  3. Otherwise the role-based default: admin dashboard or user dashboard.
func (o *Orchestrator) LandingRoute(ctx context.Context, u *models.User) (string, error) {
	if !IsComplete(u) {
		return "/complete-profile", nil
	}

	// Read and clear the intent under a row lock so two concurrent logins
	// cannot both observe it.
	var pending *string
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&row, "id = ?", u.ID).Error; err != nil {
			return err
		}
		pending = row.PendingRedirect
		if pending == nil {
			return nil
		}
		return tx.Model(&models.User{}).Where("id = ?", u.ID).
			Update("pending_redirect", nil).Error
	})
	if err != nil {
		return "", err
	}
	if pending != nil {
		return *pending, nil
	}

	if u.IsAdmin {
		return "/admin", nil
	}
	return "/dashboard", nil
}
