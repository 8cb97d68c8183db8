package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"github.com/scholarpress/portal-backend/internal/session"
	"github.com/scholarpress/portal-backend/pkg/config"
	"github.com/scholarpress/portal-backend/pkg/models"
)

/* ============================ Provider configs ========================== */

type oauthProvider struct {
	name        models.AuthProvider
	config      *oauth2.Config
	userInfoURL string
}

type providerUserInfo struct {
	Email   string
	Name    string
	Picture string
}

func newProviders(cfg *config.Config) map[string]*oauthProvider {
	p := map[string]*oauthProvider{}

	if cfg.GoogleClientID != "" {
		p["google"] = &oauthProvider{
			name: models.ProviderGoogle,
			config: &oauth2.Config{
				ClientID:     cfg.GoogleClientID,
				ClientSecret: cfg.GoogleClientSecret,
				RedirectURL:  cfg.GoogleRedirectURL,
				Scopes: []string{
					"https://www.googleapis.com/auth/userinfo.email",
					"https://www.googleapis.com/auth/userinfo.profile",
				},
				Endpoint: google.Endpoint,
			},
			userInfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
		}
	}

	if cfg.GitHubClientID != "" {
		p["github"] = &oauthProvider{
			name: models.ProviderGitHub,
			config: &oauth2.Config{
				ClientID:     cfg.GitHubClientID,
				ClientSecret: cfg.GitHubClientSecret,
				RedirectURL:  cfg.GitHubRedirectURL,
				Scopes:       []string{"read:user", "user:email"},
				Endpoint:     github.Endpoint,
			},
			userInfoURL: "https://api.github.com/user",
		}
	}

	return p
}

// fetchUserInfo pulls the provider's userinfo document with the exchanged
// access token. Google and GitHub use different field names, so both are
// decoded into one loose shape.
func (p *oauthProvider) fetchUserInfo(ctx context.Context, token *oauth2.Token) (*providerUserInfo, error) {
	client := p.config.Client(ctx, token)
	client.Timeout = 15 * time.Second

	resp, err := client.Get(p.userInfoURL)
	if err != nil {
		return nil, fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo status %s", resp.Status)
	}

	var raw struct {
		Email     string `json:"email"`
		Name      string `json:"name"`
		Login     string `json:"login"`      // github username fallback
		Picture   string `json:"picture"`    // google
		AvatarURL string `json:"avatar_url"` // github
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}

	info := &providerUserInfo{Email: raw.Email, Name: raw.Name, Picture: raw.Picture}
	if info.Name == "" {
		info.Name = raw.Login
	}
	if info.Picture == "" {
		info.Picture = raw.AvatarURL
	}
	return info, nil
}

/* ============================== Handlers ================================ */

func (h *Handler) provider(c *fiber.Ctx) (*oauthProvider, error) {
	name := strings.ToLower(c.Params("provider"))
	p, ok := h.providers[name]
	if !ok {
		return nil, fiber.NewError(fiber.StatusNotFound, "unknown sign-in provider")
	}
	return p, nil
}

// @Summary      Begin OAuth sign-in
// @Description  Redirect the browser to the provider's consent page
// @Tags         auth
// @Param        provider  path  string  true  "google or github"
// @Success      302
// @Failure      404  {object}  models.ErrorResponse
// @Router       /auth/{provider}/redirect [get]
func (h *Handler) OAuthRedirect(c *fiber.Ctx) error {
	p, err := h.provider(c)
	if err != nil {
		return err
	}
	state := c.Query("state")
	return c.Redirect(p.config.AuthCodeURL(state), fiber.StatusFound)
}

// @Summary      OAuth callback
// @Description  Exchange the authorization code, hydrate the profile, and
// @Description  return a session token
// @Tags         auth
// @Produce      json
// @Param        provider  path   string  true  "google or github"
// @Param        code      query  string  true  "authorization code"
// @Success      200  {object}  AuthResponse
// @Failure      401  {object}  models.ErrorResponse
// @Router       /auth/{provider}/callback [get]
func (h *Handler) OAuthCallback(c *fiber.Ctx) error {
	p, err := h.provider(c)
	if err != nil {
		return err
	}
	code := c.Query("code")
	if code == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing authorization code")
	}

	ctx := c.UserContext()
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "code exchange failed")
	}

	info, err := p.fetchUserInfo(ctx, token)
	if err != nil || info.Email == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "could not read provider profile")
	}

	u, err := h.orch.Hydrate(ctx, session.Identity{
		Email:       info.Email,
		DisplayName: info.Name,
		PhotoURL:    info.Picture,
		Provider:    p.name,
	})
	if err != nil {
		// Unrecoverable hydration failure: no session token.
		return fiber.ErrInternalServerError
	}

	return h.respond(c, fiber.StatusOK, u)
}
