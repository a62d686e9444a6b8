package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pel/esocialize-portal/config"
	"github.com/pel/esocialize-portal/identity"
	"github.com/pel/esocialize-portal/middleware"
	"github.com/pel/esocialize-portal/models"
	"github.com/pel/esocialize-portal/utils"
)

const (
	// StateCookieName is the cookie name for OAuth state (CSRF)
	StateCookieName     = "oauth_state"
	stateCookieMaxAge   = 600
	sessionCookieMaxAge = 86400 * 7 // 7 days
)

// CodeFlow is the provider side of the OAuth2 authorization code flow.
type CodeFlow interface {
	AuthCodeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (idToken string, err error)
}

// Enroller creates the principal record on first sign-in.
type Enroller interface {
	Resolve(ctx context.Context, id models.Identity) (*models.Principal, bool)
}

// Handler handles OAuth2 authentication flows (login, callback, logout).
type Handler struct {
	cfg      config.IdentityConfig
	flow     CodeFlow
	verifier identity.Verifier
	enroller Enroller
	logger   *zap.Logger
}

// NewHandler creates a new auth handler. flow is nil when no identity
// provider is configured.
func NewHandler(cfg config.IdentityConfig, flow CodeFlow, verifier identity.Verifier, enroller Enroller, logger *zap.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		flow:     flow,
		verifier: verifier,
		enroller: enroller,
		logger:   logger,
	}
}

// HandleLogin redirects to the identity provider's sign-in page
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if h.flow == nil {
		h.logger.Error("identity provider not configured")
		_ = utils.WriteError(w, http.StatusNotImplemented, "Sign-in is not configured", nil)
		return
	}

	state, err := generateSecureState()
	if err != nil {
		h.logger.Error("failed to generate state", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to initiate login")
		return
	}

	http.SetCookie(w, h.cookie(StateCookieName, state, stateCookieMaxAge))
	http.Redirect(w, r, h.flow.AuthCodeURL(state), http.StatusFound)
}

// HandleCallback exchanges the authorization code, verifies the ID token,
// enrolls the principal and sets the session cookie
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if h.flow == nil {
		_ = utils.WriteError(w, http.StatusNotImplemented, "Sign-in is not configured", nil)
		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Warn("identity provider returned an error",
			zap.String("error", errParam),
			zap.String("description", r.URL.Query().Get("error_description")))
		_ = utils.WriteUnauthorized(w, "Sign-in was cancelled or refused")
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	if code == "" {
		_ = utils.WriteBadRequest(w, "Missing authorization code", nil)
		return
	}
	if state == "" {
		_ = utils.WriteBadRequest(w, "Missing state parameter", nil)
		return
	}

	stateCookie, err := r.Cookie(StateCookieName)
	if err != nil || stateCookie.Value != state {
		_ = utils.WriteBadRequest(w, "Invalid or expired state", nil)
		return
	}
	http.SetCookie(w, h.cookie(StateCookieName, "", -1))

	idToken, err := h.flow.ExchangeCode(r.Context(), code)
	if err != nil {
		h.logger.Warn("token exchange failed", zap.Error(err))
		_ = utils.WriteUnauthorized(w, "Authentication failed")
		return
	}

	id, err := h.verifier.Verify(r.Context(), idToken)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		_ = utils.WriteUnauthorized(w, "Invalid token")
		return
	}

	p, degraded := h.enroller.Resolve(r.Context(), id)
	h.logger.Info("signed in",
		zap.String("principal_id", p.ID),
		zap.String("role", string(p.Role)),
		zap.Bool("degraded", degraded))

	http.SetCookie(w, h.cookie(middleware.SessionCookieName, idToken, sessionCookieMaxAge))
	http.Redirect(w, r, h.frontEnd(), http.StatusFound)
}

// HandleLogout clears the session cookie and returns to the front end
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, h.cookie(middleware.SessionCookieName, "", -1))
	http.Redirect(w, r, h.frontEnd(), http.StatusFound)
}

func (h *Handler) frontEnd() string {
	if h.cfg.FrontEndURL == "" {
		return "/"
	}
	return h.cfg.FrontEndURL
}

// cookie builds a site-wide HttpOnly cookie. The state cookie must be sent on
// the provider's redirect back, so SameSite is Lax.
func (h *Handler) cookie(name, value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge < 0 {
		c.Expires = time.Unix(0, 0)
	}
	return c
}

func generateSecureState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
