package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/pel/esocialize-portal/identity"
	"github.com/pel/esocialize-portal/models"
	"github.com/pel/esocialize-portal/services"
	"github.com/pel/esocialize-portal/utils"
)

// SessionCookieName is set by the auth handler after the OAuth callback
const SessionCookieName = "session"

// PrincipalResolver turns a verified identity into a principal snapshot.
type PrincipalResolver interface {
	Resolve(ctx context.Context, id models.Identity) (*models.Principal, bool)
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	verifier identity.Verifier
	resolver PrincipalResolver
	logger   *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(verifier identity.Verifier, resolver PrincipalResolver, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		resolver: resolver,
		logger:   logger,
	}
}

// Authenticate resolves the caller's principal into the request context when
// a valid token is presented. Requests without one continue as anonymous.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token := extractToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		id, err := m.verifier.Verify(ctx, token)
		if err != nil {
			m.logger.Debug("token rejected, continuing anonymously",
				zap.String("request_id", requestID),
				zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		p, degraded := m.resolver.Resolve(ctx, id)
		ctx = WithIdentity(ctx, id)
		ctx = WithPrincipal(ctx, p, degraded)
		recordPrincipalID(ctx, p.ID)

		m.logger.Debug("principal resolved",
			zap.String("request_id", requestID),
			zap.String("principal_id", p.ID),
			zap.String("role", string(p.Role)),
			zap.Bool("degraded", degraded))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth rejects anonymous requests. Must run after Authenticate.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetPrincipalFromContext(r.Context()) == nil {
			m.logger.Debug("anonymous request rejected",
				zap.String("request_id", GetRequestIDFromContext(r.Context())),
				zap.String("path", r.URL.Path))
			_ = utils.WriteUnauthorized(w, services.ErrUnauthorized.Message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin allows only principals with the admin role. Must run after
// RequireAuth.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		p := GetPrincipalFromContext(ctx)

		if IsDegraded(ctx) {
			_ = utils.WriteServiceUnavailable(w, services.ErrStoreUnavailable.Message, nil)
			return
		}
		if !p.IsAdmin() {
			m.logger.Warn("admin route refused",
				zap.String("request_id", GetRequestIDFromContext(ctx)),
				zap.String("principal_id", principalID(p)),
				zap.String("path", r.URL.Path))
			_ = utils.WriteForbidden(w, services.ErrAdminRequired.Message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func principalID(p *models.Principal) string {
	if p == nil {
		return ""
	}
	return p.ID
}

// extractToken extracts the token from the Authorization header ("Bearer TOKEN")
// or the session cookie. The header takes precedence.
func extractToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
