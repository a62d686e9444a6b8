package middleware

import (
	"context"

	"github.com/pel/esocialize-portal/models"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// IdentityKey is the context key for the verified identity
	IdentityKey contextKey = "identity"

	// PrincipalKey is the context key for the resolved principal snapshot
	PrincipalKey contextKey = "principal"

	// DegradedKey marks a snapshot built without the store
	DegradedKey contextKey = "degraded"

	holderKey contextKey = "principal_holder"
)

// principalHolder lets the request logger see who a request resolved to.
type principalHolder struct {
	id string
}

func withHolder(ctx context.Context, h *principalHolder) context.Context {
	return context.WithValue(ctx, holderKey, h)
}

func recordPrincipalID(ctx context.Context, id string) {
	if h, ok := ctx.Value(holderKey).(*principalHolder); ok {
		h.id = id
	}
}

// GetRequestIDFromContext retrieves the request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return ""
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetIdentityFromContext retrieves the verified identity from context
func GetIdentityFromContext(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(IdentityKey).(models.Identity)
	return id, ok
}

// WithIdentity adds a verified identity to the context
func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

// GetPrincipalFromContext retrieves the principal snapshot, or nil for an
// anonymous request.
func GetPrincipalFromContext(ctx context.Context) *models.Principal {
	if val := ctx.Value(PrincipalKey); val != nil {
		if p, ok := val.(*models.Principal); ok {
			return p
		}
	}
	return nil
}

// WithPrincipal adds a principal snapshot to the context
func WithPrincipal(ctx context.Context, p *models.Principal, degraded bool) context.Context {
	ctx = context.WithValue(ctx, PrincipalKey, p)
	return context.WithValue(ctx, DegradedKey, degraded)
}

// IsDegraded reports whether the principal in ctx was built without the store
func IsDegraded(ctx context.Context) bool {
	degraded, _ := ctx.Value(DegradedKey).(bool)
	return degraded
}
