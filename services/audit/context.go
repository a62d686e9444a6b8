package audit

import (
	"context"

	"github.com/pel/esocialize-portal/models"
)

// RequestMeta is the request metadata attached to audit entries
type RequestMeta struct {
	RequestID string
	IPAddress string
}

type metaKey struct{}

// WithRequestMeta stores request metadata for audit entries created further down the call chain.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, metaKey{}, meta)
}

// RequestMetaFrom returns the metadata stored by WithRequestMeta, if any.
func RequestMetaFrom(ctx context.Context) (RequestMeta, bool) {
	meta, ok := ctx.Value(metaKey{}).(RequestMeta)
	return meta, ok
}

func withMeta(ctx context.Context, log *models.AuditLog) *models.AuditLog {
	if meta, ok := RequestMetaFrom(ctx); ok {
		log.WithRequest(meta.RequestID, meta.IPAddress)
	}
	return log
}
