// Package identity turns signed tokens from the identity provider into
// models.Identity values.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/pel/esocialize-portal/models"
	"github.com/pel/esocialize-portal/services"
)

// Verifier validates a raw token and returns who it belongs to.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (models.Identity, error)
}

// IsExpired reports whether err rejected a token only because it expired.
func IsExpired(err error) bool {
	var domainErr *services.DomainError
	return errors.As(err, &domainErr) && domainErr == services.ErrTokenExpired
}

// claims is the subset of ID token claims the portal reads.
type claims struct {
	Subject string `json:"sub"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	Email   string `json:"email"`
}

func (c claims) identity() (models.Identity, error) {
	if c.Subject == "" {
		return models.Identity{}, fmt.Errorf("%w: token has no subject", services.ErrInvalidToken)
	}
	name := c.Name
	if name == "" {
		name = c.Email
	}
	return models.Identity{
		ID:          c.Subject,
		DisplayName: name,
		AvatarURL:   c.Picture,
		Email:       c.Email,
	}, nil
}

// Chain tries each verifier in order and returns the first success.
type Chain []Verifier

// Verify implements Verifier.
func (c Chain) Verify(ctx context.Context, rawToken string) (models.Identity, error) {
	var errs []error
	for _, v := range c {
		id, err := v.Verify(ctx, rawToken)
		if err == nil {
			return id, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return models.Identity{}, services.ErrUnauthorized
	}
	// An expired token is reported as such even if another verifier also failed.
	for _, err := range errs {
		if IsExpired(err) {
			return models.Identity{}, err
		}
	}
	return models.Identity{}, fmt.Errorf("%w: %w", services.ErrInvalidToken, errors.Join(errs...))
}
