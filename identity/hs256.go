package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pel/esocialize-portal/models"
	"github.com/pel/esocialize-portal/services"
)

// DevIssuer is the issuer stamped on locally minted tokens.
const DevIssuer = "esocialize-portal-dev"

// devClaims is the JWT body of a development token.
type devClaims struct {
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	Email   string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// HS256Verifier validates tokens signed with a shared secret. Local use only.
type HS256Verifier struct {
	secret []byte
}

// NewHS256Verifier creates a verifier for local/dev HS256 tokens.
func NewHS256Verifier(secret string) (*HS256Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("dev token secret is required")
	}
	return &HS256Verifier{secret: []byte(secret)}, nil
}

// Verify implements Verifier.
func (v *HS256Verifier) Verify(_ context.Context, rawToken string) (models.Identity, error) {
	var c devClaims
	_, err := jwt.ParseWithClaims(rawToken, &c, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(DevIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.Identity{}, fmt.Errorf("%w: %w", services.ErrTokenExpired, err)
		}
		return models.Identity{}, fmt.Errorf("%w: %w", services.ErrInvalidToken, err)
	}

	return claims{
		Subject: c.Subject,
		Name:    c.Name,
		Picture: c.Picture,
		Email:   c.Email,
	}.identity()
}

// IssueDevToken mints an HS256 token for id that expires after ttl.
func IssueDevToken(secret string, id models.Identity, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("dev token secret is required")
	}
	if id.ID == "" {
		return "", fmt.Errorf("principal id is required")
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, devClaims{
		Name:    id.DisplayName,
		Picture: id.AvatarURL,
		Email:   id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			Issuer:    DevIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString([]byte(secret))
}
