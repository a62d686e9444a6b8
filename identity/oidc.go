package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/pel/esocialize-portal/config"
	"github.com/pel/esocialize-portal/models"
	"github.com/pel/esocialize-portal/services"
)

// OIDCVerifier validates ID tokens against the provider's published keys.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifierFromKeySet builds a verifier without discovery.
func NewOIDCVerifierFromKeySet(issuerURL, clientID string, keySet oidc.KeySet) *OIDCVerifier {
	return &OIDCVerifier{
		verifier: oidc.NewVerifier(issuerURL, keySet, &oidc.Config{ClientID: clientID}),
	}
}

// Verify implements Verifier.
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (models.Identity, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		var expired *oidc.TokenExpiredError
		if errors.As(err, &expired) {
			return models.Identity{}, fmt.Errorf("%w: %w", services.ErrTokenExpired, err)
		}
		return models.Identity{}, fmt.Errorf("%w: %w", services.ErrInvalidToken, err)
	}

	var c claims
	if err := idToken.Claims(&c); err != nil {
		return models.Identity{}, fmt.Errorf("%w: parse claims: %w", services.ErrInvalidToken, err)
	}
	c.Subject = idToken.Subject
	return c.identity()
}

// Provider is a discovered OpenID Connect provider used for the
// authorization code flow.
type Provider struct {
	*OIDCVerifier
	oauthConfig oauth2.Config
}

// NewProvider runs discovery against cfg.IssuerURL.
func NewProvider(ctx context.Context, cfg config.IdentityConfig) (*Provider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider discovery: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	return &Provider{
		OIDCVerifier: &OIDCVerifier{
			verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		},
		oauthConfig: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
	}, nil
}

// AuthCodeURL returns the provider sign-in URL for state.
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauthConfig.AuthCodeURL(state)
}

// ExchangeCode swaps an authorization code for the raw ID token.
func (p *Provider) ExchangeCode(ctx context.Context, code string) (string, error) {
	token, err := p.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("code exchange: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || strings.TrimSpace(rawIDToken) == "" {
		return "", fmt.Errorf("token response has no id_token")
	}
	return rawIDToken, nil
}
