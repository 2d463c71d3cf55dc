package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDC bundles the provider pieces for the authorization-code flow.
// Token validation is delegated entirely to the verifier.
type OIDC struct {
	verifier *oidc.IDTokenVerifier
	config   *oauth2.Config
}

// NewOIDC discovers the issuer and prepares the code-flow config.
func NewOIDC(ctx context.Context, issuer, clientID, clientSecret, redirectURL string) (*OIDC, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("auth: discover oidc provider: %w", err)
	}
	return &OIDC{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  redirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
	}, nil
}

// AuthCodeURL returns the provider redirect URL for the given state.
func (o *OIDC) AuthCodeURL(state string) string {
	return o.config.AuthCodeURL(state)
}

// ExchangeAndVerify swaps the authorization code for tokens, verifies the
// ID token, and returns the identity claims.
func (o *OIDC) ExchangeAndVerify(ctx context.Context, code string) (Identity, error) {
	token, err := o.config.Exchange(ctx, code)
	if err != nil {
		return Identity{}, fmt.Errorf("auth: code exchange: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return Identity{}, fmt.Errorf("auth: token response missing id_token")
	}
	idToken, err := o.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Identity{}, fmt.Errorf("auth: verify id token: %w", err)
	}
	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("auth: parse claims: %w", err)
	}
	return Identity{Subject: idToken.Subject, Email: claims.Email}, nil
}
