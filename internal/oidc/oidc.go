package oidc

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gogotex/document-service/pkg/middleware"
)

// Verifier checks tokens against the issuer's published keys (Keycloak realm).
type Verifier struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// NewVerifier discovers the issuer and verifies tokens for clientID. Access
// tokens from Keycloak carry the client in azp rather than aud, so the
// audience check is skipped when skipClientCheck is set.
func NewVerifier(ctx context.Context, issuer, clientID string, skipClientCheck bool) (*Verifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: clientID, SkipClientIDCheck: skipClientCheck})
	return &Verifier{provider: provider, verifier: verifier}, nil
}

// IssuerURL joins a Keycloak base URL and realm.
func IssuerURL(baseURL, realm string) string {
	return strings.TrimRight(baseURL, "/") + "/realms/" + realm
}

// Verify verifies the provided raw ID token using the provided context and returns a middleware.Token
func (v *Verifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	return idToken, nil
}
