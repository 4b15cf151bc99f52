package app

import (
	"context"
	"fmt"

	"github.com/gogotex/document-service/internal/config"
	"github.com/gogotex/document-service/internal/oidc"
	"github.com/gogotex/document-service/internal/tokens"
	"github.com/gogotex/document-service/pkg/logger"
	"github.com/gogotex/document-service/pkg/middleware"
)

// NewVerifier returns the token verifier for cfg.Auth.Mode, or nil when
// authentication is disabled.
func NewVerifier(ctx context.Context, cfg *config.Config) (middleware.Verifier, error) {
	switch cfg.Auth.Mode {
	case config.AuthNone:
		return nil, nil
	case config.AuthInsecure:
		logger.Warnf("AUTH_MODE=insecure: bearer tokens are NOT verified")
		return oidc.NewInsecureVerifier(), nil
	case config.AuthHMAC:
		return tokens.NewHMACVerifier(cfg.JWT.Secret), nil
	case config.AuthOIDC:
		issuer := oidc.IssuerURL(cfg.Keycloak.URL, cfg.Keycloak.Realm)
		v, err := oidc.NewVerifier(ctx, issuer, cfg.Keycloak.ClientID, cfg.Keycloak.SkipClientCheck)
		if err != nil {
			return nil, fmt.Errorf("oidc verifier for %s: %w", issuer, err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("unknown auth mode %q", cfg.Auth.Mode)
}
