package oidc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/peerplot/peerplot/internal/config"
	"github.com/peerplot/peerplot/pkg/logger"
	"github.com/peerplot/peerplot/pkg/middleware"
)

// Verifier checks ID tokens issued by the configured Keycloak realm.
type Verifier struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// NewVerifier creates a new OIDC verifier for the given issuer and client ID
func NewVerifier(ctx context.Context, issuer, clientID string) (*Verifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})
	return &Verifier{provider: provider, verifier: verifier}, nil
}

// Verify verifies the provided raw ID token using the provided context and returns a middleware.Token
func (v *Verifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	return idToken, nil
}

// ErrNotConfigured is returned by FromConfig when no Keycloak URL or client
// is set, meaning the story API runs without authentication.
var ErrNotConfigured = errors.New("oidc not configured")

// Issuer returns the realm issuer URL. Older deployments put the realm path
// in the URL itself and leave Realm empty.
func Issuer(cfg config.KeycloakConfig) string {
	base := strings.TrimRight(cfg.URL, "/")
	if cfg.Realm == "" {
		return base
	}
	return base + "/realms/" + cfg.Realm
}

// FromConfig builds the verifier for cfg. When discovery fails and
// AllowInsecure is set, claims are accepted without signature checks.
func FromConfig(ctx context.Context, cfg config.KeycloakConfig) (middleware.Verifier, error) {
	if cfg.URL == "" || cfg.ClientID == "" {
		if cfg.AllowInsecure {
			logger.Warn("enabling insecure OIDC verifier (integration mode)")
			return NewInsecureVerifier(), nil
		}
		return nil, ErrNotConfigured
	}
	ver, err := NewVerifier(ctx, Issuer(cfg), cfg.ClientID)
	if err == nil {
		return ver, nil
	}
	if cfg.AllowInsecure {
		logger.Warnf("failed to initialize OIDC verifier, falling back to insecure mode: %v", err)
		return NewInsecureVerifier(), nil
	}
	return nil, err
}
