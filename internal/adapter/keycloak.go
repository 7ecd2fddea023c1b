package adapter

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/MKhiriev/go-trust-engine/internal/config"
	"github.com/MKhiriev/go-trust-engine/internal/logger"
)

// jwksPath is the key set endpoint of a keycloak realm.
const jwksPath = "/protocol/openid-connect/certs"

// KeycloakKeySource fetches realm key sets over HTTP.
type KeycloakKeySource struct {
	client *resty.Client
	logger *logger.Logger
}

// NewKeycloakKeySource bounds every request by cfg.KeycloakRequestTimeout.
func NewKeycloakKeySource(cfg config.Adapter, logger *logger.Logger) *KeycloakKeySource {
	timeout := cfg.KeycloakRequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &KeycloakKeySource{client: client, logger: logger}
}

// normalizeBaseURL validates a realm url and strips its trailing slash.
func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyAddress
	}

	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("address must include host and scheme")
	}

	return strings.TrimRight(u.String(), "/"), nil
}

// FetchJWKS returns the raw key set document of the realm at serverURL.
func (k *KeycloakKeySource) FetchJWKS(ctx context.Context, serverURL string) (string, error) {
	base, err := normalizeBaseURL(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid keycloak server url: %w", err)
	}

	resp, err := k.client.R().
		SetContext(ctx).
		Get(base + jwksPath)
	if err != nil {
		k.logger.Err(err).Str("func", "*KeycloakKeySource.FetchJWKS").Str("server", base).Msg("jwks request failed")
		return "", fmt.Errorf("jwks request: %w", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return "", err
	}
	return string(resp.Body()), nil
}
