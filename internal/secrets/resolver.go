package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/bookbridge/storefront-adapter/internal/metrics"
	pkgsecrets "github.com/bookbridge/storefront-adapter/pkg/secrets"
	"github.com/bookbridge/storefront-adapter/pkg/model"
)

const gatewaySecret = "storefront/esewa"

// GatewayResolver resolves the payment gateway settings from the secret
// backend, caching results locally to reduce API calls. Fields missing from
// the secret, or a missing secret, fall back to the configured defaults.
//
// Secret naming convention: {env}/storefront/esewa
type GatewayResolver struct {
	logger   *zap.Logger
	env      string
	provider pkgsecrets.Provider
	cache    *pkgsecrets.Cache[model.GatewaySettings]
	defaults model.GatewaySettings
}

// NewGatewayResolver constructs a resolver for the current environment.
func NewGatewayResolver(
	logger *zap.Logger,
	env string,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.Cache[model.GatewaySettings],
	defaults model.GatewaySettings,
) *GatewayResolver {
	return &GatewayResolver{
		logger:   logger,
		env:      env,
		provider: provider,
		cache:    cache,
		defaults: defaults,
	}
}

// SecretName is the backend key for the gateway secret.
// Pattern: {env}/storefront/esewa
func (r *GatewayResolver) SecretName() string {
	return strings.ToLower(fmt.Sprintf("%s/%s", r.env, gatewaySecret))
}

// Gateway returns the effective gateway settings, from cache when fresh.
func (r *GatewayResolver) Gateway(ctx context.Context) (model.GatewaySettings, error) {
	gw, hit, err := r.cache.Fetch(ctx, r.SecretName(), r.load)
	if hit {
		metrics.IncCacheHit("hit")
	} else {
		metrics.IncCacheHit("miss")
	}
	return gw, err
}

// load reads the secret backend. The bool reports whether the result may be
// cached: defaults served during a backend outage are not, so the next call
// retries.
func (r *GatewayResolver) load(ctx context.Context) (model.GatewaySettings, bool, error) {
	key := r.SecretName()
	secretMap, err := r.provider.GetSecret(ctx, key)
	switch {
	case errors.Is(err, pkgsecrets.ErrNotFound):
		r.logger.Debug("secrets.gateway_defaults", zap.String("key", key))
		secretMap = nil
	case err != nil:
		r.logger.Warn("secrets.gateway_fetch_failed",
			zap.String("key", key),
			zap.Error(err))
		if r.defaults.Endpoint == "" {
			return model.GatewaySettings{}, false, fmt.Errorf("resolve gateway settings: %w", err)
		}
		return r.defaults, false, nil
	}

	gw, err := r.parse(secretMap)
	if err != nil {
		return model.GatewaySettings{}, false, fmt.Errorf("parse secret %q: %w", key, err)
	}

	r.logger.Info("secrets.gateway_resolved",
		zap.String("key", key),
		zap.String("endpoint", gw.Endpoint),
	)
	return gw, true, nil
}

// DiscoverSecrets lists the storefront secrets stored for this environment.
// Startup logs them so a missing gateway secret is visible before the first payment.
func (r *GatewayResolver) DiscoverSecrets(ctx context.Context) ([]string, error) {
	prefix := strings.ToLower(r.env + "/storefront/")
	names, err := r.provider.ListSecrets(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list secrets with prefix %q: %w", prefix, err)
	}
	return names, nil
}

// Refresh drops the cached settings.
func (r *GatewayResolver) Refresh() {
	r.cache.Bust(r.SecretName())
}

func (r *GatewayResolver) parse(secret map[string]string) (model.GatewaySettings, error) {
	gw := r.defaults
	if v := strings.TrimSpace(secret["endpoint"]); v != "" {
		gw.Endpoint = v
	}
	if v := strings.TrimSpace(secret["simulation_email"]); v != "" {
		gw.SimulationEmail = v
	}
	if v := secret["simulation_password"]; v != "" {
		gw.SimulationPassword = v
	}

	u, err := url.Parse(gw.Endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return model.GatewaySettings{}, fmt.Errorf("invalid gateway endpoint %q", gw.Endpoint)
	}
	return gw, nil
}
