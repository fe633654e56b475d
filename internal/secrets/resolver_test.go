package secrets

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	pkgsecrets "github.com/bookbridge/storefront-adapter/pkg/secrets"
	"github.com/bookbridge/storefront-adapter/pkg/model"
)

type mockProvider struct {
	calls   int
	secrets map[string]map[string]string
	err     error
}

func (m *mockProvider) GetSecret(_ context.Context, key string) (map[string]string, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.secrets[key]
	if !ok {
		return nil, pkgsecrets.ErrNotFound
	}
	return s, nil
}

func (m *mockProvider) ListSecrets(_ context.Context, prefix string) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []string
	for k := range m.secrets {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

var defaults = model.GatewaySettings{
	Endpoint:           "https://uat.esewa.com.np/epay/main",
	SimulationEmail:    "test@esewa.com.np",
	SimulationPassword: "test123",
}

func newResolver(p pkgsecrets.Provider) *GatewayResolver {
	return NewGatewayResolver(zap.NewNop(), "UAT", p, pkgsecrets.NewCache[model.GatewaySettings](time.Hour), defaults)
}

func TestGatewayResolver_SecretName(t *testing.T) {
	assert.Equal(t, "uat/storefront/esewa", newResolver(&mockProvider{}).SecretName())
}

func TestGatewayResolver_MissingSecretUsesDefaults(t *testing.T) {
	p := &mockProvider{}
	r := newResolver(p)

	gw, err := r.Gateway(context.Background())
	require.NoError(t, err)
	assert.Equal(t, defaults, gw)

	_, err = r.Gateway(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, p.calls, "second call served from cache")
}

func TestGatewayResolver_SecretOverridesFields(t *testing.T) {
	p := &mockProvider{secrets: map[string]map[string]string{
		"uat/storefront/esewa": {"endpoint": "https://esewa.com.np/epay/main", "simulation_password": "s3cret"},
	}}
	r := newResolver(p)

	gw, err := r.Gateway(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://esewa.com.np/epay/main", gw.Endpoint)
	assert.Equal(t, "test@esewa.com.np", gw.SimulationEmail)
	assert.Equal(t, "s3cret", gw.SimulationPassword)
}

func TestGatewayResolver_InvalidEndpoint(t *testing.T) {
	p := &mockProvider{secrets: map[string]map[string]string{
		"uat/storefront/esewa": {"endpoint": "javascript:alert(1)"},
	}}
	_, err := newResolver(p).Gateway(context.Background())
	assert.Error(t, err)
}

func TestGatewayResolver_BackendDownServesDefaultsUncached(t *testing.T) {
	p := &mockProvider{err: errors.New("throttled")}
	r := newResolver(p)

	gw, err := r.Gateway(context.Background())
	require.NoError(t, err)
	assert.Equal(t, defaults, gw)

	_, _ = r.Gateway(context.Background())
	assert.Equal(t, 2, p.calls)
}

func TestGatewayResolver_BackendDownWithoutDefaults(t *testing.T) {
	p := &mockProvider{err: errors.New("throttled")}
	r := NewGatewayResolver(zap.NewNop(), "dev", p, pkgsecrets.NewCache[model.GatewaySettings](time.Hour), model.GatewaySettings{})

	_, err := r.Gateway(context.Background())
	assert.Error(t, err)
}

func TestGatewayResolver_Refresh(t *testing.T) {
	p := &mockProvider{}
	r := newResolver(p)

	_, _ = r.Gateway(context.Background())
	r.Refresh()
	_, _ = r.Gateway(context.Background())
	assert.Equal(t, 2, p.calls)
}

func TestGatewayResolver_WithEnvProvider(t *testing.T) {
	t.Setenv("UAT_STOREFRONT_ESEWA_SIMULATION_EMAIL", "qa@example.com")
	r := newResolver(pkgsecrets.NewEnvProvider())

	gw, err := r.Gateway(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "qa@example.com", gw.SimulationEmail)
	assert.Equal(t, defaults.Endpoint, gw.Endpoint)
}

func TestGatewayResolver_DiscoverSecrets(t *testing.T) {
	p := &mockProvider{secrets: map[string]map[string]string{
		"uat/storefront/esewa":  {"endpoint": "https://uat.esewa.com.np/epay/main"},
		"prod/storefront/esewa": {"endpoint": "https://esewa.com.np/epay/main"},
	}}

	names, err := newResolver(p).DiscoverSecrets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"uat/storefront/esewa"}, names)
}

func TestGatewayResolver_DiscoverSecretsError(t *testing.T) {
	_, err := newResolver(&mockProvider{err: errors.New("throttled")}).DiscoverSecrets(context.Background())
	assert.ErrorContains(t, err, "throttled")
}
