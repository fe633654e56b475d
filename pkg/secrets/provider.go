package secrets

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"
)

// ErrNotFound is returned when a secret does not exist in the backend.
var ErrNotFound = errors.New("secret not found")

// Provider is a key/value secret backend.
type Provider interface {
	// GetSecret retrieves a secret by path and returns its fields.
	GetSecret(ctx context.Context, key string) (map[string]string, error)

	// ListSecrets returns the names of all secrets whose name starts with prefix.
	ListSecrets(ctx context.Context, prefix string) ([]string, error)
}

// EnvProvider reads secrets from environment variables. A secret path such as
// "dev/storefront/esewa" maps to the prefix DEV_STOREFRONT_ESEWA_, and every
// variable under that prefix becomes a lower-cased field.
type EnvProvider struct {
	environ func() []string
}

// NewEnvProvider returns a provider over the process environment.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{environ: os.Environ}
}

func envPrefix(key string) string {
	r := strings.NewReplacer("/", "_", "-", "_", ".", "_")
	return strings.ToUpper(r.Replace(key)) + "_"
}

func (p *EnvProvider) GetSecret(_ context.Context, key string) (map[string]string, error) {
	prefix := envPrefix(key)
	out := map[string]string{}
	for _, kv := range p.environ() {
		name, val, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		field := strings.ToLower(strings.TrimPrefix(name, prefix))
		if field != "" {
			out[field] = val
		}
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (p *EnvProvider) ListSecrets(_ context.Context, prefix string) ([]string, error) {
	want := envPrefix(prefix)
	seen := map[string]struct{}{}
	for _, kv := range p.environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, want) {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}
