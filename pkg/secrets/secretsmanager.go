package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// ErrEmptySecret is returned for a secret version with neither a string nor
// a binary payload.
var ErrEmptySecret = errors.New("secret has no payload")

// SecretsManagerAPI is the part of the Secrets Manager client the storefront
// reads through.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	secretsmanager.ListSecretsAPIClient
}

// SecretsManager serves storefront secrets stored as flat JSON objects, for
// example {"endpoint": "https://...", "simulation_email": "..."}.
type SecretsManager struct {
	api SecretsManagerAPI
}

// NewSecretsManager builds a provider from the default AWS credential chain.
func NewSecretsManager(ctx context.Context, region string) (*SecretsManager, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSecretsManagerWith(secretsmanager.NewFromConfig(cfg)), nil
}

// NewSecretsManagerWith wraps an existing client.
func NewSecretsManagerWith(api SecretsManagerAPI) *SecretsManager {
	return &SecretsManager{api: api}
}

func (s *SecretsManager) GetSecret(ctx context.Context, key string) (map[string]string, error) {
	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(key)})
	if err != nil {
		if missing(err) {
			return nil, fmt.Errorf("secret %q: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("get secret %q: %w", key, err)
	}

	var payload []byte
	switch {
	case out.SecretString != nil:
		payload = []byte(*out.SecretString)
	case len(out.SecretBinary) > 0:
		payload = out.SecretBinary
	default:
		return nil, fmt.Errorf("secret %q: %w", key, ErrEmptySecret)
	}

	fields, err := decodeFields(payload)
	if err != nil {
		return nil, fmt.Errorf("secret %q: %w", key, err)
	}
	return fields, nil
}

// missing reports whether err means the secret cannot be read at all: it was
// never created, or it is scheduled for deletion.
func missing(err error) bool {
	var nf *types.ResourceNotFoundException
	if errors.As(err, &nf) {
		return true
	}
	var ir *types.InvalidRequestException
	return errors.As(err, &ir) && strings.Contains(ir.ErrorMessage(), "marked for deletion")
}

// decodeFields flattens a JSON object into string fields. Non-string scalars
// keep their JSON text, so {"simulation": true} reads as "true".
func decodeFields(payload []byte) (map[string]string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			fields[k] = s
			continue
		}
		text := strings.TrimSpace(string(v))
		if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[") {
			return nil, fmt.Errorf("field %q is not a scalar", k)
		}
		if text != "null" {
			fields[k] = text
		}
	}
	return fields, nil
}

// ListSecrets returns the sorted names of live secrets under prefix.
func (s *SecretsManager) ListSecrets(ctx context.Context, prefix string) ([]string, error) {
	pages := secretsmanager.NewListSecretsPaginator(s.api, &secretsmanager.ListSecretsInput{
		Filters:    []types.Filter{{Key: types.FilterNameStringTypeName, Values: []string{prefix}}},
		MaxResults: aws.Int32(100),
	})

	var names []string
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list secrets under %q: %w", prefix, err)
		}
		for _, entry := range page.SecretList {
			name := aws.ToString(entry.Name)
			// the name filter is case-insensitive
			if entry.DeletedDate != nil || !strings.HasPrefix(name, prefix) {
				continue
			}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
