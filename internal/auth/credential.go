package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/bookbridge/storefront-adapter/pkg/model"
)

// Roles allowed to author order status transitions.
const (
	RoleAdmin  = "ADMIN"
	RoleSeller = "SELLER"
)

// Credential is the bearer token of the current actor plus whatever identity
// claims could be read from it.
type Credential struct {
	Token  string
	Claims Claims
}

// ActorKey identifies the actor for per-actor state such as carts and locks.
func (c Credential) ActorKey() string {
	switch {
	case c.Claims.UserID != "":
		return "user:" + c.Claims.UserID
	case c.Claims.Subject != "":
		return "sub:" + strings.ToLower(c.Claims.Subject)
	}
	sum := sha256.Sum256([]byte(c.Token))
	return "tok:" + hex.EncodeToString(sum[:8])
}

// HasRole reports whether the credential carries one of roles.
func (c Credential) HasRole(roles ...string) bool {
	for _, r := range roles {
		if strings.EqualFold(strings.TrimPrefix(c.Claims.Role, "ROLE_"), r) {
			return true
		}
	}
	return false
}

// CredentialProvider supplies the credential of the actor bound to ctx.
// It returns model.ErrUnauthenticated when there is none.
type CredentialProvider interface {
	Credential(ctx context.Context) (Credential, error)
}

type credentialKey struct{}

// WithCredential binds cred to ctx.
func WithCredential(ctx context.Context, cred Credential) context.Context {
	return context.WithValue(ctx, credentialKey{}, cred)
}

// FromContext returns the credential bound to ctx, if any.
func FromContext(ctx context.Context) (Credential, bool) {
	cred, ok := ctx.Value(credentialKey{}).(Credential)
	if !ok || cred.Token == "" {
		return Credential{}, false
	}
	return cred, true
}

// ContextProvider reads the credential the API middleware bound to the request context.
type ContextProvider struct{}

func (ContextProvider) Credential(ctx context.Context) (Credential, error) {
	if cred, ok := FromContext(ctx); ok {
		return cred, nil
	}
	return Credential{}, model.ErrUnauthenticated
}

// StaticProvider always returns the same credential; a nil one is unauthenticated.
type StaticProvider struct {
	Cred *Credential
}

func (p StaticProvider) Credential(context.Context) (Credential, error) {
	if p.Cred == nil || p.Cred.Token == "" {
		return Credential{}, model.ErrUnauthenticated
	}
	return *p.Cred, nil
}
