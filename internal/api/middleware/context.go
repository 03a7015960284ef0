package middleware

import (
	"context"
	"net/http"
	"slices"

	"github.com/google/uuid"
)

type principalKey struct{}

// Principal is the caller resolved from an API key. Handlers scope every
// corpus query to OwnerID; KeyPrefix keys the rate limiter.
type Principal struct {
	OwnerID   uuid.UUID
	KeyPrefix string
	Scopes    []string
}

// Can reports whether the key carries scope, directly or through admin.
func (p Principal) Can(scope string) bool {
	return slices.Contains(p.Scopes, scope) || slices.Contains(p.Scopes, ScopeAdmin)
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFrom(r *http.Request) (Principal, bool) {
	p, ok := r.Context().Value(principalKey{}).(Principal)
	return p, ok
}

// SetOwnerID attaches an owner with no scopes or key prefix. Handlers only
// read the owner, so it is enough for them.
func SetOwnerID(ctx context.Context, id uuid.UUID) context.Context {
	return WithPrincipal(ctx, Principal{OwnerID: id})
}

// GetOwnerID returns the owner the authenticated key belongs to. A request
// that never passed Authenticate has none.
func GetOwnerID(r *http.Request) (uuid.UUID, bool) {
	p, ok := principalFrom(r)
	if !ok || p.OwnerID == uuid.Nil {
		return uuid.Nil, false
	}
	return p.OwnerID, true
}
