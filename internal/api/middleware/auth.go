package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/api/response"
	"github.com/kiranshivaraju/kbforge/internal/store"
	"github.com/kiranshivaraju/kbforge/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const (
	keyPrefixLen = 8

	ScopeRead  = "read"
	ScopeWrite = "write"
	// ScopeAdmin satisfies every scope check.
	ScopeAdmin = "admin"

	lastUsedTimeout = 5 * time.Second
)

// Auth resolves API keys to owners and enforces scopes.
type Auth struct {
	store store.KeyStore
}

func NewAuth(s store.KeyStore) *Auth {
	return &Auth{store: s}
}

// Authenticate accepts a Bearer token, or an access_token query parameter on
// event-stream requests since browsers cannot set headers there. On success
// the owner, key prefix and scopes are stored in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := requestToken(r)
		if raw == "" {
			response.Error(w, http.StatusUnauthorized,
				response.CodeInvalidToken, "Missing or invalid Authorization header", nil)
			return
		}
		if len(raw) < keyPrefixLen {
			response.Error(w, http.StatusUnauthorized,
				response.CodeInvalidToken, "Invalid API key format", nil)
			return
		}

		key, err := a.lookup(r.Context(), raw)
		if err != nil {
			slog.Error("api key lookup failed", "error", err)
			response.Error(w, http.StatusInternalServerError,
				response.CodeInternal, "Failed to validate API key", nil)
			return
		}
		if key == nil {
			response.Error(w, http.StatusUnauthorized,
				response.CodeInvalidToken, "Invalid API key", nil)
			return
		}

		go a.touch(key.ID)

		ctx := WithPrincipal(r.Context(), Principal{
			OwnerID:   key.OwnerID,
			KeyPrefix: key.KeyPrefix,
			Scopes:    key.Scopes,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// lookup returns nil, nil when no live key with the prefix matches the hash.
func (a *Auth) lookup(ctx context.Context, raw string) (*models.APIKey, error) {
	candidates, err := a.store.GetAPIKeyByPrefix(ctx, raw[:keyPrefixLen])
	if err != nil {
		return nil, err
	}
	for _, k := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(raw)) == nil {
			return k, nil
		}
	}
	return nil, nil
}

func (a *Auth) touch(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), lastUsedTimeout)
	defer cancel()
	if err := a.store.UpdateAPIKeyLastUsed(ctx, id); err != nil {
		slog.Warn("failed to update api key last used", "key_id", id, "error", err)
	}
}

// RequireScope rejects keys that carry neither scope nor admin.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p, ok := principalFrom(r); ok && p.Can(scope) {
				next.ServeHTTP(w, r)
				return
			}
			response.Error(w, http.StatusForbidden,
				response.CodeForbidden, "Insufficient permissions", nil)
		})
	}
}

func requestToken(r *http.Request) string {
	if tok := bearerToken(r.Header.Get("Authorization")); tok != "" {
		return tok
	}
	if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	return ""
}

func bearerToken(header string) string {
	scheme, tok, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}
