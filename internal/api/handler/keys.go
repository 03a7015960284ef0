package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/api/response"
	"github.com/kiranshivaraju/kbforge/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// RawKeyPrefix starts every generated key. The first 8 characters of a
// raw key are stored in clear for lookup.
const RawKeyPrefix = "kb_"

// KeyManager persists API keys.
type KeyManager interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, ownerID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) error
}

type createKeyRequest struct {
	Name   string   `json:"name"   validate:"required,max=100"`
	Scopes []string `json:"scopes" validate:"omitempty,dive,oneof=read write admin"`
}

// NewAPIKey generates a raw key and the model holding its hash.
func NewAPIKey(ownerID uuid.UUID, name string, scopes []string) (string, *models.APIKey, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("generate key: %w", err)
	}
	raw := RawKeyPrefix + hex.EncodeToString(buf)
	key, err := KeyFromRaw(ownerID, name, raw, scopes)
	if err != nil {
		return "", nil, err
	}
	return raw, key, nil
}

// KeyFromRaw hashes a caller-chosen raw key. Used for the bootstrap key.
func KeyFromRaw(ownerID uuid.UUID, name, raw string, scopes []string) (*models.APIKey, error) {
	if len(raw) < 8 {
		return nil, fmt.Errorf("api key must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash key: %w", err)
	}
	if len(scopes) == 0 {
		scopes = []string{"read", "write"}
	}
	now := time.Now().UTC()
	return &models.APIKey{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:8],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/keys.
// The raw key is only ever returned here.
func NewCreateKeyHandler(keys KeyManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFrom(w, r)
		if !ok {
			return
		}
		var req createKeyRequest
		if !decode(w, r, &req) {
			return
		}

		raw, key, err := NewAPIKey(owner, req.Name, req.Scopes)
		if err != nil {
			serviceError(w, err)
			return
		}
		if err := keys.CreateAPIKey(r.Context(), key); err != nil {
			serviceError(w, err)
			return
		}
		response.Created(w, map[string]any{
			"id":         key.ID,
			"name":       key.Name,
			"key":        raw,
			"key_prefix": key.KeyPrefix,
			"scopes":     key.Scopes,
			"created_at": key.CreatedAt,
		})
	}
}

// NewListKeysHandler returns an http.HandlerFunc for GET /api/v1/keys.
func NewListKeysHandler(keys KeyManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFrom(w, r)
		if !ok {
			return
		}
		list, err := keys.ListAPIKeys(r.Context(), owner)
		if err != nil {
			serviceError(w, err)
			return
		}
		response.List(w, list)
	}
}

// NewRevokeKeyHandler returns an http.HandlerFunc for DELETE /api/v1/keys/{keyID}.
func NewRevokeKeyHandler(keys KeyManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFrom(w, r)
		if !ok {
			return
		}
		id, ok := uuidParam(w, r, "keyID")
		if !ok {
			return
		}
		if err := keys.RevokeAPIKey(r.Context(), id, owner); err != nil {
			serviceError(w, err)
			return
		}
		response.NoContent(w)
	}
}
