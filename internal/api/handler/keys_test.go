package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/store"
	"github.com/kiranshivaraju/kbforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type memKeys struct {
	keys map[uuid.UUID]*models.APIKey
}

func newMemKeys() *memKeys { return &memKeys{keys: map[uuid.UUID]*models.APIKey{}} }

func (m *memKeys) CreateAPIKey(_ context.Context, k *models.APIKey) error {
	m.keys[k.ID] = k
	return nil
}

func (m *memKeys) ListAPIKeys(_ context.Context, owner uuid.UUID) ([]*models.APIKey, error) {
	var out []*models.APIKey
	for _, k := range m.keys {
		if k.OwnerID == owner {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memKeys) RevokeAPIKey(_ context.Context, id, owner uuid.UUID) error {
	k, ok := m.keys[id]
	if !ok || k.OwnerID != owner {
		return store.ErrNotFound
	}
	delete(m.keys, id)
	return nil
}

func TestNewAPIKey(t *testing.T) {
	owner := uuid.New()
	raw, key, err := NewAPIKey(owner, "ci", nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(raw, RawKeyPrefix))
	assert.Equal(t, raw[:8], key.KeyPrefix)
	assert.Equal(t, owner, key.OwnerID)
	assert.Equal(t, []string{"read", "write"}, key.Scopes)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(raw)))
}

func TestCreateKey_ReturnsRawOnce(t *testing.T) {
	keys := newMemKeys()
	owner := uuid.New()

	rec := httptest.NewRecorder()
	NewCreateKeyHandler(keys)(rec, ownedReq(t, http.MethodPost, "/", map[string]any{"name": "ci", "scopes": []string{"read"}}, owner, nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	raw := dataOf(t, rec)["key"].(string)
	assert.True(t, strings.HasPrefix(raw, RawKeyPrefix))

	rec = httptest.NewRecorder()
	NewListKeysHandler(keys)(rec, ownedReq(t, http.MethodGet, "/", nil, owner, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), raw)
	assert.NotContains(t, rec.Body.String(), "key_hash")
}

func TestCreateKey_InvalidScope(t *testing.T) {
	rec := httptest.NewRecorder()
	NewCreateKeyHandler(newMemKeys())(rec, ownedReq(t, http.MethodPost, "/", map[string]any{"name": "ci", "scopes": []string{"root"}}, uuid.New(), nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "oneof", errorOf(t, rec).Error.Details["createKeyRequest.Scopes[0]"])
}

func TestRevokeKey_OwnerScoped(t *testing.T) {
	keys := newMemKeys()
	owner := uuid.New()
	_, key, err := NewAPIKey(owner, "ci", nil)
	require.NoError(t, err)
	require.NoError(t, keys.CreateAPIKey(context.Background(), key))

	rec := httptest.NewRecorder()
	NewRevokeKeyHandler(keys)(rec, ownedReq(t, http.MethodDelete, "/", nil, uuid.New(),
		map[string]string{"keyID": key.ID.String()}))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	NewRevokeKeyHandler(keys)(rec, ownedReq(t, http.MethodDelete, "/", nil, owner,
		map[string]string{"keyID": key.ID.String()}))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
