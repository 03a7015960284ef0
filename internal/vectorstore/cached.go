package vectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/cache"
)

// generationTTL outlives any cached result so a lapsed counter cannot
// resurrect stale entries.
const generationTTL = 7 * 24 * time.Hour

// CachedIndex serves repeated searches from the cache. Every write for an
// owner bumps that owner's generation, which orphans earlier results.
// Cache failures degrade to uncached reads.
type CachedIndex struct {
	Index
	cache cache.Cache
	ttl   time.Duration
}

func NewCachedIndex(inner Index, c cache.Cache, ttl time.Duration) *CachedIndex {
	return &CachedIndex{Index: inner, cache: c, ttl: ttl}
}

func (ci *CachedIndex) AddDocuments(ctx context.Context, ownerID uuid.UUID, docs []Document) (int, error) {
	n, err := ci.Index.AddDocuments(ctx, ownerID, docs)
	if n > 0 {
		ci.bump(ctx, ownerID)
	}
	return n, err
}

func (ci *CachedIndex) DeleteBySource(ctx context.Context, ownerID uuid.UUID, sourceIDs []string) error {
	err := ci.Index.DeleteBySource(ctx, ownerID, sourceIDs)
	ci.bump(ctx, ownerID)
	return err
}

func (ci *CachedIndex) Search(ctx context.Context, ownerID uuid.UUID, query string, k int) ([]Match, error) {
	if ci.ttl <= 0 {
		return ci.Index.Search(ctx, ownerID, query, k)
	}
	key := cache.SearchResultKey(ownerID, ci.generation(ctx, ownerID), queryHash(query, k))

	if raw, ok, err := ci.cache.Get(ctx, key); err == nil && ok {
		var matches []Match
		if err := json.Unmarshal(raw, &matches); err == nil {
			return matches, nil
		}
	}

	matches, err := ci.Index.Search(ctx, ownerID, query, k)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(matches); err == nil {
		if err := ci.cache.Set(ctx, key, raw, ci.ttl); err != nil {
			slog.Warn("caching search result", "owner_id", ownerID, "error", err)
		}
	}
	return matches, nil
}

func (ci *CachedIndex) generation(ctx context.Context, ownerID uuid.UUID) int64 {
	raw, ok, err := ci.cache.Get(ctx, cache.SearchGenerationKey(ownerID))
	if err != nil || !ok {
		return 0
	}
	gen, _ := strconv.ParseInt(string(raw), 10, 64)
	return gen
}

func (ci *CachedIndex) bump(ctx context.Context, ownerID uuid.UUID) {
	if _, err := ci.cache.IncrWithExpiry(ctx, cache.SearchGenerationKey(ownerID), generationTTL); err != nil {
		slog.Warn("bumping search generation", "owner_id", ownerID, "error", err)
	}
}

func queryHash(query string, k int) string {
	sum := sha256.Sum256([]byte(strconv.Itoa(k) + "\x00" + query))
	return hex.EncodeToString(sum[:12])
}
