package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobSnapshotKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

// RateLimitKey is the counter base for one API key; the limiter appends the window.
func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

// SearchResultKey scopes cached results to the owner's current index generation.
func SearchResultKey(ownerID uuid.UUID, generation int64, queryHash string) string {
	return fmt.Sprintf("search:%s:%d:%s", ownerID, generation, queryHash)
}

func SearchGenerationKey(ownerID uuid.UUID) string {
	return fmt.Sprintf("searchgen:%s", ownerID)
}
