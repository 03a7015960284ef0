package jobs

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrConflict is returned when an operation targets a resource that an
// active job holds.
var ErrConflict = errors.New("resource is busy with an active job")

func ChannelKey(id uuid.UUID) string    { return "channel:" + id.String() }
func CollectionKey(id uuid.UUID) string { return "collection:" + id.String() }
func ArticleKey(id uuid.UUID) string    { return "article:" + id.String() }
func TrainingKey(owner uuid.UUID) string {
	return "training:" + owner.String()
}

// Guard returns ErrConflict when an active job holds key.
func (r *Registry) Guard(key string) error {
	if snap, ok := r.FindActiveForResource(key); ok {
		return fmt.Errorf("%w: job %s is %s", ErrConflict, snap.ID, snap.Status)
	}
	return nil
}
