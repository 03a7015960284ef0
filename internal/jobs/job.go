// Package jobs tracks long-running units of work in memory and fans their
// state changes out to subscribers.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// rank orders statuses: pending < in_progress < {completed, failed}.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusInProgress:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return s.rank() >= 0 }

// canTransition reports whether moving from s to next is allowed.
// Staying in the same non-terminal status is allowed so that progress
// updates can be applied without a status change.
func (s Status) canTransition(next Status) bool {
	if !next.Valid() || s.Terminal() {
		return false
	}
	return next.rank() >= s.rank()
}

// Kind names the pipeline that owns a job.
type Kind string

const (
	KindTranscriptIngest Kind = "transcript_ingest"
	KindDocScrape        Kind = "doc_scrape"
	KindArticleScrape    Kind = "article_scrape"
	KindPairGeneration   Kind = "pair_generation"
	KindTraining         Kind = "training"
)

// Extra is a pipeline-specific payload merged into the serialized snapshot.
// Implementations must be JSON-marshalable to an object and must be treated
// as immutable once handed to the registry.
type Extra interface {
	extraKind() string
}

// Percenter is implemented by Extra payloads that carry an explicit
// progress percentage for jobs without countable units.
type Percenter interface {
	Percent() float64
}

// Job is the mutable record handed to update functions. Only the registry
// holds a Job; everyone else sees Snapshots.
type Job struct {
	ID             uuid.UUID
	Kind           Kind
	OwnerID        uuid.UUID
	Status         Status
	TotalUnits     int
	ProcessedUnits int
	Succeeded      []string
	Failed         []string
	Message        string
	ResourceKey    string
	Extra          Extra

	version    uint64
	createdAt  time.Time
	updatedAt  time.Time
	finishedAt time.Time
}

// Succeed records id as a succeeded item and counts it as processed.
func (j *Job) Succeed(id string) {
	j.Succeeded = append(j.Succeeded, id)
	j.ProcessedUnits++
}

// Fail records id as a failed item and counts it as processed.
func (j *Job) Fail(id string) {
	j.Failed = append(j.Failed, id)
	j.ProcessedUnits++
}

func (j *Job) snapshot() Snapshot {
	s := Snapshot{
		ID:             j.ID,
		Kind:           j.Kind,
		OwnerID:        j.OwnerID,
		Status:         j.Status,
		TotalUnits:     j.TotalUnits,
		ProcessedUnits: j.ProcessedUnits,
		Succeeded:      append([]string(nil), j.Succeeded...),
		Failed:         append([]string(nil), j.Failed...),
		Message:        j.Message,
		ResourceKey:    j.ResourceKey,
		Extra:          j.Extra,
		Version:        j.version,
		CreatedAt:      j.createdAt,
		UpdatedAt:      j.updatedAt,
	}
	if s.Succeeded == nil {
		s.Succeeded = []string{}
	}
	if s.Failed == nil {
		s.Failed = []string{}
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		s.FinishedAt = &t
	}
	return s
}

// Snapshot is an immutable copy of a Job at one instant.
type Snapshot struct {
	ID             uuid.UUID
	Kind           Kind
	OwnerID        uuid.UUID
	Status         Status
	TotalUnits     int
	ProcessedUnits int
	Succeeded      []string
	Failed         []string
	Message        string
	ResourceKey    string
	Extra          Extra
	Version        uint64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	FinishedAt     *time.Time
}

// Progress returns processed/total as a percentage, or the payload's own
// percentage when the job has no countable units.
func (s Snapshot) Progress() float64 {
	if s.TotalUnits > 0 {
		return float64(s.ProcessedUnits) / float64(s.TotalUnits) * 100
	}
	if p, ok := s.Extra.(Percenter); ok {
		return p.Percent()
	}
	return 0
}

type snapshotJSON struct {
	ID             uuid.UUID  `json:"job_id"`
	Kind           Kind       `json:"kind"`
	OwnerID        uuid.UUID  `json:"owner_id"`
	Status         Status     `json:"status"`
	Progress       float64    `json:"progress"`
	TotalUnits     int        `json:"total_units"`
	ProcessedUnits int        `json:"processed_units"`
	Succeeded      []string   `json:"succeeded_items"`
	Failed         []string   `json:"failed_items"`
	Message        string     `json:"message"`
	ResourceKey    string     `json:"resource_key,omitempty"`
	Version        uint64     `json:"version"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// MarshalJSON emits the union of the core fields and the Extra payload.
// Core fields win when a payload key collides with one of them.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	core, err := json.Marshal(snapshotJSON{
		ID:             s.ID,
		Kind:           s.Kind,
		OwnerID:        s.OwnerID,
		Status:         s.Status,
		Progress:       s.Progress(),
		TotalUnits:     s.TotalUnits,
		ProcessedUnits: s.ProcessedUnits,
		Succeeded:      s.Succeeded,
		Failed:         s.Failed,
		Message:        s.Message,
		ResourceKey:    s.ResourceKey,
		Version:        s.Version,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
		FinishedAt:     s.FinishedAt,
	})
	if err != nil || s.Extra == nil {
		return core, err
	}

	extra, err := json.Marshal(s.Extra)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", s.Extra.extraKind(), err)
	}

	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(extra, &merged); err != nil {
		return nil, fmt.Errorf("%s payload is not an object: %w", s.Extra.extraKind(), err)
	}
	var coreFields map[string]json.RawMessage
	if err := json.Unmarshal(core, &coreFields); err != nil {
		return nil, err
	}
	for k, v := range coreFields {
		merged[k] = v
	}
	return json.Marshal(merged)
}
