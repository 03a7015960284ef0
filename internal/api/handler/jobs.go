package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/api/response"
	"github.com/kiranshivaraju/kbforge/internal/events"
	"github.com/kiranshivaraju/kbforge/internal/jobs"
)

// JobReader looks up live jobs.
type JobReader interface {
	Get(id uuid.UUID) (jobs.Snapshot, bool)
}

// SnapshotCache holds mirrored snapshots of jobs that left the registry.
type SnapshotCache interface {
	GetJobSnapshot(ctx context.Context, jobID uuid.UUID) ([]byte, bool, error)
}

// NewJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
// Jobs owned by another key's owner are reported as not found.
func NewJobHandler(reg JobReader, mirror SnapshotCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFrom(w, r)
		if !ok {
			return
		}
		id, ok := uuidParam(w, r, "jobID")
		if !ok {
			return
		}

		if snap, found := reg.Get(id); found {
			if snap.OwnerID != owner {
				jobNotFound(w)
				return
			}
			response.JSON(w, snap)
			return
		}

		if mirror != nil {
			raw, found, err := mirror.GetJobSnapshot(r.Context(), id)
			if err != nil {
				slog.Warn("job snapshot lookup failed", "job_id", id, "error", err)
			}
			if found && mirroredOwner(raw) == owner {
				response.JSON(w, json.RawMessage(raw))
				return
			}
		}
		jobNotFound(w)
	}
}

func mirroredOwner(raw []byte) uuid.UUID {
	var v struct {
		OwnerID uuid.UUID `json:"owner_id"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return uuid.Nil
	}
	return v.OwnerID
}

func jobNotFound(w http.ResponseWriter) {
	response.Error(w, http.StatusNotFound, response.CodeNotFound, "Job not found", nil)
}

// NewEventsHandler returns an http.HandlerFunc for GET /api/v1/events/{jobID}.
// The stream ends when the job reaches a terminal state or the client goes away.
func NewEventsHandler(stream *events.Stream, reg JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFrom(w, r)
		if !ok {
			return
		}
		id, ok := uuidParam(w, r, "jobID")
		if !ok {
			return
		}
		snap, found := reg.Get(id)
		if !found || snap.OwnerID != owner {
			jobNotFound(w)
			return
		}

		// Streams outlive the server's write timeout.
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

		sse, err := events.NewSSEWriter(w)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Streaming unsupported", nil)
			return
		}
		if err := stream.Run(r.Context(), id, sse.Write); err != nil {
			slog.Debug("event stream closed", "job_id", id, "error", err)
		}
	}
}
