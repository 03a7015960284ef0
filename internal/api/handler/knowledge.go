package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/api/response"
	"github.com/kiranshivaraju/kbforge/internal/ingest"
	"github.com/kiranshivaraju/kbforge/internal/jobs"
)

// Ingestor is the ingestion service as seen by the handlers.
type Ingestor interface {
	Add(ctx context.Context, b ingest.Batch) (jobs.Snapshot, error)
	DeleteChannel(ctx context.Context, ownerID uuid.UUID, externalID string) (*ingest.DeleteResult, error)
}

type addYouTubeRequest struct {
	ChannelID    string `json:"channel_id"    validate:"required"`
	ChannelTitle string `json:"channel_title"`
	Videos       []struct {
		VideoID string `json:"video_id" validate:"required"`
		Title   string `json:"title"`
	} `json:"videos" validate:"required,min=1,dive"`
}

type jobAccepted struct {
	JobID   uuid.UUID `json:"job_id"`
	Status  string    `json:"status"`
	Total   int       `json:"total_units"`
	Message string    `json:"message"`
}

// NewAddYouTubeHandler returns an http.HandlerFunc for POST /api/v1/knowledge/youtube.
func NewAddYouTubeHandler(svc Ingestor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFrom(w, r)
		if !ok {
			return
		}
		var req addYouTubeRequest
		if !decode(w, r, &req) {
			return
		}

		b := ingest.Batch{OwnerID: owner, ChannelID: req.ChannelID, ChannelTitle: req.ChannelTitle}
		for _, v := range req.Videos {
			b.Items = append(b.Items, ingest.Item{VideoID: v.VideoID, Title: v.Title})
		}
		snap, err := svc.Add(r.Context(), b)
		if err != nil {
			serviceError(w, err)
			return
		}
		response.Accepted(w, jobAccepted{
			JobID:   snap.ID,
			Status:  string(snap.Status),
			Total:   snap.TotalUnits,
			Message: snap.Message,
		})
	}
}

// NewDeleteChannelHandler returns an http.HandlerFunc for DELETE /api/v1/channels/{channelID}.
func NewDeleteChannelHandler(svc Ingestor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFrom(w, r)
		if !ok {
			return
		}
		res, err := svc.DeleteChannel(r.Context(), owner, chi.URLParam(r, "channelID"))
		if err != nil {
			serviceError(w, err)
			return
		}
		response.JSON(w, res)
	}
}
