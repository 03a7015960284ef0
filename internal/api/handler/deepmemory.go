package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/api/response"
	"github.com/kiranshivaraju/kbforge/internal/training"
	"github.com/kiranshivaraju/kbforge/pkg/models"
)

// DeepMemory is the training service as seen by the handlers.
type DeepMemory interface {
	Generate(ctx context.Context, ownerID uuid.UUID) (*training.Started, error)
	Resume(ctx context.Context, ownerID, runID uuid.UUID) (*training.Started, error)
	Train(ctx context.Context, ownerID, runID uuid.UUID) (*training.Started, error)
	Runs(ctx context.Context, ownerID uuid.UUID) ([]*models.TrainingRun, error)
	RunDetail(ctx context.Context, ownerID, runID uuid.UUID) (*training.RunDetail, error)
	Settings(ctx context.Context, ownerID uuid.UUID) (*training.SettingsView, error)
	SetEnabled(ctx context.Context, ownerID uuid.UUID, enabled bool) error
}

type trainRequest struct {
	TrainingRunID string `json:"training_run_id" validate:"required,uuid"`
}

type settingsRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// NewGenerateHandler returns an http.HandlerFunc for POST /api/v1/deep-memory/generate.
func NewGenerateHandler(svc DeepMemory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFrom(w, r)
		if !ok {
			return
		}
		started, err := svc.Generate(r.Context(), owner)
		if err != nil {
			serviceError(w, err)
			return
		}
		response.Accepted(w, started)
	}
}

// NewResumeHandler returns an http.HandlerFunc for POST /api/v1/deep-memory/runs/{runID}/resume.
func NewResumeHandler(svc DeepMemory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFrom(w, r)
		if !ok {
			return
		}
		runID, ok := uuidParam(w, r, "runID")
		if !ok {
			return
		}
		started, err := svc.Resume(r.Context(), owner, runID)
		if err != nil {
			serviceError(w, err)
			return
		}
		response.Accepted(w, started)
	}
}

// NewTrainHandler returns an http.HandlerFunc for POST /api/v1/deep-memory/train.
func NewTrainHandler(svc DeepMemory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFrom(w, r)
		if !ok {
			return
		}
		var req trainRequest
		if !decode(w, r, &req) {
			return
		}
		started, err := svc.Train(r.Context(), owner, uuid.MustParse(req.TrainingRunID))
		if err != nil {
			serviceError(w, err)
			return
		}
		response.Accepted(w, started)
	}
}

// NewListRunsHandler returns an http.HandlerFunc for GET /api/v1/deep-memory/runs.
func NewListRunsHandler(svc DeepMemory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFrom(w, r)
		if !ok {
			return
		}
		runs, err := svc.Runs(r.Context(), owner)
		if err != nil {
			serviceError(w, err)
			return
		}
		response.List(w, runs)
	}
}

// NewRunDetailHandler returns an http.HandlerFunc for GET /api/v1/deep-memory/runs/{runID}.
func NewRunDetailHandler(svc DeepMemory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFrom(w, r)
		if !ok {
			return
		}
		runID, ok := uuidParam(w, r, "runID")
		if !ok {
			return
		}
		detail, err := svc.RunDetail(r.Context(), owner, runID)
		if err != nil {
			serviceError(w, err)
			return
		}
		response.JSON(w, detail)
	}
}

// NewGetSettingsHandler returns an http.HandlerFunc for GET /api/v1/deep-memory/settings.
func NewGetSettingsHandler(svc DeepMemory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFrom(w, r)
		if !ok {
			return
		}
		view, err := svc.Settings(r.Context(), owner)
		if err != nil {
			serviceError(w, err)
			return
		}
		response.JSON(w, view)
	}
}

// NewPutSettingsHandler returns an http.HandlerFunc for PUT /api/v1/deep-memory/settings.
func NewPutSettingsHandler(svc DeepMemory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFrom(w, r)
		if !ok {
			return
		}
		var req settingsRequest
		if !decode(w, r, &req) {
			return
		}
		if err := svc.SetEnabled(r.Context(), owner, *req.Enabled); err != nil {
			serviceError(w, err)
			return
		}
		msg := "Deep Memory search disabled"
		if *req.Enabled {
			msg = "Deep Memory search enabled"
		}
		response.JSON(w, map[string]any{"enabled": *req.Enabled, "message": msg})
	}
}
