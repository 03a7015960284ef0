// Package handler holds the HTTP handlers. Each constructor takes the
// narrow interface it needs so handlers can be tested with mocks.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/kbforge/internal/api/middleware"
	"github.com/kiranshivaraju/kbforge/internal/api/response"
	"github.com/kiranshivaraju/kbforge/internal/ingest"
	"github.com/kiranshivaraju/kbforge/internal/jobs"
	"github.com/kiranshivaraju/kbforge/internal/scrape"
	"github.com/kiranshivaraju/kbforge/internal/scraper"
	"github.com/kiranshivaraju/kbforge/internal/store"
	"github.com/kiranshivaraju/kbforge/internal/training"
)

var validate = newValidator()

// newValidator adds public_url, which rejects URLs the scraper must never fetch.
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("public_url", func(fl validator.FieldLevel) bool {
		return scraper.CheckURL(fl.Field().String()) == nil
	})
	return v
}

// ownerFrom returns the authenticated owner or writes a 401.
func ownerFrom(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	owner, ok := mw.GetOwnerID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, response.CodeInvalidToken, "Missing owner", nil)
	}
	return owner, ok
}

// decode reads a JSON body into v and validates it. It writes the error
// response itself and reports whether the handler may continue.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body", nil)
		return false
	}
	if err := validate.Struct(v); err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeValidation, "Request validation failed",
			validationDetails(err))
		return false
	}
	return true
}

func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, e := range verrs {
		out[e.Namespace()] = e.Tag()
	}
	return out
}

// uuidParam parses a chi URL parameter or writes a 400.
func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, name+" must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

// serviceError maps domain errors to the error envelope.
func serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, response.CodeNotFound, "Resource not found", nil)
	case errors.Is(err, jobs.ErrConflict):
		response.Error(w, http.StatusConflict, response.CodeConflict, err.Error(), nil)
	case errors.Is(err, scraper.ErrNoPagesFound):
		response.Error(w, http.StatusUnprocessableEntity, response.CodeValidation, err.Error(), nil)
	case errors.Is(err, scraper.ErrBlockedAddress):
		response.Error(w, http.StatusBadRequest, response.CodeValidation, err.Error(), nil)
	case errors.Is(err, scraper.ErrUnreachable),
		errors.Is(err, scraper.ErrTimeout),
		errors.Is(err, scraper.ErrBadStatus),
		errors.Is(err, scraper.ErrNotHTML):
		response.Error(w, http.StatusBadGateway, response.CodeUpstream, err.Error(), nil)
	case errors.Is(err, ingest.ErrNoVideos),
		errors.Is(err, scrape.ErrNoPages),
		errors.Is(err, scrape.ErrNotRetryable),
		errors.Is(err, scrape.ErrNothingFailed),
		errors.Is(err, training.ErrNoChunks),
		errors.Is(err, training.ErrRunNotGenerated),
		errors.Is(err, training.ErrNotResumable),
		errors.Is(err, training.ErrNoCompletedRun):
		response.Error(w, http.StatusBadRequest, response.CodeValidation, err.Error(), nil)
	default:
		slog.Error("request failed", "error", err)
		response.Error(w, http.StatusInternalServerError, response.CodeInternal, "An unexpected error occurred", nil)
	}
}
