package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/api/response"
	"github.com/kiranshivaraju/kbforge/internal/vectorstore"
)

const defaultSearchK = 5

// Searcher runs similarity queries over an owner's chunks.
type Searcher interface {
	Search(ctx context.Context, ownerID uuid.UUID, query string, k int) ([]vectorstore.Match, error)
}

type searchRequest struct {
	Query string `json:"query" validate:"required,max=2000"`
	K     int    `json:"k"     validate:"omitempty,min=1,max=50"`
}

// NewSearchHandler returns an http.HandlerFunc for POST /api/v1/search.
func NewSearchHandler(svc Searcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerFrom(w, r)
		if !ok {
			return
		}
		var req searchRequest
		if !decode(w, r, &req) {
			return
		}
		if req.K == 0 {
			req.K = defaultSearchK
		}

		matches, err := svc.Search(r.Context(), owner, req.Query, req.K)
		if err != nil {
			serviceError(w, err)
			return
		}
		if matches == nil {
			matches = []vectorstore.Match{}
		}
		response.JSON(w, map[string]any{"query": req.Query, "matches": matches})
	}
}
