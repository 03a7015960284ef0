package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	down := errors.New("down")
	tests := []struct {
		name   string
		db     error
		cache  error
		status int
	}{
		{"all ok", nil, nil, http.StatusOK},
		{"database degraded", down, nil, http.StatusServiceUnavailable},
		{"cache degraded", nil, down, http.StatusServiceUnavailable},
		{"both degraded", down, down, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewHealthHandler(pinger{tt.db}, pinger{tt.cache})(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
			require.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "ok", dataOf(t, rec)["status"])
				return
			}
			env := errorOf(t, rec)
			assert.Equal(t, "DEGRADED", env.Error.Code)
			if tt.db != nil {
				assert.Equal(t, "degraded", env.Error.Details["database"])
			}
		})
	}
}
