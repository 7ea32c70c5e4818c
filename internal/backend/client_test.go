package backend_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/batch-orchestrator/constants"
	"github.com/joseph-ayodele/batch-orchestrator/internal/backend"
	"github.com/joseph-ayodele/batch-orchestrator/internal/backend/local"
	"github.com/joseph-ayodele/batch-orchestrator/internal/common"
)

func statusServer(t *testing.T, code int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNormalizationClientClassifiesStatus(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		body      string
		transient bool
	}{
		{"unavailable", http.StatusServiceUnavailable, "", true},
		{"internal", http.StatusInternalServerError, "", true},
		{"throttled", http.StatusTooManyRequests, "", true},
		{"request timeout", http.StatusRequestTimeout, "", true},
		{"bad request", http.StatusBadRequest, "", false},
		{"unprocessable", http.StatusUnprocessableEntity, "", false},
		{"garbage body", http.StatusOK, "not json", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := statusServer(t, tc.code, tc.body)
			c := backend.NewNormalizationClient(backend.ClientConfig{BaseURL: srv.URL}, nil)

			_, err := c.Normalize(context.Background(), backend.NormalizeRequest{JobID: uuid.New(), Values: []float64{1}})

			var se *common.ServiceError
			require.True(t, errors.As(err, &se), "got %v", err)
			assert.Equal(t, tc.transient, se.Transient)
			assert.Equal(t, tc.transient, common.IsTransient(err))
		})
	}
}

func TestClientTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c := backend.NewBatchClient(backend.ClientConfig{BaseURL: srv.URL, Timeout: 20 * time.Millisecond}, nil)
	_, err := c.Process(context.Background(), backend.BatchRequest{JobID: uuid.New(), Values: []float64{1}, Pipeline: constants.PipelineRDD})

	require.Error(t, err)
	assert.True(t, common.IsTransient(err))
}

func TestClientsAgainstLocalHandler(t *testing.T) {
	h := backend.NewHandler(local.NewNormalizer(0, nil), local.NewBatchProcessor(0, nil), nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx := context.Background()
	jobID := uuid.New()
	values := []float64{1, 2, 3, 4, 5}

	norm, err := backend.NewNormalizationClient(backend.ClientConfig{BaseURL: srv.URL}, nil).
		Normalize(ctx, backend.NormalizeRequest{JobID: jobID, Values: values})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, norm.Mean, 1e-9)
	assert.Len(t, norm.Normalized, 5)

	results, err := backend.NewBatchClient(backend.ClientConfig{BaseURL: srv.URL}, nil).
		Process(ctx, backend.BatchRequest{JobID: jobID, Values: values, Pipeline: constants.PipelineCompare})
	require.NoError(t, err)
	require.Contains(t, results, constants.PipelineRDD)
	require.Contains(t, results, constants.PipelineDataFrame)
	assert.Equal(t, 5, results[constants.PipelineRDD].RecordsProcessed)
	assert.InDelta(t, 55.0, results[constants.PipelineRDD].ResultSummary["sum_of_squares"], 1e-9)
}

func TestHandlerMapsEmptyDataToPermanentError(t *testing.T) {
	h := backend.NewHandler(local.NewNormalizer(0, nil), local.NewBatchProcessor(0, nil), nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	_, err := backend.NewBatchClient(backend.ClientConfig{BaseURL: srv.URL}, nil).
		Process(context.Background(), backend.BatchRequest{JobID: uuid.New(), Pipeline: constants.PipelineRDD})

	var se *common.ServiceError
	require.True(t, errors.As(err, &se))
	assert.False(t, se.Transient)
	assert.Equal(t, http.StatusUnprocessableEntity, se.StatusCode)
}
