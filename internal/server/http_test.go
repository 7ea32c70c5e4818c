package server

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/batch-orchestrator/constants"
	"github.com/joseph-ayodele/batch-orchestrator/internal/entity"
)

func newTestHandler(t *testing.T) (http.Handler, fixture) {
	t.Helper()
	f := newFixture(t)
	ping := func(ctx context.Context) error { return PingArchive(ctx, f.db, quietLogger(), time.Second) }
	return NewHTTPHandler(f.coord, f.hub, ping, quietLogger()), f
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmitCompareJob(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/v1/jobs", compareBody)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	jobID := rec.Header().Get("X-Job-ID")
	require.NotEmpty(t, jobID)

	var resp entity.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, jobID, resp.JobID.String())
	assert.Equal(t, constants.ResponseStatusCompleted, resp.Status)
	assert.Equal(t, 5, resp.DataProcessed)
	require.NotNil(t, resp.Metrics)
	require.NotNil(t, resp.Metrics.RDD)
	require.NotNil(t, resp.Metrics.DataFrame)
	assert.Equal(t, 5, resp.Metrics.RDD.RecordsProcessed)
	assert.Equal(t, 5, resp.Metrics.DataFrame.RecordsProcessed)
	assert.NotNil(t, resp.Metrics.Speedup)
}

func TestSubmitResponseJSONShape(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/v1/jobs", `{"data":[1.2,3.4,5.6,7.8,9.0],"pipeline_type":"compare"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, rec.Header().Get("X-Job-ID"), body["job_id"])
	assert.EqualValues(t, 5, body["data_processed"])
	assert.Contains(t, body, "total_time")
	assert.NotContains(t, body, "errors")

	metrics, ok := body["metrics"].(map[string]any)
	require.True(t, ok, "metrics object: %s", rec.Body.String())
	for _, p := range []string{"rdd", "dataframe"} {
		pm, ok := metrics[p].(map[string]any)
		require.True(t, ok, "metrics.%s missing: %v", p, metrics)
		assert.EqualValues(t, 5, pm["records_processed"], "metrics.%s.records_processed", p)
		assert.Greater(t, pm["throughput"], 0.0)
	}
	assert.Contains(t, metrics, "speedup")
	assert.Contains(t, metrics, "estimated_cost_usd")
	assert.NotContains(t, metrics, "pipelines")
}

func TestSubmitLargeValuesReturnsEncodedResponse(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/v1/jobs", `{"data":[1e308,1e308,1e308],"pipeline_type":"compare"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp entity.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	assert.Equal(t, constants.ResponseStatusCompletedDegraded, resp.Status)
	require.NotNil(t, resp.Metrics)
	assert.Nil(t, resp.Metrics.RDD)
	assert.NotNil(t, resp.Metrics.Normalization)
}

func TestWriteJSONReportsEncodeFailure(t *testing.T) {
	rec := httptest.NewRecorder()

	writeJSON(rec, http.StatusOK, map[string]float64{"x": math.Inf(1)}, quietLogger())

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"response could not be encoded"}`, rec.Body.String())
}

func TestSubmitInvalidJobIsRejected(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/v1/jobs", `{"data":[1,"x"],"pipeline_type":"bogus"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp entity.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, constants.ResponseStatusRejected, resp.Status)
	require.NotEmpty(t, resp.Errors)
	for _, e := range resp.Errors {
		assert.Equal(t, constants.ErrorKindValidation, e.Kind)
		assert.NotEmpty(t, e.Field)
	}
}

func TestGetJobFromArchive(t *testing.T) {
	h, _ := newTestHandler(t)
	id := do(t, h, http.MethodPost, "/v1/jobs", compareBody).Header().Get("X-Job-ID")

	rec := do(t, h, http.MethodGet, "/v1/jobs/"+id, "")

	require.Equal(t, http.StatusOK, rec.Code)
	var job entity.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, id, job.ID.String())
	assert.Equal(t, constants.JobStateCompleted, job.State)
	assert.NotEmpty(t, job.Transitions)
}

func TestJobLookupErrors(t *testing.T) {
	h, _ := newTestHandler(t)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/jobs/not-a-uuid", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/jobs/"+uuid.NewString(), "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/v1/jobs/"+uuid.NewString(), "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodPut, "/v1/jobs", "").Code)
}

func TestCancelFinishedJobIsNoop(t *testing.T) {
	h, _ := newTestHandler(t)
	id := do(t, h, http.MethodPost, "/v1/jobs", compareBody).Header().Get("X-Job-ID")

	rec := do(t, h, http.MethodDelete, "/v1/jobs/"+id, "")

	require.Equal(t, http.StatusOK, rec.Code)
	var job entity.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, constants.JobStateCompleted, job.State)
}

func TestPreflightAndHealth(t *testing.T) {
	h, _ := newTestHandler(t)

	pre := do(t, h, http.MethodOptions, "/v1/jobs", "")
	assert.Equal(t, http.StatusOK, pre.Code)
	assert.Equal(t, "*", pre.Header().Get("Access-Control-Allow-Origin"))

	rec := do(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["archive"])
}

func TestEventStreamCarriesTransitions(t *testing.T) {
	h, f := newTestHandler(t)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/events", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "hello", hello["type"])
	require.Eventually(t, func() bool { return f.hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	resp, err := http.Post(srv.URL+"/v1/jobs", "application/json", strings.NewReader(compareBody))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	jobID := resp.Header.Get("X-Job-ID")

	var seen []constants.JobState
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var ev TransitionEvent
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, "job_transition", ev.Type)
		assert.Equal(t, jobID, ev.JobID)
		seen = append(seen, ev.To)
		if ev.To.IsTerminal() {
			assert.Equal(t, constants.ResponseStatusCompleted, ev.Status)
			break
		}
	}
	assert.Equal(t, constants.JobStateValidating, seen[0])
	assert.Equal(t, constants.JobStateCompleted, seen[len(seen)-1])
}
