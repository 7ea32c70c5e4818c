package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/joseph-ayodele/batch-orchestrator/internal/common"
	"github.com/joseph-ayodele/batch-orchestrator/internal/core"
	"github.com/joseph-ayodele/batch-orchestrator/internal/response"
)

const maxBodyBytes = 64 << 20

// ArchivePinger reports whether the archive is reachable. A nil pinger means
// the archive is disabled.
type ArchivePinger func(ctx context.Context) error

// HTTPHandler serves the job API, the health check and the transition stream.
type HTTPHandler struct {
	coord    *core.Coordinator
	hub      *Hub
	ping     ArchivePinger
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewHTTPHandler(coord *core.Coordinator, hub *Hub, ping ArchivePinger, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &HTTPHandler{
		coord:  coord,
		hub:    hub,
		ping:   ping,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/jobs", h.handleSubmit)
	mux.HandleFunc("GET /v1/jobs/{id}", h.handleGet)
	mux.HandleFunc("DELETE /v1/jobs/{id}", h.handleCancel)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /v1/events", h.handleEvents)

	return corsMiddleware(h.requestMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestMiddleware assigns a request id, puts a request-scoped logger in the
// context and logs every request once it completes.
func (h *HTTPHandler) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)

		log := h.logger.With("req_id", reqID)
		ctx := common.WithLogger(common.WithRequestID(r.Context(), reqID), log)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		log.Info("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (h *HTTPHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	log := common.LoggerFromContext(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, "failed to read request body")
		return
	}

	job, err := h.coord.Process(r.Context(), body)
	if err != nil {
		if job == nil {
			log.Error("http.submit.failed", "error", err)
			writeError(w, r, http.StatusInternalServerError, "failed to process job")
			return
		}
		// the caller went away; the job keeps running and can be fetched later
		log.Warn("http.submit.detached", "job_id", job.ID, "error", err)
		w.Header().Set("X-Job-ID", job.ID.String())
		writeJSON(w, http.StatusAccepted, job, log)
		return
	}

	w.Header().Set("X-Job-ID", job.ID.String())
	writeJSON(w, response.HTTPStatus(job), job.Response, log)
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	job, err := h.coord.Get(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusOK, job, common.LoggerFromContext(r.Context()))
}

func (h *HTTPHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	job, err := h.coord.Cancel(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, r, id, err)
		return
	}
	code := http.StatusAccepted
	if job.State.IsTerminal() {
		code = http.StatusOK
	}
	writeJSON(w, code, job, common.LoggerFromContext(r.Context()))
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	stored, running := h.coord.Live()
	body := map[string]any{
		"status":       "ok",
		"live_jobs":    stored,
		"running_jobs": running,
		"archive":      "disabled",
	}
	if h.hub != nil {
		body["ws_clients"] = h.hub.Clients()
	}
	code := http.StatusOK
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			body["status"] = "degraded"
			body["archive"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			body["archive"] = "ok"
		}
	}
	writeJSON(w, code, body, common.LoggerFromContext(r.Context()))
}

func (h *HTTPHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := common.LoggerFromContext(r.Context())
	if h.hub == nil {
		writeError(w, r, http.StatusNotFound, "event stream disabled")
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("http.events.upgrade_failed", "error", err)
		return
	}

	stored, running := h.coord.Live()
	hello, _ := json.Marshal(map[string]any{
		"type":         "hello",
		"live_jobs":    stored,
		"running_jobs": running,
	})
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		conn.Close()
		return
	}
	h.hub.Register(conn)

	go func() {
		for {
			// clients only listen; reading detects disconnects
			if _, _, err := conn.ReadMessage(); err != nil {
				h.hub.Unregister(conn)
				return
			}
		}
	}()
}

func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "job id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *HTTPHandler) writeLookupError(w http.ResponseWriter, r *http.Request, id uuid.UUID, err error) {
	if errors.Is(err, common.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "job not found")
		return
	}
	common.LoggerFromContext(r.Context()).Error("http.job.lookup_failed", "job_id", id, "error", err)
	writeError(w, r, http.StatusInternalServerError, "job lookup failed")
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg, RequestID: common.RequestIDFromContext(r.Context())}, common.LoggerFromContext(r.Context()))
}

// writeJSON encodes v before touching the response, so an unencodable
// value turns into a 500 instead of a truncated body.
func writeJSON(w http.ResponseWriter, code int, v any, logger *slog.Logger) {
	body, err := json.Marshal(v)
	if err != nil {
		logger.Error("http.encode_failed", "error", err)
		code = http.StatusInternalServerError
		body, _ = json.Marshal(errorBody{Error: "response could not be encoded"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(append(body, '\n')); err != nil {
		logger.Warn("http.write_failed", "error", err)
	}
}
