package backend

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joseph-ayodele/batch-orchestrator/constants"
	"github.com/joseph-ayodele/batch-orchestrator/internal/common"
)

// NewHandler exposes a Normalizer and a BatchProcessor over the same HTTP
// contract the clients in this package speak. Transient service errors map to
// 503 and permanent ones to 422.
func NewHandler(norm Normalizer, batch BatchProcessor, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+NormalizePath, func(w http.ResponseWriter, r *http.Request) {
		var req NormalizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		res, err := norm.Normalize(r.Context(), req)
		if err != nil {
			writeServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res, logger)
	})
	mux.HandleFunc("POST "+BatchPath, func(w http.ResponseWriter, r *http.Request) {
		var req BatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if _, ok := constants.ParsePipeline(string(req.Pipeline)); !ok {
			http.Error(w, "unknown pipeline_type", http.StatusBadRequest)
			return
		}
		res, err := batch.Process(r.Context(), req)
		if err != nil {
			writeServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, BatchResponse{Results: res}, logger)
	})
	return mux
}

func writeServiceError(w http.ResponseWriter, err error, logger *slog.Logger) {
	code := http.StatusUnprocessableEntity
	var se *common.ServiceError
	if errors.As(err, &se) && se.Transient {
		code = http.StatusServiceUnavailable
	}
	logger.Warn("backend.handler.error", "status", code, "error", err)
	http.Error(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, code int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("backend.handler.encode_error", "error", err)
	}
}
