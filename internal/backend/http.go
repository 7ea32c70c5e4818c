package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/batch-orchestrator/internal/common"
)

// StatusError is returned by SendJSON for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("non-2xx status: %d", e.StatusCode)
}

// SendJSON posts body as JSON to url and returns the raw response body.
// Non-2xx responses return a *StatusError alongside the body.
func SendJSON(ctx context.Context, client *http.Client, url string, body any, headers map[string]string, logger *slog.Logger) ([]byte, int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	reqID := uuid.New().String()
	start := time.Now()

	bs, err := json.Marshal(body)
	if err != nil {
		logger.Error("backend.http.encode_error", "req_id", reqID, "error", err)
		return nil, 0, fmt.Errorf("encode json: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		logger.Error("backend.http.build_request_error", "req_id", reqID, "error", err)
		return nil, 0, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if rid := common.RequestIDFromContext(ctx); rid != "" {
		req.Header.Set("X-Request-ID", rid)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	logger.Debug("backend.http.request",
		"req_id", reqID,
		"url", url,
		"content_length", len(bs),
	)

	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("backend.http.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, 0, err
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			logger.Warn("backend.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}

	logger.Debug("backend.http.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		return raw, resp.StatusCode, &StatusError{StatusCode: resp.StatusCode, Body: raw}
	}
	return raw, resp.StatusCode, nil
}

// classify tags a SendJSON failure as transient or permanent for service.
// Timeouts, throttling, 5xx and transport errors are transient; any other
// non-2xx is permanent.
func classify(service string, status int, err error) error {
	var se *StatusError
	if errors.As(err, &se) {
		out := &common.ServiceError{Service: service, StatusCode: se.StatusCode, Cause: err}
		switch {
		case se.StatusCode == http.StatusRequestTimeout,
			se.StatusCode == http.StatusTooEarly,
			se.StatusCode == http.StatusTooManyRequests,
			se.StatusCode >= 500:
			out.Transient = true
		}
		return out
	}
	if errors.Is(err, context.Canceled) {
		// the job gave up on this call; retrying is pointless
		return &common.ServiceError{Service: service, StatusCode: status, Cause: err}
	}
	return &common.ServiceError{Service: service, Transient: true, StatusCode: status, Cause: err}
}
