package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joseph-ayodele/batch-orchestrator/constants"
	"github.com/joseph-ayodele/batch-orchestrator/internal/common"
	"github.com/joseph-ayodele/batch-orchestrator/internal/entity"
)

const (
	NormalizePath = "/v1/normalize"
	BatchPath     = "/v1/batch"
)

// ClientConfig configures an HTTP backend client.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	Headers map[string]string
}

func (c ClientConfig) httpClient() *http.Client {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// NormalizationClient calls a remote normalization service over HTTP.
type NormalizationClient struct {
	cfg    ClientConfig
	http   *http.Client
	logger *slog.Logger
}

func NewNormalizationClient(cfg ClientConfig, logger *slog.Logger) *NormalizationClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &NormalizationClient{cfg: cfg, http: cfg.httpClient(), logger: logger}
}

func (c *NormalizationClient) Normalize(ctx context.Context, req NormalizeRequest) (entity.NormalizationResult, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + NormalizePath
	raw, status, err := SendJSON(ctx, c.http, url, req, c.cfg.Headers, c.logger)
	if err != nil {
		return entity.NormalizationResult{}, classify(string(constants.BranchNormalization), status, err)
	}

	var out entity.NormalizationResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return entity.NormalizationResult{}, common.NewPermanentError(string(constants.BranchNormalization), fmt.Errorf("decode response: %w", err))
	}
	if len(out.Normalized) != len(req.Values) {
		return entity.NormalizationResult{}, common.NewPermanentError(string(constants.BranchNormalization),
			fmt.Errorf("normalized %d values, sent %d", len(out.Normalized), len(req.Values)))
	}
	return out, nil
}

// BatchClient calls a remote batch processing service over HTTP.
type BatchClient struct {
	cfg    ClientConfig
	http   *http.Client
	logger *slog.Logger
}

func NewBatchClient(cfg ClientConfig, logger *slog.Logger) *BatchClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchClient{cfg: cfg, http: cfg.httpClient(), logger: logger}
}

func (c *BatchClient) Process(ctx context.Context, req BatchRequest) (map[constants.Pipeline]entity.BatchResult, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + BatchPath
	raw, status, err := SendJSON(ctx, c.http, url, req, c.cfg.Headers, c.logger)
	if err != nil {
		return nil, classify(string(constants.BranchBatch), status, err)
	}

	var out BatchResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, common.NewPermanentError(string(constants.BranchBatch), fmt.Errorf("decode response: %w", err))
	}
	for _, p := range req.Pipeline.Expand() {
		if _, ok := out.Results[p]; !ok {
			return nil, common.NewPermanentError(string(constants.BranchBatch), fmt.Errorf("response is missing pipeline %q", p))
		}
	}
	return out.Results, nil
}
