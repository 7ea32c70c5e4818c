// Package local provides in-process implementations of the backend services,
// used when no remote endpoints are configured and by the backend simulator.
package local

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/batch-orchestrator/constants"
	"github.com/joseph-ayodele/batch-orchestrator/internal/backend"
	"github.com/joseph-ayodele/batch-orchestrator/internal/common"
	"github.com/joseph-ayodele/batch-orchestrator/internal/entity"
)

var errNoData = errors.New("no data to process")

// Normalizer z-score normalizes values in process.
type Normalizer struct {
	latency time.Duration
	logger  *slog.Logger
}

var _ backend.Normalizer = (*Normalizer)(nil)

// NewNormalizer returns a normalizer that waits latency before answering, to
// emulate a remote call.
func NewNormalizer(latency time.Duration, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{latency: latency, logger: logger}
}

func (n *Normalizer) Normalize(ctx context.Context, req backend.NormalizeRequest) (entity.NormalizationResult, error) {
	start := time.Now()
	if err := wait(ctx, n.latency); err != nil {
		return entity.NormalizationResult{}, common.NewPermanentError(string(constants.BranchNormalization), err)
	}
	if len(req.Values) == 0 {
		return entity.NormalizationResult{}, common.NewPermanentError(string(constants.BranchNormalization), errNoData)
	}
	if req.GPUEnabled {
		n.logger.Debug("local.normalize.gpu_hint_ignored", "job_id", req.JobID)
	}

	out, mean, std := zScores(req.Values)
	res := entity.NormalizationResult{
		Normalized:  out,
		Mean:        mean,
		StdDev:      std,
		ElapsedTime: time.Since(start).Seconds(),
	}
	if err := res.CheckFinite(); err != nil {
		return entity.NormalizationResult{}, common.NewPermanentError(string(constants.BranchNormalization), err)
	}
	n.logger.Debug("local.normalize.done", "job_id", req.JobID, "records", len(out), "mean", mean, "std_dev", std)
	return res, nil
}
