package local

import (
	"context"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/batch-orchestrator/constants"
	"github.com/joseph-ayodele/batch-orchestrator/internal/backend"
	"github.com/joseph-ayodele/batch-orchestrator/internal/common"
	"github.com/joseph-ayodele/batch-orchestrator/internal/entity"
)

// BatchProcessor runs the rdd and dataframe pipelines in process.
type BatchProcessor struct {
	latency time.Duration
	logger  *slog.Logger
}

var _ backend.BatchProcessor = (*BatchProcessor)(nil)

func NewBatchProcessor(latency time.Duration, logger *slog.Logger) *BatchProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchProcessor{latency: latency, logger: logger}
}

func (b *BatchProcessor) Process(ctx context.Context, req backend.BatchRequest) (map[constants.Pipeline]entity.BatchResult, error) {
	if len(req.Values) == 0 {
		return nil, common.NewPermanentError(string(constants.BranchBatch), errNoData)
	}
	if err := wait(ctx, b.latency); err != nil {
		return nil, common.NewPermanentError(string(constants.BranchBatch), err)
	}

	out := make(map[constants.Pipeline]entity.BatchResult, 2)
	for _, p := range req.Pipeline.Expand() {
		var (
			res entity.BatchResult
			err error
		)
		switch p {
		case constants.PipelineRDD:
			res, err = runRDD(ctx, req.Values, req.Spark.ExecutorInstances)
		case constants.PipelineDataFrame:
			res = runDataFrame(req.Values)
		}
		if err == nil {
			err = res.CheckFinite()
		}
		if err != nil {
			return nil, common.NewPermanentError(string(constants.BranchBatch), err)
		}
		out[p] = res
		b.logger.Debug("local.batch.pipeline_done",
			"job_id", req.JobID,
			"pipeline", p,
			"records", res.RecordsProcessed,
			"elapsed_s", res.ElapsedTime,
		)
	}
	return out, nil
}

// runRDD squares every value and sums them, one partition per executor.
func runRDD(ctx context.Context, values []float64, executors int) (entity.BatchResult, error) {
	start := time.Now()
	if executors <= 0 {
		executors = 1
	}
	if executors > len(values) {
		executors = len(values)
	}

	partials := make([]float64, executors)
	size := (len(values) + executors - 1) / executors
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < executors; i++ {
		lo := min(i*size, len(values))
		hi := min(lo+size, len(values))
		g.Go(func() error {
			var s float64
			for j, v := range values[lo:hi] {
				if j%4096 == 0 && gctx.Err() != nil {
					return gctx.Err()
				}
				s += v * v
			}
			partials[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return entity.BatchResult{}, err
	}

	var sum float64
	for _, s := range partials {
		sum += s
	}
	return entity.BatchResult{
		PipelineName: constants.PipelineRDD,
		ResultSummary: map[string]float64{
			"sum_of_squares": sum,
			"partitions":     float64(executors),
		},
		ElapsedTime:      time.Since(start).Seconds(),
		RecordsProcessed: len(values),
	}, nil
}

// runDataFrame keeps strictly positive values and aggregates them.
func runDataFrame(values []float64) entity.BatchResult {
	start := time.Now()
	kept := make([]float64, 0, len(values))
	for _, v := range values {
		if v > 0 {
			kept = append(kept, v)
		}
	}

	summary := map[string]float64{"filtered_count": float64(len(kept))}
	if len(kept) > 0 {
		mean, std := meanStd(kept)
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, v := range kept {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		summary["mean"] = mean
		summary["std_dev"] = std
		summary["min"] = lo
		summary["max"] = hi
	}
	return entity.BatchResult{
		PipelineName:     constants.PipelineDataFrame,
		ResultSummary:    summary,
		ElapsedTime:      time.Since(start).Seconds(),
		RecordsProcessed: len(values),
	}
}
