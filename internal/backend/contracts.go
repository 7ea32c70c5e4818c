package backend

import (
	"context"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/batch-orchestrator/constants"
	"github.com/joseph-ayodele/batch-orchestrator/internal/entity"
)

// NormalizeRequest is the input of the normalization branch.
type NormalizeRequest struct {
	JobID      uuid.UUID `json:"job_id"`
	Values     []float64 `json:"data"`
	GPUEnabled bool      `json:"gpu_enabled"` // acceleration hint only
}

// BatchRequest is the input of the batch branch. Records is set when the job
// data was given as objects; Values is always the numeric projection.
type BatchRequest struct {
	JobID    uuid.UUID          `json:"job_id"`
	Values   []float64          `json:"data"`
	Records  []map[string]any   `json:"records,omitempty"`
	Pipeline constants.Pipeline `json:"pipeline_type"`
	Spark    entity.SparkConfig `json:"spark_config"`
}

// BatchResponse is the wire shape returned by the batch service.
type BatchResponse struct {
	Results map[constants.Pipeline]entity.BatchResult `json:"results"`
}

// Normalizer is the normalization service contract. Failures are reported as
// *common.ServiceError tagged transient or permanent.
type Normalizer interface {
	Normalize(ctx context.Context, req NormalizeRequest) (entity.NormalizationResult, error)
}

// BatchProcessor is the batch processing service contract. For the compare
// selector the result holds both pipelines.
type BatchProcessor interface {
	Process(ctx context.Context, req BatchRequest) (map[constants.Pipeline]entity.BatchResult, error)
}
