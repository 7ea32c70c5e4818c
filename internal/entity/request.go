package entity

import "github.com/joseph-ayodele/batch-orchestrator/constants"

// SparkConfig carries backend overrides for the batch pipelines.
type SparkConfig struct {
	ExecutorInstances int    `json:"executor_instances"`
	ExecutorMemory    string `json:"executor_memory"`
}

// ProcessingRequest is the validated, normalized form of an inbound request.
type ProcessingRequest struct {
	// Values is the numeric projection of the data: the numbers themselves,
	// or the "value" field of each record.
	Values []float64 `json:"values"`
	// Records holds the original records when the data was given as objects.
	Records          []map[string]any   `json:"records,omitempty"`
	Pipeline         constants.Pipeline `json:"pipeline_type"`
	Spark            SparkConfig        `json:"spark_config"`
	GPUEnabled       bool               `json:"gpu_enabled"`
	ComparePipelines bool               `json:"compare_pipelines"`
	StoreResults     bool               `json:"store_results"`
}

// Size is the number of accepted data elements.
func (r *ProcessingRequest) Size() int {
	if r == nil {
		return 0
	}
	return len(r.Values)
}

// FieldError is one itemized validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
