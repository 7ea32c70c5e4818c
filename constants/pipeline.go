package constants

import "strings"

// Pipeline selects which batch pipeline(s) the batch backend runs.
type Pipeline string

const (
	PipelineRDD       Pipeline = "rdd"
	PipelineDataFrame Pipeline = "dataframe"
	PipelineCompare   Pipeline = "compare"
)

var allPipelines = []Pipeline{PipelineRDD, PipelineDataFrame, PipelineCompare}

// PipelineNames returns the accepted selector values.
func PipelineNames() []string {
	result := make([]string, len(allPipelines))
	for i, p := range allPipelines {
		result[i] = string(p)
	}
	return result
}

// ParsePipeline canonicalizes a selector; ok is false for unknown values.
func ParsePipeline(input string) (Pipeline, bool) {
	normalized := Pipeline(strings.ToLower(strings.TrimSpace(input)))
	for _, p := range allPipelines {
		if normalized == p {
			return p, true
		}
	}
	return "", false
}

// Expand returns the concrete pipelines a selector runs.
func (p Pipeline) Expand() []Pipeline {
	if p == PipelineCompare {
		return []Pipeline{PipelineRDD, PipelineDataFrame}
	}
	return []Pipeline{p}
}

// Branch names one of the two concurrent backend calls of a job.
type Branch string

const (
	BranchNormalization Branch = "normalization"
	BranchBatch         Branch = "batch"
)

// Branches is the fixed fan-out set, in dispatch order.
var Branches = []Branch{BranchNormalization, BranchBatch}

// ErrorKind classifies entries of a job's error list.
type ErrorKind string

const (
	ErrorKindValidation       ErrorKind = "validation_error"
	ErrorKindServiceTransient ErrorKind = "service_error_transient"
	ErrorKindServicePermanent ErrorKind = "service_error_permanent"
	ErrorKindTimeout          ErrorKind = "timeout_error"
	ErrorKindInternal         ErrorKind = "internal_error"
)
