package validator

import "github.com/joseph-ayodele/batch-orchestrator/constants"

// requestSchema covers the structural shape of a processing request. Size
// limits, element checks and unknown fields are handled in Go so their
// messages can name the offending element.
func requestSchema() map[string]any {
	pipelines := make([]any, 0, 3)
	for _, p := range constants.PipelineNames() {
		pipelines = append(pipelines, p)
	}
	return map[string]any{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
		"properties": map[string]any{
			"data": map[string]any{
				"type": "array",
			},
			"pipeline_type": map[string]any{
				"type": "string",
				"enum": pipelines,
			},
			"spark_config": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"executor_instances": map[string]any{"type": "integer"},
					"executor_memory": map[string]any{
						"type":    "string",
						"pattern": `^\d+[kmgKMG]$`,
					},
				},
			},
			"gpu_enabled":       map[string]any{"type": "boolean"},
			"compare_pipelines": map[string]any{"type": "boolean"},
			"store_results":     map[string]any{"type": "boolean"},
		},
	}
}

var knownFields = map[string]struct{}{
	"data":              {},
	"pipeline_type":     {},
	"spark_config":      {},
	"gpu_enabled":       {},
	"compare_pipelines": {},
	"store_results":     {},
}

var knownSparkFields = map[string]struct{}{
	"executor_instances": {},
	"executor_memory":    {},
}
