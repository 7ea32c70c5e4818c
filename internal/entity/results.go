package entity

import (
	"fmt"
	"math"
	"slices"

	"github.com/joseph-ayodele/batch-orchestrator/constants"
)

// NormalizationResult is what the normalization backend returns.
type NormalizationResult struct {
	Normalized  []float64 `json:"normalized_data"`
	Mean        float64   `json:"mean"`
	StdDev      float64   `json:"std_dev"`
	ElapsedTime float64   `json:"elapsed_time"` // seconds
}

// CheckFinite reports the first NaN or infinite number in r. Such results
// cannot be encoded as JSON.
func (r NormalizationResult) CheckFinite() error {
	switch {
	case !finite(r.Mean):
		return fmt.Errorf("normalization result: mean is %v", r.Mean)
	case !finite(r.StdDev):
		return fmt.Errorf("normalization result: std_dev is %v", r.StdDev)
	case !finite(r.ElapsedTime):
		return fmt.Errorf("normalization result: elapsed_time is %v", r.ElapsedTime)
	}
	for i, v := range r.Normalized {
		if !finite(v) {
			return fmt.Errorf("normalization result: normalized_data[%d] is %v", i, v)
		}
	}
	return nil
}

// BatchResult is the outcome of one batch pipeline run.
type BatchResult struct {
	PipelineName     constants.Pipeline `json:"pipeline_name"`
	ResultSummary    map[string]float64 `json:"result_summary"`
	ElapsedTime      float64            `json:"elapsed_time"` // seconds
	RecordsProcessed int                `json:"records_processed"`
}

// CheckFinite reports the first NaN or infinite number in r.
func (r BatchResult) CheckFinite() error {
	if !finite(r.ElapsedTime) {
		return fmt.Errorf("%s result: elapsed_time is %v", r.PipelineName, r.ElapsedTime)
	}
	keys := make([]string, 0, len(r.ResultSummary))
	for k := range r.ResultSummary {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if v := r.ResultSummary[k]; !finite(v) {
			return fmt.Errorf("%s result: result_summary.%s is %v", r.PipelineName, k, v)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// PipelineMetrics are the derived metrics of one batch pipeline.
type PipelineMetrics struct {
	ElapsedTime      float64 `json:"elapsed_time"`
	RecordsProcessed int     `json:"records_processed"`
	Throughput       float64 `json:"throughput"`
	CostUSD          float64 `json:"cost_usd"`
}

// NormalizationMetrics are the derived metrics of the normalization branch.
type NormalizationMetrics struct {
	ElapsedTime float64 `json:"elapsed_time"`
	Records     int     `json:"records"`
	Mean        float64 `json:"mean"`
	StdDev      float64 `json:"std_dev"`
	Throughput  float64 `json:"throughput"`
	CostUSD     float64 `json:"cost_usd"`
}

// DataQuality summarizes the normalized values.
type DataQuality struct {
	Outliers     int     `json:"outliers"`
	QualityScore float64 `json:"quality_score"`
}

// ComparisonMetrics is the analyzer output. Absent branches leave their
// fields nil so they are omitted rather than reported as zero.
type ComparisonMetrics struct {
	Normalization *NormalizationMetrics `json:"normalization,omitempty"`
	RDD           *PipelineMetrics      `json:"rdd,omitempty"`
	DataFrame     *PipelineMetrics      `json:"dataframe,omitempty"`
	// Speedup is rdd elapsed / dataframe elapsed; above 1 means the
	// dataframe pipeline was faster.
	Speedup          *float64     `json:"speedup,omitempty"`
	DataQuality      *DataQuality `json:"data_quality,omitempty"`
	EstimatedCostUSD float64      `json:"estimated_cost_usd"`
}

// Pipeline returns the metrics of p, or nil when p did not run.
func (m *ComparisonMetrics) Pipeline(p constants.Pipeline) *PipelineMetrics {
	switch p {
	case constants.PipelineRDD:
		return m.RDD
	case constants.PipelineDataFrame:
		return m.DataFrame
	}
	return nil
}

// SetPipeline stores pm as the metrics of p. Other pipelines are ignored.
func (m *ComparisonMetrics) SetPipeline(p constants.Pipeline, pm *PipelineMetrics) {
	switch p {
	case constants.PipelineRDD:
		m.RDD = pm
	case constants.PipelineDataFrame:
		m.DataFrame = pm
	}
}
