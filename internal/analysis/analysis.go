// Package analysis derives comparison metrics from the joined branch results.
// Everything here is pure: same inputs, same metrics.
package analysis

import (
	"math"

	"github.com/joseph-ayodele/batch-orchestrator/constants"
	"github.com/joseph-ayodele/batch-orchestrator/internal/common"
	"github.com/joseph-ayodele/batch-orchestrator/internal/entity"
)

const (
	// MinElapsed floors reported elapsed times (seconds) before dividing.
	MinElapsed = 1e-6
	// OutlierSigma is the |z| beyond which a normalized value is an outlier.
	OutlierSigma = 3.0
)

// CostModel holds the linear cost constants, in USD.
type CostModel struct {
	PerRecordUSD              float64
	BatchPerSecondUSD         float64
	NormalizationPerSecondUSD float64
}

func CostModelFromConfig(c common.CostConfig) CostModel {
	return CostModel{
		PerRecordUSD:              c.PerRecordUSD,
		BatchPerSecondUSD:         c.BatchPerSecondUSD,
		NormalizationPerSecondUSD: c.NormalizationPerSecondUSD,
	}
}

// Compute builds the metrics for whatever branches are present. A missing
// branch leaves its fields nil.
func Compute(norm *entity.NormalizationResult, batch map[constants.Pipeline]entity.BatchResult, cost CostModel) entity.ComparisonMetrics {
	var m entity.ComparisonMetrics

	if norm != nil {
		records := len(norm.Normalized)
		elapsed := clampElapsed(norm.ElapsedTime)
		nm := &entity.NormalizationMetrics{
			ElapsedTime: norm.ElapsedTime,
			Records:     records,
			Mean:        norm.Mean,
			StdDev:      norm.StdDev,
			Throughput:  float64(records) / elapsed,
			CostUSD:     float64(records)*cost.PerRecordUSD + elapsed*cost.NormalizationPerSecondUSD,
		}
		m.Normalization = nm
		m.EstimatedCostUSD += nm.CostUSD
		m.DataQuality = dataQuality(norm)
	}

	for _, p := range []constants.Pipeline{constants.PipelineRDD, constants.PipelineDataFrame} {
		res, ok := batch[p]
		if !ok {
			continue
		}
		elapsed := clampElapsed(res.ElapsedTime)
		pm := &entity.PipelineMetrics{
			ElapsedTime:      res.ElapsedTime,
			RecordsProcessed: res.RecordsProcessed,
			Throughput:       float64(res.RecordsProcessed) / elapsed,
			CostUSD:          float64(res.RecordsProcessed)*cost.PerRecordUSD + elapsed*cost.BatchPerSecondUSD,
		}
		m.SetPipeline(p, pm)
		m.EstimatedCostUSD += pm.CostUSD
	}

	rdd, okR := batch[constants.PipelineRDD]
	df, okD := batch[constants.PipelineDataFrame]
	if okR && okD {
		s := clampElapsed(rdd.ElapsedTime) / clampElapsed(df.ElapsedTime)
		m.Speedup = &s
	}
	return m
}

func clampElapsed(s float64) float64 {
	if !(s >= MinElapsed) || math.IsInf(s, 0) {
		return MinElapsed
	}
	return s
}

// dataQuality counts normalized values beyond OutlierSigma.
func dataQuality(norm *entity.NormalizationResult) *entity.DataQuality {
	n := len(norm.Normalized)
	if n == 0 {
		return nil
	}
	outliers := 0
	for _, z := range norm.Normalized {
		if math.Abs(z) > OutlierSigma {
			outliers++
		}
	}
	return &entity.DataQuality{
		Outliers:     outliers,
		QualityScore: 1 - float64(outliers)/float64(n),
	}
}
