package local

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/batch-orchestrator/constants"
	"github.com/joseph-ayodele/batch-orchestrator/internal/backend"
	"github.com/joseph-ayodele/batch-orchestrator/internal/common"
	"github.com/joseph-ayodele/batch-orchestrator/internal/entity"
)

func TestNormalizeZScore(t *testing.T) {
	n := NewNormalizer(0, nil)
	res, err := n.Normalize(context.Background(), backend.NormalizeRequest{JobID: uuid.New(), Values: []float64{2, 4, 4, 4, 5, 5, 7, 9}})
	require.NoError(t, err)

	assert.InDelta(t, 5.0, res.Mean, 1e-12)
	assert.InDelta(t, 2.0, res.StdDev, 1e-12)
	assert.InDelta(t, -1.5, res.Normalized[0], 1e-12)
	assert.InDelta(t, 2.0, res.Normalized[7], 1e-12)
	assert.GreaterOrEqual(t, res.ElapsedTime, 0.0)
}

func TestNormalizeConstantValues(t *testing.T) {
	n := NewNormalizer(0, nil)
	res, err := n.Normalize(context.Background(), backend.NormalizeRequest{Values: []float64{3, 3, 3}})
	require.NoError(t, err)

	assert.Equal(t, 0.0, res.StdDev)
	assert.Equal(t, []float64{0, 0, 0}, res.Normalized)
}

func TestNormalizeEmptyIsPermanent(t *testing.T) {
	_, err := NewNormalizer(0, nil).Normalize(context.Background(), backend.NormalizeRequest{})

	var se *common.ServiceError
	require.True(t, errors.As(err, &se))
	assert.False(t, se.Transient)
}

func TestNormalizeHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := NewNormalizer(time.Second, nil).Normalize(ctx, backend.NormalizeRequest{Values: []float64{1}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestBatchPipelines(t *testing.T) {
	values := []float64{-2, -1, 0, 1, 2, 3, 4}
	bp := NewBatchProcessor(0, nil)

	tests := []struct {
		selector constants.Pipeline
		want     []constants.Pipeline
	}{
		{constants.PipelineRDD, []constants.Pipeline{constants.PipelineRDD}},
		{constants.PipelineDataFrame, []constants.Pipeline{constants.PipelineDataFrame}},
		{constants.PipelineCompare, []constants.Pipeline{constants.PipelineRDD, constants.PipelineDataFrame}},
	}
	for _, tc := range tests {
		t.Run(string(tc.selector), func(t *testing.T) {
			res, err := bp.Process(context.Background(), backend.BatchRequest{
				Values:   values,
				Pipeline: tc.selector,
				Spark:    entity.SparkConfig{ExecutorInstances: 3},
			})
			require.NoError(t, err)
			assert.Len(t, res, len(tc.want))
			for _, p := range tc.want {
				require.Contains(t, res, p)
				assert.Equal(t, p, res[p].PipelineName)
				assert.Equal(t, len(values), res[p].RecordsProcessed)
			}
		})
	}
}

func TestRDDPartitionsCoverAllValues(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7}
	for executors := 1; executors <= 10; executors++ {
		res, err := runRDD(context.Background(), values, executors)
		require.NoError(t, err)
		assert.InDelta(t, 140.0, res.ResultSummary["sum_of_squares"], 1e-9, "executors=%d", executors)
	}
}

func TestDataFrameFiltersNonPositive(t *testing.T) {
	res := runDataFrame([]float64{-3, 0, 2, 4})

	assert.Equal(t, 2.0, res.ResultSummary["filtered_count"])
	assert.Equal(t, 3.0, res.ResultSummary["mean"])
	assert.Equal(t, 2.0, res.ResultSummary["min"])
	assert.Equal(t, 4.0, res.ResultSummary["max"])
	assert.Equal(t, 4, res.RecordsProcessed)

	empty := runDataFrame([]float64{-1})
	_, hasMean := empty.ResultSummary["mean"]
	assert.False(t, hasMean)
	assert.False(t, math.IsNaN(empty.ResultSummary["filtered_count"]))
}

func TestNormalizeLargeFiniteValues(t *testing.T) {
	n := NewNormalizer(0, nil)

	res, err := n.Normalize(context.Background(), backend.NormalizeRequest{Values: []float64{1e308, 1e308, 1e308}})
	require.NoError(t, err)
	assert.Equal(t, 1e308, res.Mean)
	assert.Zero(t, res.StdDev)
	assert.Equal(t, []float64{0, 0, 0}, res.Normalized)

	res, err = n.Normalize(context.Background(), backend.NormalizeRequest{Values: []float64{1e308, -1e308}})
	require.NoError(t, err)
	assert.Zero(t, res.Mean)
	assert.InDelta(t, 1e308, res.StdDev, 1e293)
	assert.InDeltaSlice(t, []float64{1, -1}, res.Normalized, 1e-12)
	assert.NoError(t, res.CheckFinite())
}

func TestBatchOverflowIsPermanent(t *testing.T) {
	_, err := NewBatchProcessor(0, nil).Process(context.Background(), backend.BatchRequest{
		Values:   []float64{1e308, 1e308, 1e308},
		Pipeline: constants.PipelineRDD,
		Spark:    entity.SparkConfig{ExecutorInstances: 1},
	})

	var se *common.ServiceError
	require.True(t, errors.As(err, &se))
	assert.False(t, se.Transient)
	assert.Contains(t, err.Error(), "sum_of_squares")
}

func TestMeanStdDoesNotOverflow(t *testing.T) {
	mean, std := meanStd([]float64{math.MaxFloat64, math.MaxFloat64})
	assert.Equal(t, math.MaxFloat64, mean)
	assert.Zero(t, std)

	mean, std = meanStd(nil)
	assert.Zero(t, mean)
	assert.Zero(t, std)
}
