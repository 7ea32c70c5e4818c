package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/batch-orchestrator/constants"
	"github.com/joseph-ayodele/batch-orchestrator/internal/common"
	"github.com/joseph-ayodele/batch-orchestrator/internal/entity"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New(Limits{MaxRecords: 10, MaxExecutorInstances: 10})
	require.NoError(t, err)
	return v
}

func fields(errs []entity.FieldError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Field
	}
	return out
}

func TestValidateAcceptsNumbers(t *testing.T) {
	v := newValidator(t)
	res := v.Validate([]byte(`{"data":[1,2,3,4,5],"pipeline_type":"rdd"}`))

	require.True(t, res.OK, "errors: %v", res.Errors)
	assert.Empty(t, res.Errors)
	assert.NoError(t, res.Err())
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, res.Request.Values)
	assert.Nil(t, res.Request.Records)
	assert.Equal(t, constants.PipelineRDD, res.Request.Pipeline)
	assert.Equal(t, DefaultExecutorInstances, res.Request.Spark.ExecutorInstances)
	assert.Equal(t, DefaultExecutorMemory, res.Request.Spark.ExecutorMemory)
}

func TestValidateAcceptsRecords(t *testing.T) {
	v := newValidator(t)
	res := v.Validate([]byte(`{
		"data":[{"id":1,"value":2.5},{"id":2,"value":-1}],
		"pipeline_type":"dataframe",
		"spark_config":{"executor_instances":4,"executor_memory":"512m"},
		"gpu_enabled":true,
		"store_results":true
	}`))

	require.True(t, res.OK, "errors: %v", res.Errors)
	assert.Equal(t, []float64{2.5, -1}, res.Request.Values)
	require.Len(t, res.Request.Records, 2)
	assert.Equal(t, 2.5, res.Request.Records[0]["value"])
	assert.Equal(t, 4, res.Request.Spark.ExecutorInstances)
	assert.Equal(t, "512m", res.Request.Spark.ExecutorMemory)
	assert.True(t, res.Request.GPUEnabled)
	assert.True(t, res.Request.StoreResults)
}

func TestValidateAcceptsIntegralFloatExecutors(t *testing.T) {
	v := newValidator(t)
	res := v.Validate([]byte(`{"data":[1],"pipeline_type":"rdd","spark_config":{"executor_instances":2.0}} ` + "\n"))

	require.True(t, res.OK, "errors: %v", res.Errors)
	assert.Equal(t, 2, res.Request.Spark.ExecutorInstances)
}

func TestValidateComparePipelinesFlagForcesCompare(t *testing.T) {
	v := newValidator(t)
	res := v.Validate([]byte(`{"data":[1],"pipeline_type":"rdd","compare_pipelines":true}`))

	require.True(t, res.OK)
	assert.Equal(t, constants.PipelineCompare, res.Request.Pipeline)
}

func TestValidateUnknownPipelineNamesField(t *testing.T) {
	v := newValidator(t)
	res := v.Validate([]byte(`{"data":[1,2,3],"pipeline_type":"bogus"}`))

	assert.False(t, res.OK)
	assert.Nil(t, res.Request)
	assert.Contains(t, fields(res.Errors), "pipeline_type")
	assert.ErrorIs(t, res.Err(), common.ErrValidation)
	assert.Contains(t, res.Err().Error(), "pipeline_type")
}

func TestValidateAccumulatesAllErrors(t *testing.T) {
	v := newValidator(t)
	res := v.Validate([]byte(`{
		"data":[],
		"pipeline_type":"bogus",
		"spark_config":{"executor_instances":0,"executor_memory":"lots"},
		"gpu_enabled":"yes",
		"extra":1
	}`))

	require.False(t, res.OK)
	got := fields(res.Errors)
	for _, want := range []string{
		"data",
		"pipeline_type",
		"spark_config.executor_instances",
		"spark_config.executor_memory",
		"gpu_enabled",
		"extra",
	} {
		assert.Contains(t, got, want)
	}
}

func TestValidateIsDeterministic(t *testing.T) {
	v := newValidator(t)
	body := []byte(`{"data":["a",1],"pipeline_type":7,"spark_config":{"executor_memory":1},"z":1,"a":2}`)

	first := v.Validate(body)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, v.Validate(body))
	}
}

func TestValidateEdgeCases(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
		msg   string
	}{
		{"empty body", ``, "request", "is required"},
		{"not json", `{`, "request", "valid JSON"},
		{"not an object", `[1,2]`, "request", "JSON object"},
		{"trailing data", `{"data":[1],"pipeline_type":"rdd"} x`, "request", "single JSON value"},
		{"second object", `{"data":[1],"pipeline_type":"rdd"}{}`, "request", "single JSON value"},
		{"missing data", `{"pipeline_type":"rdd"}`, "data", "is required"},
		{"missing pipeline", `{"data":[1]}`, "pipeline_type", "is required"},
		{"empty data", `{"data":[],"pipeline_type":"rdd"}`, "data", "must not be empty"},
		{"too many", `{"data":[1,2,3,4,5,6,7,8,9,10,11],"pipeline_type":"rdd"}`, "data", "at most 10"},
		{"overflow", `{"data":[1e400],"pipeline_type":"rdd"}`, "data[0]", "finite"},
		{"string element", `{"data":[1,"x"],"pipeline_type":"rdd"}`, "data[1]", "number or a record"},
		{"mixed kinds", `{"data":[1,{"value":2}],"pipeline_type":"rdd"}`, "data", "all numbers or all records"},
		{"record without value", `{"data":[{"id":1}],"pipeline_type":"rdd"}`, "data[0].value", "numeric"},
		{"executors above max", `{"data":[1],"pipeline_type":"rdd","spark_config":{"executor_instances":11}}`, "spark_config.executor_instances", "between 1 and 10"},
		{"fractional executors", `{"data":[1],"pipeline_type":"rdd","spark_config":{"executor_instances":1.5}}`, "spark_config.executor_instances", ""},
		{"unknown spark field", `{"data":[1],"pipeline_type":"rdd","spark_config":{"cores":2}}`, "spark_config.cores", "unknown field"},
	}

	v := newValidator(t)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := v.Validate([]byte(tc.body))
			require.False(t, res.OK)

			var found bool
			for _, e := range res.Errors {
				if e.Field == tc.field && strings.Contains(e.Message, tc.msg) {
					found = true
				}
			}
			assert.True(t, found, "want %s ~ %q in %v", tc.field, tc.msg, res.Errors)
		})
	}
}

func TestValidateSummarizesManyBadElements(t *testing.T) {
	v, err := New(Limits{MaxRecords: 100})
	require.NoError(t, err)

	elems := make([]string, 30)
	for i := range elems {
		elems[i] = `"x"`
	}
	res := v.Validate([]byte(`{"data":[` + strings.Join(elems, ",") + `],"pipeline_type":"rdd"}`))

	require.False(t, res.OK)
	assert.Len(t, res.Errors, maxElementErrors+1)
	assert.Equal(t, "data", res.Errors[len(res.Errors)-1].Field)
	assert.Contains(t, res.Errors[len(res.Errors)-1].Message, "10 more")
}
