package validator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/batch-orchestrator/constants"
	"github.com/joseph-ayodele/batch-orchestrator/internal/common"
	"github.com/joseph-ayodele/batch-orchestrator/internal/entity"
)

const (
	DefaultExecutorInstances = 2
	DefaultExecutorMemory    = "2g"

	// maxElementErrors bounds how many individual data elements are itemized;
	// the rest are summarized in one error.
	maxElementErrors = 20
)

// Limits are the configurable bounds applied to every request.
type Limits struct {
	MaxRecords           int
	MaxExecutorInstances int
}

// Result is the outcome of validating one raw request.
type Result struct {
	OK      bool
	Request *entity.ProcessingRequest
	Errors  []entity.FieldError
}

// Validator checks raw requests. It holds only the compiled schema and
// limits, so a single instance is safe for concurrent use.
type Validator struct {
	schema *jsonschema.Schema
	limits Limits
}

// New compiles the request schema.
func New(limits Limits) (*Validator, error) {
	if limits.MaxRecords <= 0 {
		limits.MaxRecords = 1_000_000
	}
	if limits.MaxExecutorInstances <= 0 {
		limits.MaxExecutorInstances = 10
	}
	b, err := json.Marshal(requestSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("request.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("request.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: schema, limits: limits}, nil
}

// Validate checks raw against every rule and reports all violations at once.
// On success the result carries the normalized request with defaults applied.
func (v *Validator) Validate(raw []byte) Result {
	errs := common.NewValidator()

	if len(bytes.TrimSpace(raw)) == 0 {
		errs.Add("request", nil, "is required")
		return failed(errs)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		errs.Add("request", nil, "must be valid JSON: "+err.Error())
		return failed(errs)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		errs.Add("request", nil, "must contain a single JSON value")
		return failed(errs)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		errs.Add("request", nil, "must be a JSON object")
		return failed(errs)
	}

	v.checkSchema(doc, errs)
	checkUnknown(obj, errs)

	values, records := v.checkData(obj, errs)

	pipelineRaw, present := obj["pipeline_type"]
	if !present {
		errs.Add("pipeline_type", nil, "is required")
	}

	spark := entity.SparkConfig{
		ExecutorInstances: DefaultExecutorInstances,
		ExecutorMemory:    DefaultExecutorMemory,
	}
	if sc, ok := obj["spark_config"].(map[string]any); ok {
		if n, ok := sc["executor_instances"].(json.Number); ok && !errs.HasFieldError("spark_config.executor_instances") {
			if i, ok := integral(n); !ok {
				errs.Add("spark_config.executor_instances", n, "must be an integer")
			} else {
				errs.Field("spark_config.executor_instances", i, common.IntRange(1, v.limits.MaxExecutorInstances))
				spark.ExecutorInstances = i
			}
		}
		if m, ok := sc["executor_memory"].(string); ok {
			spark.ExecutorMemory = m
		}
	}

	if errs.HasErrors() {
		return failed(errs)
	}

	pipeline, _ := constants.ParsePipeline(pipelineRaw.(string))
	req := &entity.ProcessingRequest{
		Values:           values,
		Records:          records,
		Pipeline:         pipeline,
		Spark:            spark,
		GPUEnabled:       boolField(obj, "gpu_enabled"),
		ComparePipelines: boolField(obj, "compare_pipelines"),
		StoreResults:     boolField(obj, "store_results"),
	}
	if req.ComparePipelines {
		req.Pipeline = constants.PipelineCompare
	}
	return Result{OK: true, Request: req}
}

// Err summarizes a failed result as an error wrapping common.ErrValidation.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Field + ": " + e.Message
	}
	return fmt.Errorf("%w: %s", common.ErrValidation, strings.Join(msgs, "; "))
}

func failed(errs *common.Validator) Result {
	out := make([]entity.FieldError, 0, len(errs.Errors()))
	for _, e := range errs.Errors() {
		out = append(out, entity.FieldError{Field: e.Field, Message: e.Message})
	}
	return Result{OK: false, Errors: out}
}

// checkSchema flattens the schema error tree into one error per failing leaf.
func (v *Validator) checkSchema(doc any, errs *common.Validator) {
	err := v.schema.Validate(doc)
	if err == nil {
		return
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		errs.Add("request", nil, err.Error())
		return
	}
	var leaves []*jsonschema.ValidationError
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			leaves = append(leaves, e)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.SliceStable(leaves, func(i, j int) bool {
		if leaves[i].InstanceLocation != leaves[j].InstanceLocation {
			return leaves[i].InstanceLocation < leaves[j].InstanceLocation
		}
		return leaves[i].Message < leaves[j].Message
	})
	for _, l := range leaves {
		errs.Add(fieldName(l.InstanceLocation), nil, l.Message)
	}
}

// fieldName turns a JSON pointer such as /spark_config/executor_memory into
// spark_config.executor_memory.
func fieldName(pointer string) string {
	p := strings.Trim(pointer, "/")
	if p == "" {
		return "request"
	}
	return strings.ReplaceAll(p, "/", ".")
}

func checkUnknown(obj map[string]any, errs *common.Validator) {
	var unknown []string
	for k := range obj {
		if _, ok := knownFields[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if sc, ok := obj["spark_config"].(map[string]any); ok {
		for k := range sc {
			if _, ok := knownSparkFields[k]; !ok {
				unknown = append(unknown, "spark_config."+k)
			}
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		errs.Add(k, nil, "unknown field")
	}
}

type elementKind int

const (
	kindUnknown elementKind = iota
	kindNumber
	kindRecord
)

// checkData validates the data array and returns its numeric projection.
func (v *Validator) checkData(obj map[string]any, errs *common.Validator) ([]float64, []map[string]any) {
	rawData, present := obj["data"]
	if !present || rawData == nil {
		errs.Add("data", nil, "is required")
		return nil, nil
	}
	data, ok := rawData.([]any)
	if !ok {
		// already reported by the schema
		return nil, nil
	}
	errs.Field("data", data, common.NonEmpty, common.MaxItems(v.limits.MaxRecords))
	if errs.HasFieldError("data") {
		return nil, nil
	}

	values := make([]float64, 0, len(data))
	var records []map[string]any
	kind := kindUnknown
	mixed := false
	bad := 0
	report := func(field string, value any, msg string) {
		bad++
		if bad <= maxElementErrors {
			errs.Add(field, value, msg)
		}
	}

	for i, el := range data {
		field := "data[" + strconv.Itoa(i) + "]"
		switch e := el.(type) {
		case json.Number:
			if kind == kindRecord {
				mixed = true
			}
			if kind == kindUnknown {
				kind = kindNumber
			}
			f, ok := finite(e)
			if !ok {
				report(field, e, "must be a finite number")
				continue
			}
			values = append(values, f)
		case map[string]any:
			if kind == kindNumber {
				mixed = true
			}
			if kind == kindUnknown {
				kind = kindRecord
			}
			n, ok := e["value"].(json.Number)
			if !ok {
				report(field+".value", e["value"], "must be present and numeric")
				continue
			}
			f, ok := finite(n)
			if !ok {
				report(field+".value", n, "must be a finite number")
				continue
			}
			values = append(values, f)
			records = append(records, normalizeRecord(e))
		default:
			report(field, el, "must be a number or a record object")
		}
	}
	if bad > maxElementErrors {
		errs.Add("data", nil, fmt.Sprintf("%d more invalid elements", bad-maxElementErrors))
	}
	if mixed {
		errs.Add("data", nil, "elements must be all numbers or all records")
	}
	return values, records
}

// integral accepts any JSON number with no fractional part, such as 2 or 2.0.
func integral(n json.Number) (int, bool) {
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func finite(n json.Number) (float64, bool) {
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// normalizeRecord converts json.Number leaves to float64 so records can be
// re-encoded without the decoder's number wrapper leaking out.
func normalizeRecord(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		if n, ok := v.(json.Number); ok {
			if f, err := n.Float64(); err == nil {
				out[k] = f
				continue
			}
		}
		out[k] = v
	}
	return out
}

func boolField(obj map[string]any, key string) bool {
	b, _ := obj[key].(bool)
	return b
}
