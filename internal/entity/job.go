package entity

import (
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/batch-orchestrator/constants"
)

// Job is the authoritative record of one orchestrated request. Only the job
// manager mutates it; every other reader gets a Clone.
type Job struct {
	ID               uuid.UUID                          `json:"id"`
	CreatedAt        time.Time                          `json:"created_at"`
	FinishedAt       *time.Time                         `json:"finished_at,omitempty"`
	Deadline         time.Time                          `json:"deadline"`
	State            constants.JobState                 `json:"state"`
	Degraded         bool                               `json:"degraded"`
	RawRequest       json.RawMessage                    `json:"raw_request,omitempty"`
	Request          *ProcessingRequest                 `json:"request,omitempty"`
	ValidationErrors []FieldError                       `json:"validation_errors,omitempty"`
	Normalization    *NormalizationResult               `json:"normalization_result,omitempty"`
	BatchResults     map[constants.Pipeline]BatchResult `json:"batch_results,omitempty"`
	Analysis         *ComparisonMetrics                 `json:"analysis_result,omitempty"`
	Response         *Response                          `json:"response_payload,omitempty"`
	RetryCount       map[constants.Branch]int           `json:"retry_count"`
	Errors           []JobError                         `json:"errors,omitempty"`
	Transitions      []Transition                       `json:"transitions"`
}

// JobError is one entry of a job's error list.
type JobError struct {
	Kind    constants.ErrorKind `json:"kind"`
	Branch  constants.Branch    `json:"branch,omitempty"`
	Field   string              `json:"field,omitempty"`
	Attempt int                 `json:"attempt,omitempty"`
	Message string              `json:"message"`
}

// Transition records one state change.
type Transition struct {
	From constants.JobState `json:"from"`
	To   constants.JobState `json:"to"`
	At   time.Time          `json:"at"`
}

// Response is the single terminal payload delivered for a job.
type Response struct {
	JobID           uuid.UUID                `json:"job_id"`
	Status          constants.ResponseStatus `json:"status"`
	TotalTime       float64                  `json:"total_time"` // seconds
	DataProcessed   int                      `json:"data_processed"`
	Metrics         *ComparisonMetrics       `json:"metrics,omitempty"`
	Errors          []JobError               `json:"errors,omitempty"`
	Recommendations []string                 `json:"recommendations,omitempty"`
}

// NewJob creates a job in RECEIVED with a fresh id.
func NewJob(raw json.RawMessage, now time.Time, timeout time.Duration) *Job {
	return &Job{
		ID:         uuid.New(),
		CreatedAt:  now,
		Deadline:   now.Add(timeout),
		State:      constants.JobStateReceived,
		RawRequest: raw,
		RetryCount: map[constants.Branch]int{},
	}
}

// HasErrorKind reports whether any recorded error has the given kind.
func (j *Job) HasErrorKind(kind constants.ErrorKind) bool {
	for _, e := range j.Errors {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// States returns the visited states in order, starting from RECEIVED.
func (j *Job) States() []constants.JobState {
	out := []constants.JobState{constants.JobStateReceived}
	for _, t := range j.Transitions {
		out = append(out, t.To)
	}
	return out
}

// Clone returns a deep copy that shares no mutable state with j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	c.RawRequest = slices.Clone(j.RawRequest)
	c.Request = j.Request.Clone()
	c.ValidationErrors = slices.Clone(j.ValidationErrors)
	if j.Normalization != nil {
		n := *j.Normalization
		n.Normalized = slices.Clone(j.Normalization.Normalized)
		c.Normalization = &n
	}
	if j.BatchResults != nil {
		c.BatchResults = make(map[constants.Pipeline]BatchResult, len(j.BatchResults))
		for k, v := range j.BatchResults {
			v.ResultSummary = maps.Clone(v.ResultSummary)
			c.BatchResults[k] = v
		}
	}
	c.Analysis = j.Analysis.Clone()
	if j.Response != nil {
		r := *j.Response
		r.Metrics = j.Response.Metrics.Clone()
		r.Errors = slices.Clone(j.Response.Errors)
		r.Recommendations = slices.Clone(j.Response.Recommendations)
		c.Response = &r
	}
	c.RetryCount = maps.Clone(j.RetryCount)
	c.Errors = slices.Clone(j.Errors)
	c.Transitions = slices.Clone(j.Transitions)
	return &c
}

func (r *ProcessingRequest) Clone() *ProcessingRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.Values = slices.Clone(r.Values)
	if r.Records != nil {
		c.Records = make([]map[string]any, len(r.Records))
		for i, rec := range r.Records {
			c.Records[i] = maps.Clone(rec)
		}
	}
	return &c
}

func (m *ComparisonMetrics) Clone() *ComparisonMetrics {
	if m == nil {
		return nil
	}
	c := *m
	if m.Normalization != nil {
		n := *m.Normalization
		c.Normalization = &n
	}
	if m.RDD != nil {
		p := *m.RDD
		c.RDD = &p
	}
	if m.DataFrame != nil {
		p := *m.DataFrame
		c.DataFrame = &p
	}
	if m.Speedup != nil {
		s := *m.Speedup
		c.Speedup = &s
	}
	if m.DataQuality != nil {
		q := *m.DataQuality
		c.DataQuality = &q
	}
	return &c
}
