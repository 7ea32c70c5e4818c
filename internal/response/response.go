// Package response turns a terminal job snapshot into the payload delivered
// to the caller and maps it onto transport status codes.
package response

import (
	"fmt"
	"net/http"
	"slices"

	"google.golang.org/grpc/codes"

	"github.com/joseph-ayodele/batch-orchestrator/constants"
	"github.com/joseph-ayodele/batch-orchestrator/internal/analysis"
	"github.com/joseph-ayodele/batch-orchestrator/internal/entity"
)

const (
	speedupThreshold  = 1.5
	qualityScoreFloor = 0.9
)

// Assemble builds the response for a terminal job. It reads only the
// snapshot it is given.
func Assemble(job *entity.Job) entity.Response {
	resp := entity.Response{
		JobID:  job.ID,
		Status: constants.ResponseStatusFor(job.State),
	}
	if job.FinishedAt != nil {
		resp.TotalTime = job.FinishedAt.Sub(job.CreatedAt).Seconds()
	}
	if resp.Status == constants.ResponseStatusCompleted || resp.Status == constants.ResponseStatusCompletedDegraded {
		resp.DataProcessed = job.Request.Size()
	}
	if job.Analysis != nil {
		resp.Metrics = job.Analysis.Clone()
		resp.Recommendations = Recommendations(job.Analysis, job.Degraded)
	}

	for _, fe := range job.ValidationErrors {
		resp.Errors = append(resp.Errors, entity.JobError{
			Kind:    constants.ErrorKindValidation,
			Field:   fe.Field,
			Message: fe.Message,
		})
	}
	resp.Errors = append(resp.Errors, slices.Clone(job.Errors)...)
	return resp
}

// Recommendations derives operator hints from the metrics.
func Recommendations(m *entity.ComparisonMetrics, degraded bool) []string {
	var out []string
	if m.Speedup != nil {
		switch s := *m.Speedup; {
		case s > speedupThreshold:
			out = append(out, fmt.Sprintf("dataframe pipeline ran %.1fx faster than rdd; prefer it for this workload", s))
		case s < 1/speedupThreshold:
			out = append(out, fmt.Sprintf("rdd pipeline ran %.1fx faster than dataframe; prefer it for this workload", 1/s))
		}
	}
	if q := m.DataQuality; q != nil {
		if q.Outliers > 0 {
			out = append(out, fmt.Sprintf("%d values lie beyond %.0f standard deviations; review the input for outliers", q.Outliers, analysis.OutlierSigma))
		}
		if q.QualityScore < qualityScoreFloor {
			out = append(out, fmt.Sprintf("data quality score %.2f is below %.2f", q.QualityScore, qualityScoreFloor))
		}
	}
	if degraded {
		out = append(out, "one branch did not complete; metrics are partial")
	}
	return out
}

// HTTPStatus maps a terminal job to its HTTP status code.
func HTTPStatus(job *entity.Job) int {
	switch job.State {
	case constants.JobStateCompleted, constants.JobStateCompletedDegraded:
		return http.StatusOK
	case constants.JobStateRejected:
		return http.StatusBadRequest
	case constants.JobStateFailed:
		if job.HasErrorKind(constants.ErrorKindTimeout) {
			return http.StatusGatewayTimeout
		}
	}
	return http.StatusInternalServerError
}

// GRPCCode maps a terminal job to its gRPC status code.
func GRPCCode(job *entity.Job) codes.Code {
	switch HTTPStatus(job) {
	case http.StatusOK:
		return codes.OK
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusGatewayTimeout:
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}
