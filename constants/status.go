package constants

// JobState is the canonical lifecycle state of an orchestrated job.
type JobState string

// Stable values (these exact strings are persisted in the archive).
const (
	JobStateReceived          JobState = "RECEIVED"
	JobStateValidating        JobState = "VALIDATING"
	JobStateValidated         JobState = "VALIDATED"
	JobStateRejected          JobState = "REJECTED" // terminal
	JobStateDispatching       JobState = "DISPATCHING"
	JobStateAwaitingResults   JobState = "AWAITING_RESULTS"
	JobStateJoined            JobState = "JOINED"
	JobStateAnalyzing         JobState = "ANALYZING"
	JobStateResponding        JobState = "RESPONDING"
	JobStateCompleted         JobState = "COMPLETED"          // terminal
	JobStateCompletedDegraded JobState = "COMPLETED_DEGRADED" // terminal
	JobStateFailed            JobState = "FAILED"             // terminal
)

// transitions lists the forward edges of the job state machine. FAILED is
// reachable from every non-terminal state so internal errors can always end
// a job.
var transitions = map[JobState][]JobState{
	JobStateReceived:        {JobStateValidating, JobStateFailed},
	JobStateValidating:      {JobStateValidated, JobStateRejected, JobStateFailed},
	JobStateValidated:       {JobStateDispatching, JobStateFailed},
	JobStateDispatching:     {JobStateAwaitingResults, JobStateFailed},
	JobStateAwaitingResults: {JobStateJoined, JobStateFailed},
	JobStateJoined:          {JobStateAnalyzing, JobStateFailed},
	JobStateAnalyzing:       {JobStateResponding, JobStateFailed},
	JobStateResponding:      {JobStateCompleted, JobStateCompletedDegraded, JobStateFailed},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to JobState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateRejected, JobStateCompleted, JobStateCompletedDegraded, JobStateFailed:
		return true
	}
	return false
}

// ResponseStatus is the externally visible outcome of a job.
type ResponseStatus string

const (
	ResponseStatusCompleted         ResponseStatus = "completed"
	ResponseStatusCompletedDegraded ResponseStatus = "completed_degraded"
	ResponseStatusRejected          ResponseStatus = "rejected"
	ResponseStatusFailed            ResponseStatus = "failed"
)

// ResponseStatusFor maps a terminal state to its response status. Non-terminal
// states map to failed.
func ResponseStatusFor(s JobState) ResponseStatus {
	switch s {
	case JobStateCompleted:
		return ResponseStatusCompleted
	case JobStateCompletedDegraded:
		return ResponseStatusCompletedDegraded
	case JobStateRejected:
		return ResponseStatusRejected
	default:
		return ResponseStatusFailed
	}
}
