package core

import "github.com/joseph-ayodele/batch-orchestrator/constants"

type branchStatus int

const (
	branchPending branchStatus = iota
	branchSucceeded
	branchLost
)

type branchState struct {
	status   branchStatus
	attempt  int  // latest dispatched attempt, 1-based
	inflight bool // a call for attempt has not reported back yet
}

// joiner is the 2-of-2 join over the job's branches. It decides which events
// are current; everything else is a duplicate or a late arrival.
type joiner struct {
	branches map[constants.Branch]*branchState
}

func newJoiner(branches []constants.Branch) *joiner {
	j := &joiner{branches: make(map[constants.Branch]*branchState, len(branches))}
	for _, b := range branches {
		j.branches[b] = &branchState{}
	}
	return j
}

// dispatch opens the next attempt for b and returns its number.
func (j *joiner) dispatch(b constants.Branch) int {
	s := j.branches[b]
	s.attempt++
	s.inflight = true
	return s.attempt
}

// acceptResult reports whether a completion for (b, attempt) is the one
// being waited for, and if so marks the call as returned.
func (j *joiner) acceptResult(b constants.Branch, attempt int) bool {
	s, ok := j.branches[b]
	if !ok || s.status != branchPending || !s.inflight || s.attempt != attempt {
		return false
	}
	s.inflight = false
	return true
}

// acceptRetry reports whether a retry timer for (b, attempt) is still due.
func (j *joiner) acceptRetry(b constants.Branch, attempt int) bool {
	s, ok := j.branches[b]
	return ok && s.status == branchPending && !s.inflight && s.attempt == attempt
}

func (j *joiner) resolve(b constants.Branch, status branchStatus) {
	if s, ok := j.branches[b]; ok && s.status == branchPending {
		s.status = status
		s.inflight = false
	}
}

func (j *joiner) attempt(b constants.Branch) int {
	if s, ok := j.branches[b]; ok {
		return s.attempt
	}
	return 0
}

// pending lists unresolved branches in dispatch order.
func (j *joiner) pending() []constants.Branch {
	var out []constants.Branch
	for _, b := range constants.Branches {
		if s, ok := j.branches[b]; ok && s.status == branchPending {
			out = append(out, b)
		}
	}
	return out
}

func (j *joiner) done() bool {
	return len(j.pending()) == 0
}

func (j *joiner) count(status branchStatus) int {
	n := 0
	for _, s := range j.branches {
		if s.status == status {
			n++
		}
	}
	return n
}
