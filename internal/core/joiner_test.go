package core

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joseph-ayodele/batch-orchestrator/constants"
)

func TestJoinerIgnoresDuplicateAndStaleResults(t *testing.T) {
	j := newJoiner(constants.Branches)
	n := constants.BranchNormalization

	first := j.dispatch(n)
	assert.Equal(t, 1, first)
	assert.True(t, j.acceptResult(n, first))
	assert.False(t, j.acceptResult(n, first), "duplicate")

	second := j.dispatch(n)
	assert.False(t, j.acceptResult(n, first), "late result of an earlier attempt")
	assert.True(t, j.acceptResult(n, second))

	j.resolve(n, branchSucceeded)
	assert.False(t, j.acceptResult(n, second))
	assert.Equal(t, []constants.Branch{constants.BranchBatch}, j.pending())
	assert.False(t, j.done())
}

func TestJoinerRetryDueOnlyForCurrentAttempt(t *testing.T) {
	j := newJoiner(constants.Branches)
	b := constants.BranchBatch

	a := j.dispatch(b)
	assert.False(t, j.acceptRetry(b, a), "call still in flight")
	assert.True(t, j.acceptResult(b, a))
	assert.True(t, j.acceptRetry(b, a))
	assert.False(t, j.acceptRetry(b, a+1))

	j.resolve(b, branchLost)
	assert.False(t, j.acceptRetry(b, a))
}

func TestJoinerDoneAndCount(t *testing.T) {
	j := newJoiner(constants.Branches)
	j.resolve(constants.BranchNormalization, branchSucceeded)
	j.resolve(constants.BranchBatch, branchLost)
	j.resolve(constants.BranchBatch, branchSucceeded)

	assert.True(t, j.done())
	assert.Equal(t, 1, j.count(branchSucceeded))
	assert.Equal(t, 1, j.count(branchLost))
	assert.False(t, j.acceptResult("unknown", 1))
}
