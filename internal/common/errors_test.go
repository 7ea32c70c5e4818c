package common

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", NewTransientError("batch", errors.New("503")), true},
		{"wrapped transient", fmt.Errorf("call: %w", NewTransientError("batch", errors.New("503"))), true},
		{"permanent", NewPermanentError("batch", errors.New("400")), false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestIsTimeoutSeesDeadlineCause(t *testing.T) {
	ctx, cancel := context.WithDeadlineCause(context.Background(), time.Now().Add(-time.Second), ErrTimeout)
	defer cancel()
	<-ctx.Done()

	assert.ErrorIs(t, context.Cause(ctx), ErrTimeout)
	assert.True(t, IsTimeout(context.Cause(ctx)))
	assert.True(t, IsTimeout(ctx.Err()))
	assert.False(t, IsTimeout(ErrCancelled))
}
