package async

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/batch-orchestrator/internal/common"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJobQueueRunsEveryTask(t *testing.T) {
	q := NewJobQueue(quietLogger(), WithWorkers(3), WithQueueSize(2))

	var (
		ran atomic.Int32
		wg  sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		err := q.Enqueue(context.Background(), Task{JobID: uuid.New(), Run: func(ctx context.Context) {
			defer wg.Done()
			_, ok := ctx.Deadline()
			assert.True(t, ok, "task context carries the process timeout")
			ran.Add(1)
		}})
		require.NoError(t, err)
	}
	wg.Wait()
	assert.Equal(t, int32(10), ran.Load())

	q.Shutdown(context.Background())
}

func TestJobQueueCapsConcurrency(t *testing.T) {
	q := NewJobQueue(quietLogger(), WithWorkers(2), WithQueueSize(8))
	defer q.Shutdown(context.Background())

	var (
		running, peak atomic.Int32
		wg            sync.WaitGroup
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		require.NoError(t, q.Enqueue(context.Background(), Task{JobID: uuid.New(), Run: func(context.Context) {
			defer wg.Done()
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
		}}))
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestJobQueueBackpressureHonorsContext(t *testing.T) {
	q := NewJobQueue(quietLogger(), WithWorkers(1), WithQueueSize(1))
	release := make(chan struct{})
	block := func(context.Context) { <-release }

	require.NoError(t, q.Enqueue(context.Background(), Task{JobID: uuid.New(), Run: block}))
	// the worker may or may not have picked up the first task yet
	_ = q.Enqueue(context.Background(), Task{JobID: uuid.New(), Run: block})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var err error
	for i := 0; i < 3 && err == nil; i++ {
		err = q.Enqueue(ctx, Task{JobID: uuid.New(), Run: block})
	}
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	q.Shutdown(context.Background())
}

func TestJobQueueRejectsAfterShutdown(t *testing.T) {
	q := NewJobQueue(quietLogger())
	q.Shutdown(context.Background())
	q.Shutdown(context.Background())

	err := q.Enqueue(context.Background(), Task{JobID: uuid.New(), Run: func(context.Context) {}})
	assert.ErrorIs(t, err, common.ErrQueueClosed)
}
