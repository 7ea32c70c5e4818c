package server

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/batch-orchestrator/internal/async"
	"github.com/joseph-ayodele/batch-orchestrator/internal/backend/local"
	"github.com/joseph-ayodele/batch-orchestrator/internal/common"
	"github.com/joseph-ayodele/batch-orchestrator/internal/core"
	"github.com/joseph-ayodele/batch-orchestrator/internal/repository"
	"github.com/joseph-ayodele/batch-orchestrator/internal/validator"
)

type fixture struct {
	coord *core.Coordinator
	hub   *Hub
	db    *repository.DB
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	logger := quietLogger()

	cfg := common.DefaultConfig()
	cfg.Archive.DSN = filepath.Join(t.TempDir(), "archive.db")
	db, archive, err := ConnectArchive(ctx, cfg.Archive, logger)
	require.NoError(t, err)
	t.Cleanup(func() { CloseArchive(db, logger) })

	hub := NewHub(logger)
	hub.Start(ctx)

	v, err := validator.New(validator.Limits{MaxRecords: 1000, MaxExecutorInstances: 10})
	require.NoError(t, err)
	store := repository.NewMemoryJobStore(logger)
	policy := core.Policy{MaxRetries: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	manager := core.NewManager(store, v,
		local.NewNormalizer(0, logger), local.NewBatchProcessor(0, logger),
		policy, logger, core.WithTransitionHook(hub.Publish))

	queue := async.NewJobQueue(logger, async.WithWorkers(2))
	coord := core.NewCoordinator(store, manager, queue, time.Minute, logger, core.WithArchive(archive))
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		coord.Shutdown(sctx)
	})
	return fixture{coord: coord, hub: hub, db: db}
}

const compareBody = `{"data":[1,2,3,4,5],"pipeline_type":"compare"}`
