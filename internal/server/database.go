package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/batch-orchestrator/internal/common"
	repo "github.com/joseph-ayodele/batch-orchestrator/internal/repository"
)

// ConnectArchive opens the archive database described by cfg and makes sure
// its schema exists. It returns nil, nil when the archive is disabled.
func ConnectArchive(ctx context.Context, cfg common.ArchiveConfig, logger *slog.Logger) (*repo.DB, repo.ArchiveRepository, error) {
	if cfg.Driver == "none" {
		logger.Info("archive disabled")
		return nil, nil, nil
	}

	logger.Info("connecting to archive", "driver", cfg.Driver)
	db, err := repo.Open(ctx, repo.Config{
		Driver:           cfg.Driver,
		DSN:              cfg.DSN,
		MaxConns:         cfg.MaxConns,
		MinConns:         cfg.MinConns,
		MaxConnLifetime:  cfg.MaxConnLifetime,
		MaxConnIdleTime:  cfg.MaxConnIdleTime,
		DialTimeout:      cfg.DialTimeout,
		StatementTimeout: cfg.StatementTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to archive", "error", err)
		return nil, nil, err
	}

	archive := repo.NewArchiveRepository(db, logger)
	if err := archive.Migrate(ctx); err != nil {
		repo.Close(db, logger)
		return nil, nil, err
	}
	logger.Info("successfully connected to archive")
	return db, archive, nil
}

// PingArchive pings the archive to ensure it's responsive
func PingArchive(ctx context.Context, db *repo.DB, logger *slog.Logger, timeout time.Duration) error {
	if db == nil {
		return nil
	}
	return repo.HealthCheck(ctx, db, timeout, logger)
}

// CloseArchive closes the archive connections gracefully
func CloseArchive(db *repo.DB, logger *slog.Logger) {
	if db == nil {
		return
	}
	repo.Close(db, logger)
}
