package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/batch-orchestrator/constants"
	"github.com/joseph-ayodele/batch-orchestrator/internal/common"
	"github.com/joseph-ayodele/batch-orchestrator/internal/entity"
)

const (
	jobsTable      = "jobs"
	artifactsTable = "artifacts"
)

// Artifact keys written for jobs that ask for their results to be stored.
const (
	ArtifactNormalized = "normalized"
	ArtifactAnalysis   = "analysis"
	artifactBatch      = "batch/"
)

// BatchArtifactKey is the artifact key of one pipeline's result.
func BatchArtifactKey(pipeline string) string {
	return artifactBatch + pipeline
}

// Artifact is one persisted job result.
type Artifact struct {
	JobID     uuid.UUID       `json:"job_id"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// ArchiveRepository persists terminal job summaries and their artifacts.
// Every record is written at most once; repeated writes are no-ops.
type ArchiveRepository interface {
	Migrate(ctx context.Context) error
	SaveJob(ctx context.Context, job *entity.Job) (bool, error)
	GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	SaveArtifact(ctx context.Context, jobID uuid.UUID, key string, payload any) (bool, error)
	ListArtifacts(ctx context.Context, jobID uuid.UUID) ([]Artifact, error)
	CountJobs(ctx context.Context) (map[constants.JobState]int, error)
}

type archiveRepo struct {
	drv     *entsql.Driver
	dialect string
	log     *slog.Logger
}

func NewArchiveRepository(db *DB, log *slog.Logger) ArchiveRepository {
	if log == nil {
		log = slog.Default()
	}
	return &archiveRepo{drv: db.Driver, dialect: db.Dialect, log: log}
}

func (r *archiveRepo) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.dialect)
}

// Migrate creates the archive tables when missing.
func (r *archiveRepo) Migrate(ctx context.Context) error {
	stmts := []string{
		r.createTable(jobsTable, []*entsql.ColumnBuilder{
			entsql.Column("id").Type("VARCHAR(36) NOT NULL"),
			entsql.Column("state").Type("VARCHAR(32) NOT NULL"),
			entsql.Column("created_at").Type("VARCHAR(40) NOT NULL"),
			entsql.Column("finished_at").Type("VARCHAR(40)"),
			entsql.Column("summary").Type("TEXT NOT NULL"),
		}, "id"),
		r.createTable(artifactsTable, []*entsql.ColumnBuilder{
			entsql.Column("job_id").Type("VARCHAR(36) NOT NULL"),
			entsql.Column("key").Type("VARCHAR(128) NOT NULL"),
			entsql.Column("payload").Type("TEXT NOT NULL"),
			entsql.Column("created_at").Type("VARCHAR(40) NOT NULL"),
		}, "job_id", "key"),
	}
	for _, q := range stmts {
		if err := r.drv.Exec(ctx, q, []any{}, nil); err != nil {
			r.log.Error("archive migrate failed", "query", q, "err", err)
			return fmt.Errorf("%w: migrate: %v", common.ErrDatabase, err)
		}
	}
	r.log.Info("archive schema ready", "dialect", r.dialect)
	return nil
}

// createTable renders CREATE TABLE IF NOT EXISTS with identifiers quoted for
// the archive's dialect.
func (r *archiveRepo) createTable(name string, cols []*entsql.ColumnBuilder, pk ...string) string {
	return r.builder().String(func(b *entsql.Builder) {
		b.WriteString("CREATE TABLE IF NOT EXISTS ").Ident(name).Pad().Wrap(func(b *entsql.Builder) {
			for i, c := range cols {
				if i > 0 {
					b.Comma()
				}
				b.Join(c)
			}
			b.Comma().WriteString("PRIMARY KEY ").Wrap(func(b *entsql.Builder) {
				b.IdentComma(pk...)
			})
		})
	})
}

// summary drops the bulky per-element data; artifacts hold it when requested.
func summary(job *entity.Job) *entity.Job {
	s := job.Clone()
	s.RawRequest = nil
	if s.Request != nil {
		s.Request.Values = nil
		s.Request.Records = nil
	}
	if s.Normalization != nil {
		s.Normalization.Normalized = nil
	}
	return s
}

// SaveJob archives a terminal job. It reports false when the job was
// already archived.
func (r *archiveRepo) SaveJob(ctx context.Context, job *entity.Job) (bool, error) {
	body, err := json.Marshal(summary(job))
	if err != nil {
		return false, fmt.Errorf("encode job summary: %w", err)
	}
	var finished any
	if job.FinishedAt != nil {
		finished = job.FinishedAt.UTC().Format(time.RFC3339Nano)
	}

	q, args := r.builder().Insert(jobsTable).
		Columns("id", "state", "created_at", "finished_at", "summary").
		Values(job.ID.String(), string(job.State), job.CreatedAt.UTC().Format(time.RFC3339Nano), finished, string(body)).
		OnConflict(entsql.ConflictColumns("id"), entsql.DoNothing()).
		Query()

	written, err := r.exec(ctx, q, args)
	if err != nil {
		r.log.Error("archive save job failed", "job_id", job.ID, "err", err)
		return false, err
	}
	r.log.Debug("archive saved job", "job_id", job.ID, "state", job.State, "written", written)
	return written, nil
}

func (r *archiveRepo) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	b := r.builder()
	q, args := b.Select("summary").
		From(b.Table(jobsTable)).
		Where(entsql.EQ("id", id.String())).
		Query()

	var rows entsql.Rows
	if err := r.drv.Query(ctx, q, args, &rows); err != nil {
		return nil, fmt.Errorf("%w: query job: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
		}
		return nil, common.ErrNotFound
	}
	var body string
	if err := rows.Scan(&body); err != nil {
		return nil, fmt.Errorf("%w: scan job: %v", common.ErrDatabase, err)
	}
	var job entity.Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return nil, fmt.Errorf("decode job summary: %w", err)
	}
	return &job, nil
}

// SaveArtifact writes payload under (jobID, key) unless it already exists.
func (r *archiveRepo) SaveArtifact(ctx context.Context, jobID uuid.UUID, key string, payload any) (bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("encode artifact %s: %w", key, err)
	}

	q, args := r.builder().Insert(artifactsTable).
		Columns("job_id", "key", "payload", "created_at").
		Values(jobID.String(), key, string(body), time.Now().UTC().Format(time.RFC3339Nano)).
		OnConflict(entsql.ConflictColumns("job_id", "key"), entsql.DoNothing()).
		Query()

	written, err := r.exec(ctx, q, args)
	if err != nil {
		r.log.Error("archive save artifact failed", "job_id", jobID, "key", key, "err", err)
		return false, err
	}
	if !written {
		r.log.Warn("archive artifact already present", "job_id", jobID, "key", key)
	}
	return written, nil
}

func (r *archiveRepo) ListArtifacts(ctx context.Context, jobID uuid.UUID) ([]Artifact, error) {
	b := r.builder()
	q, args := b.Select("key", "payload", "created_at").
		From(b.Table(artifactsTable)).
		Where(entsql.EQ("job_id", jobID.String())).
		OrderBy("key").
		Query()

	var rows entsql.Rows
	if err := r.drv.Query(ctx, q, args, &rows); err != nil {
		return nil, fmt.Errorf("%w: query artifacts: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var key, payload, created string
		if err := rows.Scan(&key, &payload, &created); err != nil {
			return nil, fmt.Errorf("%w: scan artifact: %v", common.ErrDatabase, err)
		}
		ts, _ := time.Parse(time.RFC3339Nano, created)
		out = append(out, Artifact{JobID: jobID, Key: key, Payload: json.RawMessage(payload), CreatedAt: ts})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return out, nil
}

// CountJobs returns the number of archived jobs per terminal state.
func (r *archiveRepo) CountJobs(ctx context.Context) (map[constants.JobState]int, error) {
	b := r.builder()
	q, args := b.Select("state", entsql.Count("*")).
		From(b.Table(jobsTable)).
		GroupBy("state").
		Query()

	var rows entsql.Rows
	if err := r.drv.Query(ctx, q, args, &rows); err != nil {
		return nil, fmt.Errorf("%w: count jobs: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	out := make(map[constants.JobState]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("%w: scan count: %v", common.ErrDatabase, err)
		}
		out[constants.JobState(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return out, nil
}

func (r *archiveRepo) exec(ctx context.Context, q string, args []any) (bool, error) {
	var res sql.Result
	if err := r.drv.Exec(ctx, q, args, &res); err != nil {
		return false, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected: %v", common.ErrDatabase, err)
	}
	return n > 0, nil
}
