package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/stravadash/internal/apperrors"
	"github.com/nkiryanov/stravadash/internal/models"
)

type SyncRunRepo struct {
	DB DBTX
}

const saveSyncRun = `-- name: SaveSyncRun
INSERT INTO sync_runs (id, kind, started_at, finished_at, pages, fetched, added, total, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

func (r *SyncRunRepo) Save(ctx context.Context, run models.SyncRun) error {
	_, err := r.DB.Exec(ctx, saveSyncRun,
		run.ID, run.Kind, run.StartedAt, run.FinishedAt,
		run.Pages, run.Fetched, run.Added, run.Total, run.Error,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return apperrors.ErrSyncRunExists
		}
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

const listSyncRuns = `-- name: ListSyncRuns
SELECT id, kind, started_at, finished_at, pages, fetched, added, total, error
FROM sync_runs
ORDER BY started_at DESC
LIMIT $1
`

func (r *SyncRunRepo) List(ctx context.Context, limit int) ([]models.SyncRun, error) {
	rows, _ := r.DB.Query(ctx, listSyncRuns, limit)
	runs, err := pgx.CollectRows(rows, rowToSyncRun)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return runs, nil
}

const pruneSyncRuns = `-- name: PruneSyncRuns
DELETE FROM sync_runs
WHERE id NOT IN (
    SELECT id FROM sync_runs
    ORDER BY started_at DESC
    LIMIT $1
)
`

func (r *SyncRunRepo) Prune(ctx context.Context, keep int) (int64, error) {
	tag, err := r.DB.Exec(ctx, pruneSyncRuns, keep)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return tag.RowsAffected(), nil
}

const lastSucceededSyncRun = `-- name: LastSucceededSyncRun
SELECT id, kind, started_at, finished_at, pages, fetched, added, total, error
FROM sync_runs
WHERE kind = $1 AND error = ''
ORDER BY started_at DESC
LIMIT 1
`

func (r *SyncRunRepo) LastSucceeded(ctx context.Context, kind string) (models.SyncRun, error) {
	rows, _ := r.DB.Query(ctx, lastSucceededSyncRun, kind)
	run, err := pgx.CollectOneRow(rows, rowToSyncRun)

	switch {
	case err == nil:
		return run, nil
	case errors.Is(err, pgx.ErrNoRows):
		return run, apperrors.ErrSyncRunNotFound
	default:
		return run, fmt.Errorf("db error: %w", err)
	}
}

func rowToSyncRun(row pgx.CollectableRow) (models.SyncRun, error) {
	var run models.SyncRun
	err := row.Scan(
		&run.ID, &run.Kind, &run.StartedAt, &run.FinishedAt,
		&run.Pages, &run.Fetched, &run.Added, &run.Total, &run.Error,
	)
	return run, err
}
