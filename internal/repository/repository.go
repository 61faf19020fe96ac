package repository

import (
	"context"

	"github.com/nkiryanov/stravadash/internal/models"
)

// SyncRun repository interface
type SyncRunRepo interface {
	// Save finished run
	// If run with the same id exists already has to return error apperrors.ErrSyncRunExists
	Save(ctx context.Context, run models.SyncRun) error

	// List runs, newest first
	List(ctx context.Context, limit int) ([]models.SyncRun, error)

	// Delete all runs except newest 'keep' ones
	Prune(ctx context.Context, keep int) (deleted int64, err error)

	// Newest run of the kind finished without error
	// If there is no such run must return apperrors.ErrSyncRunNotFound
	LastSucceeded(ctx context.Context, kind string) (models.SyncRun, error)
}

type Storage interface {
	SyncRun() SyncRunRepo

	// Run fn in transaction: commit if fn returns nil, rollback otherwise
	InTx(ctx context.Context, fn func(Storage) error) error
}
