package repository

import (
	"context"
	"fmt"

	"github.com/nkiryanov/stravadash/internal/models"
)

const DefaultJournalKeep = 1000

// Journal records engine runs, keeping only the newest ones
type Journal struct {
	storage Storage
	keep    int
}

// Keep <= 0 disables pruning
func NewJournal(storage Storage, keep int) *Journal {
	return &Journal{storage: storage, keep: keep}
}

func (j *Journal) Save(ctx context.Context, run models.SyncRun) error {
	return j.storage.InTx(ctx, func(s Storage) error {
		if err := s.SyncRun().Save(ctx, run); err != nil {
			return fmt.Errorf("save sync run: %w", err)
		}

		if j.keep <= 0 {
			return nil
		}
		if _, err := s.SyncRun().Prune(ctx, j.keep); err != nil {
			return fmt.Errorf("prune sync runs: %w", err)
		}
		return nil
	})
}

func (j *Journal) List(ctx context.Context, limit int) ([]models.SyncRun, error) {
	return j.storage.SyncRun().List(ctx, limit)
}

func (j *Journal) LastSucceeded(ctx context.Context, kind string) (models.SyncRun, error) {
	return j.storage.SyncRun().LastSucceeded(ctx, kind)
}
