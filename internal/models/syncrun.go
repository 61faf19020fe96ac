package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	SyncKindFull        = "full"
	SyncKindIncremental = "incremental"
)

// Journal record of a single synchronization run
type SyncRun struct {
	ID         uuid.UUID
	Kind       string
	StartedAt  time.Time
	FinishedAt time.Time

	Pages   int // pages requested from upstream
	Fetched int // activities received
	Added   int // activities new to the cache
	Total   int // cache size after the run

	Error string // empty when run succeeded
}

func (r SyncRun) Succeeded() bool {
	return r.Error == ""
}
