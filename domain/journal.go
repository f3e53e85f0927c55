package domain

import (
	"context"
	"time"
)

// Journal represents a named, branchable conversation log.
type Journal struct {
	Id      string    `json:"id"`
	Title   string    `json:"title"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// JournalStorage defines the interface for journal-related database operations
type JournalStorage interface {
	CreateJournal(ctx context.Context, journal Journal) error
	GetJournal(ctx context.Context, journalId string) (Journal, error)
	ListJournals(ctx context.Context) ([]Journal, error)
	TouchJournal(ctx context.Context, journalId string, updated time.Time) error
}
