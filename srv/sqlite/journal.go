package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"outer/common"
	"outer/domain"
)

var journalTracer = otel.Tracer("outer/srv/sqlite")

// Ensure Storage implements JournalStorage interface
var _ domain.JournalStorage = (*Storage)(nil)

// CreateJournal inserts a new Journal into the SQLite database
func (s *Storage) CreateJournal(ctx context.Context, journal domain.Journal) error {
	ctx, span := journalTracer.Start(ctx, "Storage.CreateJournal")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("journal_id", journal.Id),
	)

	query := `INSERT INTO journals (id, title, created, updated) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		journal.Id, journal.Title, journal.Created.UTC(), journal.Updated.UTC())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create journal: %w", err)
	}

	return nil
}

// GetJournal retrieves a single Journal from the SQLite database
func (s *Storage) GetJournal(ctx context.Context, journalId string) (domain.Journal, error) {
	ctx, span := journalTracer.Start(ctx, "Storage.GetJournal")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("journal_id", journalId),
	)

	var journal domain.Journal
	query := `SELECT id, title, created, updated FROM journals WHERE id = ?`
	err := s.db.QueryRowContext(ctx, query, journalId).Scan(
		&journal.Id, &journal.Title, &journal.Created, &journal.Updated)
	if err != nil {
		if err == sql.ErrNoRows {
			span.RecordError(common.ErrNotFound)
			span.SetStatus(codes.Error, common.ErrNotFound.Error())
			return domain.Journal{}, common.ErrNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Journal{}, fmt.Errorf("failed to get journal: %w", err)
	}

	return journal, nil
}

// ListJournals retrieves all Journals ordered by most recently updated
func (s *Storage) ListJournals(ctx context.Context) ([]domain.Journal, error) {
	ctx, span := journalTracer.Start(ctx, "Storage.ListJournals")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "SELECT"),
	)

	query := `SELECT id, title, created, updated FROM journals ORDER BY updated DESC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to query journals: %w", err)
	}
	defer rows.Close()

	var journals []domain.Journal
	for rows.Next() {
		var journal domain.Journal
		if err := rows.Scan(&journal.Id, &journal.Title, &journal.Created, &journal.Updated); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		journals = append(journals, journal)
	}

	if err = rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("error iterating over journal rows: %w", err)
	}

	return journals, nil
}

// TouchJournal advances a journal's updated timestamp
func (s *Storage) TouchJournal(ctx context.Context, journalId string, updated time.Time) error {
	ctx, span := journalTracer.Start(ctx, "Storage.TouchJournal")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("journal_id", journalId),
	)

	result, err := s.db.ExecContext(ctx,
		`UPDATE journals SET updated = ? WHERE id = ?`, updated.UTC(), journalId)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to touch journal: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		span.RecordError(common.ErrNotFound)
		span.SetStatus(codes.Error, common.ErrNotFound.Error())
		return common.ErrNotFound
	}

	return nil
}
