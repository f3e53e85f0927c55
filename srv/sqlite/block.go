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

var blockTracer = otel.Tracer("outer/srv/sqlite")

// Ensure Storage implements BlockStorage interface
var _ domain.BlockStorage = (*Storage)(nil)

// InsertBlock inserts a Block in a transaction, enforcing referential
// integrity, the single in-flight assistant block rule, and the requirement
// that fork points are complete. The containing journal's updated timestamp
// advances in the same transaction.
func (s *Storage) InsertBlock(ctx context.Context, block domain.Block) error {
	ctx, span := blockTracer.Start(ctx, "Storage.InsertBlock")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("journal_id", block.JournalId),
		attribute.String("block_id", block.Id),
	)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var journalExists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM journals WHERE id = ?)`, block.JournalId).Scan(&journalExists)
	if err != nil {
		return fmt.Errorf("failed to check journal existence: %w", err)
	}
	if !journalExists {
		span.RecordError(common.ErrNotFound)
		span.SetStatus(codes.Error, common.ErrNotFound.Error())
		return fmt.Errorf("journal %s: %w", block.JournalId, common.ErrNotFound)
	}

	if block.ForkedFromId != nil {
		var status domain.BlockStatus
		err = tx.QueryRowContext(ctx,
			`SELECT status FROM blocks WHERE id = ?`, *block.ForkedFromId).Scan(&status)
		if err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("forked-from block %s: %w", *block.ForkedFromId, common.ErrNotFound)
			}
			return fmt.Errorf("failed to check forked-from block: %w", err)
		}
		// fork points must be complete
		if status != domain.BlockStatusComplete {
			span.RecordError(common.ErrBadTransition)
			span.SetStatus(codes.Error, common.ErrBadTransition.Error())
			return fmt.Errorf("forked-from block %s is not complete: %w", *block.ForkedFromId, common.ErrBadTransition)
		}
	}

	if block.ParentId != nil {
		var parentExists bool
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM blocks WHERE id = ?)`, *block.ParentId).Scan(&parentExists)
		if err != nil {
			return fmt.Errorf("failed to check parent block: %w", err)
		}
		if !parentExists {
			return fmt.Errorf("parent block %s: %w", *block.ParentId, common.ErrNotFound)
		}
	}

	// at most one assistant block per journal may be in a non-terminal status
	if block.Role == domain.BlockRoleAssistant && !block.Status.IsTerminal() {
		var inFlight int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM blocks WHERE journal_id = ? AND role = 'assistant' AND status IN ('pending', 'streaming')`,
			block.JournalId).Scan(&inFlight)
		if err != nil {
			return fmt.Errorf("failed to check in-flight blocks: %w", err)
		}
		if inFlight > 0 {
			span.RecordError(common.ErrConflict)
			span.SetStatus(codes.Error, common.ErrConflict.Error())
			return fmt.Errorf("journal %s already has an in-flight assistant block: %w", block.JournalId, common.ErrConflict)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO blocks (id, journal_id, role, content, status, parent_id, forked_from_id, created, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		block.Id, block.JournalId, block.Role, block.Content, block.Status,
		block.ParentId, block.ForkedFromId, block.Created.UTC(), block.Updated.UTC())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to insert block: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE journals SET updated = ? WHERE id = ?`, block.Updated.UTC(), block.JournalId)
	if err != nil {
		return fmt.Errorf("failed to touch journal: %w", err)
	}

	return tx.Commit()
}

// GetBlock retrieves a single Block from the SQLite database
func (s *Storage) GetBlock(ctx context.Context, blockId string) (domain.Block, error) {
	ctx, span := blockTracer.Start(ctx, "Storage.GetBlock")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("block_id", blockId),
	)

	var block domain.Block
	query := `SELECT id, journal_id, role, content, status, parent_id, forked_from_id, created, updated
			  FROM blocks WHERE id = ?`
	err := s.db.QueryRowContext(ctx, query, blockId).Scan(
		&block.Id, &block.JournalId, &block.Role, &block.Content, &block.Status,
		&block.ParentId, &block.ForkedFromId, &block.Created, &block.Updated)
	if err != nil {
		if err == sql.ErrNoRows {
			span.RecordError(common.ErrNotFound)
			span.SetStatus(codes.Error, common.ErrNotFound.Error())
			return domain.Block{}, common.ErrNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Block{}, fmt.Errorf("failed to get block: %w", err)
	}

	return block, nil
}

// GetBlocks retrieves a journal's Blocks ordered by creation time ascending
func (s *Storage) GetBlocks(ctx context.Context, journalId string) ([]domain.Block, error) {
	ctx, span := blockTracer.Start(ctx, "Storage.GetBlocks")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("journal_id", journalId),
	)

	query := `SELECT id, journal_id, role, content, status, parent_id, forked_from_id, created, updated
			  FROM blocks WHERE journal_id = ? ORDER BY created ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, query, journalId)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to query blocks: %w", err)
	}
	defer rows.Close()

	var blocks []domain.Block
	for rows.Next() {
		var block domain.Block
		err := rows.Scan(
			&block.Id, &block.JournalId, &block.Role, &block.Content, &block.Status,
			&block.ParentId, &block.ForkedFromId, &block.Created, &block.Updated)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan block row: %w", err)
		}
		blocks = append(blocks, block)
	}

	if err = rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("error iterating over block rows: %w", err)
	}

	return blocks, nil
}

// AppendToBlock appends a delta to a block's content. Appending to a
// terminal block is a no-op that returns common.ErrTerminal.
func (s *Storage) AppendToBlock(ctx context.Context, blockId string, delta string) error {
	ctx, span := blockTracer.Start(ctx, "Storage.AppendToBlock")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("block_id", blockId),
	)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var journalId string
	var status domain.BlockStatus
	err = tx.QueryRowContext(ctx,
		`SELECT journal_id, status FROM blocks WHERE id = ?`, blockId).Scan(&journalId, &status)
	if err != nil {
		if err == sql.ErrNoRows {
			span.RecordError(common.ErrNotFound)
			span.SetStatus(codes.Error, common.ErrNotFound.Error())
			return common.ErrNotFound
		}
		return fmt.Errorf("failed to get block status: %w", err)
	}

	if status.IsTerminal() {
		return common.ErrTerminal
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE blocks SET content = content || ?, updated = ? WHERE id = ?`, delta, now, blockId)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to append to block: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE journals SET updated = ? WHERE id = ?`, now, journalId)
	if err != nil {
		return fmt.Errorf("failed to touch journal: %w", err)
	}

	return tx.Commit()
}

// SetBlockStatus transitions a block's status, rejecting illegal transitions
// with common.ErrBadTransition.
func (s *Storage) SetBlockStatus(ctx context.Context, blockId string, newStatus domain.BlockStatus) error {
	ctx, span := blockTracer.Start(ctx, "Storage.SetBlockStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("block_id", blockId),
		attribute.String("block_status", string(newStatus)),
	)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var journalId string
	var status domain.BlockStatus
	err = tx.QueryRowContext(ctx,
		`SELECT journal_id, status FROM blocks WHERE id = ?`, blockId).Scan(&journalId, &status)
	if err != nil {
		if err == sql.ErrNoRows {
			span.RecordError(common.ErrNotFound)
			span.SetStatus(codes.Error, common.ErrNotFound.Error())
			return common.ErrNotFound
		}
		return fmt.Errorf("failed to get block status: %w", err)
	}

	if !domain.ValidBlockTransition(status, newStatus) {
		span.RecordError(common.ErrBadTransition)
		span.SetStatus(codes.Error, common.ErrBadTransition.Error())
		return fmt.Errorf("block %s cannot transition %s -> %s: %w", blockId, status, newStatus, common.ErrBadTransition)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE blocks SET status = ?, updated = ? WHERE id = ?`, newStatus, now, blockId)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to set block status: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE journals SET updated = ? WHERE id = ?`, now, journalId)
	if err != nil {
		return fmt.Errorf("failed to touch journal: %w", err)
	}

	return tx.Commit()
}
