package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"outer/common"
	"outer/domain"
)

var workItemTracer = otel.Tracer("outer/srv/sqlite")

// Ensure Storage implements DelegationStorage interface
var _ domain.DelegationStorage = (*Storage)(nil)

const workItemColumns = `id, journal_id, description, block_id, delegator_id, assignee_id,
	status, priority, requires_approval, approver_id, result, created, updated`

// InsertWorkItem inserts a WorkItem and bumps the containing journal's
// updated timestamp in the same transaction.
func (s *Storage) InsertWorkItem(ctx context.Context, workItem domain.WorkItem) error {
	ctx, span := workItemTracer.Start(ctx, "Storage.InsertWorkItem")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("journal_id", workItem.JournalId),
		attribute.String("work_item_id", workItem.Id),
	)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO work_items (` + workItemColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		workItem.Id, workItem.JournalId, workItem.Description, workItem.BlockId,
		workItem.DelegatorId, workItem.AssigneeId, workItem.Status, workItem.Priority,
		workItem.RequiresApproval, workItem.ApproverId, workItem.Result,
		workItem.Created.UTC(), workItem.Updated.UTC())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to insert work item: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE journals SET updated = ? WHERE id = ?`, workItem.Updated.UTC(), workItem.JournalId)
	if err != nil {
		return fmt.Errorf("failed to touch journal: %w", err)
	}

	return tx.Commit()
}

func scanWorkItem(scan func(dest ...interface{}) error) (domain.WorkItem, error) {
	var workItem domain.WorkItem
	err := scan(
		&workItem.Id, &workItem.JournalId, &workItem.Description, &workItem.BlockId,
		&workItem.DelegatorId, &workItem.AssigneeId, &workItem.Status, &workItem.Priority,
		&workItem.RequiresApproval, &workItem.ApproverId, &workItem.Result,
		&workItem.Created, &workItem.Updated)
	return workItem, err
}

// GetWorkItem retrieves a single WorkItem from the SQLite database
func (s *Storage) GetWorkItem(ctx context.Context, workItemId string) (domain.WorkItem, error) {
	ctx, span := workItemTracer.Start(ctx, "Storage.GetWorkItem")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("work_item_id", workItemId),
	)

	query := `SELECT ` + workItemColumns + ` FROM work_items WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, workItemId)
	workItem, err := scanWorkItem(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			span.RecordError(common.ErrNotFound)
			span.SetStatus(codes.Error, common.ErrNotFound.Error())
			return domain.WorkItem{}, common.ErrNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.WorkItem{}, fmt.Errorf("failed to get work item: %w", err)
	}

	return workItem, nil
}

// UpdateWorkItemStatus transitions a work item along the delegation state
// machine, optionally recording a result, and bumps the containing
// journal's updated timestamp.
func (s *Storage) UpdateWorkItemStatus(ctx context.Context, workItemId string, status domain.WorkItemStatus, result *string) error {
	ctx, span := workItemTracer.Start(ctx, "Storage.UpdateWorkItemStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("work_item_id", workItemId),
		attribute.String("work_item_status", string(status)),
	)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var journalId string
	var current domain.WorkItemStatus
	err = tx.QueryRowContext(ctx,
		`SELECT journal_id, status FROM work_items WHERE id = ?`, workItemId).Scan(&journalId, &current)
	if err != nil {
		if err == sql.ErrNoRows {
			span.RecordError(common.ErrNotFound)
			span.SetStatus(codes.Error, common.ErrNotFound.Error())
			return common.ErrNotFound
		}
		return fmt.Errorf("failed to get work item status: %w", err)
	}

	if !domain.ValidWorkItemTransition(current, status) {
		span.RecordError(common.ErrBadTransition)
		span.SetStatus(codes.Error, common.ErrBadTransition.Error())
		return fmt.Errorf("work item %s cannot transition %s -> %s: %w", workItemId, current, status, common.ErrBadTransition)
	}

	now := time.Now().UTC()
	if result != nil {
		_, err = tx.ExecContext(ctx,
			`UPDATE work_items SET status = ?, result = ?, updated = ? WHERE id = ?`,
			status, *result, now, workItemId)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE work_items SET status = ?, updated = ? WHERE id = ?`,
			status, now, workItemId)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to update work item status: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE journals SET updated = ? WHERE id = ?`, now, journalId)
	if err != nil {
		return fmt.Errorf("failed to touch journal: %w", err)
	}

	return tx.Commit()
}

// ClaimWorkItem assigns an unassigned pending work item to the claimant and
// moves it to in_progress. The assignee is immutable afterwards.
func (s *Storage) ClaimWorkItem(ctx context.Context, workItemId, assigneeId string) error {
	ctx, span := workItemTracer.Start(ctx, "Storage.ClaimWorkItem")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("work_item_id", workItemId),
		attribute.String("assignee_id", assigneeId),
	)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var journalId, currentAssignee string
	var current domain.WorkItemStatus
	err = tx.QueryRowContext(ctx,
		`SELECT journal_id, assignee_id, status FROM work_items WHERE id = ?`, workItemId).
		Scan(&journalId, &currentAssignee, &current)
	if err != nil {
		if err == sql.ErrNoRows {
			span.RecordError(common.ErrNotFound)
			span.SetStatus(codes.Error, common.ErrNotFound.Error())
			return common.ErrNotFound
		}
		return fmt.Errorf("failed to get work item: %w", err)
	}

	if currentAssignee != "" {
		span.RecordError(common.ErrConflict)
		span.SetStatus(codes.Error, common.ErrConflict.Error())
		return fmt.Errorf("work item %s is already assigned: %w", workItemId, common.ErrConflict)
	}
	if current != domain.WorkItemStatusPending {
		span.RecordError(common.ErrBadTransition)
		span.SetStatus(codes.Error, common.ErrBadTransition.Error())
		return fmt.Errorf("work item %s is not pending: %w", workItemId, common.ErrBadTransition)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE work_items SET assignee_id = ?, status = ?, updated = ? WHERE id = ?`,
		assigneeId, domain.WorkItemStatusInProgress, now, workItemId)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to claim work item: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE journals SET updated = ? WHERE id = ?`, now, journalId)
	if err != nil {
		return fmt.Errorf("failed to touch journal: %w", err)
	}

	return tx.Commit()
}

func (s *Storage) queryWorkItems(ctx context.Context, query string, args []interface{}) ([]domain.WorkItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query work items: %w", err)
	}
	defer rows.Close()

	var workItems []domain.WorkItem
	for rows.Next() {
		workItem, err := scanWorkItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work item row: %w", err)
		}
		workItems = append(workItems, workItem)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over work item rows: %w", err)
	}

	return workItems, nil
}

func statusFilter(column string, statuses []domain.WorkItemStatus, args *[]interface{}) string {
	if len(statuses) == 0 {
		return ""
	}
	placeholders := make([]string, len(statuses))
	for i := range statuses {
		placeholders[i] = "?"
		*args = append(*args, statuses[i])
	}
	return fmt.Sprintf(" AND %s IN (%s)", column, strings.Join(placeholders, ","))
}

// GetWorkItemsForAssignee retrieves work items assigned to a participant,
// optionally filtered by status.
func (s *Storage) GetWorkItemsForAssignee(ctx context.Context, assigneeId string, statuses []domain.WorkItemStatus) ([]domain.WorkItem, error) {
	ctx, span := workItemTracer.Start(ctx, "Storage.GetWorkItemsForAssignee")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("assignee_id", assigneeId),
	)

	args := []interface{}{assigneeId}
	query := `SELECT ` + workItemColumns + ` FROM work_items WHERE assignee_id = ?`
	query += statusFilter("status", statuses, &args)
	query += ` ORDER BY created ASC`

	return s.queryWorkItems(ctx, query, args)
}

// GetWorkItemsForDelegator retrieves work items delegated by a participant,
// optionally filtered by status.
func (s *Storage) GetWorkItemsForDelegator(ctx context.Context, delegatorId string, statuses []domain.WorkItemStatus) ([]domain.WorkItem, error) {
	ctx, span := workItemTracer.Start(ctx, "Storage.GetWorkItemsForDelegator")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("delegator_id", delegatorId),
	)

	args := []interface{}{delegatorId}
	query := `SELECT ` + workItemColumns + ` FROM work_items WHERE delegator_id = ?`
	query += statusFilter("status", statuses, &args)
	query += ` ORDER BY created ASC`

	return s.queryWorkItems(ctx, query, args)
}

// GetWorkItemsForJournal retrieves all work items in a journal
func (s *Storage) GetWorkItemsForJournal(ctx context.Context, journalId string) ([]domain.WorkItem, error) {
	ctx, span := workItemTracer.Start(ctx, "Storage.GetWorkItemsForJournal")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("journal_id", journalId),
	)

	query := `SELECT ` + workItemColumns + ` FROM work_items WHERE journal_id = ? ORDER BY created ASC`
	return s.queryWorkItems(ctx, query, []interface{}{journalId})
}

// CountActiveWorkItems counts a participant's non-terminal work items, for
// capacity checks.
func (s *Storage) CountActiveWorkItems(ctx context.Context, assigneeId string) (int64, error) {
	ctx, span := workItemTracer.Start(ctx, "Storage.CountActiveWorkItems")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("assignee_id", assigneeId),
	)

	var count int64
	query := `SELECT COUNT(*) FROM work_items
			  WHERE assignee_id = ? AND status IN ('pending', 'in_progress', 'awaiting_approval')`
	err := s.db.QueryRowContext(ctx, query, assigneeId).Scan(&count)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to count active work items: %w", err)
	}

	return count, nil
}
