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

var approvalTracer = otel.Tracer("outer/srv/sqlite")

const approvalColumns = `id, work_item_id, requester_id, approver_id, status, feedback, created, resolved`

// InsertApprovalRequest inserts an ApprovalRequest into the SQLite database
func (s *Storage) InsertApprovalRequest(ctx context.Context, approval domain.ApprovalRequest) error {
	ctx, span := approvalTracer.Start(ctx, "Storage.InsertApprovalRequest")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("approval_id", approval.Id),
		attribute.String("work_item_id", approval.WorkItemId),
	)

	query := `
		INSERT INTO approval_requests (` + approvalColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	var resolved *string
	if approval.Resolved != nil {
		formatted := approval.Resolved.UTC().Format(time.RFC3339Nano)
		resolved = &formatted
	}
	_, err := s.db.ExecContext(ctx, query,
		approval.Id, approval.WorkItemId, approval.RequesterId, approval.ApproverId,
		approval.Status, approval.Feedback, approval.Created.UTC(), resolved)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to insert approval request: %w", err)
	}

	return nil
}

func scanApproval(scan func(dest ...interface{}) error) (domain.ApprovalRequest, error) {
	var approval domain.ApprovalRequest
	var resolvedStr *string
	err := scan(
		&approval.Id, &approval.WorkItemId, &approval.RequesterId, &approval.ApproverId,
		&approval.Status, &approval.Feedback, &approval.Created, &resolvedStr)
	if err != nil {
		return domain.ApprovalRequest{}, err
	}

	if resolvedStr != nil {
		resolved, err := time.Parse(time.RFC3339Nano, *resolvedStr)
		if err != nil {
			return domain.ApprovalRequest{}, fmt.Errorf("failed to parse resolved time: %w", err)
		}
		approval.Resolved = &resolved
	}

	return approval, nil
}

// GetApprovalRequest retrieves a single ApprovalRequest
func (s *Storage) GetApprovalRequest(ctx context.Context, approvalId string) (domain.ApprovalRequest, error) {
	ctx, span := approvalTracer.Start(ctx, "Storage.GetApprovalRequest")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("approval_id", approvalId),
	)

	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, approvalId)
	approval, err := scanApproval(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			span.RecordError(common.ErrNotFound)
			span.SetStatus(codes.Error, common.ErrNotFound.Error())
			return domain.ApprovalRequest{}, common.ErrNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.ApprovalRequest{}, fmt.Errorf("failed to get approval request: %w", err)
	}

	return approval, nil
}

// ResolveApproval transitions a pending approval to approved or rejected
// exactly once. A second resolution fails with common.ErrBadTransition.
func (s *Storage) ResolveApproval(ctx context.Context, approvalId string, status domain.ApprovalStatus, feedback *string, resolved time.Time) error {
	ctx, span := approvalTracer.Start(ctx, "Storage.ResolveApproval")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("approval_id", approvalId),
		attribute.String("approval_status", string(status)),
	)

	if status != domain.ApprovalStatusApproved && status != domain.ApprovalStatusRejected {
		return fmt.Errorf("cannot resolve approval to %s: %w", status, common.ErrBadTransition)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current domain.ApprovalStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM approval_requests WHERE id = ?`, approvalId).Scan(&current)
	if err != nil {
		if err == sql.ErrNoRows {
			span.RecordError(common.ErrNotFound)
			span.SetStatus(codes.Error, common.ErrNotFound.Error())
			return common.ErrNotFound
		}
		return fmt.Errorf("failed to get approval status: %w", err)
	}

	if current != domain.ApprovalStatusPending {
		span.RecordError(common.ErrBadTransition)
		span.SetStatus(codes.Error, common.ErrBadTransition.Error())
		return fmt.Errorf("approval %s is already resolved: %w", approvalId, common.ErrBadTransition)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE approval_requests SET status = ?, feedback = ?, resolved = ? WHERE id = ?`,
		status, feedback, resolved.UTC().Format(time.RFC3339Nano), approvalId)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to resolve approval: %w", err)
	}

	return tx.Commit()
}

// GetApprovalsForApprover retrieves approval requests addressed to a
// participant, optionally filtered by status.
func (s *Storage) GetApprovalsForApprover(ctx context.Context, approverId string, statuses []domain.ApprovalStatus) ([]domain.ApprovalRequest, error) {
	ctx, span := approvalTracer.Start(ctx, "Storage.GetApprovalsForApprover")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("approver_id", approverId),
	)

	args := []interface{}{approverId}
	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE approver_id = ?`
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i := range statuses {
			placeholders[i] = "?"
			args = append(args, statuses[i])
		}
		query += fmt.Sprintf(" AND status IN (%s)", strings.Join(placeholders, ","))
	}
	query += ` ORDER BY created ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to query approval requests: %w", err)
	}
	defer rows.Close()

	var approvals []domain.ApprovalRequest
	for rows.Next() {
		approval, err := scanApproval(rows.Scan)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan approval row: %w", err)
		}
		approvals = append(approvals, approval)
	}

	if err = rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("error iterating over approval rows: %w", err)
	}

	return approvals, nil
}
