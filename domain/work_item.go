package domain

import (
	"context"
	"fmt"
	"time"
)

type WorkItemStatus string

const (
	WorkItemStatusPending          WorkItemStatus = "pending"
	WorkItemStatusInProgress       WorkItemStatus = "in_progress"
	WorkItemStatusAwaitingApproval WorkItemStatus = "awaiting_approval"
	WorkItemStatusApproved         WorkItemStatus = "approved" // terminal
	WorkItemStatusRejected         WorkItemStatus = "rejected" // terminal
	WorkItemStatusDeclined         WorkItemStatus = "declined" // terminal
	WorkItemStatusCancelled        WorkItemStatus = "cancelled" // terminal
)

func (s WorkItemStatus) IsTerminal() bool {
	switch s {
	case WorkItemStatusApproved, WorkItemStatusRejected, WorkItemStatusDeclined, WorkItemStatusCancelled:
		return true
	}
	return false
}

// ValidWorkItemTransition reports whether a work item status change follows
// the delegation state machine. Cancellation is allowed from any
// non-terminal state.
func ValidWorkItemTransition(from, to WorkItemStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == WorkItemStatusCancelled {
		return true
	}
	switch from {
	case WorkItemStatusPending:
		return to == WorkItemStatusInProgress || to == WorkItemStatusDeclined
	case WorkItemStatusInProgress:
		return to == WorkItemStatusAwaitingApproval || to == WorkItemStatusApproved
	case WorkItemStatusAwaitingApproval:
		return to == WorkItemStatusApproved || to == WorkItemStatusRejected
	default:
		return false
	}
}

type WorkItemPriority string

const (
	WorkItemPriorityLow    WorkItemPriority = "low"
	WorkItemPriorityNormal WorkItemPriority = "normal"
	WorkItemPriorityHigh   WorkItemPriority = "high"
	WorkItemPriorityUrgent WorkItemPriority = "urgent"
)

func StringToWorkItemPriority(s string) (WorkItemPriority, error) {
	switch s {
	case "low":
		return WorkItemPriorityLow, nil
	case "normal", "":
		// default
		return WorkItemPriorityNormal, nil
	case "high":
		return WorkItemPriorityHigh, nil
	case "urgent":
		return WorkItemPriorityUrgent, nil
	default:
		return "", fmt.Errorf("invalid WorkItemPriority: \"%s\"", s)
	}
}

// WorkItem is a delegated task with a delegator, an assignee and a
// state-machine lifecycle. Never deleted; assignee is immutable once set.
type WorkItem struct {
	Id               string           `json:"id"`
	JournalId        string           `json:"journalId"`
	Description      string           `json:"description"`
	BlockId          *string          `json:"blockId,omitempty"`
	DelegatorId      string           `json:"delegatorId"`
	AssigneeId       string           `json:"assigneeId"`
	Status           WorkItemStatus   `json:"status"`
	Priority         WorkItemPriority `json:"priority"`
	RequiresApproval bool             `json:"requiresApproval"`
	ApproverId       *string          `json:"approverId,omitempty"`
	Result           *string          `json:"result,omitempty"`
	Created          time.Time        `json:"created"`
	Updated          time.Time        `json:"updated"`
}

type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

// ApprovalRequest is a one-shot yes/no request against a work item.
// Resolved exactly once.
type ApprovalRequest struct {
	Id          string         `json:"id"`
	WorkItemId  string         `json:"workItemId"`
	RequesterId string         `json:"requesterId"`
	ApproverId  string         `json:"approverId"`
	Status      ApprovalStatus `json:"status"`
	Feedback    *string        `json:"feedback,omitempty"`
	Created     time.Time      `json:"created"`
	Resolved    *time.Time     `json:"resolved,omitempty"`
}

// DelegationStorage defines the interface for work item and approval
// request database operations
type DelegationStorage interface {
	InsertWorkItem(ctx context.Context, workItem WorkItem) error
	GetWorkItem(ctx context.Context, workItemId string) (WorkItem, error)
	// UpdateWorkItemStatus enforces the delegation state machine and returns
	// common.ErrBadTransition on violations. A non-nil result is recorded
	// alongside the transition.
	UpdateWorkItemStatus(ctx context.Context, workItemId string, status WorkItemStatus, result *string) error
	// ClaimWorkItem sets the assignee of an unassigned pending work item.
	ClaimWorkItem(ctx context.Context, workItemId, assigneeId string) error
	GetWorkItemsForAssignee(ctx context.Context, assigneeId string, statuses []WorkItemStatus) ([]WorkItem, error)
	GetWorkItemsForDelegator(ctx context.Context, delegatorId string, statuses []WorkItemStatus) ([]WorkItem, error)
	GetWorkItemsForJournal(ctx context.Context, journalId string) ([]WorkItem, error)
	CountActiveWorkItems(ctx context.Context, assigneeId string) (int64, error)

	InsertApprovalRequest(ctx context.Context, approval ApprovalRequest) error
	GetApprovalRequest(ctx context.Context, approvalId string) (ApprovalRequest, error)
	// ResolveApproval transitions a pending approval exactly once and
	// returns common.ErrBadTransition if it was already resolved.
	ResolveApproval(ctx context.Context, approvalId string, status ApprovalStatus, feedback *string, resolved time.Time) error
	GetApprovalsForApprover(ctx context.Context, approverId string, statuses []ApprovalStatus) ([]ApprovalRequest, error)
}
