package delegation

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/ksuid"

	"outer/common"
	"outer/domain"
	"outer/srv"
)

// Notifier routes delegation events to the participants involved. The
// websocket layer implements it over the room registry and its map of
// registered connections.
type Notifier interface {
	NotifyParticipant(participantId string, event domain.Event)
	NotifyJournal(journalId string, event domain.Event)
}

// DelegateOptions carries the optional fields of a delegate request.
type DelegateOptions struct {
	BlockId          *string
	Priority         domain.WorkItemPriority
	RequiresApproval bool
	ApproverId       *string
}

// Manager enforces capability checks and the work item / approval state
// machines. All transitions persist via the Store before notifications go
// out.
type Manager struct {
	storage  srv.Storage
	notifier Notifier
}

func NewManager(storage srv.Storage, notifier Notifier) *Manager {
	return &Manager{storage: storage, notifier: notifier}
}

// Delegate creates a work item assigned to assigneeId, or an unassigned
// pool item when assigneeId is empty.
func (m *Manager) Delegate(ctx context.Context, journalId, description, delegatorId, assigneeId string, opts DelegateOptions) (domain.WorkItem, error) {
	delegator, err := m.storage.GetParticipant(ctx, delegatorId)
	if err != nil {
		return domain.WorkItem{}, fmt.Errorf("delegator: %w", err)
	}
	if !delegator.HasCapability(domain.CapabilityDelegate) {
		return domain.WorkItem{}, fmt.Errorf("participant %s lacks the delegate capability: %w", delegatorId, common.ErrUnauthorized)
	}

	if assigneeId != "" {
		if err := m.checkAcceptingWork(ctx, assigneeId); err != nil {
			return domain.WorkItem{}, err
		}
	}

	if opts.Priority == "" {
		opts.Priority = domain.WorkItemPriorityNormal
	}

	now := time.Now().UTC()
	workItem := domain.WorkItem{
		Id:               "work_" + ksuid.New().String(),
		JournalId:        journalId,
		Description:      description,
		BlockId:          opts.BlockId,
		DelegatorId:      delegatorId,
		AssigneeId:       assigneeId,
		Status:           domain.WorkItemStatusPending,
		Priority:         opts.Priority,
		RequiresApproval: opts.RequiresApproval,
		ApproverId:       opts.ApproverId,
		Created:          now,
		Updated:          now,
	}
	if err := m.storage.InsertWorkItem(ctx, workItem); err != nil {
		return domain.WorkItem{}, err
	}

	event := domain.WorkDelegatedEvent{EventType: domain.WorkDelegatedEventType, WorkItem: workItem}
	if assigneeId != "" {
		m.notifier.NotifyParticipant(assigneeId, event)
	} else {
		// pool items are announced to the whole journal so anyone may claim
		m.notifier.NotifyJournal(journalId, event)
	}

	return workItem, nil
}

func (m *Manager) checkAcceptingWork(ctx context.Context, assigneeId string) error {
	assignee, err := m.storage.GetParticipant(ctx, assigneeId)
	if err != nil {
		return fmt.Errorf("assignee: %w", err)
	}
	if !assignee.AcceptingWork {
		return fmt.Errorf("participant %s is not accepting work: %w", assigneeId, common.ErrNotAcceptingWork)
	}
	if assignee.WorkCapacity > 0 {
		active, err := m.storage.CountActiveWorkItems(ctx, assigneeId)
		if err != nil {
			return err
		}
		if active >= int64(assignee.WorkCapacity) {
			return fmt.Errorf("participant %s is at capacity: %w", assigneeId, common.ErrNotAcceptingWork)
		}
	}
	return nil
}

// Accept transitions a pending work item to in_progress. Only the
// assignee may accept.
func (m *Manager) Accept(ctx context.Context, workItemId, callerId string) (domain.WorkItem, error) {
	workItem, err := m.storage.GetWorkItem(ctx, workItemId)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if workItem.AssigneeId != callerId {
		return domain.WorkItem{}, fmt.Errorf("only the assignee may accept: %w", common.ErrUnauthorized)
	}
	if workItem.Status != domain.WorkItemStatusPending {
		return domain.WorkItem{}, fmt.Errorf("work item %s is not pending: %w", workItemId, common.ErrBadTransition)
	}

	if err := m.storage.UpdateWorkItemStatus(ctx, workItemId, domain.WorkItemStatusInProgress, nil); err != nil {
		return domain.WorkItem{}, err
	}
	workItem.Status = domain.WorkItemStatusInProgress

	m.notifier.NotifyParticipant(workItem.DelegatorId,
		domain.WorkAcceptedEvent{EventType: domain.WorkAcceptedEventType, WorkItem: workItem})
	return workItem, nil
}

// Decline transitions a pending work item to declined. Only the assignee
// may decline.
func (m *Manager) Decline(ctx context.Context, workItemId, callerId string) (domain.WorkItem, error) {
	workItem, err := m.storage.GetWorkItem(ctx, workItemId)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if workItem.AssigneeId != callerId {
		return domain.WorkItem{}, fmt.Errorf("only the assignee may decline: %w", common.ErrUnauthorized)
	}
	if workItem.Status != domain.WorkItemStatusPending {
		return domain.WorkItem{}, fmt.Errorf("work item %s is not pending: %w", workItemId, common.ErrBadTransition)
	}

	if err := m.storage.UpdateWorkItemStatus(ctx, workItemId, domain.WorkItemStatusDeclined, nil); err != nil {
		return domain.WorkItem{}, err
	}
	workItem.Status = domain.WorkItemStatusDeclined

	m.notifier.NotifyParticipant(workItem.DelegatorId,
		domain.WorkDeclinedEvent{EventType: domain.WorkDeclinedEventType, WorkItem: workItem})
	return workItem, nil
}

// SubmitWork records the assignee's result. Items requiring approval move
// to awaiting_approval and create an approval request addressed to the
// configured approver, defaulting to the delegator; others complete as
// approved immediately.
func (m *Manager) SubmitWork(ctx context.Context, workItemId, callerId, result string) (domain.WorkItem, *domain.ApprovalRequest, error) {
	workItem, err := m.storage.GetWorkItem(ctx, workItemId)
	if err != nil {
		return domain.WorkItem{}, nil, err
	}
	if workItem.AssigneeId != callerId {
		return domain.WorkItem{}, nil, fmt.Errorf("only the assignee may submit work: %w", common.ErrUnauthorized)
	}
	if workItem.Status != domain.WorkItemStatusInProgress {
		return domain.WorkItem{}, nil, fmt.Errorf("work item %s is not in progress: %w", workItemId, common.ErrBadTransition)
	}

	if !workItem.RequiresApproval {
		if err := m.storage.UpdateWorkItemStatus(ctx, workItemId, domain.WorkItemStatusApproved, &result); err != nil {
			return domain.WorkItem{}, nil, err
		}
		workItem.Status = domain.WorkItemStatusApproved
		workItem.Result = &result

		m.notifier.NotifyParticipant(workItem.DelegatorId,
			domain.WorkApprovedEvent{EventType: domain.WorkApprovedEventType, WorkItem: workItem})
		return workItem, nil, nil
	}

	approverId := workItem.DelegatorId
	if workItem.ApproverId != nil && *workItem.ApproverId != "" {
		approverId = *workItem.ApproverId
	}

	if err := m.storage.UpdateWorkItemStatus(ctx, workItemId, domain.WorkItemStatusAwaitingApproval, &result); err != nil {
		return domain.WorkItem{}, nil, err
	}
	workItem.Status = domain.WorkItemStatusAwaitingApproval
	workItem.Result = &result

	approval := domain.ApprovalRequest{
		Id:          "appr_" + ksuid.New().String(),
		WorkItemId:  workItemId,
		RequesterId: callerId,
		ApproverId:  approverId,
		Status:      domain.ApprovalStatusPending,
		Created:     time.Now().UTC(),
	}
	if err := m.storage.InsertApprovalRequest(ctx, approval); err != nil {
		return domain.WorkItem{}, nil, err
	}

	m.notifier.NotifyParticipant(approverId, domain.ApprovalRequestedEvent{
		EventType: domain.ApprovalRequestedEventType,
		Approval:  approval,
		WorkItem:  workItem,
	})
	return workItem, &approval, nil
}

// Approve resolves a pending approval positively and completes its work
// item. Only the designated approver may approve.
func (m *Manager) Approve(ctx context.Context, approvalId, callerId string, feedback *string) (domain.WorkItem, error) {
	approval, err := m.storage.GetApprovalRequest(ctx, approvalId)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if approval.ApproverId != callerId {
		return domain.WorkItem{}, fmt.Errorf("only the designated approver may approve: %w", common.ErrUnauthorized)
	}

	if err := m.storage.ResolveApproval(ctx, approvalId, domain.ApprovalStatusApproved, feedback, time.Now().UTC()); err != nil {
		return domain.WorkItem{}, err
	}
	if err := m.storage.UpdateWorkItemStatus(ctx, approval.WorkItemId, domain.WorkItemStatusApproved, nil); err != nil {
		return domain.WorkItem{}, err
	}

	workItem, err := m.storage.GetWorkItem(ctx, approval.WorkItemId)
	if err != nil {
		return domain.WorkItem{}, err
	}

	event := domain.WorkApprovedEvent{EventType: domain.WorkApprovedEventType, WorkItem: workItem}
	m.notifier.NotifyParticipant(workItem.AssigneeId, event)
	m.notifier.NotifyParticipant(workItem.DelegatorId, event)
	return workItem, nil
}

// Reject resolves a pending approval negatively, with mandatory feedback,
// and terminates its work item as rejected.
func (m *Manager) Reject(ctx context.Context, approvalId, callerId, feedback string) (domain.WorkItem, error) {
	approval, err := m.storage.GetApprovalRequest(ctx, approvalId)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if approval.ApproverId != callerId {
		return domain.WorkItem{}, fmt.Errorf("only the designated approver may reject: %w", common.ErrUnauthorized)
	}

	if err := m.storage.ResolveApproval(ctx, approvalId, domain.ApprovalStatusRejected, &feedback, time.Now().UTC()); err != nil {
		return domain.WorkItem{}, err
	}
	if err := m.storage.UpdateWorkItemStatus(ctx, approval.WorkItemId, domain.WorkItemStatusRejected, nil); err != nil {
		return domain.WorkItem{}, err
	}

	workItem, err := m.storage.GetWorkItem(ctx, approval.WorkItemId)
	if err != nil {
		return domain.WorkItem{}, err
	}

	event := domain.WorkRejectedEvent{EventType: domain.WorkRejectedEventType, WorkItem: workItem, Feedback: feedback}
	m.notifier.NotifyParticipant(workItem.AssigneeId, event)
	m.notifier.NotifyParticipant(workItem.DelegatorId, event)
	return workItem, nil
}

// CancelWork terminates any non-terminal work item. Only the delegator
// may cancel.
func (m *Manager) CancelWork(ctx context.Context, workItemId, callerId string) (domain.WorkItem, error) {
	workItem, err := m.storage.GetWorkItem(ctx, workItemId)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if workItem.DelegatorId != callerId {
		return domain.WorkItem{}, fmt.Errorf("only the delegator may cancel: %w", common.ErrUnauthorized)
	}
	if workItem.Status.IsTerminal() {
		return domain.WorkItem{}, fmt.Errorf("work item %s is already terminal: %w", workItemId, common.ErrBadTransition)
	}

	if err := m.storage.UpdateWorkItemStatus(ctx, workItemId, domain.WorkItemStatusCancelled, nil); err != nil {
		return domain.WorkItem{}, err
	}
	workItem.Status = domain.WorkItemStatusCancelled

	if workItem.AssigneeId != "" {
		m.notifier.NotifyParticipant(workItem.AssigneeId,
			domain.WorkCancelledEvent{EventType: domain.WorkCancelledEventType, WorkItem: workItem})
	}
	return workItem, nil
}

// Claim assigns an unassigned pool work item to the caller and starts it.
func (m *Manager) Claim(ctx context.Context, workItemId, callerId string) (domain.WorkItem, error) {
	if err := m.checkAcceptingWork(ctx, callerId); err != nil {
		return domain.WorkItem{}, err
	}

	if err := m.storage.ClaimWorkItem(ctx, workItemId, callerId); err != nil {
		return domain.WorkItem{}, err
	}

	workItem, err := m.storage.GetWorkItem(ctx, workItemId)
	if err != nil {
		return domain.WorkItem{}, err
	}

	m.notifier.NotifyParticipant(workItem.DelegatorId,
		domain.WorkClaimedEvent{EventType: domain.WorkClaimedEventType, WorkItem: workItem})
	return workItem, nil
}

// SetAcceptingWork flips a participant's accepting-work flag and announces
// it to the participant's journal.
func (m *Manager) SetAcceptingWork(ctx context.Context, participantId string, accepting bool) (domain.Participant, error) {
	participant, err := m.storage.GetParticipant(ctx, participantId)
	if err != nil {
		return domain.Participant{}, err
	}

	participant.AcceptingWork = accepting
	if err := m.storage.UpsertParticipant(ctx, participant); err != nil {
		return domain.Participant{}, err
	}

	m.notifier.NotifyJournal(participant.JournalId, domain.AcceptingWorkChangedEvent{
		EventType:     domain.AcceptingWorkChangedEventType,
		ParticipantId: participantId,
		Accepting:     accepting,
	})
	return participant, nil
}

var openWorkItemStatuses = []domain.WorkItemStatus{
	domain.WorkItemStatusPending,
	domain.WorkItemStatusInProgress,
	domain.WorkItemStatusAwaitingApproval,
}

// WorkQueueFor returns a participant's open work items.
func (m *Manager) WorkQueueFor(ctx context.Context, participantId string) ([]domain.WorkItem, error) {
	return m.storage.GetWorkItemsForAssignee(ctx, participantId, openWorkItemStatuses)
}

// ApprovalQueueFor returns a participant's pending approval requests.
func (m *Manager) ApprovalQueueFor(ctx context.Context, participantId string) ([]domain.ApprovalRequest, error) {
	return m.storage.GetApprovalsForApprover(ctx, participantId, []domain.ApprovalStatus{domain.ApprovalStatusPending})
}

// AvailableParticipants returns the journal's registered participants that
// are accepting work, with remaining capacity.
func (m *Manager) AvailableParticipants(ctx context.Context, journalId string) ([]domain.AvailableParticipant, error) {
	participants, err := m.storage.GetParticipants(ctx, journalId)
	if err != nil {
		return nil, err
	}

	available := make([]domain.AvailableParticipant, 0)
	for _, participant := range participants {
		if !participant.AcceptingWork {
			continue
		}
		remaining := int64(-1) // unbounded
		if participant.WorkCapacity > 0 {
			active, err := m.storage.CountActiveWorkItems(ctx, participant.Id)
			if err != nil {
				return nil, err
			}
			remaining = int64(participant.WorkCapacity) - active
			if remaining <= 0 {
				continue
			}
		}
		available = append(available, domain.AvailableParticipant{
			Participant:       participant,
			CapacityRemaining: remaining,
		})
	}

	return available, nil
}
