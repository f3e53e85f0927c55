package delegation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outer/common"
	"outer/domain"
	"outer/srv/sqlite"
)

type notification struct {
	participantId string
	journalId     string
	event         domain.Event
}

type recordingNotifier struct {
	mu            sync.Mutex
	notifications []notification
}

func (n *recordingNotifier) NotifyParticipant(participantId string, event domain.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification{participantId: participantId, event: event})
}

func (n *recordingNotifier) NotifyJournal(journalId string, event domain.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification{journalId: journalId, event: event})
}

func (n *recordingNotifier) forParticipant(participantId string) []domain.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var events []domain.Event
	for _, notif := range n.notifications {
		if notif.participantId == participantId {
			events = append(events, notif.event)
		}
	}
	return events
}

func setupManager(t *testing.T) (*Manager, *sqlite.Storage, *recordingNotifier) {
	t.Helper()
	storage := sqlite.NewTestSqliteStorage(t)
	notifier := &recordingNotifier{}
	manager := NewManager(storage, notifier)

	now := time.Now().UTC()
	require.NoError(t, storage.CreateJournal(context.Background(), domain.Journal{
		Id: "jrnl_1", Title: "T", Created: now, Updated: now,
	}))
	return manager, storage, notifier
}

func registerParticipant(t *testing.T, storage *sqlite.Storage, id string, capabilities []domain.Capability, accepting bool, capacity int) {
	t.Helper()
	require.NoError(t, storage.UpsertParticipant(context.Background(), domain.Participant{
		Id:            id,
		JournalId:     "jrnl_1",
		Name:          id,
		Kind:          domain.ParticipantKindUser,
		Capabilities:  capabilities,
		AcceptingWork: accepting,
		WorkCapacity:  capacity,
		Registered:    time.Now().UTC(),
	}))
}

var delegatorCaps = []domain.Capability{domain.CapabilityDelegate, domain.CapabilityApprove}
var workerCaps = []domain.Capability{domain.CapabilityRead, domain.CapabilitySubmit}

func TestDelegateHappyPathWithoutApproval(t *testing.T) {
	manager, storage, notifier := setupManager(t)
	ctx := context.Background()
	registerParticipant(t, storage, "p1", delegatorCaps, true, 0)
	registerParticipant(t, storage, "p2", workerCaps, true, 3)

	workItem, err := manager.Delegate(ctx, "jrnl_1", "review the design", "p1", "p2", DelegateOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.WorkItemStatusPending, workItem.Status)
	assert.Equal(t, domain.WorkItemPriorityNormal, workItem.Priority)

	// assignee was notified
	events := notifier.forParticipant("p2")
	require.Len(t, events, 1)
	assert.Equal(t, domain.WorkDelegatedEventType, events[0].GetEventType())

	// accept -> in_progress
	workItem, err = manager.Accept(ctx, workItem.Id, "p2")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkItemStatusInProgress, workItem.Status)

	// submit without approval goes straight to approved with the result
	workItem, approval, err := manager.SubmitWork(ctx, workItem.Id, "p2", "done")
	require.NoError(t, err)
	assert.Nil(t, approval)
	assert.Equal(t, domain.WorkItemStatusApproved, workItem.Status)
	require.NotNil(t, workItem.Result)
	assert.Equal(t, "done", *workItem.Result)

	// delegator received work_accepted then work_approved
	delegatorEvents := notifier.forParticipant("p1")
	require.Len(t, delegatorEvents, 2)
	assert.Equal(t, domain.WorkAcceptedEventType, delegatorEvents[0].GetEventType())
	assert.Equal(t, domain.WorkApprovedEventType, delegatorEvents[1].GetEventType())
}

func TestDelegateRequiresCapability(t *testing.T) {
	manager, storage, _ := setupManager(t)
	ctx := context.Background()
	registerParticipant(t, storage, "p1", workerCaps, true, 0)
	registerParticipant(t, storage, "p2", workerCaps, true, 0)

	_, err := manager.Delegate(ctx, "jrnl_1", "task", "p1", "p2", DelegateOptions{})
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestDelegateUnknownAssignee(t *testing.T) {
	manager, storage, _ := setupManager(t)
	ctx := context.Background()
	registerParticipant(t, storage, "p1", delegatorCaps, true, 0)

	_, err := manager.Delegate(ctx, "jrnl_1", "task", "p1", "p_missing", DelegateOptions{})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestDelegateNotAcceptingWork(t *testing.T) {
	manager, storage, _ := setupManager(t)
	ctx := context.Background()
	registerParticipant(t, storage, "p1", delegatorCaps, true, 0)
	registerParticipant(t, storage, "p2", workerCaps, false, 0)

	_, err := manager.Delegate(ctx, "jrnl_1", "task", "p1", "p2", DelegateOptions{})
	assert.ErrorIs(t, err, common.ErrNotAcceptingWork)

	// the work item table is unchanged
	items, listErr := storage.GetWorkItemsForDelegator(ctx, "p1", nil)
	require.NoError(t, listErr)
	assert.Empty(t, items)
}

func TestDelegateAtCapacity(t *testing.T) {
	manager, storage, _ := setupManager(t)
	ctx := context.Background()
	registerParticipant(t, storage, "p1", delegatorCaps, true, 0)
	registerParticipant(t, storage, "p2", workerCaps, true, 1)

	_, err := manager.Delegate(ctx, "jrnl_1", "first", "p1", "p2", DelegateOptions{})
	require.NoError(t, err)

	_, err = manager.Delegate(ctx, "jrnl_1", "second", "p1", "p2", DelegateOptions{})
	assert.ErrorIs(t, err, common.ErrNotAcceptingWork)
}

func TestOnlyAssigneeMayAcceptOrDecline(t *testing.T) {
	manager, storage, _ := setupManager(t)
	ctx := context.Background()
	registerParticipant(t, storage, "p1", delegatorCaps, true, 0)
	registerParticipant(t, storage, "p2", workerCaps, true, 0)

	workItem, err := manager.Delegate(ctx, "jrnl_1", "task", "p1", "p2", DelegateOptions{})
	require.NoError(t, err)

	_, err = manager.Accept(ctx, workItem.Id, "p1")
	assert.ErrorIs(t, err, common.ErrUnauthorized)
	_, err = manager.Decline(ctx, workItem.Id, "p1")
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	_, err = manager.Decline(ctx, workItem.Id, "p2")
	require.NoError(t, err)

	// declining again is a bad transition
	_, err = manager.Decline(ctx, workItem.Id, "p2")
	assert.ErrorIs(t, err, common.ErrBadTransition)
}

func TestApprovalFlowRejection(t *testing.T) {
	manager, storage, notifier := setupManager(t)
	ctx := context.Background()
	registerParticipant(t, storage, "p1", delegatorCaps, true, 0)
	registerParticipant(t, storage, "p2", workerCaps, true, 0)

	approverId := "p1"
	workItem, err := manager.Delegate(ctx, "jrnl_1", "task", "p1", "p2", DelegateOptions{
		RequiresApproval: true,
		ApproverId:       &approverId,
	})
	require.NoError(t, err)

	_, err = manager.Accept(ctx, workItem.Id, "p2")
	require.NoError(t, err)

	workItem, approval, err := manager.SubmitWork(ctx, workItem.Id, "p2", "attempt")
	require.NoError(t, err)
	require.NotNil(t, approval)
	assert.Equal(t, domain.WorkItemStatusAwaitingApproval, workItem.Status)
	assert.Equal(t, "p1", approval.ApproverId)

	// the approver was notified
	var sawApprovalRequest bool
	for _, event := range notifier.forParticipant("p1") {
		if event.GetEventType() == domain.ApprovalRequestedEventType {
			sawApprovalRequest = true
		}
	}
	assert.True(t, sawApprovalRequest)

	// only the designated approver may reject
	_, err = manager.Reject(ctx, approval.Id, "p2", "nope")
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	workItem, err = manager.Reject(ctx, approval.Id, "p1", "nope")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkItemStatusRejected, workItem.Status)

	resolved, err := storage.GetApprovalRequest(ctx, approval.Id)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStatusRejected, resolved.Status)
	require.NotNil(t, resolved.Feedback)
	assert.Equal(t, "nope", *resolved.Feedback)

	// a second rejection of the same approval fails
	_, err = manager.Reject(ctx, approval.Id, "p1", "again")
	assert.ErrorIs(t, err, common.ErrBadTransition)
}

func TestApprovalDefaultsToDelegator(t *testing.T) {
	manager, storage, _ := setupManager(t)
	ctx := context.Background()
	registerParticipant(t, storage, "p1", delegatorCaps, true, 0)
	registerParticipant(t, storage, "p2", workerCaps, true, 0)

	workItem, err := manager.Delegate(ctx, "jrnl_1", "task", "p1", "p2", DelegateOptions{RequiresApproval: true})
	require.NoError(t, err)
	_, err = manager.Accept(ctx, workItem.Id, "p2")
	require.NoError(t, err)

	_, approval, err := manager.SubmitWork(ctx, workItem.Id, "p2", "result")
	require.NoError(t, err)
	require.NotNil(t, approval)
	assert.Equal(t, "p1", approval.ApproverId)

	workItem, err = manager.Approve(ctx, approval.Id, "p1", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkItemStatusApproved, workItem.Status)
}

func TestCancelWork(t *testing.T) {
	manager, storage, _ := setupManager(t)
	ctx := context.Background()
	registerParticipant(t, storage, "p1", delegatorCaps, true, 0)
	registerParticipant(t, storage, "p2", workerCaps, true, 0)

	workItem, err := manager.Delegate(ctx, "jrnl_1", "task", "p1", "p2", DelegateOptions{})
	require.NoError(t, err)

	// only the delegator may cancel
	_, err = manager.CancelWork(ctx, workItem.Id, "p2")
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	workItem, err = manager.CancelWork(ctx, workItem.Id, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkItemStatusCancelled, workItem.Status)

	_, err = manager.CancelWork(ctx, workItem.Id, "p1")
	assert.ErrorIs(t, err, common.ErrBadTransition)
}

func TestClaimPoolWorkItem(t *testing.T) {
	manager, storage, notifier := setupManager(t)
	ctx := context.Background()
	registerParticipant(t, storage, "p1", delegatorCaps, true, 0)
	registerParticipant(t, storage, "p2", workerCaps, true, 0)

	// unassigned pool delegation is announced to the journal
	workItem, err := manager.Delegate(ctx, "jrnl_1", "anyone take this", "p1", "", DelegateOptions{})
	require.NoError(t, err)
	assert.Empty(t, workItem.AssigneeId)

	workItem, err = manager.Claim(ctx, workItem.Id, "p2")
	require.NoError(t, err)
	assert.Equal(t, "p2", workItem.AssigneeId)
	assert.Equal(t, domain.WorkItemStatusInProgress, workItem.Status)

	var sawClaim bool
	for _, event := range notifier.forParticipant("p1") {
		if event.GetEventType() == domain.WorkClaimedEventType {
			sawClaim = true
		}
	}
	assert.True(t, sawClaim)
}

func TestQueuesAndAvailableParticipants(t *testing.T) {
	manager, storage, _ := setupManager(t)
	ctx := context.Background()
	registerParticipant(t, storage, "p1", delegatorCaps, true, 0)
	registerParticipant(t, storage, "p2", workerCaps, true, 2)
	registerParticipant(t, storage, "p3", workerCaps, false, 0)

	workItem, err := manager.Delegate(ctx, "jrnl_1", "task", "p1", "p2", DelegateOptions{RequiresApproval: true})
	require.NoError(t, err)

	queue, err := manager.WorkQueueFor(ctx, "p2")
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, workItem.Id, queue[0].Id)

	_, err = manager.Accept(ctx, workItem.Id, "p2")
	require.NoError(t, err)
	_, approval, err := manager.SubmitWork(ctx, workItem.Id, "p2", "result")
	require.NoError(t, err)

	approvals, err := manager.ApprovalQueueFor(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	assert.Equal(t, approval.Id, approvals[0].Id)

	available, err := manager.AvailableParticipants(ctx, "jrnl_1")
	require.NoError(t, err)
	// p3 is not accepting; p1 and p2 are
	require.Len(t, available, 2)
	for _, participant := range available {
		if participant.Id == "p2" {
			assert.Equal(t, int64(1), participant.CapacityRemaining)
		}
	}
}

func TestSetAcceptingWork(t *testing.T) {
	manager, storage, notifier := setupManager(t)
	ctx := context.Background()
	registerParticipant(t, storage, "p1", workerCaps, true, 0)

	participant, err := manager.SetAcceptingWork(ctx, "p1", false)
	require.NoError(t, err)
	assert.False(t, participant.AcceptingWork)

	stored, err := storage.GetParticipant(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, stored.AcceptingWork)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.NotEmpty(t, notifier.notifications)
	assert.Equal(t, "jrnl_1", notifier.notifications[len(notifier.notifications)-1].journalId)
}
