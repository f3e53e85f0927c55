package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outer/common"
	"outer/domain"
)

func setupParticipant(t *testing.T, storage *Storage, id, journalId string) {
	t.Helper()
	require.NoError(t, storage.UpsertParticipant(context.Background(), domain.Participant{
		Id:            id,
		JournalId:     journalId,
		Name:          id,
		Kind:          domain.ParticipantKindUser,
		Capabilities:  []domain.Capability{domain.CapabilityDelegate},
		AcceptingWork: true,
		Registered:    time.Now().UTC(),
	}))
}

func newTestWorkItem(id, journalId, delegatorId, assigneeId string) domain.WorkItem {
	now := time.Now().UTC()
	return domain.WorkItem{
		Id:          id,
		JournalId:   journalId,
		Description: "do the thing",
		DelegatorId: delegatorId,
		AssigneeId:  assigneeId,
		Status:      domain.WorkItemStatusPending,
		Priority:    domain.WorkItemPriorityNormal,
		Created:     now,
		Updated:     now,
	}
}

func TestInsertAndGetWorkItem(t *testing.T) {
	storage := NewTestSqliteStorage(t)
	ctx := context.Background()
	setupJournal(t, storage, "jrnl_1")
	setupParticipant(t, storage, "prtc_1", "jrnl_1")

	workItem := newTestWorkItem("work_1", "jrnl_1", "prtc_1", "prtc_2")
	require.NoError(t, storage.InsertWorkItem(ctx, workItem))

	retrieved, err := storage.GetWorkItem(ctx, "work_1")
	require.NoError(t, err)
	assert.Equal(t, workItem.Description, retrieved.Description)
	assert.Equal(t, domain.WorkItemStatusPending, retrieved.Status)
	assert.Nil(t, retrieved.Result)

	_, err = storage.GetWorkItem(ctx, "work_missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestUpdateWorkItemStatus(t *testing.T) {
	storage := NewTestSqliteStorage(t)
	ctx := context.Background()
	setupJournal(t, storage, "jrnl_1")
	setupParticipant(t, storage, "prtc_1", "jrnl_1")

	require.NoError(t, storage.InsertWorkItem(ctx, newTestWorkItem("work_1", "jrnl_1", "prtc_1", "prtc_2")))

	// illegal edge
	err := storage.UpdateWorkItemStatus(ctx, "work_1", domain.WorkItemStatusApproved, nil)
	assert.ErrorIs(t, err, common.ErrBadTransition)

	require.NoError(t, storage.UpdateWorkItemStatus(ctx, "work_1", domain.WorkItemStatusInProgress, nil))

	result := "done"
	require.NoError(t, storage.UpdateWorkItemStatus(ctx, "work_1", domain.WorkItemStatusApproved, &result))

	workItem, err := storage.GetWorkItem(ctx, "work_1")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkItemStatusApproved, workItem.Status)
	require.NotNil(t, workItem.Result)
	assert.Equal(t, "done", *workItem.Result)

	// terminal states are absorbing
	err = storage.UpdateWorkItemStatus(ctx, "work_1", domain.WorkItemStatusCancelled, nil)
	assert.ErrorIs(t, err, common.ErrBadTransition)
}

func TestClaimWorkItem(t *testing.T) {
	storage := NewTestSqliteStorage(t)
	ctx := context.Background()
	setupJournal(t, storage, "jrnl_1")
	setupParticipant(t, storage, "prtc_1", "jrnl_1")

	// unassigned pool item
	require.NoError(t, storage.InsertWorkItem(ctx, newTestWorkItem("work_1", "jrnl_1", "prtc_1", "")))

	require.NoError(t, storage.ClaimWorkItem(ctx, "work_1", "prtc_2"))

	workItem, err := storage.GetWorkItem(ctx, "work_1")
	require.NoError(t, err)
	assert.Equal(t, "prtc_2", workItem.AssigneeId)
	assert.Equal(t, domain.WorkItemStatusInProgress, workItem.Status)

	// assignee is immutable once set
	assert.ErrorIs(t, storage.ClaimWorkItem(ctx, "work_1", "prtc_3"), common.ErrConflict)
}

func TestWorkItemQueries(t *testing.T) {
	storage := NewTestSqliteStorage(t)
	ctx := context.Background()
	setupJournal(t, storage, "jrnl_1")
	setupParticipant(t, storage, "prtc_1", "jrnl_1")

	require.NoError(t, storage.InsertWorkItem(ctx, newTestWorkItem("work_1", "jrnl_1", "prtc_1", "prtc_2")))
	require.NoError(t, storage.InsertWorkItem(ctx, newTestWorkItem("work_2", "jrnl_1", "prtc_1", "prtc_2")))
	require.NoError(t, storage.InsertWorkItem(ctx, newTestWorkItem("work_3", "jrnl_1", "prtc_1", "prtc_3")))
	require.NoError(t, storage.UpdateWorkItemStatus(ctx, "work_2", domain.WorkItemStatusInProgress, nil))

	assigned, err := storage.GetWorkItemsForAssignee(ctx, "prtc_2", nil)
	require.NoError(t, err)
	assert.Len(t, assigned, 2)

	pending, err := storage.GetWorkItemsForAssignee(ctx, "prtc_2", []domain.WorkItemStatus{domain.WorkItemStatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	delegated, err := storage.GetWorkItemsForDelegator(ctx, "prtc_1", nil)
	require.NoError(t, err)
	assert.Len(t, delegated, 3)

	inJournal, err := storage.GetWorkItemsForJournal(ctx, "jrnl_1")
	require.NoError(t, err)
	assert.Len(t, inJournal, 3)

	count, err := storage.CountActiveWorkItems(ctx, "prtc_2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
