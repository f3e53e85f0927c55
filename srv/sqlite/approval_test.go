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

func newTestApproval(id, workItemId, approverId string) domain.ApprovalRequest {
	return domain.ApprovalRequest{
		Id:          id,
		WorkItemId:  workItemId,
		RequesterId: "prtc_2",
		ApproverId:  approverId,
		Status:      domain.ApprovalStatusPending,
		Created:     time.Now().UTC(),
	}
}

func setupWorkItem(t *testing.T, storage *Storage, workItemId string) {
	t.Helper()
	setupJournal(t, storage, "jrnl_1")
	setupParticipant(t, storage, "prtc_1", "jrnl_1")
	require.NoError(t, storage.InsertWorkItem(context.Background(),
		newTestWorkItem(workItemId, "jrnl_1", "prtc_1", "prtc_2")))
}

func TestInsertAndGetApprovalRequest(t *testing.T) {
	storage := NewTestSqliteStorage(t)
	ctx := context.Background()
	setupWorkItem(t, storage, "work_1")

	approval := newTestApproval("appr_1", "work_1", "prtc_1")
	require.NoError(t, storage.InsertApprovalRequest(ctx, approval))

	retrieved, err := storage.GetApprovalRequest(ctx, "appr_1")
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStatusPending, retrieved.Status)
	assert.Nil(t, retrieved.Resolved)
	assert.Nil(t, retrieved.Feedback)
}

func TestResolveApprovalExactlyOnce(t *testing.T) {
	storage := NewTestSqliteStorage(t)
	ctx := context.Background()
	setupWorkItem(t, storage, "work_1")

	require.NoError(t, storage.InsertApprovalRequest(ctx, newTestApproval("appr_1", "work_1", "prtc_1")))

	feedback := "nope"
	require.NoError(t, storage.ResolveApproval(ctx, "appr_1", domain.ApprovalStatusRejected, &feedback, time.Now().UTC()))

	resolved, err := storage.GetApprovalRequest(ctx, "appr_1")
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStatusRejected, resolved.Status)
	require.NotNil(t, resolved.Feedback)
	assert.Equal(t, "nope", *resolved.Feedback)
	assert.NotNil(t, resolved.Resolved)

	// a second resolution fails
	err = storage.ResolveApproval(ctx, "appr_1", domain.ApprovalStatusApproved, nil, time.Now().UTC())
	assert.ErrorIs(t, err, common.ErrBadTransition)
}

func TestResolveApprovalToPendingRejected(t *testing.T) {
	storage := NewTestSqliteStorage(t)
	ctx := context.Background()
	setupWorkItem(t, storage, "work_1")
	require.NoError(t, storage.InsertApprovalRequest(ctx, newTestApproval("appr_1", "work_1", "prtc_1")))

	err := storage.ResolveApproval(ctx, "appr_1", domain.ApprovalStatusPending, nil, time.Now().UTC())
	assert.ErrorIs(t, err, common.ErrBadTransition)
}

func TestGetApprovalsForApprover(t *testing.T) {
	storage := NewTestSqliteStorage(t)
	ctx := context.Background()
	setupWorkItem(t, storage, "work_1")

	require.NoError(t, storage.InsertApprovalRequest(ctx, newTestApproval("appr_1", "work_1", "prtc_1")))
	require.NoError(t, storage.InsertApprovalRequest(ctx, newTestApproval("appr_2", "work_1", "prtc_1")))
	require.NoError(t, storage.InsertApprovalRequest(ctx, newTestApproval("appr_3", "work_1", "prtc_9")))

	require.NoError(t, storage.ResolveApproval(ctx, "appr_2", domain.ApprovalStatusApproved, nil, time.Now().UTC()))

	pending, err := storage.GetApprovalsForApprover(ctx, "prtc_1", []domain.ApprovalStatus{domain.ApprovalStatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "appr_1", pending[0].Id)

	all, err := storage.GetApprovalsForApprover(ctx, "prtc_1", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
