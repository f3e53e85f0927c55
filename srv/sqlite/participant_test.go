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

func TestUpsertAndGetParticipant(t *testing.T) {
	storage := NewTestSqliteStorage(t)
	ctx := context.Background()
	setupJournal(t, storage, "jrnl_1")

	participant := domain.Participant{
		Id:            "prtc_1",
		JournalId:     "jrnl_1",
		Name:          "Alice",
		Kind:          domain.ParticipantKindUser,
		Capabilities:  []domain.Capability{domain.CapabilityRead, domain.CapabilityDelegate},
		AcceptingWork: true,
		WorkCapacity:  3,
		Registered:    time.Now().UTC(),
	}
	require.NoError(t, storage.UpsertParticipant(ctx, participant))

	retrieved, err := storage.GetParticipant(ctx, "prtc_1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", retrieved.Name)
	assert.Equal(t, participant.Capabilities, retrieved.Capabilities)
	assert.True(t, retrieved.AcceptingWork)
	assert.Equal(t, 3, retrieved.WorkCapacity)

	// upsert replaces
	participant.AcceptingWork = false
	require.NoError(t, storage.UpsertParticipant(ctx, participant))
	retrieved, err = storage.GetParticipant(ctx, "prtc_1")
	require.NoError(t, err)
	assert.False(t, retrieved.AcceptingWork)
}

func TestGetParticipantNotFound(t *testing.T) {
	storage := NewTestSqliteStorage(t)

	_, err := storage.GetParticipant(context.Background(), "prtc_missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestGetParticipants(t *testing.T) {
	storage := NewTestSqliteStorage(t)
	ctx := context.Background()
	setupJournal(t, storage, "jrnl_1")
	setupJournal(t, storage, "jrnl_2")

	setupParticipant(t, storage, "prtc_1", "jrnl_1")
	setupParticipant(t, storage, "prtc_2", "jrnl_1")
	setupParticipant(t, storage, "prtc_3", "jrnl_2")

	participants, err := storage.GetParticipants(ctx, "jrnl_1")
	require.NoError(t, err)
	assert.Len(t, participants, 2)
}
