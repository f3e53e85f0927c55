package room

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outer/domain"
)

// recordingSubscriber collects events in order; full simulates a
// backpressured consumer.
type recordingSubscriber struct {
	id   string
	full bool

	mu      sync.Mutex
	events  []domain.Event
	dropped bool
}

func (r *recordingSubscriber) Id() string { return r.id }

func (r *recordingSubscriber) Enqueue(event domain.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return false
	}
	r.events = append(r.events, event)
	return true
}

func (r *recordingSubscriber) Drop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped = true
}

func (r *recordingSubscriber) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := make([]domain.Event, len(r.events))
	copy(events, r.events)
	return events
}

func (r *recordingSubscriber) Dropped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func TestAttachReturnsSnapshot(t *testing.T) {
	registry := NewRegistry()
	r := registry.Get("jrnl_1")

	a := &recordingSubscriber{id: "a"}
	presenceA, snapshot := r.Attach(a, PresenceHint{Name: "Alice", Kind: domain.ParticipantKindUser})
	assert.Equal(t, "Alice", presenceA.Name)
	assert.Equal(t, domain.PresenceStatusActive, presenceA.Status)
	assert.NotEmpty(t, presenceA.Color)
	require.Len(t, snapshot, 1)

	b := &recordingSubscriber{id: "b"}
	presenceB, snapshot := r.Attach(b, PresenceHint{Name: "Bob", Kind: domain.ParticipantKindAgent})
	require.Len(t, snapshot, 2)
	assert.NotEqual(t, presenceA.Id, presenceB.Id)

	// the earlier member observed the join
	events := a.Events()
	require.Len(t, events, 1)
	joined, ok := events[0].(domain.ParticipantJoinedEvent)
	require.True(t, ok)
	assert.Equal(t, presenceB.Id, joined.Presence.Id)

	// the joiner does not see its own join broadcast
	assert.Empty(t, b.Events())
}

func TestBroadcastOrderIdenticalForAllMembers(t *testing.T) {
	registry := NewRegistry()
	r := registry.Get("jrnl_1")

	a := &recordingSubscriber{id: "a"}
	b := &recordingSubscriber{id: "b"}
	r.Attach(a, PresenceHint{Name: "Alice"})
	r.Attach(b, PresenceHint{Name: "Bob"})

	for _, delta := range []string{"he", "llo", "!"} {
		r.Broadcast(domain.BlockContentDeltaEvent{
			EventType: domain.BlockContentDeltaEventType,
			JournalId: "jrnl_1",
			BlockId:   "blk_1",
			Delta:     delta,
		})
	}

	deltasOf := func(events []domain.Event) []string {
		var deltas []string
		for _, event := range events {
			if delta, ok := event.(domain.BlockContentDeltaEvent); ok {
				deltas = append(deltas, delta.Delta)
			}
		}
		return deltas
	}

	assert.Equal(t, []string{"he", "llo", "!"}, deltasOf(a.Events()))
	assert.Equal(t, []string{"he", "llo", "!"}, deltasOf(b.Events()))
}

func TestSlowConsumerIsDropped(t *testing.T) {
	registry := NewRegistry()
	r := registry.Get("jrnl_1")

	fast := &recordingSubscriber{id: "fast"}
	slow := &recordingSubscriber{id: "slow", full: true}
	r.Attach(fast, PresenceHint{Name: "Fast"})
	r.Attach(slow, PresenceHint{Name: "Slow"})

	r.Broadcast(domain.BlockContentDeltaEvent{EventType: domain.BlockContentDeltaEventType, Delta: "x"})

	assert.True(t, slow.Dropped())
	assert.False(t, fast.Dropped())
	require.Len(t, r.Presences(), 1)
}

func TestDetachBroadcastsLeft(t *testing.T) {
	registry := NewRegistry()
	r := registry.Get("jrnl_1")

	a := &recordingSubscriber{id: "a"}
	b := &recordingSubscriber{id: "b"}
	r.Attach(a, PresenceHint{Name: "Alice"})
	presenceB, _ := r.Attach(b, PresenceHint{Name: "Bob"})

	r.Detach("b")

	events := a.Events()
	left, ok := events[len(events)-1].(domain.ParticipantLeftEvent)
	require.True(t, ok)
	assert.Equal(t, presenceB.Id, left.PresenceId)
}

func TestRegistryGarbageCollection(t *testing.T) {
	registry := NewRegistry()
	r := registry.Get("jrnl_1")

	a := &recordingSubscriber{id: "a"}
	r.Attach(a, PresenceHint{Name: "Alice"})
	require.Equal(t, 1, registry.Len())

	r.Detach("a")
	assert.Equal(t, 0, registry.Len())
}

func TestRegistryKeepsRoomWithLiveStream(t *testing.T) {
	registry := NewRegistry()
	r := registry.Get("jrnl_1")

	a := &recordingSubscriber{id: "a"}
	r.Attach(a, PresenceHint{Name: "Alice"})
	r.RegisterStream("blk_1", func() {})

	// streams are owned by the journal, not the submitter
	r.Detach("a")
	assert.Equal(t, 1, registry.Len())
	assert.True(t, r.HasLiveStream())

	r.UnregisterStream("blk_1")
	assert.Equal(t, 0, registry.Len())
}

func TestCancelStream(t *testing.T) {
	registry := NewRegistry()
	r := registry.Get("jrnl_1")

	cancelled := false
	r.RegisterStream("blk_1", func() { cancelled = true })

	assert.True(t, r.CancelStream("blk_1"))
	assert.True(t, cancelled)
	assert.False(t, r.CancelStream("blk_missing"))
}

func TestUpdateCursorAndStatus(t *testing.T) {
	registry := NewRegistry()
	r := registry.Get("jrnl_1")

	a := &recordingSubscriber{id: "a"}
	b := &recordingSubscriber{id: "b"}
	presenceA, _ := r.Attach(a, PresenceHint{Name: "Alice"})
	r.Attach(b, PresenceHint{Name: "Bob"})

	r.UpdateCursor("a", domain.Cursor{BlockId: "blk_1", Offset: 7})
	r.UpdateStatus("a", domain.PresenceStatusIdle)

	events := b.Events()
	require.Len(t, events, 2)

	moved, ok := events[0].(domain.CursorMovedEvent)
	require.True(t, ok)
	assert.Equal(t, presenceA.Id, moved.PresenceId)
	assert.Equal(t, 7, moved.Cursor.Offset)

	status, ok := events[1].(domain.ParticipantStatusChangedEvent)
	require.True(t, ok)
	assert.Equal(t, domain.PresenceStatusIdle, status.Status)
}
