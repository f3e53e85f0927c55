package room

import (
	"context"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"

	"outer/domain"
)

// Subscriber is one attached connection's receiving end. Enqueue must not
// block: it reports false when the outbound queue is full, which marks the
// subscriber for eviction (the designated failure mode for slow clients).
type Subscriber interface {
	Id() string
	Enqueue(event domain.Event) bool
	// Drop is invoked after the room evicts the subscriber; implementations
	// close the underlying connection.
	Drop()
}

// PresenceHint carries the client-supplied parts of a presence record.
type PresenceHint struct {
	Name string
	Kind domain.ParticipantKind
}

var presenceColors = []string{
	"#e06c75", "#61afef", "#98c379", "#c678dd", "#e5c07b", "#56b6c2", "#d19a66", "#abb2bf",
}

type member struct {
	subscriber Subscriber
	presence   domain.Presence
}

// Room is the per-journal hub: attached members, their presence records,
// and the in-flight upstream streams keyed by block id. Streams are owned
// by the journal, not the submitting connection.
type Room struct {
	JournalId string

	mu       sync.Mutex
	members  map[string]*member            // subscriber id -> member
	streams  map[string]context.CancelFunc // block id -> cancel
	seq      uint64
	colorIdx int

	// emptied is invoked (outside the room lock) when the last member
	// detaches and no stream is live; the registry uses it for GC.
	emptied func()
}

func newRoom(journalId string, emptied func()) *Room {
	return &Room{
		JournalId: journalId,
		members:   make(map[string]*member),
		streams:   make(map[string]context.CancelFunc),
		emptied:   emptied,
	}
}

// Attach allocates a presence record for the subscriber, announces it to
// the existing members and returns the new record plus a snapshot of all
// current presences (the new member included).
func (r *Room) Attach(subscriber Subscriber, hint PresenceHint) (domain.Presence, []domain.Presence) {
	r.mu.Lock()

	presence := domain.Presence{
		Id:        "prs_" + ksuid.New().String(),
		Name:      hint.Name,
		Kind:      hint.Kind,
		Color:     presenceColors[r.colorIdx%len(presenceColors)],
		Status:    domain.PresenceStatusActive,
		Joined:    time.Now().UTC(),
		JournalId: r.JournalId,
	}
	r.colorIdx++

	dropped := r.broadcastLocked(domain.ParticipantJoinedEvent{
		EventType: domain.ParticipantJoinedEventType,
		JournalId: r.JournalId,
		Presence:  presence,
	})

	r.members[subscriber.Id()] = &member{subscriber: subscriber, presence: presence}

	snapshot := r.presenceSnapshotLocked()
	r.mu.Unlock()

	evict(dropped)
	return presence, snapshot
}

// Detach removes the subscriber and announces the departure. In-flight
// streams are unaffected.
func (r *Room) Detach(subscriberId string) {
	r.mu.Lock()
	m, ok := r.members[subscriberId]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.members, subscriberId)

	dropped := r.broadcastLocked(domain.ParticipantLeftEvent{
		EventType:  domain.ParticipantLeftEventType,
		JournalId:  r.JournalId,
		PresenceId: m.presence.Id,
	})
	empty := len(r.members) == 0 && len(r.streams) == 0
	r.mu.Unlock()

	evict(dropped)
	if empty && r.emptied != nil {
		r.emptied()
	}
}

// UpdateCursor mutates the member's cursor and announces the move.
func (r *Room) UpdateCursor(subscriberId string, cursor domain.Cursor) {
	r.mu.Lock()
	m, ok := r.members[subscriberId]
	if !ok {
		r.mu.Unlock()
		return
	}
	m.presence.Cursor = &cursor

	dropped := r.broadcastLocked(domain.CursorMovedEvent{
		EventType:  domain.CursorMovedEventType,
		JournalId:  r.JournalId,
		PresenceId: m.presence.Id,
		Cursor:     cursor,
	})
	r.mu.Unlock()

	evict(dropped)
}

// UpdateStatus mutates the member's liveness status and announces it.
func (r *Room) UpdateStatus(subscriberId string, status domain.PresenceStatus) {
	r.mu.Lock()
	m, ok := r.members[subscriberId]
	if !ok {
		r.mu.Unlock()
		return
	}
	m.presence.Status = status

	dropped := r.broadcastLocked(domain.ParticipantStatusChangedEvent{
		EventType:  domain.ParticipantStatusChangedEventType,
		JournalId:  r.JournalId,
		PresenceId: m.presence.Id,
		Status:     status,
	})
	r.mu.Unlock()

	evict(dropped)
}

// Broadcast delivers the event to every attached member's outbound queue
// exactly once, in enqueue order. Members whose queues are full are
// evicted rather than blocking the rest.
func (r *Room) Broadcast(event domain.Event) {
	r.mu.Lock()
	dropped := r.broadcastLocked(event)
	r.mu.Unlock()

	evict(dropped)
}

// broadcastLocked enqueues to all members and returns the ones that must
// be evicted. Callers hold r.mu and perform the eviction after releasing
// it.
func (r *Room) broadcastLocked(event domain.Event) []Subscriber {
	r.seq++
	var dropped []Subscriber
	for id, m := range r.members {
		if !m.subscriber.Enqueue(event) {
			zlog.Warn().
				Str("journal_id", r.JournalId).
				Str("presence_id", m.presence.Id).
				Msg("Dropping slow room member")
			delete(r.members, id)
			dropped = append(dropped, m.subscriber)
		}
	}
	return dropped
}

func evict(dropped []Subscriber) {
	for _, subscriber := range dropped {
		subscriber.Drop()
	}
}

// Presences returns a snapshot of the current presence records.
func (r *Room) Presences() []domain.Presence {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presenceSnapshotLocked()
}

func (r *Room) presenceSnapshotLocked() []domain.Presence {
	snapshot := make([]domain.Presence, 0, len(r.members))
	for _, m := range r.members {
		snapshot = append(snapshot, m.presence)
	}
	return snapshot
}

// Seq returns the monotonic event-sequence counter. Used only for
// tie-break in tests.
func (r *Room) Seq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// RegisterStream records an in-flight stream's cancel function under its
// block id.
func (r *Room) RegisterStream(blockId string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[blockId] = cancel
}

// UnregisterStream removes a finished stream. The room may become
// collectable as a result.
func (r *Room) UnregisterStream(blockId string) {
	r.mu.Lock()
	delete(r.streams, blockId)
	empty := len(r.members) == 0 && len(r.streams) == 0
	r.mu.Unlock()

	if empty && r.emptied != nil {
		r.emptied()
	}
}

// CancelStream cancels the in-flight stream for the block, if any.
// Reports whether a stream was found; cancellation after terminal
// transition is a no-op.
func (r *Room) CancelStream(blockId string) bool {
	r.mu.Lock()
	cancel, ok := r.streams[blockId]
	r.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// HasLiveStream reports whether any stream is currently in flight.
func (r *Room) HasLiveStream() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams) > 0
}
