package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"

	"outer/common"
	"outer/domain"
	"outer/room"
	"outer/srv"
	"outer/upstream"
)

// branch tracks a fork anchor that has not started streaming yet: the
// pending assistant block created by a fork, plus the upstream session
// seeded at the fork point. The next submit against the journal streams
// into the anchor.
type branch struct {
	anchorBlockId string
	session       upstream.Session
}

// Engine owns the in-flight assistant block of each journal from creation
// through terminal transition, translating upstream fragments into store
// writes and room events.
type Engine struct {
	storage  srv.Storage
	upstream upstream.Client
	rooms    *room.Registry

	mu       sync.Mutex
	branches map[string]branch // journal id -> pending fork anchor
}

func NewEngine(storage srv.Storage, upstreamClient upstream.Client, rooms *room.Registry) *Engine {
	return &Engine{
		storage:  storage,
		upstream: upstreamClient,
		rooms:    rooms,
		branches: make(map[string]branch),
	}
}

// Submit records a user prompt and starts streaming the assistant
// response. The user block is terminal on insert; the assistant block is
// announced pending before the stream starts. When a fork anchor is
// pending for the journal, the prompt streams into the anchor on the
// forked session instead of a fresh assistant block.
func (e *Engine) Submit(ctx context.Context, journalId, content string) (domain.Block, domain.Block, error) {
	now := time.Now().UTC()
	userBlock := domain.Block{
		Id:        "blk_" + ksuid.New().String(),
		JournalId: journalId,
		Role:      domain.BlockRoleUser,
		Content:   content,
		Status:    domain.BlockStatusComplete,
		Created:   now,
		Updated:   now,
	}

	e.mu.Lock()
	pendingBranch, hasBranch := e.branches[journalId]
	delete(e.branches, journalId)
	e.mu.Unlock()

	if hasBranch {
		anchor, err := e.storage.GetBlock(ctx, pendingBranch.anchorBlockId)
		if err != nil {
			return domain.Block{}, domain.Block{}, fmt.Errorf("failed to load fork anchor: %w", err)
		}

		userBlock.ParentId = anchor.ParentId
		if err := e.storage.InsertBlock(ctx, userBlock); err != nil {
			return domain.Block{}, domain.Block{}, err
		}

		r := e.rooms.Get(journalId)
		r.Broadcast(domain.BlockCreatedEvent{EventType: domain.BlockCreatedEventType, Block: userBlock})

		go e.runStream(journalId, anchor.Id, pendingBranch.session, content)
		return userBlock, anchor, nil
	}

	session, err := e.upstream.EnsureSession(ctx, journalId)
	if err != nil {
		return domain.Block{}, domain.Block{}, fmt.Errorf("%w: %v", common.ErrUpstreamFailure, err)
	}

	if err := e.storage.InsertBlock(ctx, userBlock); err != nil {
		return domain.Block{}, domain.Block{}, err
	}

	// the response is created strictly after its prompt, so created-ascending
	// order lists the prompt first
	assistantCreated := time.Now().UTC()
	if !assistantCreated.After(now) {
		assistantCreated = now.Add(time.Microsecond)
	}
	assistantBlock := domain.Block{
		Id:        "blk_" + ksuid.New().String(),
		JournalId: journalId,
		Role:      domain.BlockRoleAssistant,
		Status:    domain.BlockStatusPending,
		ParentId:  &userBlock.Id,
		Created:   assistantCreated,
		Updated:   assistantCreated,
	}
	if err := e.storage.InsertBlock(ctx, assistantBlock); err != nil {
		return domain.Block{}, domain.Block{}, err
	}

	r := e.rooms.Get(journalId)
	r.Broadcast(domain.BlockCreatedEvent{EventType: domain.BlockCreatedEventType, Block: userBlock})
	r.Broadcast(domain.BlockCreatedEvent{EventType: domain.BlockCreatedEventType, Block: assistantBlock})

	go e.runStream(journalId, assistantBlock.Id, session, content)
	return userBlock, assistantBlock, nil
}

// Fork creates a divergent branch rooted at a completed block: a new
// upstream session seeded at the fork point (created eagerly) and a
// pending assistant anchor block. No prompt is sent until the next
// submit against the journal.
func (e *Engine) Fork(ctx context.Context, blockId string) (domain.Block, error) {
	source, err := e.storage.GetBlock(ctx, blockId)
	if err != nil {
		return domain.Block{}, err
	}
	if source.Status != domain.BlockStatusComplete {
		return domain.Block{}, fmt.Errorf("cannot fork block in status %s: %w", source.Status, common.ErrBadTransition)
	}

	parentSession, err := e.upstream.EnsureSession(ctx, source.JournalId)
	if err != nil {
		return domain.Block{}, fmt.Errorf("%w: %v", common.ErrUpstreamFailure, err)
	}

	forkedSession, err := e.upstream.ForkSession(ctx, parentSession, source.Id)
	if err != nil {
		return domain.Block{}, fmt.Errorf("%w: %v", common.ErrUpstreamFailure, err)
	}

	now := time.Now().UTC()
	anchor := domain.Block{
		Id:           "blk_" + ksuid.New().String(),
		JournalId:    source.JournalId,
		Role:         domain.BlockRoleAssistant,
		Status:       domain.BlockStatusPending,
		ParentId:     &source.Id,
		ForkedFromId: &source.Id,
		Created:      now,
		Updated:      now,
	}
	if err := e.storage.InsertBlock(ctx, anchor); err != nil {
		return domain.Block{}, err
	}

	e.mu.Lock()
	e.branches[source.JournalId] = branch{anchorBlockId: anchor.Id, session: forkedSession}
	e.mu.Unlock()
	e.upstream.BindSession(source.JournalId, forkedSession)

	r := e.rooms.Get(source.JournalId)
	r.Broadcast(domain.BlockForkedEvent{
		EventType:     domain.BlockForkedEventType,
		Block:         anchor,
		SourceBlockId: source.Id,
	})

	return anchor, nil
}

// Rerun produces an alternative response for an existing assistant block:
// a new assistant block parented at the originating user prompt, streamed
// on the journal's session.
func (e *Engine) Rerun(ctx context.Context, blockId string) (domain.Block, error) {
	source, err := e.storage.GetBlock(ctx, blockId)
	if err != nil {
		return domain.Block{}, err
	}
	if source.Role != domain.BlockRoleAssistant {
		return domain.Block{}, fmt.Errorf("can only re-run assistant blocks: %w", common.ErrBadTransition)
	}
	if source.ParentId == nil {
		return domain.Block{}, fmt.Errorf("block %s has no originating prompt: %w", blockId, common.ErrNotFound)
	}

	userBlock, err := e.storage.GetBlock(ctx, *source.ParentId)
	if err != nil {
		return domain.Block{}, err
	}
	if userBlock.Role != domain.BlockRoleUser {
		return domain.Block{}, fmt.Errorf("parent of %s is not a user prompt: %w", blockId, common.ErrBadTransition)
	}

	session, err := e.upstream.EnsureSession(ctx, source.JournalId)
	if err != nil {
		return domain.Block{}, fmt.Errorf("%w: %v", common.ErrUpstreamFailure, err)
	}

	now := time.Now().UTC()
	rerunBlock := domain.Block{
		Id:           "blk_" + ksuid.New().String(),
		JournalId:    source.JournalId,
		Role:         domain.BlockRoleAssistant,
		Status:       domain.BlockStatusPending,
		ParentId:     &userBlock.Id,
		ForkedFromId: &source.Id,
		Created:      now,
		Updated:      now,
	}
	if err := e.storage.InsertBlock(ctx, rerunBlock); err != nil {
		return domain.Block{}, err
	}

	r := e.rooms.Get(source.JournalId)
	r.Broadcast(domain.BlockCreatedEvent{EventType: domain.BlockCreatedEventType, Block: rerunBlock})

	go e.runStream(source.JournalId, rerunBlock.Id, session, userBlock.Content)
	return rerunBlock, nil
}

// Cancel abandons the in-flight stream for the block at the next fragment
// boundary. Cancelling a block with no live stream (including one already
// terminal) reports false.
func (e *Engine) Cancel(blockId string, journalId string) bool {
	r, ok := e.rooms.Lookup(journalId)
	if !ok {
		return false
	}
	return r.CancelStream(blockId)
}

// runStream consumes the upstream fragment sequence for one assistant
// block, from the streaming transition through exactly one terminal
// transition. Runs on its own goroutine; the stream belongs to the
// journal and survives the submitting connection.
func (e *Engine) runStream(journalId, blockId string, session upstream.Session, prompt string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := e.rooms.Get(journalId)
	r.RegisterStream(blockId, cancel)
	defer r.UnregisterStream(blockId)

	// store writes run to completion; cancellation is observed only at
	// fragment boundaries
	storeCtx := context.Background()

	fragments, err := e.upstream.Send(ctx, session, prompt)
	if err != nil {
		zlog.Error().Err(err).Str("block_id", blockId).Msg("Upstream send failed")
		e.finalize(r, journalId, blockId, domain.BlockStatusError, err.Error())
		return
	}

	if err := e.storage.SetBlockStatus(storeCtx, blockId, domain.BlockStatusStreaming); err != nil {
		zlog.Error().Err(err).Str("block_id", blockId).Msg("Failed to mark block streaming")
		e.finalize(r, journalId, blockId, domain.BlockStatusError, "internal error starting stream")
		return
	}
	r.Broadcast(domain.BlockStatusChangedEvent{
		EventType: domain.BlockStatusChangedEventType,
		JournalId: journalId,
		BlockId:   blockId,
		Status:    domain.BlockStatusStreaming,
	})

	for {
		select {
		case <-ctx.Done():
			e.finalizeCancelled(r, journalId, blockId)
			return
		case fragment, ok := <-fragments:
			// a cancellation may race the channel close; the cancel wins
			if ctx.Err() != nil {
				e.finalizeCancelled(r, journalId, blockId)
				return
			}
			if !ok {
				// upstream closed without an explicit End; the response is
				// whatever has accumulated
				e.finalize(r, journalId, blockId, domain.BlockStatusComplete, "")
				return
			}

			switch f := fragment.(type) {
			case upstream.TextDeltaFragment:
				e.appendDelta(storeCtx, r, journalId, blockId, f.Text)
			case upstream.ToolCallFragment:
				rendered := fmt.Sprintf("\n[tool:%s %s]\n", f.Name, string(f.Input))
				e.appendDelta(storeCtx, r, journalId, blockId, rendered)
			case upstream.ToolResultFragment:
				rendered := fmt.Sprintf("\n[tool result:%s]\n%s\n", f.CallId, f.Output)
				e.appendDelta(storeCtx, r, journalId, blockId, rendered)
			case upstream.ErrorFragment:
				e.finalize(r, journalId, blockId, domain.BlockStatusError, f.Message)
				return
			case upstream.EndFragment:
				e.finalize(r, journalId, blockId, domain.BlockStatusComplete, "")
				return
			default:
				zlog.Warn().
					Str("fragment_type", string(fragment.GetFragmentType())).
					Msg("Ignoring unknown upstream fragment")
			}
		}
	}
}

func (e *Engine) appendDelta(ctx context.Context, r *room.Room, journalId, blockId, delta string) {
	if delta == "" {
		return
	}
	err := e.storage.AppendToBlock(ctx, blockId, delta)
	if err != nil {
		if errors.Is(err, common.ErrTerminal) {
			return
		}
		zlog.Error().Err(err).Str("block_id", blockId).Msg("Failed to append block delta")
		return
	}
	r.Broadcast(domain.BlockContentDeltaEvent{
		EventType: domain.BlockContentDeltaEventType,
		JournalId: journalId,
		BlockId:   blockId,
		Delta:     delta,
	})
}

// finalize performs the single terminal transition for the block and
// announces it. An errMessage, when present, is appended to the content
// first.
func (e *Engine) finalize(r *room.Room, journalId, blockId string, status domain.BlockStatus, errMessage string) {
	ctx := context.Background()

	if errMessage != "" {
		if err := e.storage.AppendToBlock(ctx, blockId, errMessage); err != nil && !errors.Is(err, common.ErrTerminal) {
			zlog.Error().Err(err).Str("block_id", blockId).Msg("Failed to append terminal message")
		}
	}

	if err := e.storage.SetBlockStatus(ctx, blockId, status); err != nil {
		if errors.Is(err, common.ErrBadTransition) {
			// already terminal; the single terminal event has been emitted
			return
		}
		zlog.Error().Err(err).Str("block_id", blockId).Msg("Failed to finalize block")
		return
	}

	r.Broadcast(domain.BlockStatusChangedEvent{
		EventType: domain.BlockStatusChangedEventType,
		JournalId: journalId,
		BlockId:   blockId,
		Status:    status,
	})
}

// finalizeCancelled collapses a user-initiated cancellation to the error
// terminal at the wire level, preceded by a block_cancelled event.
func (e *Engine) finalizeCancelled(r *room.Room, journalId, blockId string) {
	ctx := context.Background()

	if err := e.storage.AppendToBlock(ctx, blockId, "\n[cancelled]"); err != nil && !errors.Is(err, common.ErrTerminal) {
		zlog.Error().Err(err).Str("block_id", blockId).Msg("Failed to append cancellation marker")
	}

	if err := e.storage.SetBlockStatus(ctx, blockId, domain.BlockStatusError); err != nil {
		if !errors.Is(err, common.ErrBadTransition) {
			zlog.Error().Err(err).Str("block_id", blockId).Msg("Failed to finalize cancelled block")
		}
		return
	}

	r.Broadcast(domain.BlockCancelledEvent{
		EventType: domain.BlockCancelledEventType,
		JournalId: journalId,
		BlockId:   blockId,
	})
	r.Broadcast(domain.BlockStatusChangedEvent{
		EventType: domain.BlockStatusChangedEventType,
		JournalId: journalId,
		BlockId:   blockId,
		Status:    domain.BlockStatusError,
	})
}
