package ws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	zlog "github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"

	"outer/common"
	"outer/delegation"
	"outer/domain"
	"outer/room"
)

// handleMessage dispatches one decoded client envelope. Every command
// produces at minimum an acknowledgement event or an error event.
func (s *Server) handleMessage(ctx context.Context, conn *Conn, message Message) {
	switch m := message.(type) {
	case CreateJournalMessage:
		s.handleCreateJournal(ctx, conn, m)
	case ListJournalsMessage:
		s.handleListJournals(ctx, conn)
	case GetJournalMessage:
		s.handleGetJournal(ctx, conn, m)
	case SubmitMessage:
		s.handleSubmit(ctx, conn, m)
	case ForkMessage:
		s.handleFork(ctx, conn, m)
	case RerunMessage:
		s.handleRerun(ctx, conn, m)
	case CancelMessage:
		s.handleCancel(ctx, conn, m)
	case SubscribeMessage:
		s.handleSubscribe(ctx, conn, m)
	case UnsubscribeMessage:
		s.handleUnsubscribe(conn, m)
	case CursorMessage:
		s.handleCursor(conn, m)
	case RegisterParticipantMessage:
		s.handleRegisterParticipant(ctx, conn, m)
	case DelegateMessage:
		s.handleDelegate(ctx, conn, m)
	case AcceptWorkMessage:
		s.withParticipant(conn, func(participantId string) {
			workItem, err := s.delegation.Accept(ctx, m.WorkItemId, participantId)
			s.ackWork(conn, domain.WorkAcceptedEvent{EventType: domain.WorkAcceptedEventType, WorkItem: workItem}, err)
		})
	case DeclineWorkMessage:
		s.withParticipant(conn, func(participantId string) {
			workItem, err := s.delegation.Decline(ctx, m.WorkItemId, participantId)
			s.ackWork(conn, domain.WorkDeclinedEvent{EventType: domain.WorkDeclinedEventType, WorkItem: workItem}, err)
		})
	case SubmitWorkMessage:
		s.handleSubmitWork(ctx, conn, m)
	case ApproveWorkMessage:
		s.withParticipant(conn, func(participantId string) {
			var feedback *string
			if m.Feedback != "" {
				feedback = &m.Feedback
			}
			workItem, err := s.delegation.Approve(ctx, m.ApprovalId, participantId, feedback)
			s.ackWork(conn, domain.WorkApprovedEvent{EventType: domain.WorkApprovedEventType, WorkItem: workItem}, err)
		})
	case RejectWorkMessage:
		s.handleRejectWork(ctx, conn, m)
	case CancelWorkMessage:
		s.withParticipant(conn, func(participantId string) {
			workItem, err := s.delegation.CancelWork(ctx, m.WorkItemId, participantId)
			s.ackWork(conn, domain.WorkCancelledEvent{EventType: domain.WorkCancelledEventType, WorkItem: workItem}, err)
		})
	case ClaimWorkMessage:
		s.withParticipant(conn, func(participantId string) {
			workItem, err := s.delegation.Claim(ctx, m.WorkItemId, participantId)
			s.ackWork(conn, domain.WorkClaimedEvent{EventType: domain.WorkClaimedEventType, WorkItem: workItem}, err)
		})
	case GetWorkQueueMessage:
		s.withParticipant(conn, func(participantId string) {
			workItems, err := s.delegation.WorkQueueFor(ctx, participantId)
			if err != nil {
				s.sendError(conn, err)
				return
			}
			conn.Send(domain.WorkQueueEvent{EventType: domain.WorkQueueEventType, WorkItems: workItems})
		})
	case GetApprovalQueueMessage:
		s.withParticipant(conn, func(participantId string) {
			approvals, err := s.delegation.ApprovalQueueFor(ctx, participantId)
			if err != nil {
				s.sendError(conn, err)
				return
			}
			conn.Send(domain.ApprovalQueueEvent{EventType: domain.ApprovalQueueEventType, Approvals: approvals})
		})
	case GetParticipantsMessage:
		s.handleGetParticipants(ctx, conn, m)
	case SetAcceptingWorkMessage:
		s.withParticipant(conn, func(participantId string) {
			participant, err := s.delegation.SetAcceptingWork(ctx, participantId, m.Accepting)
			if err != nil {
				s.sendError(conn, err)
				return
			}
			conn.Send(domain.AcceptingWorkChangedEvent{
				EventType:     domain.AcceptingWorkChangedEventType,
				ParticipantId: participant.Id,
				Accepting:     participant.AcceptingWork,
			})
		})
	default:
		s.sendBadRequest(conn, "unsupported message type")
	}
}

func (s *Server) handleCreateJournal(ctx context.Context, conn *Conn, m CreateJournalMessage) {
	title := strings.TrimSpace(m.Title)
	if title == "" {
		title = "Untitled"
	}

	now := time.Now().UTC()
	journal := domain.Journal{
		Id:      "jrnl_" + ksuid.New().String(),
		Title:   title,
		Created: now,
		Updated: now,
	}
	if err := s.storage.CreateJournal(ctx, journal); err != nil {
		s.sendError(conn, err)
		return
	}

	conn.Send(domain.JournalCreatedEvent{EventType: domain.JournalCreatedEventType, Journal: journal})
}

func (s *Server) handleListJournals(ctx context.Context, conn *Conn) {
	journals, err := s.storage.ListJournals(ctx)
	if err != nil {
		s.sendError(conn, err)
		return
	}
	if journals == nil {
		journals = []domain.Journal{}
	}
	conn.Send(domain.JournalsEvent{EventType: domain.JournalsEventType, Journals: journals})
}

func (s *Server) handleGetJournal(ctx context.Context, conn *Conn, m GetJournalMessage) {
	if m.JournalId == "" {
		s.sendBadRequest(conn, "journal_id is required")
		return
	}

	journal, err := s.storage.GetJournal(ctx, m.JournalId)
	if err != nil {
		s.sendError(conn, err)
		return
	}
	blocks, err := s.storage.GetBlocks(ctx, m.JournalId)
	if err != nil {
		s.sendError(conn, err)
		return
	}
	if blocks == nil {
		blocks = []domain.Block{}
	}

	conn.Send(domain.JournalEvent{EventType: domain.JournalEventType, Journal: journal, Blocks: blocks})
}

func (s *Server) handleSubmit(ctx context.Context, conn *Conn, m SubmitMessage) {
	if m.JournalId == "" || m.Content == "" {
		s.sendBadRequest(conn, "journal_id and content are required")
		return
	}
	if _, err := s.storage.GetJournal(ctx, m.JournalId); err != nil {
		s.sendError(conn, err)
		return
	}

	// the submitter observes its own stream even without an explicit
	// subscribe
	s.ensureAttached(conn, m.JournalId)

	if _, _, err := s.engine.Submit(ctx, m.JournalId, m.Content); err != nil {
		s.sendError(conn, err)
		return
	}
	// block_created events double as the acknowledgement
}

func (s *Server) handleFork(ctx context.Context, conn *Conn, m ForkMessage) {
	if m.BlockId == "" {
		s.sendBadRequest(conn, "block_id is required")
		return
	}

	block, err := s.storage.GetBlock(ctx, m.BlockId)
	if err != nil {
		s.sendError(conn, err)
		return
	}
	s.ensureAttached(conn, block.JournalId)

	if _, err := s.engine.Fork(ctx, m.BlockId); err != nil {
		s.sendError(conn, err)
		return
	}
	// the block_forked broadcast doubles as the acknowledgement
}

func (s *Server) handleRerun(ctx context.Context, conn *Conn, m RerunMessage) {
	if m.BlockId == "" {
		s.sendBadRequest(conn, "block_id is required")
		return
	}

	block, err := s.storage.GetBlock(ctx, m.BlockId)
	if err != nil {
		s.sendError(conn, err)
		return
	}
	s.ensureAttached(conn, block.JournalId)

	if _, err := s.engine.Rerun(ctx, m.BlockId); err != nil {
		s.sendError(conn, err)
		return
	}
}

func (s *Server) handleCancel(ctx context.Context, conn *Conn, m CancelMessage) {
	if m.BlockId == "" {
		s.sendBadRequest(conn, "block_id is required")
		return
	}

	block, err := s.storage.GetBlock(ctx, m.BlockId)
	if err != nil {
		s.sendError(conn, err)
		return
	}

	if !s.engine.Cancel(m.BlockId, block.JournalId) {
		s.sendError(conn, fmt.Errorf("no active stream for block %s: %w", m.BlockId, common.ErrBadTransition))
		return
	}
	// terminal events arrive via the room broadcast
}

func (s *Server) handleSubscribe(ctx context.Context, conn *Conn, m SubscribeMessage) {
	if m.JournalId == "" {
		s.sendBadRequest(conn, "journal_id is required")
		return
	}
	kind, err := domain.StringToParticipantKind(m.Kind)
	if err != nil {
		s.sendBadRequest(conn, err.Error())
		return
	}
	if _, err := s.storage.GetJournal(ctx, m.JournalId); err != nil {
		s.sendError(conn, err)
		return
	}

	r := s.rooms.Get(m.JournalId)
	if conn.isSubscribed(m.JournalId) {
		// idempotent: re-send the current snapshot
		conn.Send(domain.PresenceEvent{
			EventType:    domain.PresenceEventType,
			JournalId:    m.JournalId,
			Participants: r.Presences(),
		})
		return
	}

	name := m.Name
	if name == "" {
		name = "anonymous"
	}
	presence, snapshot := r.Attach(conn, room.PresenceHint{Name: name, Kind: kind})
	conn.trackSubscription(m.JournalId, presence.Id)

	conn.Send(domain.SubscribedEvent{
		EventType:    domain.SubscribedEventType,
		JournalId:    m.JournalId,
		Presence:     presence,
		Participants: snapshot,
	})
}

func (s *Server) handleUnsubscribe(conn *Conn, m UnsubscribeMessage) {
	if !conn.forgetSubscription(m.JournalId) {
		s.sendBadRequest(conn, "not subscribed to journal: "+m.JournalId)
		return
	}
	if r, ok := s.rooms.Lookup(m.JournalId); ok {
		r.Detach(conn.id)
	}
	conn.Send(domain.UnsubscribedEvent{EventType: domain.UnsubscribedEventType, JournalId: m.JournalId})
}

func (s *Server) handleCursor(conn *Conn, m CursorMessage) {
	if !conn.isSubscribed(m.JournalId) {
		s.sendBadRequest(conn, "not subscribed to journal: "+m.JournalId)
		return
	}
	if r, ok := s.rooms.Lookup(m.JournalId); ok {
		r.UpdateCursor(conn.id, domain.Cursor{BlockId: m.BlockId, Offset: m.Offset})
	}
	// the cursor_moved broadcast includes the caller and doubles as the ack
}

var defaultCapabilities = []domain.Capability{
	domain.CapabilityRead,
	domain.CapabilitySubmit,
	domain.CapabilityFork,
	domain.CapabilityDelegate,
	domain.CapabilityApprove,
}

func (s *Server) handleRegisterParticipant(ctx context.Context, conn *Conn, m RegisterParticipantMessage) {
	if m.JournalId == "" || m.Name == "" {
		s.sendBadRequest(conn, "journal_id and name are required")
		return
	}
	kind, err := domain.StringToParticipantKind(m.Kind)
	if err != nil {
		s.sendBadRequest(conn, err.Error())
		return
	}
	if _, err := s.storage.GetJournal(ctx, m.JournalId); err != nil {
		s.sendError(conn, err)
		return
	}

	capabilities := defaultCapabilities
	if len(m.Capabilities) > 0 {
		capabilities = make([]domain.Capability, 0, len(m.Capabilities))
		for _, raw := range m.Capabilities {
			capability, err := domain.StringToCapability(raw)
			if err != nil {
				s.sendBadRequest(conn, err.Error())
				return
			}
			capabilities = append(capabilities, capability)
		}
	}

	participant := domain.Participant{
		Id:            "prtc_" + ksuid.New().String(),
		JournalId:     m.JournalId,
		Name:          m.Name,
		Kind:          kind,
		Capabilities:  capabilities,
		AcceptingWork: true,
		WorkCapacity:  0, // unbounded
		Registered:    time.Now().UTC(),
	}
	if err := s.storage.UpsertParticipant(ctx, participant); err != nil {
		s.sendError(conn, err)
		return
	}

	conn.setParticipantId(participant.Id)
	s.registerConn(participant.Id, conn)

	conn.Send(domain.ParticipantRegisteredEvent{
		EventType:   domain.ParticipantRegisteredEventType,
		Participant: participant,
	})
}

func (s *Server) handleDelegate(ctx context.Context, conn *Conn, m DelegateMessage) {
	s.withParticipant(conn, func(participantId string) {
		if m.JournalId == "" || m.Description == "" {
			s.sendBadRequest(conn, "journal_id and description are required")
			return
		}
		priority, err := domain.StringToWorkItemPriority(m.Priority)
		if err != nil {
			s.sendBadRequest(conn, err.Error())
			return
		}

		opts := delegation.DelegateOptions{
			Priority:         priority,
			RequiresApproval: m.RequiresApproval,
		}
		if m.BlockId != "" {
			opts.BlockId = &m.BlockId
		}
		if m.ApproverId != "" {
			opts.ApproverId = &m.ApproverId
		}

		workItem, err := s.delegation.Delegate(ctx, m.JournalId, m.Description, participantId, m.AssigneeId, opts)
		if err != nil {
			s.sendError(conn, err)
			return
		}
		conn.Send(domain.WorkDelegatedEvent{EventType: domain.WorkDelegatedEventType, WorkItem: workItem})
	})
}

func (s *Server) handleSubmitWork(ctx context.Context, conn *Conn, m SubmitWorkMessage) {
	s.withParticipant(conn, func(participantId string) {
		if m.Result == "" {
			s.sendBadRequest(conn, "result is required")
			return
		}
		workItem, approval, err := s.delegation.SubmitWork(ctx, m.WorkItemId, participantId, m.Result)
		if err != nil {
			s.sendError(conn, err)
			return
		}
		if approval != nil {
			conn.Send(domain.ApprovalRequestedEvent{
				EventType: domain.ApprovalRequestedEventType,
				Approval:  *approval,
				WorkItem:  workItem,
			})
		} else {
			conn.Send(domain.WorkApprovedEvent{EventType: domain.WorkApprovedEventType, WorkItem: workItem})
		}
	})
}

func (s *Server) handleRejectWork(ctx context.Context, conn *Conn, m RejectWorkMessage) {
	s.withParticipant(conn, func(participantId string) {
		if strings.TrimSpace(m.Feedback) == "" {
			s.sendBadRequest(conn, "feedback is required to reject")
			return
		}
		workItem, err := s.delegation.Reject(ctx, m.ApprovalId, participantId, m.Feedback)
		s.ackWork(conn, domain.WorkRejectedEvent{
			EventType: domain.WorkRejectedEventType,
			WorkItem:  workItem,
			Feedback:  m.Feedback,
		}, err)
	})
}

func (s *Server) handleGetParticipants(ctx context.Context, conn *Conn, m GetParticipantsMessage) {
	if m.JournalId == "" {
		s.sendBadRequest(conn, "journal_id is required")
		return
	}

	var presences []domain.Presence
	if r, ok := s.rooms.Lookup(m.JournalId); ok {
		presences = r.Presences()
	}
	if presences == nil {
		presences = []domain.Presence{}
	}
	conn.Send(domain.PresenceEvent{
		EventType:    domain.PresenceEventType,
		JournalId:    m.JournalId,
		Participants: presences,
	})

	available, err := s.delegation.AvailableParticipants(ctx, m.JournalId)
	if err != nil {
		s.sendError(conn, err)
		return
	}
	conn.Send(domain.AvailableParticipantsEvent{
		EventType:    domain.AvailableParticipantsEventType,
		JournalId:    m.JournalId,
		Participants: available,
	})
}

// ensureAttached joins the connection to the journal's room if it isn't a
// member yet, so that stream events reach the caller.
func (s *Server) ensureAttached(conn *Conn, journalId string) {
	if conn.isSubscribed(journalId) {
		return
	}
	r := s.rooms.Get(journalId)
	presence, _ := r.Attach(conn, room.PresenceHint{Name: "anonymous", Kind: domain.ParticipantKindUser})
	conn.trackSubscription(journalId, presence.Id)
}

// withParticipant runs the action with the connection's registered
// participant id, or rejects the command as unauthorized.
func (s *Server) withParticipant(conn *Conn, action func(participantId string)) {
	participantId := conn.getParticipantId()
	if participantId == "" {
		s.sendError(conn, fmt.Errorf("participant registration required: %w", common.ErrUnauthorized))
		return
	}
	action(participantId)
}

func (s *Server) ackWork(conn *Conn, event domain.Event, err error) {
	if err != nil {
		s.sendError(conn, err)
		return
	}
	conn.Send(event)
}

func (s *Server) sendBadRequest(conn *Conn, message string) {
	conn.Send(domain.ErrorEvent{EventType: domain.ErrorEventType, Message: message})
}

// sendError converts a typed failure into a wire error envelope with a
// human-readable message; unexpected errors surface generically with the
// detail stashed in the logs only.
func (s *Server) sendError(conn *Conn, err error) {
	var message string
	details := err.Error()

	switch {
	case errors.Is(err, common.ErrNotFound):
		message = "not found"
	case errors.Is(err, common.ErrUnauthorized):
		message = "unauthorized"
	case errors.Is(err, common.ErrNotAcceptingWork):
		message = "assignee is not accepting work"
	case errors.Is(err, common.ErrBadTransition):
		message = "invalid state transition"
	case errors.Is(err, common.ErrConflict):
		message = "conflicting update, retry"
	case errors.Is(err, common.ErrUpstreamFailure):
		message = "upstream failure"
	default:
		zlog.Error().Err(err).Msg("Internal error handling command")
		message = "internal error"
		details = ""
	}

	conn.Send(domain.ErrorEvent{EventType: domain.ErrorEventType, Message: message, Details: details})
}
