package domain

import (
	"encoding/json"
	"fmt"
)

// EventType represents the different types of server-to-client events.
// Names double as the wire "type" discriminator.
type EventType string

const (
	JournalsEventType                 EventType = "journals"
	JournalCreatedEventType           EventType = "journal_created"
	JournalEventType                  EventType = "journal"
	BlockCreatedEventType             EventType = "block_created"
	BlockContentDeltaEventType        EventType = "block_content_delta"
	BlockStatusChangedEventType       EventType = "block_status_changed"
	BlockForkedEventType              EventType = "block_forked"
	BlockCancelledEventType           EventType = "block_cancelled"
	SubscribedEventType               EventType = "subscribed"
	UnsubscribedEventType             EventType = "unsubscribed"
	ParticipantJoinedEventType        EventType = "participant_joined"
	ParticipantLeftEventType          EventType = "participant_left"
	CursorMovedEventType              EventType = "cursor_moved"
	ParticipantStatusChangedEventType EventType = "participant_status_changed"
	PresenceEventType                 EventType = "presence"
	ParticipantRegisteredEventType    EventType = "participant_registered"
	WorkDelegatedEventType            EventType = "work_delegated"
	WorkAcceptedEventType             EventType = "work_accepted"
	WorkDeclinedEventType             EventType = "work_declined"
	WorkApprovedEventType             EventType = "work_approved"
	WorkRejectedEventType             EventType = "work_rejected"
	WorkCancelledEventType            EventType = "work_cancelled"
	WorkClaimedEventType              EventType = "work_claimed"
	ApprovalRequestedEventType        EventType = "approval_requested"
	WorkQueueEventType                EventType = "work_queue"
	ApprovalQueueEventType            EventType = "approval_queue"
	AvailableParticipantsEventType    EventType = "available_participants"
	AcceptingWorkChangedEventType     EventType = "accepting_work_changed"
	ErrorEventType                    EventType = "error"
)

// Event is an interface representing a server-to-client event.
type Event interface {
	GetEventType() EventType
}

type JournalsEvent struct {
	EventType EventType `json:"type"`
	Journals  []Journal `json:"journals"`
}

func (e JournalsEvent) GetEventType() EventType { return e.EventType }

type JournalCreatedEvent struct {
	EventType EventType `json:"type"`
	Journal   Journal   `json:"journal"`
}

func (e JournalCreatedEvent) GetEventType() EventType { return e.EventType }

type JournalEvent struct {
	EventType EventType `json:"type"`
	Journal   Journal   `json:"journal"`
	Blocks    []Block   `json:"blocks"`
}

func (e JournalEvent) GetEventType() EventType { return e.EventType }

type BlockCreatedEvent struct {
	EventType EventType `json:"type"`
	Block     Block     `json:"block"`
}

func (e BlockCreatedEvent) GetEventType() EventType { return e.EventType }

type BlockContentDeltaEvent struct {
	EventType EventType `json:"type"`
	JournalId string    `json:"journalId"`
	BlockId   string    `json:"blockId"`
	Delta     string    `json:"delta"`
}

func (e BlockContentDeltaEvent) GetEventType() EventType { return e.EventType }

type BlockStatusChangedEvent struct {
	EventType EventType   `json:"type"`
	JournalId string      `json:"journalId"`
	BlockId   string      `json:"blockId"`
	Status    BlockStatus `json:"status"`
}

func (e BlockStatusChangedEvent) GetEventType() EventType { return e.EventType }

type BlockForkedEvent struct {
	EventType     EventType `json:"type"`
	Block         Block     `json:"block"`
	SourceBlockId string    `json:"sourceBlockId"`
}

func (e BlockForkedEvent) GetEventType() EventType { return e.EventType }

type BlockCancelledEvent struct {
	EventType EventType `json:"type"`
	JournalId string    `json:"journalId"`
	BlockId   string    `json:"blockId"`
}

func (e BlockCancelledEvent) GetEventType() EventType { return e.EventType }

type SubscribedEvent struct {
	EventType    EventType  `json:"type"`
	JournalId    string     `json:"journalId"`
	Presence     Presence   `json:"presence"`
	Participants []Presence `json:"participants"`
}

func (e SubscribedEvent) GetEventType() EventType { return e.EventType }

type UnsubscribedEvent struct {
	EventType EventType `json:"type"`
	JournalId string    `json:"journalId"`
}

func (e UnsubscribedEvent) GetEventType() EventType { return e.EventType }

type ParticipantJoinedEvent struct {
	EventType EventType `json:"type"`
	JournalId string    `json:"journalId"`
	Presence  Presence  `json:"presence"`
}

func (e ParticipantJoinedEvent) GetEventType() EventType { return e.EventType }

type ParticipantLeftEvent struct {
	EventType  EventType `json:"type"`
	JournalId  string    `json:"journalId"`
	PresenceId string    `json:"presenceId"`
}

func (e ParticipantLeftEvent) GetEventType() EventType { return e.EventType }

type CursorMovedEvent struct {
	EventType  EventType `json:"type"`
	JournalId  string    `json:"journalId"`
	PresenceId string    `json:"presenceId"`
	Cursor     Cursor    `json:"cursor"`
}

func (e CursorMovedEvent) GetEventType() EventType { return e.EventType }

type ParticipantStatusChangedEvent struct {
	EventType  EventType      `json:"type"`
	JournalId  string         `json:"journalId"`
	PresenceId string         `json:"presenceId"`
	Status     PresenceStatus `json:"status"`
}

func (e ParticipantStatusChangedEvent) GetEventType() EventType { return e.EventType }

type PresenceEvent struct {
	EventType    EventType  `json:"type"`
	JournalId    string     `json:"journalId"`
	Participants []Presence `json:"participants"`
}

func (e PresenceEvent) GetEventType() EventType { return e.EventType }

type ParticipantRegisteredEvent struct {
	EventType   EventType   `json:"type"`
	Participant Participant `json:"participant"`
}

func (e ParticipantRegisteredEvent) GetEventType() EventType { return e.EventType }

type WorkDelegatedEvent struct {
	EventType EventType `json:"type"`
	WorkItem  WorkItem  `json:"workItem"`
}

func (e WorkDelegatedEvent) GetEventType() EventType { return e.EventType }

type WorkAcceptedEvent struct {
	EventType EventType `json:"type"`
	WorkItem  WorkItem  `json:"workItem"`
}

func (e WorkAcceptedEvent) GetEventType() EventType { return e.EventType }

type WorkDeclinedEvent struct {
	EventType EventType `json:"type"`
	WorkItem  WorkItem  `json:"workItem"`
}

func (e WorkDeclinedEvent) GetEventType() EventType { return e.EventType }

type WorkApprovedEvent struct {
	EventType EventType `json:"type"`
	WorkItem  WorkItem  `json:"workItem"`
}

func (e WorkApprovedEvent) GetEventType() EventType { return e.EventType }

type WorkRejectedEvent struct {
	EventType EventType `json:"type"`
	WorkItem  WorkItem  `json:"workItem"`
	Feedback  string    `json:"feedback,omitempty"`
}

func (e WorkRejectedEvent) GetEventType() EventType { return e.EventType }

type WorkCancelledEvent struct {
	EventType EventType `json:"type"`
	WorkItem  WorkItem  `json:"workItem"`
}

func (e WorkCancelledEvent) GetEventType() EventType { return e.EventType }

type WorkClaimedEvent struct {
	EventType EventType `json:"type"`
	WorkItem  WorkItem  `json:"workItem"`
}

func (e WorkClaimedEvent) GetEventType() EventType { return e.EventType }

type ApprovalRequestedEvent struct {
	EventType EventType       `json:"type"`
	Approval  ApprovalRequest `json:"approval"`
	WorkItem  WorkItem        `json:"workItem"`
}

func (e ApprovalRequestedEvent) GetEventType() EventType { return e.EventType }

type WorkQueueEvent struct {
	EventType EventType  `json:"type"`
	WorkItems []WorkItem `json:"workItems"`
}

func (e WorkQueueEvent) GetEventType() EventType { return e.EventType }

type ApprovalQueueEvent struct {
	EventType EventType         `json:"type"`
	Approvals []ApprovalRequest `json:"approvals"`
}

func (e ApprovalQueueEvent) GetEventType() EventType { return e.EventType }

// AvailableParticipant is a registered participant together with its
// remaining work capacity.
type AvailableParticipant struct {
	Participant
	CapacityRemaining int64 `json:"capacityRemaining"`
}

type AvailableParticipantsEvent struct {
	EventType    EventType              `json:"type"`
	JournalId    string                 `json:"journalId"`
	Participants []AvailableParticipant `json:"participants"`
}

func (e AvailableParticipantsEvent) GetEventType() EventType { return e.EventType }

type AcceptingWorkChangedEvent struct {
	EventType     EventType `json:"type"`
	ParticipantId string    `json:"participantId"`
	Accepting     bool      `json:"accepting"`
}

func (e AcceptingWorkChangedEvent) GetEventType() EventType { return e.EventType }

type ErrorEvent struct {
	EventType EventType `json:"type"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
}

func (e ErrorEvent) GetEventType() EventType { return e.EventType }

// UnmarshalEvent unmarshals a JSON byte slice into an Event based on the
// "type" field. Used by Go clients of the wire protocol; the server only
// marshals.
func UnmarshalEvent(data []byte) (Event, error) {
	var probe struct {
		EventType EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}

	switch probe.EventType {
	case JournalsEventType:
		var e JournalsEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case JournalCreatedEventType:
		var e JournalCreatedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case JournalEventType:
		var e JournalEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case BlockCreatedEventType:
		var e BlockCreatedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case BlockContentDeltaEventType:
		var e BlockContentDeltaEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case BlockStatusChangedEventType:
		var e BlockStatusChangedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case BlockForkedEventType:
		var e BlockForkedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case BlockCancelledEventType:
		var e BlockCancelledEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case SubscribedEventType:
		var e SubscribedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case UnsubscribedEventType:
		var e UnsubscribedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case ParticipantJoinedEventType:
		var e ParticipantJoinedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case ParticipantLeftEventType:
		var e ParticipantLeftEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case CursorMovedEventType:
		var e CursorMovedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case ParticipantStatusChangedEventType:
		var e ParticipantStatusChangedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case PresenceEventType:
		var e PresenceEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case ParticipantRegisteredEventType:
		var e ParticipantRegisteredEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case WorkDelegatedEventType:
		var e WorkDelegatedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case WorkAcceptedEventType:
		var e WorkAcceptedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case WorkDeclinedEventType:
		var e WorkDeclinedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case WorkApprovedEventType:
		var e WorkApprovedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case WorkRejectedEventType:
		var e WorkRejectedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case WorkCancelledEventType:
		var e WorkCancelledEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case WorkClaimedEventType:
		var e WorkClaimedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case ApprovalRequestedEventType:
		var e ApprovalRequestedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case WorkQueueEventType:
		var e WorkQueueEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case ApprovalQueueEventType:
		var e ApprovalQueueEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case AvailableParticipantsEventType:
		var e AvailableParticipantsEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case AcceptingWorkChangedEventType:
		var e AcceptingWorkChangedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case ErrorEventType:
		var e ErrorEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown event type: %s", probe.EventType)
	}
}
