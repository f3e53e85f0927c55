package ws

import (
	"encoding/json"
	"fmt"
)

// MessageType represents the different types of client-to-server
// envelopes. Names double as the wire "type" discriminator.
type MessageType string

const (
	CreateJournalMessageType       MessageType = "create_journal"
	ListJournalsMessageType        MessageType = "list_journals"
	GetJournalMessageType          MessageType = "get_journal"
	SubmitMessageType              MessageType = "submit"
	ForkMessageType                MessageType = "fork"
	RerunMessageType               MessageType = "rerun"
	CancelMessageType              MessageType = "cancel"
	SubscribeMessageType           MessageType = "subscribe"
	UnsubscribeMessageType         MessageType = "unsubscribe"
	CursorMessageType              MessageType = "cursor"
	RegisterParticipantMessageType MessageType = "register_participant"
	DelegateMessageType            MessageType = "delegate"
	AcceptWorkMessageType          MessageType = "accept_work"
	DeclineWorkMessageType         MessageType = "decline_work"
	SubmitWorkMessageType          MessageType = "submit_work"
	ApproveWorkMessageType         MessageType = "approve_work"
	RejectWorkMessageType          MessageType = "reject_work"
	CancelWorkMessageType          MessageType = "cancel_work"
	ClaimWorkMessageType           MessageType = "claim_work"
	GetWorkQueueMessageType        MessageType = "get_work_queue"
	GetApprovalQueueMessageType    MessageType = "get_approval_queue"
	GetParticipantsMessageType     MessageType = "get_participants"
	SetAcceptingWorkMessageType    MessageType = "set_accepting_work"
)

// Message is an interface representing a client-to-server envelope.
type Message interface {
	GetMessageType() MessageType
}

type CreateJournalMessage struct {
	MessageType MessageType `json:"type"`
	Title       string      `json:"title,omitempty"`
}

func (m CreateJournalMessage) GetMessageType() MessageType { return m.MessageType }

type ListJournalsMessage struct {
	MessageType MessageType `json:"type"`
}

func (m ListJournalsMessage) GetMessageType() MessageType { return m.MessageType }

type GetJournalMessage struct {
	MessageType MessageType `json:"type"`
	JournalId   string      `json:"journal_id"`
}

func (m GetJournalMessage) GetMessageType() MessageType { return m.MessageType }

type SubmitMessage struct {
	MessageType MessageType `json:"type"`
	JournalId   string      `json:"journal_id"`
	Content     string      `json:"content"`
	SessionId   string      `json:"session_id,omitempty"`
}

func (m SubmitMessage) GetMessageType() MessageType { return m.MessageType }

type ForkMessage struct {
	MessageType MessageType `json:"type"`
	BlockId     string      `json:"block_id"`
	SessionId   string      `json:"session_id,omitempty"`
}

func (m ForkMessage) GetMessageType() MessageType { return m.MessageType }

type RerunMessage struct {
	MessageType MessageType `json:"type"`
	BlockId     string      `json:"block_id"`
	SessionId   string      `json:"session_id,omitempty"`
}

func (m RerunMessage) GetMessageType() MessageType { return m.MessageType }

type CancelMessage struct {
	MessageType MessageType `json:"type"`
	BlockId     string      `json:"block_id"`
}

func (m CancelMessage) GetMessageType() MessageType { return m.MessageType }

type SubscribeMessage struct {
	MessageType MessageType `json:"type"`
	JournalId   string      `json:"journal_id"`
	Name        string      `json:"name"`
	Kind        string      `json:"kind,omitempty"`
}

func (m SubscribeMessage) GetMessageType() MessageType { return m.MessageType }

type UnsubscribeMessage struct {
	MessageType MessageType `json:"type"`
	JournalId   string      `json:"journal_id"`
}

func (m UnsubscribeMessage) GetMessageType() MessageType { return m.MessageType }

type CursorMessage struct {
	MessageType MessageType `json:"type"`
	JournalId   string      `json:"journal_id"`
	BlockId     string      `json:"block_id,omitempty"`
	Offset      int         `json:"offset,omitempty"`
}

func (m CursorMessage) GetMessageType() MessageType { return m.MessageType }

type RegisterParticipantMessage struct {
	MessageType  MessageType `json:"type"`
	JournalId    string      `json:"journal_id"`
	Name         string      `json:"name"`
	Kind         string      `json:"kind,omitempty"`
	Capabilities []string    `json:"capabilities,omitempty"`
}

func (m RegisterParticipantMessage) GetMessageType() MessageType { return m.MessageType }

type DelegateMessage struct {
	MessageType      MessageType `json:"type"`
	JournalId        string      `json:"journal_id"`
	Description      string      `json:"description"`
	AssigneeId       string      `json:"assignee_id"`
	BlockId          string      `json:"block_id,omitempty"`
	Priority         string      `json:"priority,omitempty"`
	RequiresApproval bool        `json:"requires_approval,omitempty"`
	ApproverId       string      `json:"approver_id,omitempty"`
}

func (m DelegateMessage) GetMessageType() MessageType { return m.MessageType }

type AcceptWorkMessage struct {
	MessageType MessageType `json:"type"`
	WorkItemId  string      `json:"work_item_id"`
}

func (m AcceptWorkMessage) GetMessageType() MessageType { return m.MessageType }

type DeclineWorkMessage struct {
	MessageType MessageType `json:"type"`
	WorkItemId  string      `json:"work_item_id"`
}

func (m DeclineWorkMessage) GetMessageType() MessageType { return m.MessageType }

type SubmitWorkMessage struct {
	MessageType MessageType `json:"type"`
	WorkItemId  string      `json:"work_item_id"`
	Result      string      `json:"result"`
}

func (m SubmitWorkMessage) GetMessageType() MessageType { return m.MessageType }

type ApproveWorkMessage struct {
	MessageType MessageType `json:"type"`
	ApprovalId  string      `json:"approval_id"`
	Feedback    string      `json:"feedback,omitempty"`
}

func (m ApproveWorkMessage) GetMessageType() MessageType { return m.MessageType }

type RejectWorkMessage struct {
	MessageType MessageType `json:"type"`
	ApprovalId  string      `json:"approval_id"`
	Feedback    string      `json:"feedback"`
}

func (m RejectWorkMessage) GetMessageType() MessageType { return m.MessageType }

type CancelWorkMessage struct {
	MessageType MessageType `json:"type"`
	WorkItemId  string      `json:"work_item_id"`
}

func (m CancelWorkMessage) GetMessageType() MessageType { return m.MessageType }

type ClaimWorkMessage struct {
	MessageType MessageType `json:"type"`
	WorkItemId  string      `json:"work_item_id"`
}

func (m ClaimWorkMessage) GetMessageType() MessageType { return m.MessageType }

type GetWorkQueueMessage struct {
	MessageType MessageType `json:"type"`
}

func (m GetWorkQueueMessage) GetMessageType() MessageType { return m.MessageType }

type GetApprovalQueueMessage struct {
	MessageType MessageType `json:"type"`
}

func (m GetApprovalQueueMessage) GetMessageType() MessageType { return m.MessageType }

type GetParticipantsMessage struct {
	MessageType MessageType `json:"type"`
	JournalId   string      `json:"journal_id"`
}

func (m GetParticipantsMessage) GetMessageType() MessageType { return m.MessageType }

type SetAcceptingWorkMessage struct {
	MessageType MessageType `json:"type"`
	Accepting   bool        `json:"accepting"`
}

func (m SetAcceptingWorkMessage) GetMessageType() MessageType { return m.MessageType }

// UnmarshalMessage unmarshals a JSON byte slice into a Message based on
// the "type" field.
func UnmarshalMessage(data []byte) (Message, error) {
	var probe struct {
		MessageType MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch probe.MessageType {
	case CreateJournalMessageType:
		var m CreateJournalMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case ListJournalsMessageType:
		var m ListJournalsMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case GetJournalMessageType:
		var m GetJournalMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case SubmitMessageType:
		var m SubmitMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case ForkMessageType:
		var m ForkMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case RerunMessageType:
		var m RerunMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case CancelMessageType:
		var m CancelMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case SubscribeMessageType:
		var m SubscribeMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case UnsubscribeMessageType:
		var m UnsubscribeMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case CursorMessageType:
		var m CursorMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case RegisterParticipantMessageType:
		var m RegisterParticipantMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case DelegateMessageType:
		var m DelegateMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case AcceptWorkMessageType:
		var m AcceptWorkMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case DeclineWorkMessageType:
		var m DeclineWorkMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case SubmitWorkMessageType:
		var m SubmitWorkMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case ApproveWorkMessageType:
		var m ApproveWorkMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case RejectWorkMessageType:
		var m RejectWorkMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case CancelWorkMessageType:
		var m CancelWorkMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case ClaimWorkMessageType:
		var m ClaimWorkMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case GetWorkQueueMessageType:
		var m GetWorkQueueMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case GetApprovalQueueMessageType:
		var m GetApprovalQueueMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case GetParticipantsMessageType:
		var m GetParticipantsMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case SetAcceptingWorkMessageType:
		var m SetAcceptingWorkMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown message type: %s", probe.MessageType)
	}
}
