package domain

import (
	"context"
	"fmt"
	"time"
)

type ParticipantKind string

const (
	ParticipantKindUser     ParticipantKind = "user"
	ParticipantKindAgent    ParticipantKind = "agent"
	ParticipantKindObserver ParticipantKind = "observer"
)

func StringToParticipantKind(s string) (ParticipantKind, error) {
	switch s {
	case "user", "":
		// default
		return ParticipantKindUser, nil
	case "agent":
		return ParticipantKindAgent, nil
	case "observer":
		return ParticipantKindObserver, nil
	default:
		return "", fmt.Errorf("invalid ParticipantKind: \"%s\"", s)
	}
}

type Capability string

const (
	CapabilityRead     Capability = "read"
	CapabilitySubmit   Capability = "submit"
	CapabilityFork     Capability = "fork"
	CapabilityDelegate Capability = "delegate"
	CapabilityApprove  Capability = "approve"
	CapabilityAdmin    Capability = "admin"
)

var AllCapabilities = []Capability{
	CapabilityRead,
	CapabilitySubmit,
	CapabilityFork,
	CapabilityDelegate,
	CapabilityApprove,
	CapabilityAdmin,
}

func StringToCapability(s string) (Capability, error) {
	for _, c := range AllCapabilities {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("invalid Capability: \"%s\"", s)
}

// Participant is the durable registration of a client identity within a
// journal. It may be referenced by work items long after the client has
// disconnected; presence is tracked separately and never persisted.
type Participant struct {
	Id            string          `json:"id"`
	JournalId     string          `json:"journalId"`
	Name          string          `json:"name"`
	Kind          ParticipantKind `json:"kind"`
	Capabilities  []Capability    `json:"capabilities"`
	AcceptingWork bool            `json:"acceptingWork"`
	WorkCapacity  int             `json:"workCapacity"`
	Registered    time.Time       `json:"registered"`
}

// HasCapability reports whether the participant holds the capability, with
// admin implying all others.
func (p Participant) HasCapability(capability Capability) bool {
	for _, c := range p.Capabilities {
		if c == capability || c == CapabilityAdmin {
			return true
		}
	}
	return false
}

type PresenceStatus string

const (
	PresenceStatusActive PresenceStatus = "active"
	PresenceStatusIdle   PresenceStatus = "idle"
	PresenceStatusAway   PresenceStatus = "away"
)

func StringToPresenceStatus(s string) (PresenceStatus, error) {
	switch s {
	case "active":
		return PresenceStatusActive, nil
	case "idle":
		return PresenceStatusIdle, nil
	case "away":
		return PresenceStatusAway, nil
	default:
		return "", fmt.Errorf("invalid PresenceStatus: \"%s\"", s)
	}
}

// Cursor marks a participant's position within a journal.
type Cursor struct {
	BlockId string `json:"blockId"`
	Offset  int    `json:"offset"`
}

// Presence is the ephemeral in-room record for an attached connection.
// Rebuilt from live connections, never persisted.
type Presence struct {
	Id        string          `json:"id"`
	Name      string          `json:"name"`
	Kind      ParticipantKind `json:"kind"`
	Color     string          `json:"color"`
	Status    PresenceStatus  `json:"status"`
	Cursor    *Cursor         `json:"cursor,omitempty"`
	Joined    time.Time       `json:"joined"`
	JournalId string          `json:"journalId"`
}

// ParticipantStorage defines the interface for registered-participant
// database operations
type ParticipantStorage interface {
	UpsertParticipant(ctx context.Context, participant Participant) error
	GetParticipant(ctx context.Context, participantId string) (Participant, error)
	GetParticipants(ctx context.Context, journalId string) ([]Participant, error)
}
