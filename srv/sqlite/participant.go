package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"outer/common"
	"outer/domain"
)

var participantTracer = otel.Tracer("outer/srv/sqlite")

// Ensure Storage implements ParticipantStorage interface
var _ domain.ParticipantStorage = (*Storage)(nil)

// UpsertParticipant inserts or updates a registered Participant
func (s *Storage) UpsertParticipant(ctx context.Context, participant domain.Participant) error {
	ctx, span := participantTracer.Start(ctx, "Storage.UpsertParticipant")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("journal_id", participant.JournalId),
		attribute.String("participant_id", participant.Id),
	)

	capabilitiesJSON, err := json.Marshal(participant.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to marshal capabilities: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO participants (
			id, journal_id, name, kind, capabilities, accepting_work, work_capacity, registered
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		participant.Id, participant.JournalId, participant.Name, participant.Kind,
		capabilitiesJSON, participant.AcceptingWork, participant.WorkCapacity,
		participant.Registered.UTC())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to upsert participant: %w", err)
	}

	return nil
}

// GetParticipant retrieves a single registered Participant
func (s *Storage) GetParticipant(ctx context.Context, participantId string) (domain.Participant, error) {
	ctx, span := participantTracer.Start(ctx, "Storage.GetParticipant")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("participant_id", participantId),
	)

	var participant domain.Participant
	var capabilitiesJSON []byte

	query := `SELECT id, journal_id, name, kind, capabilities, accepting_work, work_capacity, registered
			  FROM participants WHERE id = ?`
	err := s.db.QueryRowContext(ctx, query, participantId).Scan(
		&participant.Id, &participant.JournalId, &participant.Name, &participant.Kind,
		&capabilitiesJSON, &participant.AcceptingWork, &participant.WorkCapacity,
		&participant.Registered)
	if err != nil {
		if err == sql.ErrNoRows {
			span.RecordError(common.ErrNotFound)
			span.SetStatus(codes.Error, common.ErrNotFound.Error())
			return domain.Participant{}, common.ErrNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Participant{}, fmt.Errorf("failed to get participant: %w", err)
	}

	if err := json.Unmarshal(capabilitiesJSON, &participant.Capabilities); err != nil {
		return domain.Participant{}, fmt.Errorf("failed to unmarshal capabilities: %w", err)
	}

	return participant, nil
}

// GetParticipants retrieves the registered Participants of a journal
func (s *Storage) GetParticipants(ctx context.Context, journalId string) ([]domain.Participant, error) {
	ctx, span := participantTracer.Start(ctx, "Storage.GetParticipants")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("journal_id", journalId),
	)

	query := `SELECT id, journal_id, name, kind, capabilities, accepting_work, work_capacity, registered
			  FROM participants WHERE journal_id = ? ORDER BY registered ASC`
	rows, err := s.db.QueryContext(ctx, query, journalId)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	var participants []domain.Participant
	for rows.Next() {
		var participant domain.Participant
		var capabilitiesJSON []byte
		err := rows.Scan(
			&participant.Id, &participant.JournalId, &participant.Name, &participant.Kind,
			&capabilitiesJSON, &participant.AcceptingWork, &participant.WorkCapacity,
			&participant.Registered)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan participant row: %w", err)
		}

		if err := json.Unmarshal(capabilitiesJSON, &participant.Capabilities); err != nil {
			return nil, fmt.Errorf("failed to unmarshal capabilities: %w", err)
		}

		participants = append(participants, participant)
	}

	if err = rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("error iterating over participant rows: %w", err)
	}

	return participants, nil
}
