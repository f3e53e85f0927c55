package srv

import (
	"context"

	"outer/domain"
)

// Storage is the sole writer of authoritative rows. Implementations
// serialize concurrent writers to the same row; readers observe committed
// state only.
type Storage interface {
	domain.JournalStorage
	domain.BlockStorage
	domain.ParticipantStorage
	domain.DelegationStorage

	CheckConnection(ctx context.Context) error
}
