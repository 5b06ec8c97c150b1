package store

import (
	"context"

	"guestbook/pkg/domain"
)

// Store is the durable message log and the single source of truth for the
// feed. Implementations must serialize concurrent Append calls so that
// assigned ids and timestamps form a stable total order.
type Store interface {
	// Append persists a new message, assigning its id and creation time.
	// The stored message is always created visible.
	Append(ctx context.Context, msg domain.Message) (domain.Message, error)

	// ListRecent returns up to limit messages ordered by created_at
	// descending (ties by id descending), filtered to visible rows when
	// visibleOnly is set.
	ListRecent(ctx context.Context, limit int, visibleOnly bool) ([]domain.Message, error)

	// Get returns a message by id.
	Get(ctx context.Context, id string) (domain.Message, bool, error)

	// Delete permanently removes a message. Deleting an unknown id is a
	// silent no-op.
	Delete(ctx context.Context, id string) error

	// SetVisibility toggles soft suppression of a message and records a
	// moderation audit entry attributed to actor. Unknown ids are a no-op.
	SetVisibility(ctx context.Context, id string, visible bool, actor string) error
}
