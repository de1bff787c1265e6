package conversation

import (
	"context"
	"time"

	"github.com/ent0n29/sentinel/internal/safety"
)

// Store holds a bounded, ordered window of recent messages per user.
type Store interface {
	// Append records msg for userID and returns the post-append window,
	// oldest first. The append and the snapshot are one atomic step per user,
	// and the returned slice is owned by the caller.
	Append(ctx context.Context, userID string, msg safety.Message) ([]safety.Message, error)

	// EvictIdle drops conversations with no activity since olderThan and
	// reports how many were removed.
	EvictIdle(ctx context.Context, olderThan time.Time) (int, error)

	Close() error
}

const DefaultWindow = 5

// Pinger is implemented by networked stores so readiness probes can check
// the backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Counter is implemented by stores that track how many conversations they
// hold.
type Counter interface {
	Conversations() int
}
