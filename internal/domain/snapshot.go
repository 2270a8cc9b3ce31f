package domain

import "context"

// SnapshotStore holds the durable copy of the whole feed as a single document.
// Save replaces the previous document atomically; Load returns ErrNoSnapshot
// when nothing has been saved yet.
type SnapshotStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// Pinger is implemented by snapshot backends that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}
