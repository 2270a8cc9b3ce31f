// Package feed holds the ordered, append-only feed of completed generations
// and keeps its durable snapshot in step with every append.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/tripph/promptfeed/internal/domain"
	apperrors "github.com/tripph/promptfeed/internal/platform/errors"
)

// PersistObserver is told how long each snapshot write took and whether it failed.
type PersistObserver func(duration time.Duration, err error)

type Option func(*Store)

func WithPersistObserver(fn PersistObserver) Option {
	return func(s *Store) { s.observe = fn }
}

// Store is the in-memory feed plus its snapshot backend. Append and the
// snapshot write run under one mutex, so the durable document always
// reflects a prefix of the in-memory feed.
type Store struct {
	mu      sync.Mutex
	entries []domain.FeedEntry
	nextSeq uint64

	snapshots domain.SnapshotStore
	observe   PersistObserver
}

func NewStore(snapshots domain.SnapshotStore, opts ...Option) *Store {
	s := &Store{
		snapshots: snapshots,
		nextSeq:   1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore loads the persisted feed, keeping only entries that carry images.
// A missing snapshot yields an empty feed. An unreadable snapshot also yields
// an empty feed, and the cause is returned so the caller can log it.
func (s *Store) Restore(ctx context.Context) error {
	data, err := s.snapshots.Load(ctx)
	if errors.Is(err, domain.ErrNoSnapshot) {
		s.reset(nil)
		return nil
	}
	if err != nil {
		s.reset(nil)
		return apperrors.InternalError("failed to load feed snapshot", err)
	}
	if len(data) == 0 {
		s.reset(nil)
		return nil
	}

	var persisted []domain.FeedEntry
	if err := json.Unmarshal(data, &persisted); err != nil {
		s.reset(nil)
		return apperrors.InternalError("failed to decode feed snapshot", err).
			WithField("bytes", len(data))
	}

	kept := make([]domain.FeedEntry, 0, len(persisted))
	for _, e := range persisted {
		if e.Succeeded() {
			kept = append(kept, e)
		}
	}
	s.reset(kept)

	slog.InfoContext(ctx, "Feed restored", "entries", len(kept), "dropped", len(persisted)-len(kept))
	return nil
}

func (s *Store) reset(entries []domain.FeedEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = entries
	s.nextSeq = 1
	for i := range s.entries {
		s.entries[i].Seq = s.nextSeq
		s.nextSeq++
	}
}

// Append adds entry to the end of the feed and rewrites the snapshot. The
// returned entry carries its sequence number. When the snapshot write fails
// the entry still stays in the feed and a persistence error is returned.
func (s *Store) Append(ctx context.Context, entry domain.FeedEntry) (domain.FeedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.Images = slices.Clone(entry.Images)
	entry.Seq = s.nextSeq
	s.nextSeq++
	s.entries = append(s.entries, entry)

	start := time.Now()
	err := s.persistLocked(ctx)
	if s.observe != nil {
		s.observe(time.Since(start), err)
	}
	if err != nil {
		return entry, apperrors.InternalError("failed to persist feed", err).
			WithField("seq", entry.Seq)
	}
	return entry, nil
}

func (s *Store) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(s.entries)
	if err != nil {
		return fmt.Errorf("encode feed: %w", err)
	}
	return s.snapshots.Save(ctx, data)
}

// Snapshot returns a copy of the whole feed in append order.
func (s *Store) Snapshot() []domain.FeedEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.entries)
}

// Replay returns the entries a new subscriber should see, meaning every
// successful entry in order, and the sequence number of the last appended
// entry, failed or not.
func (s *Store) Replay() ([]domain.FeedEntry, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.FeedEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Succeeded() {
			out = append(out, e)
		}
	}
	return out, s.nextSeq - 1
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}
