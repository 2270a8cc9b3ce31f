package broadcast

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/tripph/promptfeed/internal/adapter/metrics"
	"github.com/tripph/promptfeed/internal/domain"
)

const shutdownReason = "server shutting down"

// Replayer supplies the history a new session starts with: the entries to
// send and the sequence number of the newest entry they account for.
type Replayer interface {
	Replay() ([]domain.FeedEntry, uint64)
}

type Config struct {
	MaxSessions  int
	PingInterval time.Duration
	PongWait     time.Duration
}

// Session is one live feed subscriber.
type Session struct {
	ID string

	writer *clientWriter
	// replayedThrough is the highest sequence number covered by the replay.
	replayedThrough uint64
}

// Registry tracks live feed sessions and fans entries out to them.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	stopped  bool

	feed    Replayer
	clock   clockwork.Clock
	cfg     Config
	metrics *metrics.WebSocketMetrics
}

// NewRegistry creates a registry replaying history from feed. m may be nil.
func NewRegistry(feed Replayer, clock clockwork.Clock, cfg Config, m *metrics.WebSocketMetrics) *Registry {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 15 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = cfg.PingInterval + 15*time.Second
	}
	return &Registry{
		sessions: make(map[string]*Session),
		feed:     feed,
		clock:    clock,
		cfg:      cfg,
		metrics:  m,
	}
}

// Subscribe registers conn as a feed session. The session first receives
// every replayable entry, then live entries, with no gap and no entry twice.
// On error conn is left open for the caller to close.
func (r *Registry) Subscribe(conn *websocket.Conn) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return nil, domain.ErrRegistryStopped
	}
	if r.cfg.MaxSessions > 0 && len(r.sessions) >= r.cfg.MaxSessions {
		return nil, domain.ErrTooManySessions
	}

	// Appends are followed by a Broadcast, which needs the read lock. Taking
	// the replay under the write lock pins the boundary between the two.
	entries, lastSeq := r.feed.Replay()
	backlog := make([][]byte, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		backlog = append(backlog, data)
	}

	s := &Session{
		ID:              uuid.NewString(),
		replayedThrough: lastSeq,
	}
	s.writer = newClientWriter(conn, r.clock, r.cfg.PingInterval, r.cfg.PongWait, backlog)
	s.writer.onFailure = func(err error) {
		slog.Debug("Feed session write failed", "session_id", s.ID, "error", err)
		r.Unsubscribe(s)
	}
	if r.metrics != nil {
		s.writer.onWrite = r.metrics.MessagesDelivered.Inc
	}

	r.sessions[s.ID] = s
	s.writer.start()

	if r.metrics != nil {
		r.metrics.FeedSessions.Set(float64(len(r.sessions)))
	}
	slog.Info("Feed session subscribed", "session_id", s.ID, "replayed", len(entries), "sessions", len(r.sessions))
	return s, nil
}

// Unsubscribe removes s and closes its connection. Calling it again, or for
// a session already dropped by Broadcast, is a no-op.
func (r *Registry) Unsubscribe(s *Session) {
	if s == nil {
		return
	}

	r.mu.Lock()
	_, live := r.sessions[s.ID]
	if live {
		delete(r.sessions, s.ID)
		if r.metrics != nil {
			r.metrics.FeedSessions.Set(float64(len(r.sessions)))
		}
	}
	remaining := len(r.sessions)
	r.mu.Unlock()

	s.writer.stop()

	if live {
		slog.Info("Feed session unsubscribed", "session_id", s.ID, "sessions", remaining)
	}
}

// Broadcast offers entry to every live session without blocking. Sessions
// whose queue is full are unsubscribed once the fan-out is done. Sessions
// whose replay already contained entry are skipped.
func (r *Registry) Broadcast(entry domain.FeedEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		slog.Error("Failed to marshal feed entry", "error", err)
		return
	}

	var slow []*Session

	r.mu.RLock()
	for _, s := range r.sessions {
		if entry.Seq != 0 && entry.Seq <= s.replayedThrough {
			continue
		}
		if !s.writer.offer(data) {
			slow = append(slow, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range slow {
		slog.Warn("Disconnecting slow feed session", "session_id", s.ID)
		if r.metrics != nil {
			r.metrics.SlowSessionsEvicted.Inc()
		}
		r.Unsubscribe(s)
	}
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Stop closes every session with a normal-closure frame and rejects new ones.
func (r *Registry) Stop() {
	r.mu.Lock()
	r.stopped = true
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	if r.metrics != nil {
		r.metrics.FeedSessions.Set(0)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.writer.stopGraceful(shutdownReason)
		}()
	}
	wg.Wait()

	slog.Info("Feed registry stopped", "closed_sessions", len(sessions))
}

// IsCapacityError reports whether err means the registry refused a session.
func IsCapacityError(err error) bool {
	return errors.Is(err, domain.ErrTooManySessions) || errors.Is(err, domain.ErrRegistryStopped)
}
