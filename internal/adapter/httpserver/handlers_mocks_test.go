package httpserver

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"github.com/tripph/promptfeed/internal/broadcast"
	"github.com/tripph/promptfeed/internal/domain"
	"github.com/tripph/promptfeed/internal/platform/config"
	apperrors "github.com/tripph/promptfeed/internal/platform/errors"
)

// --- Mock implementations ---

type mockPromptService struct {
	mu       sync.Mutex
	requests []domain.PromptRequest
	handleFn func(ctx context.Context, req domain.PromptRequest) (domain.FeedEntry, error)
}

func (m *mockPromptService) Handle(ctx context.Context, req domain.PromptRequest) (domain.FeedEntry, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.handleFn != nil {
		return m.handleFn(ctx, req)
	}
	if req.Prompt == nil || strings.TrimSpace(*req.Prompt) == "" {
		return domain.FeedEntry{}, apperrors.ValidationError("prompt is required")
	}
	return domain.FeedEntry{Prompt: *req.Prompt, Images: []string{"img"}}, nil
}

func (m *mockPromptService) received() []domain.PromptRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.PromptRequest(nil), m.requests...)
}

type fakeReplayer struct {
	entries []domain.FeedEntry
}

func (f *fakeReplayer) Replay() ([]domain.FeedEntry, uint64) {
	return f.entries, uint64(len(f.entries))
}

// --- Test helpers ---

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:             "test",
		Port:               "0",
		PromptRateLimit:    100,
		PromptRateBurst:    100,
		MaxFeedSubscribers: 100,
		WSPingInterval:     time.Minute,
		WSReadLimit:        1 << 20,
	}
}

func newTestServer(t *testing.T, prompts promptService, registry feedRegistry, opts ...Option) *Server {
	t.Helper()
	return newTestServerWithConfig(t, testConfig(), prompts, registry, opts...)
}

func newTestServerWithConfig(t *testing.T, cfg *config.Config, prompts promptService, registry feedRegistry, opts ...Option) *Server {
	t.Helper()
	if prompts == nil {
		prompts = &mockPromptService{}
	}
	if registry == nil {
		r := broadcast.NewRegistry(&fakeReplayer{}, clockwork.NewRealClock(), broadcast.Config{MaxSessions: 1}, nil)
		t.Cleanup(r.Stop)
		registry = r
	}
	return NewServer(cfg, prompts, registry, opts...)
}

// startServer serves srv over a real listener and returns a dialer for its sockets.
func startServer(t *testing.T, srv *Server) func(path string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return func(path string) *websocket.Conn {
		t.Helper()
		url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return conn
	}
}

func readErrorFrame(t *testing.T, conn *websocket.Conn) apperrors.ErrorResponse {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var resp apperrors.ErrorResponse
	require.NoError(t, conn.ReadJSON(&resp))
	return resp
}
