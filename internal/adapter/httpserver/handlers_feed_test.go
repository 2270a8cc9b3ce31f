package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripph/promptfeed/internal/broadcast"
	"github.com/tripph/promptfeed/internal/domain"
)

func readEntry(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	return got
}

func TestFeedSocket_ReplaysThenStreams(t *testing.T) {
	replayer := &fakeReplayer{entries: []domain.FeedEntry{
		{Seq: 1, Username: "u", Prompt: "a cat", Images: []string{"img"}, Timestamp: "2022-06-12T10:00:00"},
	}}
	registry := broadcast.NewRegistry(replayer, clockwork.NewRealClock(), broadcast.Config{MaxSessions: 10}, nil)
	t.Cleanup(registry.Stop)
	dial := startServer(t, newTestServer(t, nil, registry))

	conn := dial("/feed")

	first := readEntry(t, conn)
	assert.Equal(t, "a cat", first["prompt"])
	assert.Equal(t, "2022-06-12T10:00:00", first["ts"])
	assert.NotContains(t, first, "seq")

	require.Eventually(t, func() bool { return registry.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	registry.Broadcast(domain.FeedEntry{Seq: 2, Prompt: "a dog", Images: []string{}, Timestamp: "2022-06-12T10:00:01"})

	second := readEntry(t, conn)
	assert.Equal(t, "a dog", second["prompt"])
	assert.Equal(t, []any{}, second["images"])
	assert.NotContains(t, second, "username")
}

func TestFeedSocket_InboundFramesIgnored(t *testing.T) {
	registry := broadcast.NewRegistry(&fakeReplayer{}, clockwork.NewRealClock(), broadcast.Config{MaxSessions: 10}, nil)
	t.Cleanup(registry.Stop)
	dial := startServer(t, newTestServer(t, nil, registry))

	conn := dial("/feed")
	require.Eventually(t, func() bool { return registry.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"prompt":"ignored"}`)))
	registry.Broadcast(domain.FeedEntry{Seq: 1, Prompt: "live", Images: []string{"img"}})

	assert.Equal(t, "live", readEntry(t, conn)["prompt"])
	assert.Equal(t, 1, registry.Count())
}

func TestFeedSocket_DisconnectUnsubscribes(t *testing.T) {
	registry := broadcast.NewRegistry(&fakeReplayer{}, clockwork.NewRealClock(), broadcast.Config{MaxSessions: 10}, nil)
	t.Cleanup(registry.Stop)
	dial := startServer(t, newTestServer(t, nil, registry))

	conn := dial("/feed")
	require.Eventually(t, func() bool { return registry.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return registry.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestFeedSocket_FullRegistryRefuses(t *testing.T) {
	registry := broadcast.NewRegistry(&fakeReplayer{}, clockwork.NewRealClock(), broadcast.Config{MaxSessions: 1}, nil)
	t.Cleanup(registry.Stop)
	dial := startServer(t, newTestServer(t, nil, registry))

	dial("/feed")
	require.Eventually(t, func() bool { return registry.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	second := dial("/feed")
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := second.ReadMessage()

	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseTryAgainLater, closeErr.Code)
	assert.Equal(t, 1, registry.Count())
}

func TestFeedSocket_RejectsForeignOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.AppEnv = "production"
	srv := newTestServerWithConfig(t, cfg, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/feed"
	_, resp, err := websocket.DefaultDialer.Dial(url, header)

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
