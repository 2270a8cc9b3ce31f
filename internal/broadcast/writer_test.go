package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientWriter_WritesBacklogBeforeQueue(t *testing.T) {
	server, client := newTestConnPair(t)

	cw := newClientWriter(server, clockwork.NewRealClock(), time.Minute, time.Minute, [][]byte{[]byte("h1"), []byte("h2")})
	require.True(t, cw.offer([]byte("live")))
	cw.start()
	t.Cleanup(cw.stop)

	for _, want := range []string{"h1", "h2", "live"} {
		_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := client.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, want, string(msg))
	}
}

func TestClientWriter_OfferFailsWhenFull(t *testing.T) {
	server, _ := newTestConnPair(t)

	// not started, so nothing drains the queue
	cw := newClientWriter(server, clockwork.NewRealClock(), time.Minute, time.Minute, nil)
	for range messageBufferSize {
		require.True(t, cw.offer([]byte("x")))
	}

	assert.False(t, cw.offer([]byte("overflow")))
}

func TestClientWriter_PingsOnInterval(t *testing.T) {
	fakeClock := clockwork.NewFakeClock()
	server, client := newTestConnPair(t)

	pinged := make(chan struct{}, 1)
	client.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	cw := newClientWriter(server, fakeClock, 15*time.Second, time.Minute, nil)
	cw.start()
	t.Cleanup(cw.stop)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, fakeClock.BlockUntilContext(ctx, 1))
	fakeClock.Advance(15 * time.Second)

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping after interval")
	}
}

func TestClientWriter_WriteFailureReportsOnce(t *testing.T) {
	server, _ := newTestConnPair(t)

	var calls int
	var mu sync.Mutex
	failed := make(chan struct{})
	cw := newClientWriter(server, clockwork.NewRealClock(), time.Minute, time.Minute, nil)
	cw.onFailure = func(error) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(failed)
	}

	// a closed connection makes the next write fail
	require.NoError(t, server.Close())
	cw.start()
	t.Cleanup(cw.stop)
	require.True(t, cw.offer([]byte("x")))

	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("write failure not reported")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestClientWriter_StopIdempotent(t *testing.T) {
	server, _ := newTestConnPair(t)
	cw := newClientWriter(server, clockwork.NewRealClock(), time.Minute, time.Minute, nil)
	cw.start()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cw.stop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("concurrent stop calls deadlocked")
	}
	cw.stopGraceful("again")
}
