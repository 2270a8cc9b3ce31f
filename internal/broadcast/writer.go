package broadcast

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	writeDeadline     = 5 * time.Second
	messageBufferSize = 16
)

// clientWriter owns all writes to one connection. Reads stay with the caller,
// which must keep reading so that pong and close frames are processed.
type clientWriter struct {
	connection   *websocket.Conn
	clock        clockwork.Clock
	pingInterval time.Duration
	pongWait     time.Duration

	backlog     [][]byte
	sendChannel chan []byte
	doneChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	// onWrite runs after each delivered frame; onFailure once after a failed write.
	onWrite   func()
	onFailure func(error)
}

func newClientWriter(connection *websocket.Conn, clock clockwork.Clock, pingInterval, pongWait time.Duration, backlog [][]byte) *clientWriter {
	return &clientWriter{
		connection:   connection,
		clock:        clock,
		pingInterval: pingInterval,
		pongWait:     pongWait,
		backlog:      backlog,
		sendChannel:  make(chan []byte, messageBufferSize),
		doneChannel:  make(chan struct{}),
	}
}

func (cw *clientWriter) start() {
	cw.configurePongHandler()
	cw.wg.Add(1)
	go cw.run()
}

func (cw *clientWriter) run() {
	defer cw.wg.Done()

	for i, msg := range cw.backlog {
		select {
		case <-cw.doneChannel:
			return
		default:
		}
		if !cw.write(websocket.TextMessage, msg) {
			return
		}
		cw.backlog[i] = nil
	}
	cw.backlog = nil

	ticker := cw.clock.NewTicker(cw.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-cw.sendChannel:
			if !cw.write(websocket.TextMessage, msg) {
				return
			}
		case <-ticker.Chan():
			if !cw.write(websocket.PingMessage, nil) {
				return
			}
		case <-cw.doneChannel:
			return
		}
	}
}

// write reports whether the frame went out. On failure the connection is
// closed and onFailure is called from a new goroutine, since it usually
// ends up in stop, which waits for this goroutine.
func (cw *clientWriter) write(messageType int, data []byte) bool {
	cw.updateWriteDeadline()
	if err := cw.connection.WriteMessage(messageType, data); err != nil {
		_ = cw.connection.Close()
		if cw.onFailure != nil {
			go cw.onFailure(err)
		}
		return false
	}
	if messageType == websocket.TextMessage && cw.onWrite != nil {
		cw.onWrite()
	}
	return true
}

// offer queues msg without blocking and reports whether it fit.
func (cw *clientWriter) offer(msg []byte) bool {
	select {
	case cw.sendChannel <- msg:
		return true
	default:
		return false
	}
}

func (cw *clientWriter) stop() {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		_ = cw.connection.Close()
	})
	cw.wg.Wait()
}

// stopGraceful sends a WebSocket close frame with reason before closing.
func (cw *clientWriter) stopGraceful(reason string) {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)

		// the close frame must not race a write from run
		cw.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		cw.updateWriteDeadline()
		_ = cw.connection.WriteMessage(websocket.CloseMessage, closeMsg)

		_ = cw.connection.Close()
	})
	cw.wg.Wait()
}

func (cw *clientWriter) configurePongHandler() {
	cw.updateReadDeadline()
	cw.connection.SetPongHandler(func(string) error {
		cw.updateReadDeadline()
		return nil
	})
}

// Socket deadlines are wall-clock; the injected clock only drives the ping ticker.
func (cw *clientWriter) updateWriteDeadline() {
	_ = cw.connection.SetWriteDeadline(time.Now().Add(writeDeadline))
}

func (cw *clientWriter) updateReadDeadline() {
	_ = cw.connection.SetReadDeadline(time.Now().Add(cw.pongWait))
}
