package httpserver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/tripph/promptfeed/internal/app"
	"github.com/tripph/promptfeed/internal/platform/correlation"
	apperrors "github.com/tripph/promptfeed/internal/platform/errors"
	"github.com/tripph/promptfeed/internal/platform/logging"
)

const errorFrameWriteTimeout = 5 * time.Second

// promptConn serializes writes of error frames, which come from the read
// loop and from prompt goroutines.
type promptConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	logger  *slog.Logger
}

func (pc *promptConn) writeError(err *apperrors.Error) {
	pc.writeMu.Lock()
	defer pc.writeMu.Unlock()

	_ = pc.conn.SetWriteDeadline(time.Now().Add(errorFrameWriteTimeout))
	if werr := pc.conn.WriteJSON(err.ToResponse()); werr != nil {
		pc.logger.Debug("Failed to write error frame", "error", werr)
	}
}

// handlePrompt upgrades to the prompt socket. Every text frame is one prompt
// request; each is processed on its own goroutine so a slow generation does
// not hold up the next frame. Results go out on the feed, not on this socket.
func (s *Server) handlePrompt(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		slog.Debug("Prompt upgrade failed", "error", err)
		return nil
	}
	conn.SetReadLimit(s.config.WSReadLimit)

	untrack := s.trackPromptConn(conn)
	defer untrack()
	defer conn.Close()

	sessionID := uuid.NewString()
	pc := &promptConn{conn: conn, logger: logging.WithSession(sessionID)}
	limiter := newPromptLimiter(s.config.PromptRateLimit, s.config.PromptRateBurst)

	if s.wsMetrics != nil {
		s.wsMetrics.PromptConnections.Inc()
		defer s.wsMetrics.PromptConnections.Dec()
	}
	pc.logger.Info("Prompt connection opened", "remote_addr", c.RealIP())

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				pc.logger.Info("Prompt connection closed unexpectedly", "error", err)
			} else {
				pc.logger.Info("Prompt connection closed")
			}
			return nil
		}

		if messageType != websocket.TextMessage {
			pc.logger.Warn("Ignoring non-text prompt frame", "message_type", messageType, "bytes", len(data))
			s.rejectPrompt("non_text")
			continue
		}

		if !limiter.allow(s.clock.Now()) {
			s.rejectPrompt("rate_limited")
			pc.writeError(apperrors.RateLimitedError("too many prompts, slow down"))
			continue
		}

		req, err := app.DecodeRequest(data)
		if err != nil {
			s.rejectPrompt("malformed")
			pc.writeError(apperrors.AsStructuredError(err))
			continue
		}

		ctx := correlation.WithID(context.Background(), correlation.NewID())
		go func() {
			if _, err := s.prompts.Handle(ctx, req); err != nil {
				s.rejectPrompt("invalid")
				pc.writeError(apperrors.AsStructuredError(err))
			}
		}()
	}
}

func (s *Server) rejectPrompt(reason string) {
	if s.wsMetrics != nil {
		s.wsMetrics.PromptsRejected.WithLabelValues(reason).Inc()
	}
}
