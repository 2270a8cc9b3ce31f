package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/tripph/promptfeed/internal/adapter/metrics"
	"github.com/tripph/promptfeed/internal/broadcast"
	"github.com/tripph/promptfeed/internal/domain"
	"github.com/tripph/promptfeed/internal/platform/config"
)

type promptService interface {
	Handle(ctx context.Context, req domain.PromptRequest) (domain.FeedEntry, error)
}

type feedRegistry interface {
	Subscribe(conn *websocket.Conn) (*broadcast.Session, error)
	Unsubscribe(s *broadcast.Session)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	prompts  promptService
	registry feedRegistry
	upgrader websocket.Upgrader

	metricsHandler http.Handler
	httpMetrics    *metrics.HTTPMetrics
	wsMetrics      *metrics.WebSocketMetrics

	healthChecks []HealthCheck
	startTime    time.Time

	// open prompt sockets, closed on Shutdown; feed sockets belong to the registry
	connMu      sync.Mutex
	promptConns map[*websocket.Conn]struct{}
	promptWG    sync.WaitGroup
}

type Option func(*Server)

// WithMetrics serves metricsHandler at /metrics and records HTTP and socket metrics.
func WithMetrics(metricsHandler http.Handler, httpMetrics *metrics.HTTPMetrics, wsMetrics *metrics.WebSocketMetrics) Option {
	return func(s *Server) {
		s.metricsHandler = metricsHandler
		s.httpMetrics = httpMetrics
		s.wsMetrics = wsMetrics
	}
}

func WithHealthChecks(checks ...HealthCheck) Option {
	return func(s *Server) {
		s.healthChecks = checks
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) {
		s.clock = clock
	}
}

func NewServer(cfg *config.Config, prompts promptService, registry feedRegistry, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:        e,
		config:      cfg,
		clock:       clockwork.NewRealClock(),
		prompts:     prompts,
		registry:    registry,
		promptConns: make(map[*websocket.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(srv)
	}
	srv.startTime = srv.clock.Now()
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     NewCheckOrigin(cfg.AppURL, cfg.AppEnv == "development"),
	}

	srv.registerRoutes()

	return srv
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and closes open prompt sockets with a
// normal-closure frame. Feed sockets are closed by the registry.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)

	s.connMu.Lock()
	for conn := range s.promptConns {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	}
	s.connMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.promptWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	if err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

func (s *Server) trackPromptConn(conn *websocket.Conn) func() {
	s.connMu.Lock()
	s.promptConns[conn] = struct{}{}
	s.connMu.Unlock()
	s.promptWG.Add(1)

	return func() {
		s.connMu.Lock()
		delete(s.promptConns, conn)
		s.connMu.Unlock()
		s.promptWG.Done()
	}
}
