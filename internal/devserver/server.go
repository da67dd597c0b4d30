// Package devserver is a scripted chat backend for local development and
// end-to-end tests. It speaks the same WebSocket protocol as the real
// backend and exposes an internal API to push events and drop connections.
package devserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/chatlink/internal/metrics"
)

// Options configures the dev backend.
type Options struct {
	// Toolkits that require authorization when a message mentions them.
	Toolkits []string
	// AuthBaseURL prefixes redirect URLs; defaults to the request host.
	AuthBaseURL string

	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
}

func (o *Options) setDefaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 65536
	}
}

// Server is the dev backend.
type Server struct {
	opts     Options
	echo     *echo.Echo
	hub      *Hub
	script   *script
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewServer creates the server and starts its hub.
func NewServer(opts Options, logger *zap.Logger) *Server {
	opts.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("devserver")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		opts:   opts,
		echo:   e,
		hub:    NewHub(logger.Named("hub")),
		script: newScript(opts.Toolkits),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Local development only
				return true
			},
		},
		logger: logger,
	}

	e.GET("/ws/chat", s.HandleWebSocket)
	e.GET("/auth/:toolkit", s.handleAuthPage)
	e.GET("/health", s.handleHealth)
	e.POST("/internal/send", s.handleInternalSend)
	e.POST("/internal/drop", s.handleDrop)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	go s.hub.Run()

	return s
}

// Handler exposes the routes for embedding in another server or httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Hub returns the connection hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	s.logger.Info("dev backend listening", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server and closes client connections.
// It waits, bounded by ctx, for every connection to leave the hub so their
// write loops end before the hub stops.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)
	s.hub.CloseAll()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for s.hub.GetConnectionCount() > 0 {
		select {
		case <-ctx.Done():
			s.logger.Warn("connections still open at shutdown", zap.Int("connections", s.hub.GetConnectionCount()))
			s.hub.Stop()
			return ctx.Err()
		case <-ticker.C:
		}
	}

	s.hub.Stop()
	return err
}
