// Package api provides the admin HTTP surface for operators: health,
// pending confirmation resolution, audit queries, session inspection, and
// a WebSocket bridge streaming broker events. This is the out-of-band
// approval flow that feeds pipeline stage 5.
package api

import (
	"context"
	"net"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/fred-drake/carapace/pkg/audit"
	"github.com/fred-drake/carapace/pkg/confirm"
	"github.com/fred-drake/carapace/pkg/session"
	"github.com/fred-drake/carapace/pkg/transport"
	"github.com/fred-drake/carapace/pkg/version"
)

// Diagnoser reports broker counters for the health endpoint. Implemented
// by router.Router.
type Diagnoser interface {
	Diagnostics() map[string]any
}

// SubscriberFactory opens a fresh event-bus subscription for one
// WebSocket client.
type SubscriberFactory func(prefixes ...string) (transport.Subscriber, error)

// Server is the admin HTTP server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	gate       *confirm.Gate
	auditLog   *audit.Log
	sessions   *session.Manager
	diagnoser  Diagnoser
	subFactory SubscriberFactory
}

// NewServer creates the admin server. subFactory may be nil (WebSocket
// streaming disabled).
func NewServer(
	gate *confirm.Gate,
	auditLog *audit.Log,
	sessions *session.Manager,
	diagnoser Diagnoser,
	subFactory SubscriberFactory,
) *Server {
	e := echo.New()

	s := &Server{
		echo:       e,
		gate:       gate,
		auditLog:   auditLog,
		sessions:   sessions,
		diagnoser:  diagnoser,
		subFactory: subFactory,
	}
	s.setupRoutes()
	return s
}

// setupRoutes registers all admin routes.
func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(1 << 20))
	s.echo.Use(securityHeaders())

	v1 := s.echo.Group("/api/v1")

	v1.GET("/health", s.healthHandler)

	v1.GET("/confirmations", s.listConfirmationsHandler)
	v1.POST("/confirmations/:id/approve", s.approveConfirmationHandler)
	v1.POST("/confirmations/:id/deny", s.denyConfirmationHandler)

	v1.GET("/audit/:group", s.queryAuditHandler)
	v1.GET("/audit/:group/verify", s.verifyAuditHandler)
	v1.POST("/audit/:group/rotate", s.rotateAuditHandler)

	v1.GET("/sessions", s.listSessionsHandler)
	v1.DELETE("/sessions/:container_id", s.destroySessionHandler)

	v1.GET("/ws", s.wsHandler)
}

// Start starts the HTTP server on addr. Blocks until shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.echo,
	}
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on a pre-created listener. Used by tests to
// bind a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /api/v1/health. Minimal and safe for
// unauthenticated access.
func (s *Server) healthHandler(c *echo.Context) error {
	resp := map[string]any{"status": "healthy", "version": version.Full()}
	if s.diagnoser != nil {
		resp["broker"] = s.diagnoser.Diagnostics()
	}
	return c.JSON(http.StatusOK, resp)
}
