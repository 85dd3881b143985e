// Package api exposes the scheduler over HTTP: a JSON REST surface for
// the hive/colony/run/task hierarchy, event and lineage reads, and a
// WebSocket activity stream. The API never touches the Akashic Record
// directly for writes; every mutation goes through the scheduler.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/colonyforge/hiveforge/pkg/config"
	"github.com/colonyforge/hiveforge/pkg/scheduler"
)

// Server wires handlers, middleware, and the WebSocket connection
// manager over one echo instance.
type Server struct {
	cfg         *config.Config
	sched       *scheduler.Scheduler
	connManager *ConnectionManager
	executor    scheduler.TaskExecutor
	echo        *echo.Echo
	httpServer  *http.Server
}

// SetTaskExecutor enables POST /runs/:id/dispatch. Without an executor
// the endpoint reports 503.
func (s *Server) SetTaskExecutor(exec scheduler.TaskExecutor) {
	s.executor = exec
}

// NewServer builds the API server and registers all routes.
func NewServer(cfg *config.Config, sched *scheduler.Scheduler, connManager *ConnectionManager) *Server {
	s := &Server{
		cfg:         cfg,
		sched:       sched,
		connManager: connManager,
		echo:        echo.New(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo

	e.Use(securityHeaders())
	e.Use(corsMiddleware(s.cfg.Server.AllowedOrigins))
	e.Use(requestLogger())
	e.Use(apiKeyAuth(s.cfg.Server))

	e.GET("/health", s.healthHandler)

	e.POST("/hives", s.createHiveHandler)
	e.GET("/hives", s.listHivesHandler)
	e.GET("/hives/:id", s.getHiveHandler)
	e.POST("/hives/:id/close", s.closeHiveHandler)
	e.POST("/hives/:id/colonies", s.createColonyHandler)

	e.POST("/colonies/:id/start", s.startColonyHandler)
	e.POST("/colonies/:id/complete", s.completeColonyHandler)

	e.POST("/runs", s.createRunHandler)
	e.GET("/runs/:id", s.getRunHandler)
	e.POST("/runs/:id/complete", s.completeRunHandler)
	e.POST("/runs/:id/dispatch", s.dispatchRunHandler)
	e.POST("/runs/:id/emergency-stop", s.emergencyStopHandler)
	e.POST("/runs/:id/tasks", s.createTaskHandler)
	e.POST("/runs/:id/tasks/:tid/complete", s.completeTaskHandler)
	e.GET("/runs/:id/events", s.listEventsHandler)
	e.GET("/runs/:id/events/:eid/lineage", s.lineageHandler)
	e.GET("/runs/:id/verify", s.verifyChainHandler)

	e.POST("/runs/:id/approvals/:aid/grant", s.grantApprovalHandler)
	e.POST("/runs/:id/approvals/:aid/deny", s.denyApprovalHandler)

	e.GET("/ws", s.wsHandler)
}

// Handler exposes the underlying http.Handler for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on the configured host:port and blocks until the server
// stops. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP server listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and closes WebSocket connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.connManager != nil {
		s.connManager.CloseAll()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
