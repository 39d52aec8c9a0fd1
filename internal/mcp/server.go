// Package mcp provides the Model Context Protocol (MCP) server implementation.
//
// This package exposes PL/pgSQL debug sessions through MCP tools:
//
// Always available:
//   - debug_status: Phase, port, routine and notices of one session
//   - debug_list_sessions: Every known session
//
// Full mode only:
//   - debug_routine: Arm the routine a call expression invokes and run the call
//   - debug_close: Close a session and release its connections
package mcp

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ctagard/pldbg-mcp/internal/config"
	"github.com/ctagard/pldbg-mcp/internal/debugger"
	"github.com/ctagard/pldbg-mcp/internal/panel"
	"github.com/ctagard/pldbg-mcp/internal/pg"
	"github.com/ctagard/pldbg-mcp/internal/version"
)

// ControlSession is a control connection the server runs triggering queries on.
type ControlSession interface {
	debugger.ControlConnection
	Execute(ctx context.Context, owner, sql string) (int, error)
	Close(ctx context.Context) error
}

// ControlDialer opens a control connection.
type ControlDialer func(ctx context.Context, dsn string) (ControlSession, error)

// Option customizes a Server.
type Option func(*Server)

// WithControlDialer replaces the pgx control connection dialer.
func WithControlDialer(d ControlDialer) Option {
	return func(s *Server) { s.dial = d }
}

// WithAttacher replaces the pgx debug connection attacher.
func WithAttacher(a debugger.Attacher) Option {
	return func(s *Server) { s.attacher = a }
}

// WithEventStream mirrors the debug panel to a DAP client.
func WithEventStream(es *panel.EventStream) Option {
	return func(s *Server) { s.events = es }
}

// WithTracker sets the tracker that limits debugging to one session.
func WithTracker(t *debugger.Tracker) Option {
	return func(s *Server) { s.tracker = t }
}

// WithClock sets the clock used for timeouts and the session sweep.
func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// Server wraps the MCP server with debugging capabilities
type Server struct {
	mcpServer *server.MCPServer
	manager   *debugger.Manager
	bridge    *panel.Bridge
	config    *config.Config
	logger    *zap.Logger

	dial     ControlDialer
	attacher debugger.Attacher
	events   *panel.EventStream
	tracker  *debugger.Tracker
	clock    clock.Clock
	tools    []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a new pldbg-mcp server
func NewServer(cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	mcpServer := server.NewMCPServer(
		"pldbg-mcp",
		version.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		mcpServer: mcpServer,
		config:    cfg,
		logger:    logger,
		clock:     clock.New(),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.dial == nil {
		s.dial = func(ctx context.Context, dsn string) (ControlSession, error) {
			return pg.DialControl(ctx, dsn, logger)
		}
	}
	if s.attacher == nil {
		dialer := &pg.DebugDialer{DSN: cfg.DSN, Logger: logger}
		s.attacher = debugger.AttacherFunc(func(ctx context.Context, port int) (debugger.DebugLink, error) {
			conn, err := dialer.Attach(ctx, port)
			if err != nil {
				return nil, err
			}
			return conn, nil
		})
	}

	if s.tracker == nil {
		s.tracker = debugger.DefaultTracker()
	}

	s.bridge = panel.NewBridge(logger.Named("panel"), s.events)
	s.manager = debugger.NewManager(debugger.ManagerConfig{
		Attacher:       s.attacher,
		Bridge:         s.bridge,
		Tracker:        s.tracker,
		PortMarker:     cfg.PortMarker,
		AttachTimeout:  cfg.AttachTimeout,
		CloseTimeout:   cfg.CloseTimeout,
		SessionTimeout: cfg.SessionTimeout,
		Retention:      cfg.Retention,
		Clock:          s.clock,
		Logger:         logger.Named("debugger"),
	})

	s.registerTools()

	return s
}

func (s *Server) addTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcpServer.AddTool(tool, handler)
	s.tools = append(s.tools, tool.Name)
}

// Tools returns the names of the registered tools.
func (s *Server) Tools() []string {
	return append([]string(nil), s.tools...)
}

// ServeStdio starts the server using stdio transport
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// Close closes every session, cancels running calls and waits for them.
func (s *Server) Close() {
	s.manager.Close()
	s.cancel()
	s.wg.Wait()
	if s.events != nil {
		if err := s.events.Close(); err != nil {
			s.logger.Warn("failed to close event stream", zap.Error(err))
		}
	}
}

// Manager returns the session manager
func (s *Server) Manager() *debugger.Manager {
	return s.manager
}

// Bridge returns the debug panel
func (s *Server) Bridge() *panel.Bridge {
	return s.bridge
}
