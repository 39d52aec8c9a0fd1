package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// registerTools registers the session tools; starting and closing sessions
// is only offered in full mode.
func (s *Server) registerTools() {
	s.registerDebugStatus()
	s.registerDebugListSessions()

	if s.config.CanStartSessions() {
		s.registerDebugRoutine()
		s.registerDebugClose()
	}
}

func (s *Server) registerDebugRoutine() {
	tool := mcp.NewTool("debug_routine",
		mcp.WithDescription("Debug the PL/pgSQL routine a call expression invokes. The routine is resolved by name and argument count, "+
			"armed with plpgsql_oid_debug, and the call is run on its own connection; when the server announces the debug port a "+
			"second connection attaches to it. Returns the sessionId used by debug_status and debug_close. "+
			"Only one session can debug at a time."),
		mcp.WithString("call",
			mcp.Required(),
			mcp.Description("The call to debug, e.g. \"SELECT app.compute_total(1, 2)\" or \"CALL refresh_totals('2024')\""),
		),
		mcp.WithBoolean("waitForAttach",
			mcp.Description("Wait until the debug connection is attached or the session ends (default: true)"),
		),
	)
	s.addTool(tool, s.handleDebugRoutine)
}

func (s *Server) registerDebugClose() {
	tool := mcp.NewTool("debug_close",
		mcp.WithDescription("Close a debug session. The debug connection is released and the panel entry removed; the triggering call then runs to completion. Closing a closed session is a no-op."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
	)
	s.addTool(tool, s.handleDebugClose)
}

func (s *Server) registerDebugStatus() {
	tool := mcp.NewTool("debug_status",
		mcp.WithDescription("Get the phase, debug port, resolved routine, failure and user notices of a session."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
	)
	s.addTool(tool, s.handleDebugStatus)
}

func (s *Server) registerDebugListSessions() {
	tool := mcp.NewTool("debug_list_sessions",
		mcp.WithDescription("List open sessions and recently closed ones."),
	)
	s.addTool(tool, s.handleDebugListSessions)
}
