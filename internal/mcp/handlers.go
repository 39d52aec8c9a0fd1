package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/ctagard/pldbg-mcp/internal/callsite"
	"github.com/ctagard/pldbg-mcp/internal/debugger"
	"github.com/ctagard/pldbg-mcp/internal/errors"
	"github.com/ctagard/pldbg-mcp/pkg/types"
)

func (s *Server) handleDebugRoutine(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.config.CanStartSessions() {
		return errorResult(errors.PermissionDenied("debug_routine", string(s.config.Mode)))
	}
	sql, err := request.RequireString("call")
	if err != nil {
		return errorResult(errors.MissingParameter("call", "Provide the statement to debug, e.g. \"SELECT compute_total(1, 2)\"."))
	}
	wait := request.GetBool("waitForAttach", true)

	call, err := callsite.Parse(sql)
	if err != nil {
		return errorResult(err)
	}

	if active := s.manager.Tracker().Current(); active != nil {
		return errorResult(errors.SessionBusy(active.ID()))
	}

	control, err := s.dial(ctx, s.config.DSN)
	if err != nil {
		return errorResult(errors.ConnectionFailed("control", err))
	}

	ctl, err := s.manager.CreateSession(call, control, debugger.Hooks{
		OnAttached: s.onAttached,
	})
	if err != nil {
		s.closeControl(control)
		return errorResult(err)
	}

	ctl.OnReady()
	proc, err := ctl.InitLocal(ctx)
	if err != nil {
		s.closeControl(control)
		return errorResult(errors.FromError(err).WithDetails("sessionId", ctl.ID()))
	}
	if err := ctl.InitRemote(ctx, control); err != nil {
		s.closeControl(control)
		return errorResult(errors.FromError(err).WithDetails("sessionId", ctl.ID()))
	}

	s.wg.Add(2)
	go s.runCall(ctl, control, sql)
	go s.debugLoop(ctl, proc)

	if wait {
		timer := s.clock.Timer(s.config.AttachTimeout)
		select {
		case <-proc.Attached():
		case <-ctl.Done():
		case <-timer.C:
		case <-ctx.Done():
		}
		timer.Stop()
	}

	return jsonResult(sessionResult(ctl.Info(), s.bridge.Notices(ctl.Name())))
}

// runCall executes the triggering query. It returns when the routine
// finishes, which for a debugged call is after the debug connection detached.
func (s *Server) runCall(ctl *debugger.Controller, control ControlSession, sql string) {
	defer s.wg.Done()
	defer s.closeControl(control)

	total, err := control.Execute(s.ctx, ctl.ID(), sql)
	if err != nil {
		s.logger.Info("call ended with error", zap.String("session", ctl.ID()), zap.Error(err))
	} else {
		s.logger.Debug("call finished", zap.String("session", ctl.ID()), zap.Int("rows", total))
	}
	ctl.Close()
}

// debugLoop stands in for the stepping client for as long as the session is
// attached.
func (s *Server) debugLoop(ctl *debugger.Controller, proc *debugger.Process) {
	defer s.wg.Done()

	select {
	case <-proc.Attached():
	case <-ctl.Done():
		return
	}
	s.logger.Info("debug loop started", zap.String("session", ctl.ID()), zap.Stringer("routine", proc.EntryPoint()))
	<-ctl.Done()
	ctl.DebugEnd()
	s.logger.Info("debug loop finished", zap.String("session", ctl.ID()))
}

func (s *Server) onAttached(ctl *debugger.Controller) {
	s.bridge.Open(ctl.Name())
	ctl.DebugBegin()

	// Close may have run between attach and Open; its panel removal then
	// found nothing to remove.
	if ctl.Phase() == types.PhaseClosed {
		if h, ok := s.bridge.Locate(ctl.Name()); ok {
			s.bridge.Remove(h)
		}
	}
}

func (s *Server) closeControl(control ControlSession) {
	ctx, cancel := s.clock.WithTimeout(context.Background(), s.config.CloseTimeout)
	defer cancel()
	if err := control.Close(ctx); err != nil {
		s.logger.Warn("failed to close control connection (continuing cleanup)", zap.Error(err))
	}
}

func (s *Server) handleDebugClose(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.config.CanStartSessions() {
		return errorResult(errors.PermissionDenied("debug_close", string(s.config.Mode)))
	}
	ctl, err := s.getSession(request)
	if err != nil {
		return errorResult(err)
	}

	ctl.Close()

	return jsonResult(map[string]interface{}{
		"sessionId": ctl.ID(),
		"phase":     ctl.Phase(),
	})
}

func (s *Server) handleDebugStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctl, err := s.getSession(request)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(sessionResult(ctl.Info(), s.bridge.Notices(ctl.Name())))
}

func (s *Server) handleDebugListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions := s.manager.ListSessions()

	result := make([]map[string]interface{}, len(sessions))
	for i, info := range sessions {
		result[i] = map[string]interface{}{
			"sessionId": info.SessionID,
			"name":      info.Name,
			"call":      info.Call,
			"phase":     info.Phase,
		}
		if info.Port > 0 {
			result[i]["port"] = info.Port
		}
	}

	return jsonResult(map[string]interface{}{
		"sessions": result,
	})
}

// Helper functions

func (s *Server) getSession(request mcp.CallToolRequest) (*debugger.Controller, error) {
	sessionID, err := request.RequireString("sessionId")
	if err != nil {
		return nil, errors.MissingParameter("sessionId", "Provide the sessionId returned from debug_routine. Use debug_list_sessions to see known sessions.")
	}
	return s.manager.GetSession(sessionID)
}

func sessionResult(info types.SessionInfo, notices []string) map[string]interface{} {
	result := map[string]interface{}{
		"sessionId": info.SessionID,
		"name":      info.Name,
		"call":      info.Call,
		"phase":     info.Phase,
	}
	if info.Port > 0 {
		result["port"] = info.Port
	}
	if !info.Routine.IsZero() {
		result["routine"] = info.Routine
	}
	if info.DebugSession != 0 {
		result["debugSession"] = info.DebugSession
	}
	if info.Failure != "" {
		result["failure"] = info.Failure
	}
	if len(notices) > 0 {
		result["notices"] = notices
	}
	return result
}

func errorResult(err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(err.Error()), nil
}

func jsonResult(data interface{}) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
