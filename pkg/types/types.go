// Package types defines shared data types used across the pldbg-mcp server.
//
// This package provides type definitions for:
//   - CallSite: the routine name and argument fragments of a call expression
//   - RoutineHandle: a resolved server-side routine (zero value means not found)
//   - Phase: the lifecycle phase of a debug session
//   - SessionInfo: an immutable snapshot of a session for tool results
package types

import (
	"fmt"
	"strings"
)

// CallSite is the routine reference extracted from a call expression.
// It is captured once when a session is created and never mutated.
type CallSite struct {
	Schema    string   `json:"schema,omitempty"`
	Routine   string   `json:"routine"`
	Arguments []string `json:"arguments"`
}

// NewCallSite copies args so the call site stays immutable.
func NewCallSite(schema, routine string, args []string) CallSite {
	cp := make([]string, len(args))
	copy(cp, args)
	return CallSite{Schema: schema, Routine: routine, Arguments: cp}
}

// Arity is the number of argument fragments.
func (c CallSite) Arity() int {
	return len(c.Arguments)
}

// QualifiedName returns schema.routine, or routine when no schema was given.
func (c CallSite) QualifiedName() string {
	if c.Schema == "" {
		return c.Routine
	}
	return c.Schema + "." + c.Routine
}

// String renders the call site the way it was written, minus comments.
func (c CallSite) String() string {
	return fmt.Sprintf("%s(%s)", c.QualifiedName(), strings.Join(c.Arguments, ", "))
}

// RoutineHandle identifies a resolved routine. The zero handle means not found.
type RoutineHandle struct {
	OID        uint32 `json:"oid"`
	Schema     string `json:"schema"`
	Name       string `json:"name"`
	ParamCount int    `json:"paramCount"`
	Signature  string `json:"signature,omitempty"`
}

// IsZero reports whether the handle is the not-found sentinel.
func (h RoutineHandle) IsZero() bool {
	return h.OID == 0
}

func (h RoutineHandle) String() string {
	if h.IsZero() {
		return "<none>"
	}
	return fmt.Sprintf("%s.%s(%s) [oid %d]", h.Schema, h.Name, h.Signature, h.OID)
}

// Phase represents the lifecycle phase of a debug session
type Phase int

const (
	PhaseCreated Phase = iota
	PhasePreparing
	PhaseActivated
	PhaseAwaitingPort
	PhaseAttached
	PhaseDebugging
	PhaseFailed
	PhaseClosed
)

// String returns a string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhasePreparing:
		return "preparing"
	case PhaseActivated:
		return "activated"
	case PhaseAwaitingPort:
		return "awaiting_port"
	case PhaseAttached:
		return "attached"
	case PhaseDebugging:
		return "debugging"
	case PhaseFailed:
		return "failed"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText lets phases render by name in JSON tool results.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Terminal reports whether no further work happens in this phase.
func (p Phase) Terminal() bool {
	return p == PhaseFailed || p == PhaseClosed
}

// SessionInfo represents information about a debug session
type SessionInfo struct {
	SessionID    string        `json:"sessionId"`
	Name         string        `json:"name"`
	Call         string        `json:"call"`
	Phase        Phase         `json:"phase"`
	Port         int           `json:"port,omitempty"`
	Routine      RoutineHandle `json:"routine"`
	DebugSession int           `json:"debugSession,omitempty"`
	Failure      string        `json:"failure,omitempty"`
}
