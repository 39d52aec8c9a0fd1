package debugger

import (
	"context"

	"github.com/ctagard/pldbg-mcp/internal/pg"
	"github.com/ctagard/pldbg-mcp/pkg/types"
)

// Catalog looks up routines by name. An empty schema means "visible on the
// active search path".
type Catalog interface {
	LookupRoutines(ctx context.Context, schema, name string) ([]types.RoutineHandle, error)
}

// Directive arms a routine for debugging and returns the server's status code.
type Directive interface {
	ArmRoutine(ctx context.Context, oid uint32) (int, error)
}

// NotificationSource is the subscription surface of the control connection.
// Every add returns the function that undoes it.
type NotificationSource interface {
	AddAuditor(a pg.Auditor) (remove func())
	AddConsumer(c pg.Consumer) (remove func())
}

// ControlConnection is everything the controller needs from the connection
// the triggering query runs on.
type ControlConnection interface {
	Catalog
	Directive
	NotificationSource
}

// DebugLink is an attached debug connection.
type DebugLink interface {
	Port() int
	Session() int
	Close(ctx context.Context) error
}

// Attacher opens a debug connection bound to port.
type Attacher interface {
	Attach(ctx context.Context, port int) (DebugLink, error)
}

// AttacherFunc adapts a function to Attacher.
type AttacherFunc func(ctx context.Context, port int) (DebugLink, error)

// Attach calls f.
func (f AttacherFunc) Attach(ctx context.Context, port int) (DebugLink, error) {
	return f(ctx, port)
}

// Resolver finds the routine a call site invokes. A zero handle with a nil
// error means no unique match.
type Resolver interface {
	Resolve(ctx context.Context, cat Catalog, call types.CallSite) (types.RoutineHandle, error)
}

// Activator arms a resolved routine. A false result with a nil error means
// the server declined.
type Activator interface {
	Activate(ctx context.Context, d Directive, routine types.RoutineHandle) (bool, error)
}

// DebugPanelID is the panel that hosts debug sessions.
const DebugPanelID = "Debug"

// PanelEvent reports that a panel became visible.
type PanelEvent struct {
	PanelID string
}

// PanelHandle refers to the content a session occupies in the debug panel.
// The controller never owns it; it only asks the bridge to remove it.
type PanelHandle struct {
	PanelID     string
	SessionName string
}

// Bridge is the presentation side of a session.
type Bridge interface {
	// Show brings the debug panel to the front.
	Show()
	// Locate finds the content for sessionName, if it still exists.
	Locate(sessionName string) (PanelHandle, bool)
	Remove(h PanelHandle)
	// Notify shows a one-off message to the user.
	Notify(sessionName, message string)
	Subscribe(listener func(PanelEvent)) (cancel func())
}
