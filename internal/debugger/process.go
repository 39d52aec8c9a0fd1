package debugger

import (
	"sync"

	"github.com/ctagard/pldbg-mcp/pkg/types"
)

// Process is the handle the embedding environment drives the debug loop
// through. It knows the entry point from the start and the debug link once
// the controller has attached.
type Process struct {
	entry types.RoutineHandle

	mu    sync.Mutex
	link  DebugLink
	ready chan struct{}
}

func newProcess(entry types.RoutineHandle) *Process {
	return &Process{entry: entry, ready: make(chan struct{})}
}

// EntryPoint is the routine the session breaks in.
func (p *Process) EntryPoint() types.RoutineHandle {
	return p.entry
}

// Attached is closed once the debug link is available.
func (p *Process) Attached() <-chan struct{} {
	return p.ready
}

// Link returns the debug link, if attached.
func (p *Process) Link() (DebugLink, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.link, p.link != nil
}

func (p *Process) startDebug(link DebugLink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.link != nil {
		return
	}
	p.link = link
	close(p.ready)
}
