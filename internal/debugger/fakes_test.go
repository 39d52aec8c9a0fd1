package debugger

import (
	"context"
	"sync"

	"github.com/ctagard/pldbg-mcp/internal/pg"
	"github.com/ctagard/pldbg-mcp/pkg/types"
)

type fakeControl struct {
	mu         sync.Mutex
	candidates []types.RoutineHandle
	lookupErr  error
	status     int
	armErr     error
	lookups    int
	armed      []uint32
	auditors   map[int]pg.Auditor
	consumers  map[int]pg.Consumer
	next       int
}

func newFakeControl(candidates ...types.RoutineHandle) *fakeControl {
	return &fakeControl{
		candidates: candidates,
		auditors:   make(map[int]pg.Auditor),
		consumers:  make(map[int]pg.Consumer),
	}
}

func (f *fakeControl) LookupRoutines(_ context.Context, _, name string) ([]types.RoutineHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	var out []types.RoutineHandle
	for _, h := range f.candidates {
		if h.Name == name {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeControl) ArmRoutine(_ context.Context, oid uint32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed = append(f.armed, oid)
	return f.status, f.armErr
}

func (f *fakeControl) AddAuditor(a pg.Auditor) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := f.next
	f.auditors[id] = a
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.auditors, id)
	}
}

func (f *fakeControl) AddConsumer(c pg.Consumer) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := f.next
	f.consumers[id] = c
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.consumers, id)
	}
}

func (f *fakeControl) subscriptions() (auditors, consumers int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.auditors), len(f.consumers)
}

func (f *fakeControl) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

func (f *fakeControl) armedOIDs() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32(nil), f.armed...)
}

func (f *fakeControl) notice(owner, message string) {
	f.mu.Lock()
	auditors := make([]pg.Auditor, 0, len(f.auditors))
	for _, a := range f.auditors {
		auditors = append(auditors, a)
	}
	f.mu.Unlock()
	for _, a := range auditors {
		a.Warn(pg.RequestContext{Owner: owner}, message)
	}
}

func (f *fakeControl) finish(owner string, total int) {
	for _, c := range f.consumerList() {
		c.AfterLastRow(pg.RequestContext{Owner: owner}, total)
	}
}

func (f *fakeControl) failRequest(owner string, err error) {
	for _, c := range f.consumerList() {
		c.RequestFailed(pg.RequestContext{Owner: owner}, err)
	}
}

func (f *fakeControl) consumerList() []pg.Consumer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]pg.Consumer, 0, len(f.consumers))
	for _, c := range f.consumers {
		out = append(out, c)
	}
	return out
}

type fakeLink struct {
	port    int
	session int

	mu     sync.Mutex
	closes int
}

func (l *fakeLink) Port() int    { return l.port }
func (l *fakeLink) Session() int { return l.session }

func (l *fakeLink) Close(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closes++
	return nil
}

func (l *fakeLink) closeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closes
}

// fakeAttacher records the ports it was asked for. When gate is set, Attach
// blocks until the gate is closed.
type fakeAttacher struct {
	gate chan struct{}
	err  error

	mu    sync.Mutex
	ports []int
	links []*fakeLink
}

func (a *fakeAttacher) Attach(_ context.Context, port int) (DebugLink, error) {
	if a.gate != nil {
		<-a.gate
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ports = append(a.ports, port)
	if a.err != nil {
		return nil, a.err
	}
	link := &fakeLink{port: port, session: 7}
	a.links = append(a.links, link)
	return link, nil
}

func (a *fakeAttacher) attachedPorts() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.ports...)
}

func (a *fakeAttacher) lastLink() *fakeLink {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.links) == 0 {
		return nil
	}
	return a.links[len(a.links)-1]
}

type fakeBridge struct {
	mu        sync.Mutex
	shows     int
	present   map[string]bool
	removed   []PanelHandle
	notices   []string
	listeners map[int]func(PanelEvent)
	next      int
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		present:   make(map[string]bool),
		listeners: make(map[int]func(PanelEvent)),
	}
}

func (b *fakeBridge) Show() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shows++
}

func (b *fakeBridge) Locate(name string) (PanelHandle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.present[name] {
		return PanelHandle{}, false
	}
	return PanelHandle{PanelID: DebugPanelID, SessionName: name}, true
}

func (b *fakeBridge) Remove(h PanelHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.present, h.SessionName)
	b.removed = append(b.removed, h)
}

func (b *fakeBridge) Notify(_, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = append(b.notices, message)
}

func (b *fakeBridge) Subscribe(listener func(PanelEvent)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	b.listeners[id] = listener
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

func (b *fakeBridge) open(name string) {
	b.mu.Lock()
	b.present[name] = true
	b.mu.Unlock()
}

func (b *fakeBridge) emit(panelID string) {
	b.mu.Lock()
	listeners := make([]func(PanelEvent), 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.mu.Unlock()
	for _, l := range listeners {
		l(PanelEvent{PanelID: panelID})
	}
}

func (b *fakeBridge) listenerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

func (b *fakeBridge) noticeList() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.notices...)
}

func (b *fakeBridge) showCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shows
}

func (b *fakeBridge) removedList() []PanelHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]PanelHandle(nil), b.removed...)
}
