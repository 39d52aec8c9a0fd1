package panel

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ctagard/pldbg-mcp/internal/debugger"
)

// NoticeTitle titles every user-facing notice.
const NoticeTitle = "PL Debugger"

// Bridge is an in-memory debug panel. Each session occupies one entry keyed
// by its name while it is shown.
type Bridge struct {
	logger *zap.Logger
	stream *EventStream

	mu        sync.Mutex
	front     string
	entries   map[string]struct{}
	notices   map[string][]string
	listeners map[int]func(debugger.PanelEvent)
	nextID    int
}

// NewBridge creates an empty panel. stream may be nil.
func NewBridge(logger *zap.Logger, stream *EventStream) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		logger:    logger,
		stream:    stream,
		entries:   make(map[string]struct{}),
		notices:   make(map[string][]string),
		listeners: make(map[int]func(debugger.PanelEvent)),
	}
}

// Open adds the entry for sessionName and brings the debug panel forward.
func (b *Bridge) Open(sessionName string) {
	b.mu.Lock()
	b.entries[sessionName] = struct{}{}
	b.mu.Unlock()

	if b.stream != nil {
		if err := b.stream.ProcessStarted(sessionName); err != nil {
			b.logger.Warn("failed to send process event", zap.Error(err))
		}
	}
	b.Activate(debugger.DebugPanelID)
}

// Activate brings panelID to the front and tells every listener.
func (b *Bridge) Activate(panelID string) {
	b.mu.Lock()
	b.front = panelID
	listeners := make([]func(debugger.PanelEvent), 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.mu.Unlock()

	for _, l := range listeners {
		l(debugger.PanelEvent{PanelID: panelID})
	}
}

// Front returns the panel currently in front.
func (b *Bridge) Front() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.front
}

// Show brings the debug panel forward without notifying listeners.
func (b *Bridge) Show() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.front = debugger.DebugPanelID
}

// Locate finds the entry for sessionName.
func (b *Bridge) Locate(sessionName string) (debugger.PanelHandle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[sessionName]; !ok {
		return debugger.PanelHandle{}, false
	}
	return debugger.PanelHandle{PanelID: debugger.DebugPanelID, SessionName: sessionName}, true
}

// Remove deletes the entry h refers to. Removing twice is a no-op.
func (b *Bridge) Remove(h debugger.PanelHandle) {
	b.mu.Lock()
	_, ok := b.entries[h.SessionName]
	delete(b.entries, h.SessionName)
	b.mu.Unlock()

	if !ok || b.stream == nil {
		return
	}
	if err := b.stream.Terminated(); err != nil {
		b.logger.Warn("failed to send terminated event", zap.Error(err))
	}
}

// Notify records message for sessionName and forwards it as console output.
func (b *Bridge) Notify(sessionName, message string) {
	b.mu.Lock()
	b.notices[sessionName] = append(b.notices[sessionName], message)
	b.mu.Unlock()

	b.logger.Info(message, zap.String("title", NoticeTitle), zap.String("name", sessionName))
	if b.stream != nil {
		if err := b.stream.Output("console", fmt.Sprintf("%s: %s", NoticeTitle, message)); err != nil {
			b.logger.Warn("failed to send output event", zap.Error(err))
		}
	}
}

// Notices returns the messages shown for sessionName.
func (b *Bridge) Notices(sessionName string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.notices[sessionName]...)
}

// Subscribe registers listener for panel activations.
func (b *Bridge) Subscribe(listener func(debugger.PanelEvent)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners[id] = listener

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.listeners, id)
		})
	}
}

// Listeners returns the number of subscribed listeners.
func (b *Bridge) Listeners() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

var _ debugger.Bridge = (*Bridge)(nil)
