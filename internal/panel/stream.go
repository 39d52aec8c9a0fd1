// Package panel is the presentation side of debug sessions: an in-memory
// debug panel that sessions open, locate and remove, and an optional Debug
// Adapter Protocol event stream that mirrors it to an external client.
package panel

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/go-dap"
)

// EventStream writes DAP events to a connected client.
type EventStream struct {
	conn   io.WriteCloser
	writer *bufio.Writer
	mu     sync.Mutex
	seq    int
}

// NewTCPStream connects to a DAP client listening on address.
func NewTCPStream(address string) (*EventStream, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DAP client at %s: %w", address, err)
	}
	return NewStream(conn), nil
}

// NewStream creates a stream over w.
func NewStream(w io.WriteCloser) *EventStream {
	return &EventStream{
		conn:   w,
		writer: bufio.NewWriter(w),
		seq:    1,
	}
}

func (s *EventStream) event(name string) dap.Event {
	e := dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Seq: s.seq, Type: "event"},
		Event:           name,
	}
	s.seq++
	return e
}

// send writes msg; callers hold s.mu.
func (s *EventStream) send(msg dap.Message) error {
	if err := dap.WriteProtocolMessage(s.writer, msg); err != nil {
		return fmt.Errorf("failed to write DAP message: %w", err)
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush DAP message: %w", err)
	}
	return nil
}

// ProcessStarted announces a session attached to its routine.
func (s *EventStream) ProcessStarted(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send(&dap.ProcessEvent{
		Event: s.event("process"),
		Body: dap.ProcessEventBody{
			Name:        name,
			StartMethod: "attach",
		},
	})
}

// Output sends a line of console output.
func (s *EventStream) Output(category, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send(&dap.OutputEvent{
		Event: s.event("output"),
		Body: dap.OutputEventBody{
			Category: category,
			Output:   text + "\n",
		},
	})
}

// Terminated reports that a session ended.
func (s *EventStream) Terminated() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send(&dap.TerminatedEvent{Event: s.event("terminated")})
}

// Close closes the underlying connection.
func (s *EventStream) Close() error {
	return s.conn.Close()
}
