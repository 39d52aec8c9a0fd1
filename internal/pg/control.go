// Package pg implements the PostgreSQL side of a debug session.
//
// It provides:
//   - ControlConnection: the connection that runs the triggering query and
//     delivers its notices and completion to registered auditors and consumers
//   - the catalog lookup and the plpgsql_oid_debug directive used to arm a routine
//   - DebugDialer: opens the second connection and attaches it to the port
//     announced by pldebugger
package pg

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// RequestContext identifies the query a notice or completion belongs to.
type RequestContext struct {
	Owner     string
	RequestID uint64
	SQL       string
}

// Auditor receives notices raised while a request runs.
type Auditor interface {
	Warn(rc RequestContext, message string)
}

// Consumer receives the outcome of a request.
type Consumer interface {
	AfterLastRow(rc RequestContext, total int)
	RequestFailed(rc RequestContext, err error)
}

// ControlConnection wraps the connection the user's query runs on.
// Notices are fanned out to auditors tagged with the request that was running.
type ControlConnection struct {
	conn   *pgx.Conn
	logger *zap.Logger

	// ioMu serializes use of conn, which is not safe for concurrent use.
	ioMu sync.Mutex

	mu        sync.Mutex
	nextSub   uint64
	auditors  map[uint64]Auditor
	consumers map[uint64]Consumer

	current  atomic.Pointer[RequestContext]
	requests atomic.Uint64
}

func newControl(logger *zap.Logger) *ControlConnection {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ControlConnection{
		logger:    logger,
		auditors:  make(map[uint64]Auditor),
		consumers: make(map[uint64]Consumer),
	}
}

// DialControl opens a control connection to dsn.
func DialControl(ctx context.Context, dsn string, logger *zap.Logger) (*ControlConnection, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	c := newControl(logger)
	cfg.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		c.dispatchNotice(FormatNotice(n))
	}

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect control connection: %w", err)
	}
	c.conn = conn
	return c, nil
}

// FormatNotice renders a notice as "SEVERITY: message".
func FormatNotice(n *pgconn.Notice) string {
	if n == nil {
		return ""
	}
	if n.Severity == "" {
		return n.Message
	}
	return n.Severity + ": " + n.Message
}

// AddAuditor registers a notice auditor and returns its removal function.
func (c *ControlConnection) AddAuditor(a Auditor) (remove func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.auditors[id] = a
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.auditors, id)
		c.mu.Unlock()
	}
}

// AddConsumer registers a result consumer and returns its removal function.
func (c *ControlConnection) AddConsumer(cons Consumer) (remove func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.consumers[id] = cons
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.consumers, id)
		c.mu.Unlock()
	}
}

// Subscriptions returns the number of registered auditors and consumers.
func (c *ControlConnection) Subscriptions() (auditors, consumers int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.auditors), len(c.consumers)
}

func (c *ControlConnection) snapshotAuditors() []Auditor {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Auditor, 0, len(c.auditors))
	for _, a := range c.auditors {
		out = append(out, a)
	}
	return out
}

func (c *ControlConnection) snapshotConsumers() []Consumer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Consumer, 0, len(c.consumers))
	for _, cons := range c.consumers {
		out = append(out, cons)
	}
	return out
}

// dispatchNotice runs on the goroutine reading from the server. Auditors are
// called outside c.mu so they may remove themselves.
func (c *ControlConnection) dispatchNotice(message string) {
	var rc RequestContext
	if cur := c.current.Load(); cur != nil {
		rc = *cur
	}
	c.logger.Debug("notice", zap.String("owner", rc.Owner), zap.Uint64("request", rc.RequestID), zap.String("message", message))
	for _, a := range c.snapshotAuditors() {
		a.Warn(rc, message)
	}
}

// Execute runs sql on behalf of owner, drains its rows and reports the
// outcome to every consumer.
func (c *ControlConnection) Execute(ctx context.Context, owner, sql string) (int, error) {
	rc := RequestContext{Owner: owner, RequestID: c.requests.Add(1), SQL: sql}

	total, err := c.run(ctx, &rc)
	if err != nil {
		for _, cons := range c.snapshotConsumers() {
			cons.RequestFailed(rc, err)
		}
		return total, err
	}
	for _, cons := range c.snapshotConsumers() {
		cons.AfterLastRow(rc, total)
	}
	return total, nil
}

func (c *ControlConnection) run(ctx context.Context, rc *RequestContext) (int, error) {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	c.current.Store(rc)
	defer c.current.Store(nil)

	rows, err := c.conn.Query(ctx, rc.SQL)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	total := 0
	for rows.Next() {
		total++
	}
	return total, rows.Err()
}

// Close closes the underlying connection.
func (c *ControlConnection) Close(ctx context.Context) error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close(ctx)
}
