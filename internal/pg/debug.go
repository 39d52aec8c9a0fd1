package pg

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const attachToPortSQL = `SELECT pldbg_attach_to_port($1)`

// DebugDialer opens debug connections against the server the control
// connection talks to.
type DebugDialer struct {
	DSN    string
	Logger *zap.Logger
}

// DebugConnection is the second connection, attached to the target backend
// through the port pldebugger announced. The stepping protocol runs over Conn.
type DebugConnection struct {
	conn    *pgx.Conn
	port    int
	session int

	closeOnce sync.Once
	closeErr  error
}

// Attach connects and binds the new connection to port.
func (d *DebugDialer) Attach(ctx context.Context, port int) (*DebugConnection, error) {
	conn, err := pgx.Connect(ctx, d.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect debug connection: %w", err)
	}

	var session int32
	if err := conn.QueryRow(ctx, attachToPortSQL, port).Scan(&session); err != nil {
		if cerr := conn.Close(ctx); cerr != nil && d.Logger != nil {
			d.Logger.Warn("failed to close debug connection after attach error", zap.Error(cerr))
		}
		return nil, fmt.Errorf("attach to port %d: %w", port, err)
	}

	if d.Logger != nil {
		d.Logger.Info("debug connection attached", zap.Int("port", port), zap.Int32("pldbg_session", session))
	}
	return &DebugConnection{conn: conn, port: port, session: int(session)}, nil
}

// Port is the port the connection was attached through.
func (d *DebugConnection) Port() int { return d.port }

// Session is the pldbg session handle returned by pldbg_attach_to_port.
func (d *DebugConnection) Session() int { return d.session }

// Close closes the connection once; later calls return the first result.
func (d *DebugConnection) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		if d.conn != nil {
			d.closeErr = d.conn.Close(ctx)
		}
	})
	return d.closeErr
}
