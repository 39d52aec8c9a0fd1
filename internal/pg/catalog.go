package pg

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/ctagard/pldbg-mcp/pkg/types"
)

// DeclinedStatus is reported by ArmRoutine when the server refused the directive.
const DeclinedStatus = -1

// Only PL/pgSQL routines can be debugged. An empty schema restricts the
// lookup to routines visible on the active search path.
const lookupRoutinesSQL = `
SELECT p.oid, n.nspname, p.proname, p.pronargs,
       pg_catalog.pg_get_function_identity_arguments(p.oid)
FROM pg_catalog.pg_proc p
JOIN pg_catalog.pg_namespace n ON n.oid = p.pronamespace
JOIN pg_catalog.pg_language l ON l.oid = p.prolang
WHERE l.lanname = 'plpgsql'
  AND p.proname = $1
  AND CASE WHEN $2::text = '' THEN pg_catalog.pg_function_is_visible(p.oid)
           ELSE n.nspname = $2::text END
ORDER BY n.nspname, p.oid`

const armRoutineSQL = `SELECT plpgsql_oid_debug($1::oid)`

// LookupRoutines returns the PL/pgSQL routines named name.
func (c *ControlConnection) LookupRoutines(ctx context.Context, schema, name string) ([]types.RoutineHandle, error) {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	rows, err := c.conn.Query(ctx, lookupRoutinesSQL, name, schema)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.RoutineHandle, error) {
		var (
			h     types.RoutineHandle
			nargs int16
		)
		if err := row.Scan(&h.OID, &h.Schema, &h.Name, &nargs, &h.Signature); err != nil {
			return types.RoutineHandle{}, err
		}
		h.ParamCount = int(nargs)
		return h, nil
	})
}

// ArmRoutine asks pldebugger to break on the next invocation of oid and
// returns its status code. Server-side refusals are reported as
// DeclinedStatus; only connection-level failures are returned as errors.
func (c *ControlConnection) ArmRoutine(ctx context.Context, oid uint32) (int, error) {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	var status int32
	err := c.conn.QueryRow(ctx, armRoutineSQL, oid).Scan(&status)
	if err == nil {
		return int(status), nil
	}
	if IsDeclined(err) {
		var pgErr *pgconn.PgError
		stderrors.As(err, &pgErr)
		c.logger.Info("debug directive declined",
			zap.Uint32("oid", oid),
			zap.String("sqlstate", pgErr.Code),
			zap.String("reason", pgErr.Message))
		return DeclinedStatus, nil
	}
	return 0, err
}

// IsDeclined reports whether err is a server-side refusal, such as a missing
// pldbgapi extension or a permission error, rather than a lost connection.
func IsDeclined(err error) bool {
	var pgErr *pgconn.PgError
	if !stderrors.As(err, &pgErr) {
		return false
	}
	return !IsConnectionError(err)
}

// IsConnectionError reports whether err means the connection is no longer usable.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code) ||
			pgerrcode.IsOperatorIntervention(pgErr.Code)
	}
	// anything that never reached the server as a PgError is a transport failure
	return !stderrors.Is(err, context.Canceled)
}
