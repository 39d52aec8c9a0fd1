package debugger

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/ctagard/pldbg-mcp/pkg/types"
)

// CatalogResolver resolves a call site by exact parameter count.
type CatalogResolver struct {
	Logger *zap.Logger
}

// Resolve returns the single candidate whose parameter count equals the
// call's argument count. No query is issued for an empty routine name.
func (r *CatalogResolver) Resolve(ctx context.Context, cat Catalog, call types.CallSite) (types.RoutineHandle, error) {
	if strings.TrimSpace(call.Routine) == "" {
		return types.RoutineHandle{}, nil
	}

	candidates, err := cat.LookupRoutines(ctx, call.Schema, call.Routine)
	if err != nil {
		return types.RoutineHandle{}, err
	}

	matches := lo.Filter(candidates, func(h types.RoutineHandle, _ int) bool {
		return h.ParamCount == call.Arity()
	})
	if len(matches) != 1 {
		r.logger().Info("no unique routine for call",
			zap.String("call", call.QualifiedName()),
			zap.Int("arity", call.Arity()),
			zap.Int("candidates", len(candidates)),
			zap.Int("arity_matches", len(matches)))
		return types.RoutineHandle{}, nil
	}
	return matches[0], nil
}

func (r *CatalogResolver) logger() *zap.Logger {
	if r == nil || r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

var errNoRoutine = stderrors.New("activate called without a resolved routine")

// DirectiveActivator arms routines with plpgsql_oid_debug; status 0 means armed.
type DirectiveActivator struct{}

// Activate arms routine through d.
func (DirectiveActivator) Activate(ctx context.Context, d Directive, routine types.RoutineHandle) (bool, error) {
	if routine.IsZero() {
		return false, errNoRoutine
	}
	status, err := d.ArmRoutine(ctx, routine.OID)
	if err != nil {
		return false, err
	}
	return status == 0, nil
}
