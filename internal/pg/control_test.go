package pg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAuditor struct {
	mu       sync.Mutex
	messages []string
	owners   []string
	onWarn   func()
}

func (r *recordingAuditor) Warn(rc RequestContext, message string) {
	r.mu.Lock()
	r.messages = append(r.messages, message)
	r.owners = append(r.owners, rc.Owner)
	r.mu.Unlock()
	if r.onWarn != nil {
		r.onWarn()
	}
}

func TestFormatNotice(t *testing.T) {
	assert.Equal(t, "NOTICE: PLDBGBREAK:55432", FormatNotice(&pgconn.Notice{Severity: "NOTICE", Message: "PLDBGBREAK:55432"}))
	assert.Equal(t, "bare", FormatNotice(&pgconn.Notice{Message: "bare"}))
	assert.Equal(t, "", FormatNotice(nil))
}

func TestDispatchNotice_TagsCurrentRequest(t *testing.T) {
	c := newControl(nil)
	a := &recordingAuditor{}
	remove := c.AddAuditor(a)
	defer remove()

	c.dispatchNotice("outside any request")

	rc := &RequestContext{Owner: "session-1", RequestID: 7}
	c.current.Store(rc)
	c.dispatchNotice("NOTICE: PLDBGBREAK:1234")
	c.current.Store(nil)

	require.Len(t, a.messages, 2)
	assert.Equal(t, []string{"", "session-1"}, a.owners)
	assert.Equal(t, "NOTICE: PLDBGBREAK:1234", a.messages[1])
}

func TestAddAuditor_RemoveIsSymmetric(t *testing.T) {
	c := newControl(nil)
	a := &recordingAuditor{}

	removeA := c.AddAuditor(a)
	removeC := c.AddConsumer(nil)
	auditors, consumers := c.Subscriptions()
	assert.Equal(t, 1, auditors)
	assert.Equal(t, 1, consumers)

	removeA()
	removeA()
	removeC()
	auditors, consumers = c.Subscriptions()
	assert.Zero(t, auditors)
	assert.Zero(t, consumers)

	c.dispatchNotice("after removal")
	assert.Empty(t, a.messages)
}

func TestDispatchNotice_AuditorMayRemoveItself(t *testing.T) {
	c := newControl(nil)
	a := &recordingAuditor{}
	var remove func()
	a.onWarn = func() { remove() }
	remove = c.AddAuditor(a)

	c.dispatchNotice("first")
	c.dispatchNotice("second")

	assert.Equal(t, []string{"first"}, a.messages)
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection failure", &pgconn.PgError{Code: pgerrcode.ConnectionFailure}, true},
		{"admin shutdown", &pgconn.PgError{Code: pgerrcode.AdminShutdown}, true},
		{"undefined function", &pgconn.PgError{Code: pgerrcode.UndefinedFunction}, false},
		{"transport", errors.New("read tcp: connection reset by peer"), true},
		{"canceled", fmt.Errorf("query: %w", context.Canceled), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsConnectionError(tc.err))
		})
	}
}

func TestIsDeclined(t *testing.T) {
	assert.True(t, IsDeclined(&pgconn.PgError{Code: pgerrcode.UndefinedFunction}))
	assert.True(t, IsDeclined(fmt.Errorf("wrap: %w", &pgconn.PgError{Code: pgerrcode.InsufficientPrivilege})))
	assert.False(t, IsDeclined(&pgconn.PgError{Code: pgerrcode.ConnectionFailure}))
	assert.False(t, IsDeclined(errors.New("eof")))
}

// TestControlConnection_Live exercises the catalog against a real server when
// PLDBG_TEST_DSN is set.
func TestControlConnection_Live(t *testing.T) {
	dsn := os.Getenv("PLDBG_TEST_DSN")
	if dsn == "" {
		t.Skip("PLDBG_TEST_DSN not set")
	}

	ctx := context.Background()
	c, err := DialControl(ctx, dsn, nil)
	require.NoError(t, err)
	defer c.Close(ctx)

	_, err = c.conn.Exec(ctx, `CREATE OR REPLACE FUNCTION public.pldbg_probe(a int, b int) RETURNS int LANGUAGE plpgsql AS $$ BEGIN RAISE NOTICE 'probe'; RETURN a + b; END $$`)
	require.NoError(t, err)
	defer c.conn.Exec(ctx, `DROP FUNCTION public.pldbg_probe(int, int)`)

	routines, err := c.LookupRoutines(ctx, "", "pldbg_probe")
	require.NoError(t, err)
	require.Len(t, routines, 1)
	assert.Equal(t, 2, routines[0].ParamCount)

	a := &recordingAuditor{}
	defer c.AddAuditor(a)()
	total, err := c.Execute(ctx, "owner", "SELECT public.pldbg_probe(1, 2)")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, []string{"NOTICE: probe"}, a.messages)
	assert.Equal(t, []string{"owner"}, a.owners)
}
