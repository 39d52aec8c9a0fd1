package debugger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ctagard/pldbg-mcp/internal/pg"
)

func TestMatchPort(t *testing.T) {
	pattern := PortPattern("PLDBGBREAK")

	tests := []struct {
		name    string
		message string
		port    int
		ok      bool
	}{
		{"notice prefix", "NOTICE: PLDBGBREAK:55432 listening", 55432, true},
		{"bare", "PLDBGBREAK:1", 1, true},
		{"first occurrence wins", "PLDBGBREAK:10 PLDBGBREAK:20", 10, true},
		{"no marker", "NOTICE: query complete", 0, false},
		{"marker without digits", "PLDBGBREAK:", 0, false},
		{"overflow", "PLDBGBREAK:99999999999999999999999999", 0, false},
		{"zero port", "NOTICE: PLDBGBREAK:0", 0, false},
		{"above port range", "NOTICE: PLDBGBREAK:65536", 0, false},
		{"highest port", "NOTICE: PLDBGBREAK:65535", 65535, true},
		{"lowercase marker", "pldbgbreak:55432", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port, ok := MatchPort(pattern, tt.message)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.port, port)
		})
	}
}

func TestPortPattern_QuotesMarker(t *testing.T) {
	pattern := PortPattern("BRK.PORT")

	_, ok := MatchPort(pattern, "BRKxPORT:5")
	assert.False(t, ok)
	port, ok := MatchPort(pattern, "BRK.PORT:5")
	assert.True(t, ok)
	assert.Equal(t, 5, port)
}

func TestPortWatcher_DeliversOnce(t *testing.T) {
	var got []int
	w := NewPortWatcher("s1", "PLDBGBREAK", func(port int) { got = append(got, port) })

	w.Warn(pg.RequestContext{Owner: "other"}, "NOTICE: PLDBGBREAK:1")
	w.Warn(pg.RequestContext{Owner: "s1"}, "NOTICE: nothing here")
	assert.Empty(t, got)
	assert.Zero(t, w.Port())

	w.Warn(pg.RequestContext{Owner: "s1"}, "NOTICE: PLDBGBREAK:55432")
	w.Warn(pg.RequestContext{Owner: "s1"}, "NOTICE: PLDBGBREAK:55433")
	assert.Equal(t, []int{55432}, got)
	assert.Equal(t, 55432, w.Port())
}

func TestPortWatcher_ZeroPortDoesNotConsumeSignal(t *testing.T) {
	var got []int
	w := NewPortWatcher("s1", "PLDBGBREAK", func(port int) { got = append(got, port) })

	w.Warn(pg.RequestContext{Owner: "s1"}, "NOTICE: PLDBGBREAK:0")
	assert.Empty(t, got)

	w.Warn(pg.RequestContext{Owner: "s1"}, "NOTICE: PLDBGBREAK:55432")
	assert.Equal(t, []int{55432}, got)
}
