package debugger

import (
	"regexp"
	"strconv"
	"sync"

	"github.com/ctagard/pldbg-mcp/internal/pg"
)

const maxPort = 65535

// PortPattern builds the pattern for "<marker>:<digits>" anywhere in a message.
func PortPattern(marker string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(marker) + `:([0-9]+)`)
}

// MatchPort extracts the port from message. A value outside 1-65535 is
// treated as no match.
func MatchPort(pattern *regexp.Regexp, message string) (int, bool) {
	m := pattern.FindStringSubmatch(message)
	if m == nil {
		return 0, false
	}
	port, err := strconv.Atoi(m[1])
	if err != nil || port < 1 || port > maxPort {
		return 0, false
	}
	return port, true
}

// PortWatcher is a notice auditor that hands the first announced port of
// its owner's request to deliver. Other notices pass through untouched.
type PortWatcher struct {
	owner   string
	pattern *regexp.Regexp
	deliver func(port int)

	once sync.Once
	mu   sync.Mutex
	port int
}

// NewPortWatcher creates a watcher for owner's notices.
func NewPortWatcher(owner, marker string, deliver func(port int)) *PortWatcher {
	return &PortWatcher{
		owner:   owner,
		pattern: PortPattern(marker),
		deliver: deliver,
	}
}

// Warn implements pg.Auditor.
func (w *PortWatcher) Warn(rc pg.RequestContext, message string) {
	if rc.Owner != w.owner {
		return
	}
	port, ok := MatchPort(w.pattern, message)
	if !ok {
		return
	}
	w.once.Do(func() {
		w.mu.Lock()
		w.port = port
		w.mu.Unlock()
		w.deliver(port)
	})
}

// Port returns the delivered port, or 0.
func (w *PortWatcher) Port() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.port
}

// completionWatcher closes its controller when the triggering query ends.
type completionWatcher struct {
	owner string
	ctl   *Controller
}

func (w *completionWatcher) AfterLastRow(rc pg.RequestContext, total int) {
	if rc.Owner != w.owner {
		return
	}
	w.ctl.queryFinished(total)
}

func (w *completionWatcher) RequestFailed(rc pg.RequestContext, err error) {
	if rc.Owner != w.owner {
		return
	}
	w.ctl.queryFailed(err)
}
