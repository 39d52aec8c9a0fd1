// Package debugger drives a PL/pgSQL debug session from call site to teardown.
//
// A Controller resolves the routine a call expression invokes, arms it with
// pldebugger on the control connection, waits for the notice that announces
// the debug port, attaches a second connection to that port and finally
// releases everything exactly once, whichever way the session ends.
//
//	Created → Preparing → Activated → AwaitingPort → Attached → Debugging → Closed
//	                 ↘           ↘             ↘
//	                  Failed ────────────────────→ Closed
//
// The Manager owns controllers by id and the Tracker enforces that only one
// session debugs at a time.
package debugger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/ctagard/pldbg-mcp/internal/errors"
	"github.com/ctagard/pldbg-mcp/internal/pg"
	"github.com/ctagard/pldbg-mcp/pkg/types"
)

// NoticeRoutineNotFound is shown when the call site matches no routine.
const NoticeRoutineNotFound = "Routine not found"

var transitions = map[types.Phase][]types.Phase{
	types.PhaseCreated:      {types.PhasePreparing, types.PhaseFailed, types.PhaseClosed},
	types.PhasePreparing:    {types.PhaseActivated, types.PhaseFailed, types.PhaseClosed},
	types.PhaseActivated:    {types.PhaseAwaitingPort, types.PhaseFailed, types.PhaseClosed},
	types.PhaseAwaitingPort: {types.PhaseAttached, types.PhaseFailed, types.PhaseClosed},
	types.PhaseAttached:     {types.PhaseDebugging, types.PhaseClosed},
	types.PhaseDebugging:    {types.PhaseClosed},
	types.PhaseFailed:       {types.PhaseClosed},
}

func canTransition(from, to types.Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Hooks are optional callbacks into the embedding environment.
type Hooks struct {
	// OnAttached runs after the debug link is open, outside the controller lock.
	OnAttached func(c *Controller)
	// OnClosed runs once, after every resource has been released.
	OnClosed func(c *Controller)
}

// Options configures a Controller.
type Options struct {
	ID   string
	Name string
	Call types.CallSite

	// Control is the connection the routine is resolved on.
	Control ControlConnection

	Resolver  Resolver
	Activator Activator
	Attacher  Attacher
	Bridge    Bridge
	Tracker   *Tracker

	PortMarker    string
	AttachTimeout time.Duration
	CloseTimeout  time.Duration

	Clock  clock.Clock
	Logger *zap.Logger
	Hooks  Hooks
}

// Controller is the state machine of one debug session. All state is
// written under mu; callbacks from the connections and the bridge may
// arrive on any goroutine.
type Controller struct {
	id   string
	name string
	call types.CallSite

	control   ControlConnection
	resolver  Resolver
	activator Activator
	attacher  Attacher
	bridge    Bridge
	tracker   *Tracker

	marker        string
	attachTimeout time.Duration
	closeTimeout  time.Duration
	clock         clock.Clock
	logger        *zap.Logger
	hooks         Hooks
	createdAt     time.Time

	mu             sync.Mutex
	phase          types.Phase
	port           int
	portSet        bool
	routine        types.RoutineHandle
	process        *Process
	link           DebugLink
	failure        error
	panel          *PanelHandle
	closedAt       time.Time
	removeAuditor  func()
	removeConsumer func()
	cancelPanel    func()
	panelListener  *panelListener

	done chan struct{}
}

// NewController creates a controller in the Created phase.
func NewController(opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracker == nil {
		opts.Tracker = DefaultTracker()
	}
	if opts.Resolver == nil {
		opts.Resolver = &CatalogResolver{Logger: opts.Logger}
	}
	if opts.Activator == nil {
		opts.Activator = DirectiveActivator{}
	}
	if opts.PortMarker == "" {
		opts.PortMarker = "PLDBGBREAK"
	}
	if opts.AttachTimeout <= 0 {
		opts.AttachTimeout = 10 * time.Second
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = 3 * time.Second
	}
	if opts.Name == "" {
		opts.Name = opts.Call.QualifiedName()
	}

	return &Controller{
		id:            opts.ID,
		name:          opts.Name,
		call:          opts.Call,
		control:       opts.Control,
		resolver:      opts.Resolver,
		activator:     opts.Activator,
		attacher:      opts.Attacher,
		bridge:        opts.Bridge,
		tracker:       opts.Tracker,
		marker:        opts.PortMarker,
		attachTimeout: opts.AttachTimeout,
		closeTimeout:  opts.CloseTimeout,
		clock:         opts.Clock,
		logger:        opts.Logger.With(zap.String("session", opts.ID)),
		hooks:         opts.Hooks,
		createdAt:     opts.Clock.Now(),
		phase:         types.PhaseCreated,
		done:          make(chan struct{}),
	}
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// Name returns the session name the debug panel knows it by.
func (c *Controller) Name() string { return c.name }

// Call returns the call site.
func (c *Controller) Call() types.CallSite { return c.call }

// CreatedAt returns when the controller was created.
func (c *Controller) CreatedAt() time.Time { return c.createdAt }

// Done is closed after the session has been closed and released.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Phase returns the current phase.
func (c *Controller) Phase() types.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Port returns the announced debug port, or 0.
func (c *Controller) Port() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port
}

// Failure returns why the session failed, if it did.
func (c *Controller) Failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// ClosedAt returns when the session closed, or the zero time.
func (c *Controller) ClosedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closedAt
}

// Info returns a snapshot of the session.
func (c *Controller) Info() types.SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := types.SessionInfo{
		SessionID: c.id,
		Name:      c.name,
		Call:      c.call.String(),
		Phase:     c.phase,
		Port:      c.port,
		Routine:   c.routine,
	}
	if c.process != nil {
		if link, ok := c.process.Link(); ok {
			info.DebugSession = link.Session()
		}
	}
	if c.failure != nil {
		info.Failure = c.failure.Error()
	}
	return info
}

// setPhaseLocked moves to the next phase. Callers hold c.mu.
func (c *Controller) setPhaseLocked(to types.Phase) error {
	from := c.phase
	if !canTransition(from, to) {
		return fmt.Errorf("invalid transition %s → %s", from, to)
	}
	c.phase = to
	c.logger.Debug("phase", zap.Stringer("from", from), zap.Stringer("to", to))
	return nil
}

// OnReady is called when the environment is ready to start the session.
func (c *Controller) OnReady() {
	c.logger.Debug("ready", zap.String("call", c.call.String()))
}

// InitLocal claims the debugger, subscribes to panel events and resolves the
// routine. When nothing matches the user is told once and the session closes.
func (c *Controller) InitLocal(ctx context.Context) (*Process, error) {
	// Claim the slot under c.mu; Close must not run between check and claim.
	c.mu.Lock()
	if c.phase != types.PhaseCreated {
		phase := c.phase
		c.mu.Unlock()
		if phase == types.PhaseClosed {
			return nil, errors.SessionClosed(c.id)
		}
		return nil, fmt.Errorf("init local in phase %s", phase)
	}
	if err := c.tracker.Started(c); err != nil {
		c.mu.Unlock()
		c.fail(err)
		return nil, err
	}
	if err := c.setPhaseLocked(types.PhasePreparing); err != nil {
		c.mu.Unlock()
		c.tracker.Finished(c)
		return nil, err
	}
	if c.bridge != nil {
		c.panelListener = &panelListener{ctl: c}
		c.cancelPanel = c.bridge.Subscribe(c.panelListener.onShown)
	}
	c.mu.Unlock()

	routine, err := c.resolver.Resolve(ctx, c.control, c.call)
	if err != nil {
		derr := errors.ConnectionFailed("control", err)
		c.fail(derr)
		return nil, derr
	}
	if routine.IsZero() {
		c.notify(NoticeRoutineNotFound)
		derr := errors.RoutineNotFound(c.call.QualifiedName(), c.call.Arity())
		c.fail(derr)
		return nil, derr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != types.PhasePreparing {
		return nil, errors.SessionClosed(c.id)
	}
	c.routine = routine
	c.process = newProcess(routine)
	c.logger.Info("routine resolved", zap.Stringer("routine", routine))
	return c.process, nil
}

// InitRemote arms the resolved routine on conn and starts watching conn for
// the port signal and for the end of the triggering query. It must return
// before the triggering query is executed.
func (c *Controller) InitRemote(ctx context.Context, conn ControlConnection) error {
	c.mu.Lock()
	phase, routine := c.phase, c.routine
	c.mu.Unlock()

	if phase.Terminal() {
		return errors.SessionClosed(c.id)
	}
	if phase != types.PhasePreparing || routine.IsZero() {
		return fmt.Errorf("init remote in phase %s without a resolved routine", phase)
	}

	accepted, err := c.activator.Activate(ctx, conn, routine)
	if err != nil {
		derr := errors.ConnectionFailed("control", err)
		c.fail(derr)
		return derr
	}
	if !accepted {
		derr := errors.ActivationDeclined(routine.String())
		c.notify(derr.Message)
		c.fail(derr)
		return derr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.setPhaseLocked(types.PhaseActivated); err != nil {
		return errors.SessionClosed(c.id)
	}
	watcher := NewPortWatcher(c.id, c.marker, c.onPort)
	c.removeAuditor = conn.AddAuditor(watcher)
	c.removeConsumer = conn.AddConsumer(&completionWatcher{owner: c.id, ctl: c})
	if err := c.setPhaseLocked(types.PhaseAwaitingPort); err != nil {
		return err
	}
	c.logger.Info("routine armed, waiting for port", zap.Uint32("oid", routine.OID))
	return nil
}

// onPort receives the port from the watcher, usually on the goroutine that
// reads the control connection. The attach runs on its own goroutine.
func (c *Controller) onPort(port int) {
	if port <= 0 {
		c.logger.Debug("ignoring port signal without a usable port", zap.Int("port", port))
		return
	}
	c.mu.Lock()
	if c.phase != types.PhaseAwaitingPort || c.portSet {
		phase := c.phase
		c.mu.Unlock()
		c.logger.Debug("ignoring late port signal", zap.Int("port", port), zap.Stringer("phase", phase))
		return
	}
	c.port = port
	c.portSet = true
	remove := c.removeAuditor
	c.removeAuditor = nil
	c.mu.Unlock()

	if remove != nil {
		remove()
	}
	c.logger.Info("port signal received", zap.Int("port", port))
	go c.attach(port)
}

func (c *Controller) attach(port int) {
	if c.attacher == nil {
		c.fail(errors.ConnectionFailed("debug", fmt.Errorf("no attacher configured")))
		return
	}

	ctx, cancel := c.clock.WithTimeout(context.Background(), c.attachTimeout)
	defer cancel()
	link, err := c.attacher.Attach(ctx, port)

	c.mu.Lock()
	if c.phase != types.PhaseAwaitingPort {
		c.mu.Unlock()
		if link != nil {
			c.logger.Debug("session closed during attach, releasing debug connection")
			c.release(link)
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.fail(errors.ConnectionFailed("debug", err))
		return
	}
	c.link = link
	if err := c.setPhaseLocked(types.PhaseAttached); err != nil {
		c.mu.Unlock()
		c.release(link)
		return
	}
	if c.process != nil {
		c.process.startDebug(link)
	}
	c.mu.Unlock()

	c.logger.Info("debug connection attached", zap.Int("port", port), zap.Int("pldbg_session", link.Session()))
	if c.hooks.OnAttached != nil {
		c.hooks.OnAttached(c)
	}
}

// DebugBegin hands the attached session over to the debug loop.
func (c *Controller) DebugBegin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.setPhaseLocked(types.PhaseDebugging); err != nil {
		c.logger.Debug("debug begin ignored", zap.Error(err))
		return
	}
	c.logger.Info("debug begin")
}

// DebugEnd is called when the debug loop returns.
func (c *Controller) DebugEnd() {
	c.logger.Info("debug end")
}

func (c *Controller) queryFinished(total int) {
	c.logger.Debug("triggering query finished", zap.Int("rows", total))
	c.Close()
}

func (c *Controller) queryFailed(err error) {
	if pg.IsConnectionError(err) {
		c.fail(errors.ConnectionFailed("control", err))
		return
	}
	c.logger.Info("triggering query failed", zap.Error(err))
	c.Close()
}

// fail records err, moves to Failed where that is allowed, and closes.
func (c *Controller) fail(err error) {
	c.mu.Lock()
	if c.phase == types.PhaseClosed {
		c.mu.Unlock()
		return
	}
	if c.failure == nil {
		c.failure = err
	}
	if terr := c.setPhaseLocked(types.PhaseFailed); terr != nil {
		c.logger.Debug("failure after attach", zap.Error(err))
	}
	c.mu.Unlock()

	c.logger.Warn("session failed", zap.Error(err))
	c.Close()
}

func (c *Controller) notify(message string) {
	if c.bridge == nil {
		return
	}
	c.bridge.Notify(c.name, message)
}

// Close ends the session. It is safe to call from any goroutine and any
// number of times; the release actions run once.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.phase == types.PhaseClosed {
		c.mu.Unlock()
		c.logger.Debug("close ignored, already closed")
		return
	}
	c.phase = types.PhaseClosed
	c.closedAt = c.clock.Now()

	removeAuditor, removeConsumer, cancelPanel := c.removeAuditor, c.removeConsumer, c.cancelPanel
	c.removeAuditor, c.removeConsumer, c.cancelPanel = nil, nil, nil
	panel := c.panel
	c.panel = nil
	link := c.link
	c.link = nil
	c.mu.Unlock()

	c.logger.Info("close")

	for _, undo := range []func(){removeAuditor, removeConsumer, cancelPanel} {
		if undo != nil {
			undo()
		}
	}

	if c.bridge != nil {
		if panel == nil {
			if h, ok := c.bridge.Locate(c.name); ok {
				panel = &h
			}
		}
		if panel != nil {
			c.bridge.Remove(*panel)
		}
	}

	if link != nil {
		c.release(link)
	}

	c.tracker.Finished(c)
	close(c.done)

	if c.hooks.OnClosed != nil {
		c.hooks.OnClosed(c)
	}
}

// release closes link with a bounded wait; failures are logged only.
func (c *Controller) release(link DebugLink) {
	ctx, cancel := c.clock.WithTimeout(context.Background(), c.closeTimeout)
	defer cancel()
	if err := link.Close(ctx); err != nil {
		c.logger.Warn("failed to close debug connection (continuing cleanup)", zap.Int("port", link.Port()), zap.Error(err))
	}
}

// panelListener re-shows the debug panel the first time another panel takes
// the front after it appeared, and remembers where this session lives in it.
type panelListener struct {
	ctl *Controller

	mu       sync.Mutex
	sawDebug bool
	located  bool
}

func (l *panelListener) onShown(ev PanelEvent) {
	l.mu.Lock()
	if ev.PanelID == DebugPanelID {
		l.sawDebug = true
		l.mu.Unlock()
		return
	}
	if !l.sawDebug || l.located {
		l.mu.Unlock()
		return
	}
	l.sawDebug = false
	l.located = true
	l.mu.Unlock()

	c := l.ctl
	c.bridge.Show()
	h, ok := c.bridge.Locate(c.name)
	if !ok {
		return
	}

	c.mu.Lock()
	if c.phase != types.PhaseClosed {
		c.panel = &h
	}
	c.mu.Unlock()
}
