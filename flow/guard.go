package flow

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vestio/vestio/session"
)

// Guard gates one activation of a stage view. On Activate it checks that the
// store holds the slot the view requires; if not, it redirects to the login
// entry point exactly once. Any terminal transition (redirect, hand-off or
// Close) latches the guard: later store changes and later calls never
// navigate again, and contexts from Bind are cancelled so in-flight work for
// the view can tell its result is stale.
type Guard struct {
	store    *session.Store
	nav      Navigator
	requires session.Slot
	logger   *slog.Logger

	mu         sync.Mutex
	activated  bool
	terminal   bool
	redirects  int
	terminalTo Route
	binds      map[int]context.CancelFunc
	nextBind   int
}

// NewGuard creates a guard for a view that requires the given slot. A zero
// slot means the view has no prerequisite.
func NewGuard(store *session.Store, nav Navigator, requires session.Slot, opts ...Option) *Guard {
	o := buildOptions("guard", opts)
	return &Guard{
		store:    store,
		nav:      nav,
		requires: requires,
		logger:   o.logger.With("requires", requires.String()),
		binds:    make(map[int]context.CancelFunc),
	}
}

// Activate evaluates the guard at view entry and reports whether the view
// may render. Calling it again is harmless: a missing slot never produces a
// second redirect.
func (g *Guard) Activate() bool {
	g.mu.Lock()
	if g.terminal {
		g.mu.Unlock()
		return false
	}
	g.activated = true
	g.mu.Unlock()

	if g.requires == 0 || g.store.Has(g.requires) {
		return true
	}
	g.logger.Info("required slot missing, redirecting", "to", string(RouteLogin))
	g.Redirect(RouteLogin)
	return false
}

// Redirect forces navigation to route unless the guard is already terminal.
// It reports whether navigation happened.
func (g *Guard) Redirect(route Route) bool {
	if !g.latch(route) {
		return false
	}
	g.mu.Lock()
	g.redirects++
	g.mu.Unlock()
	g.nav.Navigate(route)
	return true
}

// Handoff moves to the next stage. Like Redirect it happens at most once.
func (g *Guard) Handoff(route Route) bool {
	if !g.latch(route) {
		return false
	}
	g.nav.Navigate(route)
	return true
}

// Close ends the activation without navigating.
func (g *Guard) Close() {
	g.latch("")
}

// Active reports whether the view was activated and has not terminated.
func (g *Guard) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activated && !g.terminal
}

// Terminated reports whether a terminal transition has happened.
func (g *Guard) Terminated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.terminal
}

// Redirects returns how many redirects this guard issued (zero or one).
func (g *Guard) Redirects() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.redirects
}

// Destination returns the route of the terminal transition, if any.
func (g *Guard) Destination() Route {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.terminalTo
}

// Bind derives a context from parent that is cancelled synchronously when
// the guard terminates. A terminated guard returns an already cancelled context.
func (g *Guard) Bind(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.terminal {
		cancel()
		return ctx, cancel
	}
	id := g.nextBind
	g.nextBind++
	g.binds[id] = cancel
	return ctx, func() {
		g.mu.Lock()
		delete(g.binds, id)
		g.mu.Unlock()
		cancel()
	}
}

func (g *Guard) latch(route Route) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.terminal {
		return false
	}
	g.terminal = true
	g.terminalTo = route
	for id, cancel := range g.binds {
		cancel()
		delete(g.binds, id)
	}
	return true
}
