package permission

import (
	"context"
	"sync"

	logger "github.com/sirupsen/logrus"

	"potpie.org/locationshare/src/fault"
	"potpie.org/locationshare/src/stream"
)

const defaultMaxDenials = 2

type gate struct {
	os OS

	mu      sync.RWMutex
	states  [2]State
	denials [2]int

	promptMu   sync.Mutex
	maxDenials int

	changes      *stream.Hub[Change]
	stopWatching func()
}

type GateOption func(*gate)

// WithMaxDenials sets how many consecutive prompt denials a scope takes
// before it is recorded as PermanentlyDenied. Zero disables escalation.
func WithMaxDenials(n int) GateOption {
	return func(g *gate) {
		g.maxDenials = n
	}
}

func NewGate(os OS, opts ...GateOption) Gate {
	g := &gate{
		os:         os,
		maxDenials: defaultMaxDenials,
		changes:    stream.NewHub[Change](),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.states[ScopeForeground] = normalize(ScopeForeground, os.Status(ScopeForeground))
	g.states[ScopeBackground] = normalize(ScopeBackground, os.Status(ScopeBackground))

	if src, ok := os.(EventSource); ok {
		updates, cancel := src.AuthorizationChanges()
		g.stopWatching = cancel
		go func() {
			for u := range updates {
				g.HandleExternalChange(u)
			}
		}()
	}
	return g
}

func (g *gate) CheckForeground() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.states[ScopeForeground]
}

func (g *gate) CheckBackground() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.states[ScopeBackground]
}

func (g *gate) RequestForeground(ctx context.Context) (State, error) {
	return g.request(ctx, ScopeForeground)
}

func (g *gate) RequestBackground(ctx context.Context) (State, error) {
	if !g.CheckForeground().Granted() {
		return g.CheckBackground(), fault.Newf(fault.InvalidSequence, "permission.RequestBackground", "foreground access not granted")
	}
	return g.request(ctx, ScopeBackground)
}

func (g *gate) request(ctx context.Context, scope Scope) (State, error) {
	g.promptMu.Lock()
	defer g.promptMu.Unlock()

	g.mu.RLock()
	current := g.states[scope]
	g.mu.RUnlock()

	if current.Granted() || current == PermanentlyDenied {
		return current, nil
	}

	logger.Infof("Prompting for %s location permission", scope)
	answer, err := g.os.Prompt(ctx, scope)
	if err != nil {
		if ctx.Err() != nil {
			return current, fault.Wrap(fault.Timeout, "permission.Prompt", ctx.Err())
		}
		return current, fault.Wrap(fault.Unknown, "permission.Prompt", err)
	}
	return g.record(scope, answer, true), nil
}

func (g *gate) HandleExternalChange(update Update) {
	g.promptMu.Lock()
	defer g.promptMu.Unlock()
	g.record(update.Scope, update.State, false)
}

// record stores state for scope and publishes the resulting changes.
func (g *gate) record(scope Scope, state State, fromPrompt bool) State {
	state = normalize(scope, state)

	g.mu.Lock()
	prev := g.states[scope]

	switch {
	case prev == PermanentlyDenied && state != PermanentlyDenied:
		// Only reachable through a settings change; the app has to ask again.
		state = Unknown
		g.denials[scope] = 0
	case fromPrompt && state == Denied:
		g.denials[scope]++
		if g.maxDenials > 0 && g.denials[scope] >= g.maxDenials {
			state = PermanentlyDenied
		}
	case state.Granted():
		g.denials[scope] = 0
	}
	g.states[scope] = state

	var changes []Change
	if prev != state {
		changes = append(changes, Change{Scope: scope, Previous: prev, Current: state})
	}
	// Background access cannot outlive foreground access.
	if scope == ScopeForeground && !state.Granted() && g.states[ScopeBackground].Granted() {
		changes = append(changes, Change{Scope: ScopeBackground, Previous: g.states[ScopeBackground], Current: Denied})
		g.states[ScopeBackground] = Denied
	}
	g.mu.Unlock()

	for _, c := range changes {
		logger.WithFields(logger.Fields{
			"scope":    c.Scope,
			"previous": c.Previous,
			"current":  c.Current,
		}).Info("Location permission changed")
		g.changes.Publish(c)
	}
	return state
}

func (g *gate) Changes() (<-chan Change, func()) {
	return g.changes.Subscribe()
}

func (g *gate) Close() {
	if g.stopWatching != nil {
		g.stopWatching()
	}
	g.changes.Close()
}

func normalize(scope Scope, state State) State {
	if !state.Granted() {
		return state
	}
	if scope == ScopeBackground {
		return BackgroundGranted
	}
	return ForegroundGranted
}
