package permission

import (
	"context"
)

type State int

const (
	Unknown State = iota
	ForegroundGranted
	BackgroundGranted
	Denied
	PermanentlyDenied
)

func (s State) String() string {
	switch s {
	case ForegroundGranted:
		return "ForegroundGranted"
	case BackgroundGranted:
		return "BackgroundGranted"
	case Denied:
		return "Denied"
	case PermanentlyDenied:
		return "PermanentlyDenied"
	}
	return "Unknown"
}

func (s State) Granted() bool {
	return s == ForegroundGranted || s == BackgroundGranted
}

type Scope int

const (
	ScopeForeground Scope = iota
	ScopeBackground
)

func (s Scope) String() string {
	if s == ScopeBackground {
		return "background"
	}
	return "foreground"
}

// Change is published whenever the recorded state of a scope moves.
type Change struct {
	Scope    Scope
	Previous State
	Current  State
}

// Revoked reports a downgrade from granted to anything else.
func (c Change) Revoked() bool {
	return c.Previous.Granted() && !c.Current.Granted()
}

// OS is the platform authorization API.
type OS interface {
	Status(scope Scope) State
	// Prompt shows the system dialog and blocks until the user answers or
	// ctx is done.
	Prompt(ctx context.Context, scope Scope) (State, error)
}

// Update is an authorization change made outside the app, e.g. in the
// system settings.
type Update struct {
	Scope Scope
	State State
}

// EventSource is implemented by OS backends that can report changes made
// outside the app.
type EventSource interface {
	AuthorizationChanges() (<-chan Update, func())
}

type Gate interface {
	CheckForeground() State
	CheckBackground() State
	RequestForeground(ctx context.Context) (State, error)
	// RequestBackground fails with InvalidSequence unless foreground access
	// is already granted.
	RequestBackground(ctx context.Context) (State, error)
	Changes() (<-chan Change, func())
	HandleExternalChange(update Update)
	Close()
}
