package tracking

import (
	"fmt"
	"time"

	"potpie.org/locationshare/src/fault"
)

type State int

const (
	Stopped State = iota
	Starting
	ActiveForeground
	ActiveBackground
	Suspended
)

func (s State) String() string {
	switch s {
	case Starting:
		return "Starting"
	case ActiveForeground:
		return "ActiveForeground"
	case ActiveBackground:
		return "ActiveBackground"
	case Suspended:
		return "Suspended"
	}
	return "Stopped"
}

func (s State) Active() bool {
	return s == ActiveForeground || s == ActiveBackground
}

// Reason says why a session is Suspended, or why it last fell back to
// Stopped.
type Reason int

const (
	NoReason Reason = iota
	PermissionDenied
	PermissionRevoked
	BackgroundPermissionDenied
	LocationDisabled
	BudgetUnavailable
	BudgetExhausted
)

func (r Reason) String() string {
	switch r {
	case PermissionDenied:
		return "PermissionDenied"
	case PermissionRevoked:
		return "PermissionRevoked"
	case BackgroundPermissionDenied:
		return "BackgroundPermissionDenied"
	case LocationDisabled:
		return "LocationDisabled"
	case BudgetUnavailable:
		return "BudgetUnavailable"
	case BudgetExhausted:
		return "BudgetExhausted"
	}
	return "None"
}

// Kind maps a reason onto the error taxonomy for the UI.
func (r Reason) Kind() fault.Kind {
	switch r {
	case PermissionDenied, BackgroundPermissionDenied:
		return fault.PermissionDenied
	case PermissionRevoked:
		return fault.PermissionRevoked
	case LocationDisabled:
		return fault.LocationDisabled
	}
	return fault.Unknown
}

type Status struct {
	State    State
	Reason   Reason
	Interval time.Duration
}

func (s Status) String() string {
	switch {
	case s.State == Suspended || (s.State == Stopped && s.Reason != NoReason):
		return fmt.Sprintf("%s(%s)", s.State, s.Reason)
	case s.State.Active():
		return fmt.Sprintf("%s@%s", s.State, s.Interval)
	}
	return s.State.String()
}

type EventKind int

const (
	StartRequested EventKind = iota
	StartSucceeded
	StartFailed
	Backgrounded
	BackgroundRefused
	Foregrounded
	AccessLost
	ServicesLost
	Exhausted
	StopRequested
)

func (k EventKind) String() string {
	switch k {
	case StartRequested:
		return "StartRequested"
	case StartSucceeded:
		return "StartSucceeded"
	case StartFailed:
		return "StartFailed"
	case Backgrounded:
		return "Backgrounded"
	case BackgroundRefused:
		return "BackgroundRefused"
	case Foregrounded:
		return "Foregrounded"
	case AccessLost:
		return "AccessLost"
	case ServicesLost:
		return "ServicesLost"
	case Exhausted:
		return "Exhausted"
	}
	return "StopRequested"
}

// Event drives Next. Reason is read by StartFailed and BackgroundRefused,
// Interval by StartSucceeded, Backgrounded and Foregrounded.
type Event struct {
	Kind     EventKind
	Reason   Reason
	Interval time.Duration
}

// Next is the session's transition function. It reports false when ev is
// not valid in s, in which case s is returned unchanged.
func Next(s Status, ev Event) (Status, bool) {
	switch ev.Kind {
	case StopRequested:
		return Status{State: Stopped}, true

	case StartRequested:
		if s.State == Stopped || s.State == Suspended {
			return Status{State: Starting}, true
		}

	case StartSucceeded:
		if s.State == Starting || s.State == ActiveForeground {
			return Status{State: ActiveForeground, Interval: ev.Interval}, true
		}

	case StartFailed:
		if s.State == Starting {
			return Status{State: Stopped, Reason: ev.Reason}, true
		}

	case Backgrounded:
		if s.State == ActiveForeground {
			return Status{State: ActiveBackground, Interval: ev.Interval}, true
		}

	case BackgroundRefused:
		if s.State == ActiveForeground {
			return Status{State: Suspended, Reason: ev.Reason}, true
		}

	case Foregrounded:
		if s.State == ActiveBackground || (s.State == Suspended && s.Reason == BackgroundPermissionDenied) {
			return Status{State: ActiveForeground, Interval: ev.Interval}, true
		}

	case AccessLost:
		if s.State.Active() || s.State == Starting || s.State == Suspended {
			return Status{State: Suspended, Reason: PermissionRevoked}, true
		}

	case ServicesLost:
		if s.State.Active() || s.State == Suspended {
			return Status{State: Suspended, Reason: LocationDisabled}, true
		}

	case Exhausted:
		if s.State == ActiveBackground {
			return Status{State: Stopped, Reason: BudgetExhausted}, true
		}
	}
	return s, false
}
