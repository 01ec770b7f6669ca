package quality

import (
	"time"

	"potpie.org/locationshare/src/fault"
	"potpie.org/locationshare/src/location"
)

type Mode int

const (
	Foreground Mode = iota
	Background
)

func (m Mode) String() string {
	if m == Background {
		return "background"
	}
	return "foreground"
}

// Thresholds bound what a fix may look like to be accepted. A fix whose
// accuracy or age strictly exceeds the bound is rejected.
type Thresholds struct {
	MaxAccuracy float64
	MaxAge      time.Duration
}

var (
	ForegroundThresholds = Thresholds{MaxAccuracy: 50, MaxAge: 30 * time.Second}
	BackgroundThresholds = Thresholds{MaxAccuracy: 200, MaxAge: 300 * time.Second}
)

func ThresholdsFor(mode Mode) Thresholds {
	if mode == Background {
		return BackgroundThresholds
	}
	return ForegroundThresholds
}

// Decision is either Accepted or a rejection carrying InaccurateFix or StaleFix.
type Decision struct {
	Accepted bool
	Reason   fault.Kind
}

func (d Decision) Err() error {
	if d.Accepted {
		return nil
	}
	return fault.New(d.Reason, "quality.Accept")
}

// Accept decides whether fix is usable in mode at time now. Accuracy is
// checked before freshness.
func Accept(fix location.Location, mode Mode, now time.Time) Decision {
	return AcceptWith(fix, ThresholdsFor(mode), now)
}

func AcceptWith(fix location.Location, th Thresholds, now time.Time) Decision {
	if fix.Accuracy() > th.MaxAccuracy {
		return Decision{Reason: fault.InaccurateFix}
	}
	if fix.Age(now) > th.MaxAge {
		return Decision{Reason: fault.StaleFix}
	}
	return Decision{Accepted: true}
}

// Validator binds Accept to a clock so callers on the hot path don't thread
// time through.
type Validator struct {
	now func() time.Time
}

func NewValidator(now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{now: now}
}

func (v *Validator) Accept(fix location.Location, mode Mode) Decision {
	return Accept(fix, mode, v.now())
}
