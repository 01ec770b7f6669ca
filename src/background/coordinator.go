package background

import (
	"context"
	"time"
)

type Config struct {
	// SafetyMargin is how long before the OS deadline the budget is renewed
	// or given back.
	SafetyMargin time.Duration
	// MaxRenewals caps renewals per background stint on top of whatever
	// limit the platform enforces.
	MaxRenewals int
	Now         func() time.Time
}

func DefaultConfig() Config {
	return Config{
		SafetyMargin: 5 * time.Second,
		MaxRenewals:  3,
		Now:          time.Now,
	}
}

// Coordinator owns the background execution budget while the app is
// backgrounded.
type Coordinator interface {
	// Enter acquires a budget and calls tick every interval until Exit or
	// until the budget runs out. When the budget cannot be renewed it is
	// released and onExhausted is called once, after ticking has stopped.
	Enter(ctx context.Context, interval time.Duration, tick func(ctx context.Context), onExhausted func()) error
	// Exit stops ticking and releases the budget. Safe to call when not
	// entered.
	Exit()
	Active() bool
	// Deadline is the current OS deadline, zero when not entered.
	Deadline() time.Time
}
