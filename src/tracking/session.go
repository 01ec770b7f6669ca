package tracking

import (
	"context"
	"time"

	"potpie.org/locationshare/src/location"
	"potpie.org/locationshare/src/retry"
)

type Config struct {
	// Owner keys self fixes in the cache.
	Owner string

	ForegroundDefault time.Duration
	ForegroundMin     time.Duration
	ForegroundMax     time.Duration
	// BackgroundMin is the floor for the background sampling interval.
	BackgroundMin time.Duration

	// BroadcastGrace is how long in-flight broadcasts may keep going after
	// the background budget runs out.
	BroadcastGrace time.Duration

	Now func() time.Time
}

func DefaultConfig(owner string) Config {
	return Config{
		Owner:             owner,
		ForegroundDefault: 5 * time.Second,
		ForegroundMin:     time.Second,
		ForegroundMax:     30 * time.Second,
		BackgroundMin:     15 * time.Second,
		BroadcastGrace:    retry.Broadcast().MaxDelay,
		Now:               time.Now,
	}
}

// Clamp turns a caller's desired foreground interval into the one used.
// Zero or negative picks the default.
func (c Config) Clamp(desired time.Duration) time.Duration {
	if desired <= 0 {
		return c.ForegroundDefault
	}
	if desired < c.ForegroundMin {
		return c.ForegroundMin
	}
	if desired > c.ForegroundMax {
		return c.ForegroundMax
	}
	return desired
}

// BackgroundInterval applies the background floor to interval.
func (c Config) BackgroundInterval(interval time.Duration) time.Duration {
	if interval < c.BackgroundMin {
		return c.BackgroundMin
	}
	return interval
}

// Broadcaster takes accepted self fixes off the sampling loop.
type Broadcaster interface {
	Enqueue(fix location.Location)
	CancelPending(grace time.Duration)
}

// Session is the single tracking session of the signed-in user on this
// device.
type Session interface {
	// Start begins foreground sampling at the clamped desired interval. On an
	// active session it only changes the interval.
	Start(ctx context.Context, desired time.Duration) error
	// Stop is valid in any state. It halts sampling, cancels one-shot
	// requests and outstanding self broadcasts, and releases the
	// background budget.
	Stop() error
	// CurrentLocation requests one fix, independent of the sampling loop, and
	// validates it for the current mode.
	CurrentLocation(ctx context.Context, timeout time.Duration) (location.Location, error)

	AppBackgrounded(ctx context.Context) error
	AppForegrounded(ctx context.Context) error

	Status() Status
	LastFix() (location.Location, bool)
	// States emits the current status, then every change.
	States() (<-chan Status, func())
	// Locations emits every accepted self fix.
	Locations() (<-chan location.Location, func())
	Close()
}
