package platform

import (
	"context"
	"errors"
	"time"
)

// Reading is a raw fix as the positioning hardware reports it, before any
// validation. Timestamp is in milliseconds since the epoch.
type Reading struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
	Timestamp int64
	Altitude  *float64
}

// Budget is an OS grant to keep running while backgrounded.
type Budget interface {
	Deadline() time.Time
	// Renew extends the grant. It fails with ErrRenewalLimit once the
	// platform stops extending.
	Renew(ctx context.Context) (time.Time, error)
	Release()
}

// Provider is the per-target positioning and background-execution API.
type Provider interface {
	ServicesEnabled() bool
	RequestSingleFix(ctx context.Context) (Reading, error)
	// StartContinuousUpdates delivers readings roughly every interval until
	// ctx is done or location services go off, then closes the channel.
	StartContinuousUpdates(ctx context.Context, interval time.Duration) (<-chan Reading, error)
	AcquireBackgroundBudget(ctx context.Context) (Budget, error)
}

var (
	ErrRenewalLimit     = errors.New("background budget renewal limit reached")
	ErrBudgetReleased   = errors.New("background budget already released")
	ErrServicesDisabled = errors.New("location services disabled")
)
