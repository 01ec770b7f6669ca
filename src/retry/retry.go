package retry

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"net"
	"syscall"
	"time"

	logger "github.com/sirupsen/logrus"

	"potpie.org/locationshare/src/fault"
)

type Class int

const (
	Retryable Class = iota
	Terminal
)

func (c Class) String() string {
	if c == Terminal {
		return "terminal"
	}
	return "retryable"
}

// Classify decides whether a failed call is worth repeating. Connectivity
// loss, timeouts and server-side failures are; everything else, including
// errors it cannot recognise, is terminal.
func Classify(err error) Class {
	if err == nil {
		return Terminal
	}
	var fe *fault.Error
	if errors.As(err, &fe) {
		switch fe.Kind {
		case fault.NetworkUnavailable, fault.Timeout, fault.ServerError:
			return Retryable
		}
		return Terminal
	}
	if errors.Is(err, context.Canceled) {
		return Terminal
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return Retryable
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return Retryable
	}
	return Terminal
}

// Observer is told about every failed attempt that will be retried, with
// the delay before the next one.
type Observer func(attempt int, delay time.Duration, err error)

// Policy is exponential backoff with additive jitter:
// min(MaxDelay, Base*Multiplier^attempt) + jitter in [0, JitterFraction*Base).
type Policy struct {
	Name           string
	MaxAttempts    int
	Base           time.Duration
	Multiplier     float64
	MaxDelay       time.Duration
	JitterFraction float64

	// Jitter returns a value in [0, max). Defaults to math/rand.
	Jitter func(max time.Duration) time.Duration
	// Sleep waits d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func Default() Policy {
	return Policy{
		Name:           "default",
		MaxAttempts:    3,
		Base:           time.Second,
		Multiplier:     2,
		MaxDelay:       30 * time.Second,
		JitterFraction: 0.25,
	}
}

func Broadcast() Policy {
	p := Default()
	p.Name = "broadcast"
	p.MaxAttempts = 5
	p.MaxDelay = 10 * time.Second
	return p
}

func Subscription() Policy {
	p := Default()
	p.Name = "subscription"
	return p
}

func PermissionGated() Policy {
	p := Default()
	p.Name = "permission-gated"
	p.MaxAttempts = 2
	p.Base = 1500 * time.Millisecond
	return p
}

func (p Policy) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.Base) * math.Pow(mult, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d) + p.jitter()
}

func (p Policy) jitter() time.Duration {
	max := time.Duration(float64(p.Base) * p.JitterFraction)
	if max <= 0 {
		return 0
	}
	if p.Jitter != nil {
		return p.Jitter(max)
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// Wait sleeps d cooperatively, returning early with ctx's error.
func (p Policy) Wait(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs op until it succeeds, fails terminally, or MaxAttempts is spent.
// The last error is returned. Cancelling ctx during a backoff wait ends the
// loop with ctx's error.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error, observers ...Observer) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if Classify(err) == Terminal {
			logger.WithFields(logger.Fields{"policy": p.Name, "attempt": attempt + 1}).Debugf("Terminal failure: %v", err)
			return err
		}
		if attempt == attempts-1 {
			break
		}
		delay := p.NextDelay(attempt)
		for _, observe := range observers {
			observe(attempt+1, delay, err)
		}
		logger.WithFields(logger.Fields{"policy": p.Name, "attempt": attempt + 1, "delay": delay}).Debugf("Retrying after: %v", err)
		if serr := p.Wait(ctx, delay); serr != nil {
			return serr
		}
	}
	logger.WithFields(logger.Fields{"policy": p.Name, "attempts": attempts}).Warnf("Giving up: %v", err)
	return err
}
