package sync

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"

	"potpie.org/locationshare/src/cache"
	"potpie.org/locationshare/src/db"
	"potpie.org/locationshare/src/fault"
	"potpie.org/locationshare/src/location"
	"potpie.org/locationshare/src/metrics"
	"potpie.org/locationshare/src/relationship"
	"potpie.org/locationshare/src/retry"
	"potpie.org/locationshare/src/stream"
)

const breakerName = "location-backend"

type engine struct {
	cfg       Config
	backend   db.Client
	directory Directory
	identity  Identity
	cache     cache.Cache
	breaker   *gobreaker.CircuitBreaker[struct{}]

	sharing atomic.Bool

	mu      sync.Mutex
	pending map[string]*inflight
	// epoch advances on every CancelPending; queued fixes from an older
	// epoch are dropped by the worker
	epoch   uint64
	sending context.CancelFunc

	outbound chan outboundFix
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	errors *stream.Hub[error]
}

type outboundFix struct {
	fix   location.Location
	epoch uint64
}

type inflight struct {
	attempt Attempt
	cancel  context.CancelFunc
}

func NewEngine(backend db.Client, directory Directory, identity Identity, c cache.Cache, cfg Config) Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &engine{
		cfg:       cfg,
		backend:   backend,
		directory: directory,
		identity:  identity,
		cache:     c,
		pending:   make(map[string]*inflight),
		outbound:  make(chan outboundFix, 1),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		errors:    stream.NewHub[error](),
	}
	e.sharing.Store(cfg.SharingEnabled)
	e.breaker = newBreaker(cfg)
	go e.run()
	return e
}

func newBreaker(cfg Config) *gobreaker.CircuitBreaker[struct{}] {
	threshold := cfg.BreakerThreshold
	if threshold == 0 {
		threshold = 10
	}
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// only connectivity trouble counts against the backend
		IsSuccessful: func(err error) bool {
			return err == nil || retry.Classify(err) == retry.Terminal
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logger.Fields{"from": from.String(), "to": to.String()}).Warnf("Circuit breaker %s changed state", name)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
}

// guarded runs a backend call through the circuit breaker.
func (e *engine) guarded(op string, call func() error) error {
	_, err := e.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, call()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fault.Wrap(fault.NetworkUnavailable, op, err)
	}
	return err
}

func (e *engine) user(op string) (string, error) {
	user, ok := e.identity.CurrentUser()
	if !ok {
		err := fault.New(fault.Unauthenticated, op)
		e.errors.Publish(err)
		return "", err
	}
	return user, nil
}

func (e *engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.ctx.Done():
			return
		case queued := <-e.outbound:
			ctx, cancel, ok := e.claim(queued.epoch)
			if !ok {
				logger.Debug("Dropping fix cancelled before sending")
				continue
			}
			// failures are already published on the error stream
			_ = e.BroadcastLocation(ctx, queued.fix)
			e.mu.Lock()
			e.sending = nil
			e.mu.Unlock()
			cancel()
		}
	}
}

// claim registers the worker's next send unless CancelPending ran since the
// fix was queued.
func (e *engine) claim(epoch uint64) (context.Context, context.CancelFunc, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch != e.epoch {
		return nil, nil, false
	}
	ctx, cancel := context.WithCancel(e.ctx)
	e.sending = cancel
	return ctx, cancel, true
}

func (e *engine) Enqueue(fix location.Location) {
	if !e.sharing.Load() {
		logger.Debug("Sharing disabled, not broadcasting fix")
		return
	}
	e.mu.Lock()
	queued := outboundFix{fix: fix, epoch: e.epoch}
	e.mu.Unlock()

	select {
	case e.outbound <- queued:
		return
	default:
	}
	select {
	case <-e.outbound:
	default:
	}
	select {
	case e.outbound <- queued:
	default:
	}
}

func (e *engine) BroadcastLocation(ctx context.Context, fix location.Location) error {
	const op = "sync.BroadcastLocation"
	user, err := e.user(op)
	if err != nil {
		return err
	}
	if !e.sharing.Load() {
		err := fault.New(fault.SharingDisabled, op)
		e.errors.Publish(err)
		return err
	}

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.pending[id] = &inflight{attempt: Attempt{ID: id, Location: fix}, cancel: cancel}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
	}()

	started := e.cfg.Now()
	err = e.cfg.Broadcast.Do(ctx, func(ctx context.Context) error {
		e.mu.Lock()
		if p, ok := e.pending[id]; ok {
			p.attempt.Count++
		}
		e.mu.Unlock()
		return e.guarded(op, func() error {
			return e.backend.PutLocation(ctx, user, fix)
		})
	}, func(attempt int, delay time.Duration, err error) {
		metrics.BroadcastAttempts.WithLabelValues("retry").Inc()
		e.mu.Lock()
		if p, ok := e.pending[id]; ok {
			p.attempt.NextRetryAt = e.cfg.Now().Add(delay)
		}
		e.mu.Unlock()
	})
	metrics.BroadcastDuration.Observe(e.cfg.Now().Sub(started).Seconds())

	if err != nil {
		metrics.BroadcastAttempts.WithLabelValues("failed").Inc()
		logger.WithFields(logger.Fields{"owner": user, "timestamp": fix.Timestamp()}).Warnf("Location broadcast failed: %v", err)
		e.errors.Publish(err)
		return err
	}
	metrics.BroadcastAttempts.WithLabelValues("success").Inc()
	return nil
}

func (e *engine) CancelPending(grace time.Duration) {
	select {
	case <-e.outbound:
	default:
	}

	e.mu.Lock()
	cancels := e.cancelAllLocked()
	e.mu.Unlock()

	for _, cancel := range cancels {
		if grace <= 0 {
			cancel()
			continue
		}
		time.AfterFunc(grace, cancel)
	}
}

// cancelAllLocked retires every fix queued so far and returns the cancel
// funcs of broadcasts already under way. e.mu must be held.
func (e *engine) cancelAllLocked() []context.CancelFunc {
	e.epoch++
	cancels := make([]context.CancelFunc, 0, len(e.pending)+1)
	if e.sending != nil {
		cancels = append(cancels, e.sending)
	}
	for _, p := range e.pending {
		cancels = append(cancels, p.cancel)
	}
	return cancels
}

func (e *engine) Pending() []Attempt {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Attempt, 0, len(e.pending))
	for _, p := range e.pending {
		out = append(out, p.attempt)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Location.Timestamp() < out[j].Location.Timestamp()
	})
	return out
}

func (e *engine) SharingEnabled() bool {
	return e.sharing.Load()
}

func (e *engine) LoadSharing(ctx context.Context) error {
	const op = "sync.LoadSharing"
	user, err := e.user(op)
	if err != nil {
		return err
	}
	var enabled bool
	err = e.cfg.PermissionGated.Do(ctx, func(ctx context.Context) error {
		var err error
		enabled, err = e.backend.SharingEnabled(ctx, user)
		return err
	})
	if err != nil {
		return err
	}
	e.sharing.Store(enabled)
	return nil
}

func (e *engine) EnableSharing(ctx context.Context) error {
	return e.setSharing(ctx, true)
}

func (e *engine) DisableSharing(ctx context.Context) error {
	return e.setSharing(ctx, false)
}

func (e *engine) setSharing(ctx context.Context, enabled bool) error {
	const op = "sync.SetSharing"
	user, err := e.user(op)
	if err != nil {
		return err
	}
	e.sharing.Store(enabled)
	if !enabled {
		e.CancelPending(0)
	}
	logger.WithField("owner", user).Infof("Location sharing enabled=%t", enabled)

	err = e.cfg.PermissionGated.Do(ctx, func(ctx context.Context) error {
		return e.guarded(op, func() error {
			if err := e.backend.SetSharing(ctx, user, enabled); err != nil {
				return err
			}
			return e.backend.SetActive(ctx, user, enabled)
		})
	})
	if err != nil {
		e.errors.Publish(err)
	}
	return err
}

func (e *engine) RequestSharingPermission(ctx context.Context, friendID string) (relationship.Permission, error) {
	return e.applyPermission(ctx, friendID, relationship.Request)
}

func (e *engine) GrantSharingPermission(ctx context.Context, friendID string) (relationship.Permission, error) {
	return e.applyPermission(ctx, friendID, relationship.Grant)
}

func (e *engine) DenySharingPermission(ctx context.Context, friendID string) (relationship.Permission, error) {
	return e.applyPermission(ctx, friendID, relationship.Deny)
}

func (e *engine) RevokeSharingPermission(ctx context.Context, friendID string) (relationship.Permission, error) {
	return e.applyPermission(ctx, friendID, relationship.Revoke)
}

func (e *engine) applyPermission(ctx context.Context, friendID string, action relationship.Action) (relationship.Permission, error) {
	const op = "sync.SharingPermission"
	user, err := e.user(op)
	if err != nil {
		return relationship.None, err
	}
	if friendID == "" || friendID == user {
		return relationship.None, fault.Newf(fault.InvalidSequence, op, "cannot %s sharing with %q", action, friendID)
	}
	rec := relationship.RecordFor(user, friendID, action)

	result := relationship.None
	err = e.cfg.PermissionGated.Do(ctx, func(ctx context.Context) error {
		current, err := e.backend.GetPermission(ctx, rec)
		if err != nil {
			return err
		}
		result = current
		next, err := relationship.Apply(current, action)
		if err != nil || next == current {
			return err
		}
		if err := e.backend.SetPermission(ctx, rec, next); err != nil {
			return err
		}
		result = next
		return nil
	})
	return result, err
}

func (e *engine) Errors() (<-chan error, func()) {
	return e.errors.Subscribe()
}

func (e *engine) Close() {
	e.cancel()
	<-e.done
	e.CancelPending(0)
	e.errors.Close()
}
