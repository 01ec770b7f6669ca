package tracking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"potpie.org/locationshare/src/background"
	"potpie.org/locationshare/src/cache"
	"potpie.org/locationshare/src/fault"
	"potpie.org/locationshare/src/location"
	"potpie.org/locationshare/src/metrics"
	"potpie.org/locationshare/src/permission"
	"potpie.org/locationshare/src/platform"
	"potpie.org/locationshare/src/quality"
	"potpie.org/locationshare/src/stream"
)

type session struct {
	cfg       Config
	provider  platform.Provider
	gate      permission.Gate
	coord     background.Coordinator
	cache     cache.Cache
	out       Broadcaster
	validator *quality.Validator

	mu      sync.Mutex
	status  Status
	desired time.Duration
	// gen changes whenever sampling is halted; samplers carry the gen they
	// were started with and drop their fix once it is stale.
	gen      uint64
	stopLoop context.CancelFunc
	last     *location.Location
	oneShots map[string]context.CancelFunc
	closed   bool

	sampling atomic.Bool

	states  *stream.Hub[Status]
	fixes   *stream.Hub[location.Location]
	unwatch func()
}

func NewSession(provider platform.Provider, gate permission.Gate, coord background.Coordinator, c cache.Cache, out Broadcaster, cfg Config) Session {
	defaults := DefaultConfig(cfg.Owner)
	if cfg.ForegroundDefault <= 0 {
		cfg.ForegroundDefault = defaults.ForegroundDefault
	}
	if cfg.ForegroundMin <= 0 {
		cfg.ForegroundMin = defaults.ForegroundMin
	}
	if cfg.ForegroundMax <= 0 {
		cfg.ForegroundMax = defaults.ForegroundMax
	}
	if cfg.BackgroundMin <= 0 {
		cfg.BackgroundMin = defaults.BackgroundMin
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &session{
		cfg:       cfg,
		provider:  provider,
		gate:      gate,
		coord:     coord,
		cache:     c,
		out:       out,
		validator: quality.NewValidator(cfg.Now),
		desired:   cfg.ForegroundDefault,
		oneShots:  make(map[string]context.CancelFunc),
		states:    stream.NewHub[Status](),
		fixes:     stream.NewHub[location.Location](),
	}
	metrics.TrackingState.Set(float64(Stopped))

	changes, cancel := gate.Changes()
	s.unwatch = cancel
	go func() {
		for c := range changes {
			if c.Revoked() {
				s.revoked(c)
			}
		}
	}()
	return s
}

// apply moves the session through Next. Callers hold mu.
func (s *session) apply(ev Event) bool {
	next, ok := Next(s.status, ev)
	if !ok {
		logger.WithField("state", s.status.String()).Debugf("Ignoring %s", ev.Kind)
		return false
	}
	prev := s.status
	s.status = next
	metrics.TrackingState.Set(float64(next.State))
	logger.WithFields(logger.Fields{"owner": s.cfg.Owner, "event": ev.Kind.String()}).Infof("Tracking %s -> %s", prev, next)
	s.states.Publish(next)
	return true
}

// halt stops whatever is sampling and gives the background budget back.
// Callers hold mu.
func (s *session) halt() {
	s.gen++
	if s.stopLoop != nil {
		s.stopLoop()
		s.stopLoop = nil
	}
	s.coord.Exit()
}

// startForeground replaces any sampling with continuous updates at interval.
// Callers hold mu.
func (s *session) startForeground(interval time.Duration) error {
	s.halt()
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	updates, err := s.provider.StartContinuousUpdates(ctx, interval)
	if err != nil {
		cancel()
		return err
	}
	s.stopLoop = cancel
	go s.consume(ctx, gen, updates)
	return nil
}

func (s *session) consume(ctx context.Context, gen uint64, updates <-chan platform.Reading) {
	for r := range updates {
		s.accept(gen, quality.Foreground, r)
	}
	if ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	logger.Warn("Location updates ended, suspending tracking")
	s.halt()
	s.apply(Event{Kind: ServicesLost})
}

// sample requests one background fix unless one is already outstanding.
func (s *session) sample(ctx context.Context, gen uint64) {
	if !s.sampling.CompareAndSwap(false, true) {
		logger.Debug("Fix request outstanding, coalescing tick")
		return
	}
	go func() {
		defer s.sampling.Store(false)
		r, err := s.provider.RequestSingleFix(ctx)
		if err != nil {
			if ctx.Err() == nil {
				metrics.FixesTotal.WithLabelValues(quality.Background.String(), "error").Inc()
				logger.Debugf("Background fix failed: %v", err)
			}
			return
		}
		s.accept(gen, quality.Background, r)
	}()
}

func (s *session) accept(gen uint64, mode quality.Mode, r platform.Reading) {
	fix, err := fromReading(r)
	if err != nil {
		metrics.FixesTotal.WithLabelValues(mode.String(), "invalid").Inc()
		logger.Debugf("Discarding reading: %v", err)
		return
	}
	if d := s.validator.Accept(fix, mode); !d.Accepted {
		metrics.FixesTotal.WithLabelValues(mode.String(), rejection(d.Reason)).Inc()
		logger.WithFields(logger.Fields{"accuracy": fix.Accuracy(), "timestamp": fix.Timestamp()}).Debugf("Discarding %s fix: %s", mode, d.Reason)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || !s.status.State.Active() {
		return
	}
	if s.last != nil && s.last.NewerThan(fix) {
		return
	}
	s.last = &fix
	if _, err := s.cache.Put(s.cfg.Owner, fix); err != nil {
		logger.Warnf("Failed to persist own location: %v", err)
	}
	metrics.FixesTotal.WithLabelValues(mode.String(), "accepted").Inc()
	s.fixes.Publish(fix)
	s.out.Enqueue(fix)
}

func (s *session) Start(ctx context.Context, desired time.Duration) error {
	const op = "tracking.Start"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fault.Newf(fault.InvalidSequence, op, "session closed")
	}

	interval := s.cfg.Clamp(desired)
	s.desired = interval
	switch s.status.State {
	case ActiveForeground:
		if interval == s.status.Interval {
			return nil
		}
		if err := s.startForeground(interval); err != nil {
			s.apply(Event{Kind: ServicesLost})
			return fault.Wrap(fault.LocationDisabled, op, err)
		}
		s.apply(Event{Kind: StartSucceeded, Interval: interval})
		return nil
	case ActiveBackground:
		// picked up on return to the foreground
		return nil
	}

	s.apply(Event{Kind: StartRequested})
	return s.begin(op, interval)
}

// begin finishes a start from Starting. Callers hold mu.
func (s *session) begin(op string, interval time.Duration) error {
	switch fg := s.gate.CheckForeground(); {
	case fg == permission.PermanentlyDenied:
		s.apply(Event{Kind: StartFailed, Reason: PermissionDenied})
		return fault.New(fault.PermanentlyDenied, op)
	case !fg.Granted():
		s.apply(Event{Kind: StartFailed, Reason: PermissionDenied})
		return fault.New(fault.PermissionDenied, op)
	}
	if !s.provider.ServicesEnabled() {
		s.apply(Event{Kind: StartFailed, Reason: LocationDisabled})
		return fault.New(fault.LocationDisabled, op)
	}
	if err := s.startForeground(interval); err != nil {
		s.apply(Event{Kind: StartFailed, Reason: LocationDisabled})
		return fault.Wrap(fault.LocationDisabled, op, err)
	}
	s.apply(Event{Kind: StartSucceeded, Interval: interval})
	return nil
}

func (s *session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halt()
	for id, cancel := range s.oneShots {
		cancel()
		delete(s.oneShots, id)
	}
	s.out.CancelPending(0)
	if s.status != (Status{State: Stopped}) {
		s.apply(Event{Kind: StopRequested})
	}
	return nil
}

func (s *session) AppBackgrounded(ctx context.Context) error {
	const op = "tracking.AppBackgrounded"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.State != ActiveForeground {
		return nil
	}

	s.halt()
	if s.gate.CheckBackground() != permission.BackgroundGranted {
		s.apply(Event{Kind: BackgroundRefused, Reason: BackgroundPermissionDenied})
		return nil
	}

	gen := s.gen
	interval := s.cfg.BackgroundInterval(s.desired)
	err := s.coord.Enter(ctx, interval,
		func(ctx context.Context) { s.sample(ctx, gen) },
		func() { s.exhausted(gen) },
	)
	if err != nil {
		s.apply(Event{Kind: BackgroundRefused, Reason: BudgetUnavailable})
		return fault.Wrap(fault.KindOf(err), op, err)
	}
	s.apply(Event{Kind: Backgrounded, Interval: interval})
	return nil
}

func (s *session) exhausted(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.status.State != ActiveBackground {
		return
	}
	s.halt()
	s.apply(Event{Kind: Exhausted})
	s.out.CancelPending(s.cfg.BroadcastGrace)
}

func (s *session) AppForegrounded(ctx context.Context) error {
	const op = "tracking.AppForegrounded"
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.status.State == ActiveBackground,
		s.status.State == Suspended && s.status.Reason == BackgroundPermissionDenied:
		if !s.gate.CheckForeground().Granted() {
			s.halt()
			s.apply(Event{Kind: AccessLost})
			return fault.New(fault.PermissionRevoked, op)
		}
		if err := s.startForeground(s.desired); err != nil {
			s.apply(Event{Kind: ServicesLost})
			return fault.Wrap(fault.LocationDisabled, op, err)
		}
		s.apply(Event{Kind: Foregrounded, Interval: s.desired})
	case s.status.State == Stopped && s.status.Reason == BudgetExhausted:
		s.apply(Event{Kind: StartRequested})
		return s.begin(op, s.desired)
	}
	return nil
}

func (s *session) revoked(c permission.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch st := s.status.State; {
	case c.Scope == permission.ScopeBackground && st != ActiveBackground:
		return
	case !st.Active() && st != Suspended:
		return
	case st == Suspended && s.status.Reason == PermissionRevoked:
		return
	}
	logger.WithField("scope", c.Scope.String()).Warnf("Location permission revoked (%s -> %s)", c.Previous, c.Current)
	s.halt()
	s.apply(Event{Kind: AccessLost})
}

func (s *session) CurrentLocation(ctx context.Context, timeout time.Duration) (location.Location, error) {
	const op = "tracking.CurrentLocation"
	switch fg := s.gate.CheckForeground(); {
	case fg == permission.PermanentlyDenied:
		return location.Location{}, fault.New(fault.PermanentlyDenied, op)
	case !fg.Granted():
		return location.Location{}, fault.New(fault.PermissionDenied, op)
	}
	if !s.provider.ServicesEnabled() {
		return location.Location{}, fault.New(fault.LocationDisabled, op)
	}

	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	id := uuid.New().String()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return location.Location{}, fault.Newf(fault.InvalidSequence, op, "session closed")
	}
	s.oneShots[id] = cancel
	mode := quality.Foreground
	if s.status.State == ActiveBackground {
		mode = quality.Background
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.oneShots, id)
		s.mu.Unlock()
	}()

	r, err := s.provider.RequestSingleFix(ctx)
	if err != nil {
		switch {
		case errors.Is(err, platform.ErrServicesDisabled):
			return location.Location{}, fault.Wrap(fault.LocationDisabled, op, err)
		case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
			return location.Location{}, fault.Wrap(fault.Timeout, op, err)
		}
		return location.Location{}, fault.Wrap(fault.KindOf(err), op, err)
	}
	fix, err := fromReading(r)
	if err != nil {
		return location.Location{}, err
	}
	if d := s.validator.Accept(fix, mode); !d.Accepted {
		logger.WithField("accuracy", fix.Accuracy()).Debugf("One-shot fix rejected: %s", d.Reason)
		return location.Location{}, d.Err()
	}
	return fix, nil
}

func (s *session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *session) LastFix() (location.Location, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return location.Location{}, false
	}
	return *s.last, true
}

func (s *session) States() (<-chan Status, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states.SubscribeFrom(s.status)
}

func (s *session) Locations() (<-chan location.Location, func()) {
	return s.fixes.Subscribe()
}

func (s *session) Close() {
	_ = s.Stop()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.unwatch()
	s.states.Close()
	s.fixes.Close()
}

func fromReading(r platform.Reading) (location.Location, error) {
	var opts []location.Option
	if r.Altitude != nil {
		opts = append(opts, location.WithAltitude(*r.Altitude))
	}
	return location.New(r.Latitude, r.Longitude, r.Accuracy, r.Timestamp, opts...)
}

func rejection(k fault.Kind) string {
	if k == fault.StaleFix {
		return "stale"
	}
	return "inaccurate"
}
