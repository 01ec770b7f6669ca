package platform

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"potpie.org/locationshare/src/permission"
	"potpie.org/locationshare/src/stream"
)

const metersPerDegree = 111_320.0

type SimulatorConfig struct {
	Latitude    float64
	Longitude   float64
	Accuracy    float64
	StepMeters  float64
	FixLatency  time.Duration
	Grant       time.Duration
	MaxRenewals int
	Foreground  permission.State
	Background  permission.State
}

func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		Latitude:    45.5017,
		Longitude:   -73.5673,
		Accuracy:    10,
		StepMeters:  15,
		FixLatency:  50 * time.Millisecond,
		Grant:       30 * time.Second,
		MaxRenewals: 3,
		Foreground:  permission.Unknown,
		Background:  permission.Unknown,
	}
}

// Simulator is a Provider and permission.OS that random-walks around an
// origin. Authorization changes made through SetPermission are reported as
// external changes.
type Simulator struct {
	mu       sync.Mutex
	cfg      SimulatorConfig
	lat      float64
	lon      float64
	enabled  bool
	status   map[permission.Scope]permission.State
	answers  map[permission.Scope]permission.State
	rnd      *rand.Rand
	now      func() time.Time
	external *stream.Hub[permission.Update]
}

func NewSimulator(cfg SimulatorConfig) *Simulator {
	return &Simulator{
		cfg:     cfg,
		lat:     cfg.Latitude,
		lon:     cfg.Longitude,
		enabled: true,
		status: map[permission.Scope]permission.State{
			permission.ScopeForeground: cfg.Foreground,
			permission.ScopeBackground: cfg.Background,
		},
		answers: map[permission.Scope]permission.State{
			permission.ScopeForeground: permission.ForegroundGranted,
			permission.ScopeBackground: permission.BackgroundGranted,
		},
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
		external: stream.NewHub[permission.Update](),
	}
}

func (s *Simulator) SetServicesEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

// SetPromptAnswer sets what the simulated user answers the next prompts with.
func (s *Simulator) SetPromptAnswer(scope permission.Scope, state permission.State) {
	s.mu.Lock()
	s.answers[scope] = state
	s.mu.Unlock()
}

// SetPermission simulates a change made in the system settings.
func (s *Simulator) SetPermission(scope permission.Scope, state permission.State) {
	s.mu.Lock()
	s.status[scope] = state
	s.mu.Unlock()
	s.external.Publish(permission.Update{Scope: scope, State: state})
}

func (s *Simulator) Status(scope permission.Scope) permission.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[scope]
}

func (s *Simulator) Prompt(ctx context.Context, scope permission.Scope) (permission.State, error) {
	select {
	case <-ctx.Done():
		return permission.Unknown, ctx.Err()
	case <-time.After(s.cfg.FixLatency):
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	answer := s.answers[scope]
	s.status[scope] = answer
	return answer, nil
}

func (s *Simulator) AuthorizationChanges() (<-chan permission.Update, func()) {
	return s.external.Subscribe()
}

func (s *Simulator) ServicesEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *Simulator) RequestSingleFix(ctx context.Context) (Reading, error) {
	select {
	case <-ctx.Done():
		return Reading{}, ctx.Err()
	case <-time.After(s.cfg.FixLatency):
	}
	return s.step()
}

func (s *Simulator) step() (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return Reading{}, ErrServicesDisabled
	}
	bearing := s.rnd.Float64() * 2 * math.Pi
	dist := s.cfg.StepMeters * s.rnd.Float64()
	s.lat = clamp(s.lat+dist*math.Cos(bearing)/metersPerDegree, -90, 90)
	s.lon += dist * math.Sin(bearing) / (metersPerDegree * math.Max(math.Cos(s.lat*math.Pi/180), 0.01))
	if s.lon > 180 {
		s.lon -= 360
	} else if s.lon < -180 {
		s.lon += 360
	}
	return Reading{
		Latitude:  s.lat,
		Longitude: s.lon,
		Accuracy:  s.cfg.Accuracy * (0.5 + s.rnd.Float64()),
		Timestamp: s.now().UnixMilli(),
	}, nil
}

func (s *Simulator) StartContinuousUpdates(ctx context.Context, interval time.Duration) (<-chan Reading, error) {
	if !s.ServicesEnabled() {
		return nil, ErrServicesDisabled
	}
	out := make(chan Reading)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r, err := s.step()
				if err != nil {
					logger.Debugf("Ending simulated updates: %v", err)
					return
				}
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *Simulator) AcquireBackgroundBudget(ctx context.Context) (Budget, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &simBudget{
		grant:    s.cfg.Grant,
		max:      s.cfg.MaxRenewals,
		deadline: s.now().Add(s.cfg.Grant),
		now:      s.now,
	}, nil
}

type simBudget struct {
	mu       sync.Mutex
	grant    time.Duration
	max      int
	renewals int
	deadline time.Time
	released bool
	now      func() time.Time
}

func (b *simBudget) Deadline() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deadline
}

func (b *simBudget) Renew(ctx context.Context) (time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return b.deadline, ErrBudgetReleased
	}
	if b.renewals >= b.max {
		return b.deadline, ErrRenewalLimit
	}
	b.renewals++
	b.deadline = b.now().Add(b.grant)
	return b.deadline, nil
}

func (b *simBudget) Release() {
	b.mu.Lock()
	b.released = true
	b.mu.Unlock()
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
