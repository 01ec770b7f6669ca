package background

import (
	"context"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"potpie.org/locationshare/src/fault"
	"potpie.org/locationshare/src/metrics"
	"potpie.org/locationshare/src/platform"
)

type coordinator struct {
	cfg      Config
	provider platform.Provider

	mu  sync.Mutex
	cur *stint
}

// stint is one backgrounded period between Enter and Exit.
type stint struct {
	budget   platform.Budget
	cancel   context.CancelFunc
	done     chan struct{}
	release  sync.Once
	mu       sync.Mutex
	deadline time.Time
}

func NewCoordinator(provider platform.Provider, cfg Config) Coordinator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &coordinator{cfg: cfg, provider: provider}
}

func (c *coordinator) Enter(ctx context.Context, interval time.Duration, tick func(ctx context.Context), onExhausted func()) error {
	const op = "background.Enter"
	c.Exit()

	budget, err := c.provider.AcquireBackgroundBudget(ctx)
	if err != nil {
		return fault.Wrap(fault.KindOf(err), op, err)
	}
	metrics.BackgroundBudget.WithLabelValues("acquired").Inc()

	runCtx, cancel := context.WithCancel(context.Background())
	st := &stint{
		budget:   budget,
		cancel:   cancel,
		done:     make(chan struct{}),
		deadline: budget.Deadline(),
	}
	c.mu.Lock()
	c.cur = st
	c.mu.Unlock()

	logger.WithFields(logger.Fields{"interval": interval, "deadline": st.deadline}).Info("Entered background")
	go func() {
		exhausted := c.loop(runCtx, st, interval, tick)
		close(st.done)
		if exhausted {
			c.mu.Lock()
			if c.cur == st {
				c.cur = nil
			}
			c.mu.Unlock()
			if onExhausted != nil {
				onExhausted()
			}
		}
	}()
	return nil
}

// loop ticks until ctx is done or the budget is exhausted, reporting which.
func (c *coordinator) loop(ctx context.Context, st *stint, interval time.Duration, tick func(ctx context.Context)) bool {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.NewTimer(c.untilRenewal(st.currentDeadline()))
	defer deadline.Stop()

	renewals := 0
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			tick(ctx)
		case <-deadline.C:
			if renewals >= c.cfg.MaxRenewals {
				c.exhaust(st, platform.ErrRenewalLimit)
				return true
			}
			next, err := st.budget.Renew(ctx)
			if err != nil {
				c.exhaust(st, err)
				return true
			}
			renewals++
			st.mu.Lock()
			st.deadline = next
			st.mu.Unlock()
			metrics.BackgroundBudget.WithLabelValues("renewed").Inc()
			logger.WithFields(logger.Fields{"renewals": renewals, "deadline": next}).Debug("Renewed background budget")
			deadline.Reset(c.untilRenewal(next))
		}
	}
}

func (c *coordinator) untilRenewal(deadline time.Time) time.Duration {
	d := deadline.Sub(c.cfg.Now()) - c.cfg.SafetyMargin
	if d < 0 {
		return 0
	}
	return d
}

func (c *coordinator) exhaust(st *stint, err error) {
	metrics.BackgroundBudget.WithLabelValues("exhausted").Inc()
	logger.Warnf("Background budget exhausted: %v", err)
	st.giveBack()
}

func (c *coordinator) Exit() {
	c.mu.Lock()
	st := c.cur
	c.cur = nil
	c.mu.Unlock()
	if st == nil {
		return
	}
	st.cancel()
	<-st.done
	st.giveBack()
	logger.Info("Left background")
}

func (c *coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur != nil
}

func (c *coordinator) Deadline() time.Time {
	c.mu.Lock()
	st := c.cur
	c.mu.Unlock()
	if st == nil {
		return time.Time{}
	}
	return st.currentDeadline()
}

func (st *stint) currentDeadline() time.Time {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.deadline
}

func (st *stint) giveBack() {
	st.release.Do(func() {
		st.budget.Release()
		metrics.BackgroundBudget.WithLabelValues("released").Inc()
	})
}
