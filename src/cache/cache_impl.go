package cache

import (
	"sync"
	"sync/atomic"
	"time"

	logger "github.com/sirupsen/logrus"

	"potpie.org/locationshare/src/location"
	"potpie.org/locationshare/src/metrics"
)

type slot struct {
	mu    sync.Mutex
	entry atomic.Pointer[Entry]
}

type cache struct {
	slots     sync.Map
	ttl       time.Duration
	now       func() time.Time
	persister Persister
}

type Option func(*cache)

func WithClock(now func() time.Time) Option {
	return func(c *cache) {
		c.now = now
	}
}

func WithPersister(p Persister) Option {
	return func(c *cache) {
		c.persister = p
	}
}

func New(ttl time.Duration, opts ...Option) Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &cache{ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if c.persister != nil {
		c.warm()
	}
	return c
}

func (c *cache) warm() {
	entries, err := c.persister.Load()
	if err != nil {
		logger.Warnf("Failed to load persisted locations: %v", err)
		return
	}
	now := c.now()
	loaded := 0
	for _, e := range entries {
		if e.Expired(now, c.ttl) {
			continue
		}
		entry := e
		c.slotFor(e.OwnerID).entry.Store(&entry)
		loaded++
	}
	logger.Infof("Loaded %d cached locations", loaded)
}

func (c *cache) slotFor(ownerID string) *slot {
	s, _ := c.slots.LoadOrStore(ownerID, &slot{})
	return s.(*slot)
}

func (c *cache) Put(ownerID string, loc location.Location) (bool, error) {
	s := c.slotFor(ownerID)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := c.now()
	if cur := s.entry.Load(); cur != nil && !cur.Expired(now, c.ttl) && cur.Location.NewerThan(loc) {
		metrics.CacheOperations.WithLabelValues("put", "stale").Inc()
		return false, nil
	}
	entry := &Entry{OwnerID: ownerID, Location: loc, CachedAt: now}
	s.entry.Store(entry)
	metrics.CacheOperations.WithLabelValues("put", "stored").Inc()

	if c.persister != nil {
		if err := c.persister.Save(*entry, c.ttl); err != nil {
			logger.WithField("owner", ownerID).Warnf("Failed to persist location: %v", err)
			return true, err
		}
	}
	return true, nil
}

func (c *cache) Get(ownerID string) (Entry, bool) {
	v, ok := c.slots.Load(ownerID)
	if !ok {
		metrics.CacheOperations.WithLabelValues("get", "miss").Inc()
		return Entry{}, false
	}
	s := v.(*slot)
	e := s.entry.Load()
	if e == nil {
		metrics.CacheOperations.WithLabelValues("get", "miss").Inc()
		return Entry{}, false
	}
	if e.Expired(c.now(), c.ttl) {
		c.evict(ownerID, s, e)
		metrics.CacheOperations.WithLabelValues("get", "expired").Inc()
		return Entry{}, false
	}
	metrics.CacheOperations.WithLabelValues("get", "hit").Inc()
	return *e, true
}

func (c *cache) evict(ownerID string, s *slot, expired *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.entry.CompareAndSwap(expired, nil) {
		return
	}
	if c.persister != nil {
		if err := c.persister.Remove(ownerID); err != nil {
			logger.WithField("owner", ownerID).Warnf("Failed to remove expired location: %v", err)
		}
	}
}

func (c *cache) Snapshot() map[string]Entry {
	now := c.now()
	out := make(map[string]Entry)
	c.slots.Range(func(k, v interface{}) bool {
		s := v.(*slot)
		if e := s.entry.Load(); e != nil {
			if e.Expired(now, c.ttl) {
				c.evict(k.(string), s, e)
			} else {
				out[k.(string)] = *e
			}
		}
		return true
	})
	return out
}

func (c *cache) Delete(ownerID string) error {
	v, ok := c.slots.Load(ownerID)
	if !ok {
		return nil
	}
	s := v.(*slot)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry.Store(nil)
	if c.persister != nil {
		return c.persister.Remove(ownerID)
	}
	return nil
}

func (c *cache) Close() error {
	if c.persister != nil {
		return c.persister.Close()
	}
	return nil
}
