package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"potpie.org/locationshare/src/location"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func loc(t *testing.T, ts int64) location.Location {
	t.Helper()
	l, err := location.New(51.5, -0.12, 8, ts)
	require.NoError(t, err)
	return l
}

func TestRoundTripWithinTTL(t *testing.T) {
	clk := newClock()
	c := New(DefaultTTL, WithClock(clk.Now))
	l := loc(t, 1000)

	stored, err := c.Put("alice", l)
	require.NoError(t, err)
	assert.True(t, stored)

	clk.Advance(29 * time.Minute)
	e, ok := c.Get("alice")
	require.True(t, ok)
	assert.Equal(t, l, e.Location)
	assert.Equal(t, "alice", e.OwnerID)
}

func TestReadAfterTTLIsAbsent(t *testing.T) {
	clk := newClock()
	c := New(DefaultTTL, WithClock(clk.Now))
	_, err := c.Put("alice", loc(t, 1000))
	require.NoError(t, err)

	clk.Advance(DefaultTTL + time.Second)
	_, ok := c.Get("alice")
	assert.False(t, ok)
	assert.Empty(t, c.Snapshot())
}

func TestOlderFixDoesNotReplaceNewer(t *testing.T) {
	c := New(DefaultTTL)
	_, err := c.Put("bob", loc(t, 2000))
	require.NoError(t, err)

	stored, err := c.Put("bob", loc(t, 1000))
	require.NoError(t, err)
	assert.False(t, stored)

	e, ok := c.Get("bob")
	require.True(t, ok)
	assert.Equal(t, int64(2000), e.Location.Timestamp())
}

func TestOlderFixReplacesExpiredEntry(t *testing.T) {
	clk := newClock()
	c := New(time.Minute, WithClock(clk.Now))
	_, err := c.Put("bob", loc(t, 2000))
	require.NoError(t, err)
	clk.Advance(2 * time.Minute)

	stored, err := c.Put("bob", loc(t, 1000))
	require.NoError(t, err)
	assert.True(t, stored)
}

func TestConcurrentWritersKeepNewest(t *testing.T) {
	c := New(DefaultTTL)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_, _ = c.Put("carol", loc(t, int64(i*8+w)))
			}
		}(w)
	}
	wg.Wait()

	e, ok := c.Get("carol")
	require.True(t, ok)
	assert.Equal(t, int64(199*8+7), e.Location.Timestamp())
}

func TestSnapshotAndDelete(t *testing.T) {
	c := New(DefaultTTL)
	_, _ = c.Put("a", loc(t, 1))
	_, _ = c.Put("b", loc(t, 2))

	snap := c.Snapshot()
	assert.Len(t, snap, 2)

	require.NoError(t, c.Delete("a"))
	require.NoError(t, c.Delete("missing"))
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Len(t, c.Snapshot(), 1)
}

func TestBadgerPersistenceWarmStart(t *testing.T) {
	dir := t.TempDir()
	p, err := NewBadgerPersister(dir)
	require.NoError(t, err)

	c := New(DefaultTTL, WithPersister(p))
	l := loc(t, time.Now().UnixMilli())
	_, err = c.Put("alice", l)
	require.NoError(t, err)
	_, err = c.Put("bob", loc(t, 5))
	require.NoError(t, err)
	require.NoError(t, c.Delete("bob"))
	require.NoError(t, c.Close())

	p, err = NewBadgerPersister(dir)
	require.NoError(t, err)
	reopened := New(DefaultTTL, WithPersister(p))
	defer reopened.Close()

	e, ok := reopened.Get("alice")
	require.True(t, ok)
	assert.Equal(t, l, e.Location)
	_, ok = reopened.Get("bob")
	assert.False(t, ok)
}

func TestBadgerInMemorySkipsExpiredOnLoad(t *testing.T) {
	p, err := NewBadgerPersister("")
	require.NoError(t, err)
	defer p.Close()

	fresh := Entry{OwnerID: "fresh", Location: loc(t, 1), CachedAt: time.Now()}
	require.NoError(t, p.Save(fresh, DefaultTTL))
	expired := Entry{OwnerID: "old", Location: loc(t, 1), CachedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, p.Save(expired, DefaultTTL))

	entries, err := p.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fresh", entries[0].OwnerID)
	assert.Equal(t, fresh.Location, entries[0].Location)
}
