package cache

import (
	"time"

	"potpie.org/locationshare/src/location"
)

const DefaultTTL = 30 * time.Minute

type Entry struct {
	OwnerID  string            `json:"ownerId"`
	Location location.Location `json:"location"`
	CachedAt time.Time         `json:"cachedAt"`
}

func (e Entry) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.CachedAt) > ttl
}

// Cache holds the last known location per owner (self and friends). Writes
// to one owner are serialised and never replace a fresher fix with an older
// one; reads take no lock. Expired entries are dropped when read.
type Cache interface {
	// Put stores loc for ownerID. It reports false when the stored fix is
	// newer than loc and was kept. A persistence failure is returned after
	// the in-memory write has happened.
	Put(ownerID string, loc location.Location) (bool, error)
	Get(ownerID string) (Entry, bool)
	Snapshot() map[string]Entry
	Delete(ownerID string) error
	Close() error
}

// Persister keeps entries across restarts.
type Persister interface {
	Save(entry Entry, ttl time.Duration) error
	Remove(ownerID string) error
	Load() ([]Entry, error)
	Close() error
}
