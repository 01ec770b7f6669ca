package cache

import (
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	logger "github.com/sirupsen/logrus"
)

const keyPrefix = "loc:"

type badgerPersister struct {
	db  *badger.DB
	now func() time.Time
}

// NewBadgerPersister opens a badger store under dir. An empty dir keeps the
// store in memory.
func NewBadgerPersister(dir string) (Persister, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(logger.WithField("component", "badger")).
		WithLoggingLevel(badger.WARNING)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open location cache: %w", err)
	}
	return &badgerPersister{db: db, now: time.Now}, nil
}

func (p *badgerPersister) Save(entry Entry, ttl time.Duration) error {
	remaining := ttl - p.now().Sub(entry.CachedAt)
	if remaining <= 0 {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	return p.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(keyPrefix+entry.OwnerID), data).WithTTL(remaining)
		return txn.SetEntry(e)
	})
}

func (p *badgerPersister) Remove(ownerID string) error {
	return p.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(keyPrefix + ownerID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

func (p *badgerPersister) Load() ([]Entry, error) {
	var entries []Entry
	err := p.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				logger.Warnf("Skipping unreadable cache entry %s: %v", it.Item().Key(), err)
				continue
			}
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}

func (p *badgerPersister) Close() error {
	return p.db.Close()
}
