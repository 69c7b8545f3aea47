package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/ogero/mmdb/internal/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Store keeps byte blobs by key. Writes to the same key are idempotent overwrites.
type Store interface {
	// Get returns the value stored under key, and false when there is none.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Put stores data under key, replacing any previous value.
	Put(ctx context.Context, key string, data []byte) error
}

// Badger is a Store backed by a badger database.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens, or creates, a badger database in dir.
func OpenBadger(dir string) (*Badger, error) {
	return openBadger(badger.DefaultOptions(dir).
		WithValueLogFileSize(1024 * 1024 * 100))
}

// OpenBadgerInMemory opens a badger database that lives only in memory.
func OpenBadgerInMemory() (*Badger, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true))
}

func openBadger(opts badger.Options) (*Badger, error) {
	db, err := badger.Open(opts.
		WithNumVersionsToKeep(1).
		WithLogger(&l{}))
	if err != nil {
		return nil, fmt.Errorf("failed to badger.Open: %w", err)
	}

	return &Badger{db: db}, nil
}

// Get returns the value stored under key, and false when there is none.
func (b *Badger) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}

		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		recordGet(ctx, key, false)
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("failed to get from cache: %w", err)
	}

	recordGet(ctx, key, true)
	return value, true, nil
}

// Put stores data under key, replacing any previous value.
func (b *Badger) Put(_ context.Context, key string, data []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), data))
	})
	if err != nil {
		return fmt.Errorf("failed to store on cache: %w", err)
	}

	return nil
}

// Close closes the cache DB. It's crucial to call it to ensure all the pending updates make their way to disk. Calling Close multiple times would still only close the DB once.
func (b *Badger) Close() error {
	return b.db.Close()
}

// recordGet increments the cache gets metric, labeled with the key prefix up to the first space.
func recordGet(ctx context.Context, key string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	prefix, _, _ := strings.Cut(key, " ")

	common.CacheGetsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("key.prefix", prefix),
		attribute.String("result", result),
	))
}

type l struct{}

func (l *l) Errorf(s string, i ...interface{}) {
	common.Log.Error(fmt.Sprintf(strings.TrimSuffix(s, "\n"), i...), "component", "badger")
}

func (l *l) Warningf(s string, i ...interface{}) {
	common.Log.Warn(fmt.Sprintf(strings.TrimSuffix(s, "\n"), i...), "component", "badger")
}

func (l *l) Infof(s string, i ...interface{}) {
	common.Log.Info(fmt.Sprintf(strings.TrimSuffix(s, "\n"), i...), "component", "badger")
}

func (l *l) Debugf(s string, i ...interface{}) {
	common.Log.Debug(fmt.Sprintf(strings.TrimSuffix(s, "\n"), i...), "component", "badger")
}
