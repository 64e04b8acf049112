package cache

import (
	"bytes"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerBackend is an embedded-LSM durable backend for deployments that
// want WAL-backed crash recovery with better write throughput than one
// file per key, the same role dgraph-io/badger/v4 plays in
// VictorVVedtion-perp-dex's persistence layer. Chosen over the
// file-per-key backend for high-churn caches (e.g. a matching engine's
// full order book snapshot stream) where the FileBackend's per-key
// rename would thrash the filesystem.
type BadgerBackend struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewBadgerBackend opens (or creates) a badger database at dir.
func NewBadgerBackend(dir string, logger *slog.Logger) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerSlogAdapter{logger})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cache: open badger db at %q: %w", dir, err)
	}
	return &BadgerBackend{db: db, logger: logger}, nil
}

func (b *BadgerBackend) Put(key string, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (b *BadgerBackend) Get(key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = bytes.Clone(val)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("cache: badger get %q: %w", key, err)
	}
	return out, nil
}

func (b *BadgerBackend) Delete(key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("cache: badger delete %q: %w", key, err)
	}
	return nil
}

func (b *BadgerBackend) Keys(prefix string) ([]string, error) {
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cache: badger keys %q: %w", prefix, err)
	}
	return keys, nil
}

func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

type badgerSlogAdapter struct {
	logger *slog.Logger
}

func (a badgerSlogAdapter) Errorf(format string, args ...interface{}) {
	a.logger.Error(fmt.Sprintf(format, args...))
}
func (a badgerSlogAdapter) Warningf(format string, args ...interface{}) {
	a.logger.Warn(fmt.Sprintf(format, args...))
}
func (a badgerSlogAdapter) Infof(format string, args ...interface{}) {
	a.logger.Info(fmt.Sprintf(format, args...))
}
func (a badgerSlogAdapter) Debugf(format string, args ...interface{}) {
	a.logger.Debug(fmt.Sprintf(format, args...))
}
