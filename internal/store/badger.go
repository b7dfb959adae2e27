package store

import (
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/sylvadb/sylva/pkg/types"
)

var log *logrus.Logger

// BadgerConfig configures the Badger-backed physical store.
type BadgerConfig struct {
	Path string
	// MinimumFreeGB is the free-space threshold checked at open time.
	MinimumFreeGB int
	Logger        *logrus.Logger
}

// BadgerStore implements PhysicalStore on a BadgerDB keyspace. Folder
// structure is purely logical; the slash-separated key is the Badger key.
type BadgerStore struct {
	config BadgerConfig
	db     *badger.DB

	readCounter  uint64
	writeCounter uint64
}

// NewBadgerStore opens the Badger database under the configured path.
func NewBadgerStore(config BadgerConfig) (*BadgerStore, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	log = config.Logger

	if err := config.check(); err != nil {
		return nil, fmt.Errorf("checking config for BadgerStore: %w", err)
	}

	opts := badger.DefaultOptions(config.Path)
	opts.Logger = nil
	opts.ValueLogFileSize = 1024 * 1024 * 100 // max size of each value log file, 100MB
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %s: %w", config.Path, err)
	}

	if err := reportDiskUsage(config.Path); err != nil {
		db.Close()
		return nil, err
	}

	return &BadgerStore{config: config, db: db}, nil
}

// DB exposes the underlying handle so the chunked blob store can share it.
func (s *BadgerStore) DB() *badger.DB { return s.db }

func (s *BadgerStore) Exists(key string) (bool, error) {
	atomic.AddUint64(&s.readCounter, 1)
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("checking existence of %s: %w", key, err)
	}
	return found, nil
}

func (s *BadgerStore) Read(key string) ([]byte, error) {
	atomic.AddUint64(&s.readCounter, 1)
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("reading key %s: %w", key, err)
	}
	return value, nil
}

func (s *BadgerStore) Write(key string, data []byte) error {
	atomic.AddUint64(&s.writeCounter, 1)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("writing key %s: %w", key, err)
	}
	return nil
}

func (s *BadgerStore) Delete(key string) error {
	atomic.AddUint64(&s.writeCounter, 1)
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return txn.Delete([]byte(key))
	})
	if err == badger.ErrKeyNotFound {
		return fmt.Errorf("%w: %s", types.ErrNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("deleting key %s: %w", key, err)
	}
	return nil
}

// List returns all keys with the given prefix. Values are not prefetched.
func (s *BadgerStore) List(prefix string) ([]string, error) {
	atomic.AddUint64(&s.readCounter, 1)
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
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
		return nil, fmt.Errorf("listing prefix %s: %w", prefix, err)
	}
	return keys, nil
}

// Counters returns the read and write operation counts since open.
func (s *BadgerStore) Counters() (reads, writes uint64) {
	return atomic.LoadUint64(&s.readCounter), atomic.LoadUint64(&s.writeCounter)
}

func (s *BadgerStore) Close() error {
	if err := s.db.Sync(); err != nil {
		log.Warnf("syncing badger on close: %v", err)
	}
	return s.db.Close()
}
