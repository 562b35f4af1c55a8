// Package kvstore is a thin badger wrapper used to mirror a k-mer index
// into an ordered on-disk key-value store.
package kvstore

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Dir      string // created if missing; ignored when InMemory
	InMemory bool
	// MinFreeBytes refuses to open when the volume holding Dir has less space.
	MinFreeBytes uint64
	Logger       logrus.FieldLogger
}

type Store struct {
	cfg    Config
	db     *badger.DB
	log    logrus.FieldLogger
	reads  uint64
	writes uint64
}

func (c *Config) check() error {
	if c.InMemory {
		return nil
	}
	if c.Dir == "" {
		return errors.New("kvstore: no directory configured")
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return err
	}
	info, err := os.Stat(c.Dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("kvstore: %s is not a directory", c.Dir)
	}
	if c.MinFreeBytes > 0 {
		u, err := disk.Usage(c.Dir)
		if err != nil {
			return fmt.Errorf("kvstore: disk usage of %s: %w", c.Dir, err)
		}
		if u.Free < c.MinFreeBytes {
			return fmt.Errorf("kvstore: %s has %s free, need %s", c.Dir,
				humanize.IBytes(u.Free), humanize.IBytes(c.MinFreeBytes))
		}
	}
	return nil
}

// Open opens (or creates) the store.
func Open(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if err := cfg.check(); err != nil {
		return nil, fmt.Errorf("error checking config for kvstore: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil
	opts.SyncWrites = false
	opts.ValueLogFileSize = 100 << 20

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", cfg.Dir, err)
	}
	return &Store{cfg: cfg, db: db, log: cfg.Logger}, nil
}

// WriteBatch stores every pair; it is not atomic across the whole batch.
func (s *Store) WriteBatch(pairs [][2][]byte) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, kv := range pairs {
		atomic.AddUint64(&s.writes, 1)
		if err := wb.Set(kv[0], kv[1]); err != nil {
			return fmt.Errorf("kvstore: write batch: %w", err)
		}
	}
	return wb.Flush()
}

// Read returns a copy of the value stored at key.
func (s *Store) Read(key []byte) ([]byte, error) {
	atomic.AddUint64(&s.reads, 1)
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("kvstore: read %x: %w", key, err)
	}
	return value, nil
}

// ForEachWithPrefix visits keys with the given prefix in ascending order.
// k and v are only valid during the call.
func (s *Store) ForEachWithPrefix(prefix []byte, fn func(k, v []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			atomic.AddUint64(&s.reads, 1)
			item := it.Item()
			err := item.Value(func(v []byte) error {
				return fn(item.Key(), v)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// DropPrefix deletes every key starting with prefix.
func (s *Store) DropPrefix(prefix []byte) error {
	return s.db.DropPrefix(prefix)
}

// Counters returns the number of reads and writes since Open.
func (s *Store) Counters() (reads, writes uint64) {
	return atomic.LoadUint64(&s.reads), atomic.LoadUint64(&s.writes)
}

// Close syncs and closes the database, logging the on-disk size.
func (s *Store) Close() error {
	if !s.cfg.InMemory {
		if err := s.db.Sync(); err != nil {
			s.log.WithError(err).Warn("kvstore: sync failed")
		}
		lsm, vlog := s.db.Size()
		s.log.WithFields(logrus.Fields{
			"dir":  s.cfg.Dir,
			"lsm":  humanize.IBytes(uint64(lsm)),
			"vlog": humanize.IBytes(uint64(vlog)),
		}).Debug("kvstore closed")
	}
	return s.db.Close()
}
