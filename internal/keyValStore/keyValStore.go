// Package keyValStore is the badger-backed ledger store. It
// satisfies ledger.Store, ledger.Swapper and ledger.Scanner.
package keyValStore

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// maxSwapAttempts bounds retries of a Swap that lost a badger
// write conflict.
const maxSwapAttempts = 8

type StoreConfig struct {
	Paths            []string // absolute path at the moment only first path is supported
	MinimumFreeSpace int      // in GB
	InMemory         bool     // Paths and MinimumFreeSpace are ignored
	Logger           *logrus.Logger
}

type KeyValStore struct {
	config       StoreConfig
	badgerDB     *badger.DB
	log          *logrus.Logger
	readCounter  uint64
	writeCounter uint64
}

func NewKeyValStore(config StoreConfig) (*KeyValStore, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	err := config.checkConfig()
	if err != nil {
		return nil, fmt.Errorf("error checking config for KeyValStore: %w", err)
	}

	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(config.Paths[0])
		opts.ValueLogFileSize = 1024 * 1024 * 100 // Set max size of each value log file to 100MB
	}
	opts.Logger = nil
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("error opening badger: %w", err)
	}

	k := &KeyValStore{
		config:   config,
		badgerDB: db,
		log:      config.Logger,
	}

	if !config.InMemory {
		if err := k.displayDiskUsage(); err != nil {
			db.Close()
			return nil, err
		}
	}

	return k, nil
}

// StartTransactionCounter logs read and write operations per
// interval until ctx is done.
func (k *KeyValStore) StartTransactionCounter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				readOps := atomic.SwapUint64(&k.readCounter, 0)
				writeOps := atomic.SwapUint64(&k.writeCounter, 0)
				if readOps == 0 && writeOps == 0 {
					continue
				}
				k.log.WithFields(logrus.Fields{
					"reads":    readOps,
					"writes":   writeOps,
					"interval": interval,
				}).Debug("store operations")
			}
		}
	}()
}

// Get returns the value of key, or empty bytes if it is absent.
func (k *KeyValStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	atomic.AddUint64(&k.readCounter, 1)

	var value []byte
	err := k.badgerDB.View(func(txn *badger.Txn) error {
		var err error
		value, err = readKey(txn, key)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("error reading key %s: %w", key, err)
	}
	return value, nil
}

func (k *KeyValStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	atomic.AddUint64(&k.writeCounter, 1)

	err := k.badgerDB.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		k.log.WithField("key", key).Errorf("Error writing key: %v", err)
		return fmt.Errorf("error writing key %s: %w", key, err)
	}
	return nil
}

// Swap reads key and writes fn's result in one badger
// transaction. A conflicting concurrent write makes Swap run fn
// again against the newer value.
func (k *KeyValStore) Swap(
	ctx context.Context,
	key string,
	fn func(current []byte) ([]byte, error),
) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		atomic.AddUint64(&k.readCounter, 1)

		var fnErr error
		err := k.badgerDB.Update(func(txn *badger.Txn) error {
			current, err := readKey(txn, key)
			if err != nil {
				return err
			}
			next, err := fn(current)
			if err != nil {
				fnErr = err
				return err
			}
			atomic.AddUint64(&k.writeCounter, 1)
			return txn.Set([]byte(key), next)
		})
		switch {
		case err == nil:
			return nil
		case fnErr != nil:
			return fnErr
		case errors.Is(err, badger.ErrConflict) && attempt < maxSwapAttempts:
			k.log.WithFields(logrus.Fields{
				"key":     key,
				"attempt": attempt,
			}).Debug("swap conflict, retrying")
			continue
		default:
			return fmt.Errorf("error swapping key %s: %w", key, err)
		}
	}
}

// Keys returns every key starting with prefix, in key order.
func (k *KeyValStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	atomic.AddUint64(&k.readCounter, 1)

	var keys []string
	err := k.badgerDB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error listing prefix %s: %w", prefix, err)
	}
	return keys, nil
}

func (k *KeyValStore) Close() error {
	if err := k.Clean(); err != nil {
		k.log.Warnf("Error cleaning db before close: %v", err)
	}
	return k.badgerDB.Close()
}

func (k *KeyValStore) Clean() error {
	if k.config.InMemory {
		return nil
	}

	err := k.badgerDB.Sync()
	if err != nil {
		return fmt.Errorf("error syncing db: %w", err)
	}

	// flatten the db
	err = k.badgerDB.Flatten(runtime.NumCPU()) // The parameter is the number of concurrent compactions
	if err != nil {
		return fmt.Errorf("error flattening db: %w", err)
	}
	k.log.Info("DB Flattened")

	err = k.badgerDB.RunValueLogGC(0.1)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return fmt.Errorf("error cleaning db: %w", err)
	}

	return nil
}

func readKey(txn *badger.Txn, key string) ([]byte, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}
