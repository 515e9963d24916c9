// Package cipherledger is a ledger whose amounts are stored
// only in encoded form. Transactions are classified against an
// AML threshold without revealing the amount, and plaintext is
// released only after a signed decrypt authorization.
package cipherledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/i5heu/cipherledger/internal/keyValStore"
	"github.com/i5heu/cipherledger/pkg/auth"
	"github.com/i5heu/cipherledger/pkg/compliance"
	"github.com/i5heu/cipherledger/pkg/fhe"
	"github.com/i5heu/cipherledger/pkg/ledger"
)

var (
	ErrNotStarted = errors.New("cipherledger: ledger not started")
	ErrClosed     = errors.New("cipherledger: ledger closed")
)

const (
	logKeyTxID   = "tx"
	logKeyStatus = "status"
	logKeyStep   = "step"
	logKeyError  = "error"
)

// Ledger is the main handle. It owns the store, the operator
// and the decrypt session.
type Ledger struct {
	log    *slog.Logger
	config Config

	codec      *fhe.Codec
	operator   *fhe.Operator
	classifier *compliance.Classifier
	authorizer *auth.Authorizer
	metrics    *metrics

	storeMu sync.RWMutex
	store   ledger.Store
	kv      *keyValStore.KeyValStore

	stopCounter context.CancelFunc

	// serializes index updates on stores without Swap
	indexMu sync.Mutex

	started   atomic.Bool
	closed    atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
}

// New constructs a ledger backed by badger. New does no I/O;
// call Start to open the store.
func New(conf Config) (*Ledger, error) { // A
	if !conf.InMemory && len(conf.Paths) == 0 {
		return nil, fmt.Errorf("at least one path must be provided in config")
	}
	return newLedger(conf, nil)
}

// NewWithStore constructs a ledger over an external store. The
// store is not closed by Close.
func NewWithStore(conf Config, store ledger.Store) (*Ledger, error) { // A
	if store == nil {
		return nil, fmt.Errorf("store must not be nil")
	}
	return newLedger(conf, store)
}

func newLedger(conf Config, store ledger.Store) (*Ledger, error) {
	conf.applyDefaults()

	codec := fhe.NewCodec()
	threshold := conf.AMLThreshold
	if threshold.IsZero() {
		threshold = fhe.DefaultAMLThreshold
	}
	if threshold.IsNegative() {
		return nil, fmt.Errorf("aml threshold must not be negative, got %s", threshold)
	}
	operator := fhe.NewOperator(codec, threshold)

	authorizer, err := auth.NewAuthorizer(auth.Config{
		Codec:           codec,
		Verifier:        conf.Verifier,
		TokenTTL:        conf.TokenTTL,
		SignTimeout:     conf.SignTimeout,
		ContractAddress: conf.ContractAddress,
		ChainID:         conf.ChainID,
		DurationDays:    conf.DurationDays,
		Clock:           auth.ClockFunc(conf.Now),
		Logger:          conf.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init authorizer: %w", err)
	}

	m, err := newMetrics(conf.Registerer)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return &Ledger{
		log:        conf.Logger,
		config:     conf,
		codec:      codec,
		operator:   operator,
		classifier: compliance.NewClassifier(operator, codec),
		authorizer: authorizer,
		metrics:    m,
		store:      store,
	}, nil
}

// Start opens the badger store unless one was injected. Start
// is safe to call multiple times; only the first call has
// effect.
func (l *Ledger) Start(ctx context.Context) error { // PA
	if l.closed.Load() {
		return ErrClosed
	}
	var startErr error
	l.startOnce.Do(func() {
		if l.store != nil {
			l.started.Store(true)
			l.log.InfoContext(ctx, "ledger started", "store", "external")
			return
		}

		storeConf := keyValStore.StoreConfig{
			InMemory:         l.config.InMemory,
			MinimumFreeSpace: int(l.config.MinimumFreeGB),
			Logger:           l.config.StoreLogger,
		}
		if !l.config.InMemory {
			dataRoot := filepath.Join(l.config.Paths[0], "kv")
			if err := os.MkdirAll(dataRoot, 0o700); err != nil {
				startErr = fmt.Errorf("mkdir %s: %w", dataRoot, err)
				return
			}
			storeConf.Paths = []string{dataRoot}
		}

		kv, err := keyValStore.NewKeyValStore(storeConf)
		if err != nil {
			startErr = fmt.Errorf("init kv: %w", err)
			return
		}
		counterCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		kv.StartTransactionCounter(counterCtx, time.Minute)

		l.storeMu.Lock()
		l.kv = kv
		l.store = kv
		l.stopCounter = cancel
		l.storeMu.Unlock()

		l.started.Store(true)
		l.log.InfoContext(ctx, "ledger started",
			"inMemory", l.config.InMemory, "threshold", l.operator.Threshold().String())
	})
	return startErr
}

// Run starts the ledger, blocks until ctx is canceled, then
// closes it.
func (l *Ledger) Run(ctx context.Context) error { // A
	if err := l.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return l.Close()
}

// Close releases the owned store. Close is idempotent.
func (l *Ledger) Close() error { // A
	var closeErr error
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		l.storeMu.Lock()
		kv := l.kv
		l.kv = nil
		l.store = nil
		stop := l.stopCounter
		l.storeMu.Unlock()
		if stop != nil {
			stop()
		}
		if kv != nil {
			if err := kv.Close(); err != nil {
				closeErr = errors.Join(closeErr, fmt.Errorf("close kv: %w", err))
			}
		}
		l.log.Info("ledger closed")
	})
	return closeErr
}

// Threshold returns the AML threshold in use.
func (l *Ledger) Threshold() string {
	return l.operator.Threshold().String()
}

// Codec returns the codec used for amounts.
func (l *Ledger) Codec() *fhe.Codec {
	return l.codec
}

func (l *Ledger) getStore() (ledger.Store, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	if !l.started.Load() {
		return nil, ErrNotStarted
	}
	l.storeMu.RLock()
	defer l.storeMu.RUnlock()
	if l.store == nil {
		return nil, ErrClosed
	}
	return l.store, nil
}

