package cipherledger

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/i5heu/cipherledger/pkg/logging"
)

func testNow() time.Time { return time.Unix(1_700_000_000, 0) }

func quietStoreLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testConfig() Config {
	return Config{
		InMemory:        true,
		Logger:          logging.Discard(),
		StoreLogger:     quietStoreLogger(),
		Registerer:      prometheus.NewRegistry(),
		ContractAddress: "0x1",
		ChainID:         1,
		Now:             testNow,
	}
}

// newTestLedger returns a started ledger over in-memory badger.
func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

// mapStore is a plain get/set store with injectable failures.
type mapStore struct {
	mu       sync.Mutex
	data     map[string][]byte
	failSet  func(key string) error
	failGet  func(key string) error
	setCalls int
}

func newMapStore() *mapStore {
	return &mapStore{data: map[string][]byte{}}
}

func (s *mapStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet != nil {
		if err := s.failGet(key); err != nil {
			return nil, err
		}
	}
	return append([]byte{}, s.data[key]...), nil
}

func (s *mapStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCalls++
	if s.failSet != nil {
		if err := s.failSet(key); err != nil {
			return err
		}
	}
	s.data[key] = append([]byte{}, value...)
	return nil
}

// scanStore adds key listing to mapStore.
type scanStore struct{ *mapStore }

func (s scanStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

var errDiskGone = errors.New("disk gone")

func newTestLedgerWithStore(t *testing.T, store interface {
	Get(context.Context, string) ([]byte, error)
	Set(context.Context, string, []byte) error
}) *Ledger {
	t.Helper()
	l, err := NewWithStore(testConfig(), store)
	if err != nil {
		t.Fatalf("NewWithStore: %v", err)
	}
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return l
}
