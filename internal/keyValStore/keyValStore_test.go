package keyValStore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/cipherledger/internal/testutil"
)

func newTestStore(t *testing.T) *KeyValStore {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	kv, err := NewKeyValStore(StoreConfig{InMemory: true, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func TestGetMissingKeyIsEmpty(t *testing.T) {
	kv := newTestStore(t)

	value, err := kv.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, value)
}

func TestSetGet(t *testing.T) {
	kv := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "transaction_1", []byte(`{"status":"pending"}`)))
	value, err := kv.Get(ctx, "transaction_1")
	require.NoError(t, err)
	assert.Equal(t, `{"status":"pending"}`, string(value))

	require.NoError(t, kv.Set(ctx, "transaction_1", []byte(`{"status":"cleared"}`)))
	value, err = kv.Get(ctx, "transaction_1")
	require.NoError(t, err)
	assert.Equal(t, `{"status":"cleared"}`, string(value))
}

func TestCancelledContext(t *testing.T) {
	kv := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := kv.Get(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, kv.Set(ctx, "a", []byte("x")), context.Canceled)
	_, err = kv.Keys(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSwap(t *testing.T) {
	kv := newTestStore(t)
	ctx := context.Background()

	err := kv.Swap(ctx, "counter", func(current []byte) ([]byte, error) {
		assert.Empty(t, current)
		return []byte("1"), nil
	})
	require.NoError(t, err)

	value, err := kv.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, "1", string(value))
}

func TestSwapAbortKeepsValue(t *testing.T) {
	kv := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, "k", []byte("old")))

	boom := errors.New("boom")
	err := kv.Swap(ctx, "k", func([]byte) ([]byte, error) { return nil, boom })
	assert.Same(t, boom, err)

	value, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "old", string(value))
}

func TestSwapConcurrentIncrements(t *testing.T) {
	testutil.RequireLong(t)
	kv := newTestStore(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	var conflicts sync.Map
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 25 {
				err := kv.Swap(ctx, "n", func(current []byte) ([]byte, error) {
					n := 0
					if len(current) > 0 {
						n, _ = strconv.Atoi(string(current))
					}
					return []byte(strconv.Itoa(n + 1)), nil
				})
				if err != nil {
					conflicts.Store(w, err)
				}
			}
		}()
	}
	wg.Wait()

	failed := 0
	conflicts.Range(func(_, _ any) bool { failed++; return true })
	require.Zero(t, failed)

	value, err := kv.Get(ctx, "n")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(workers*25), string(value))
}

func TestKeysByPrefix(t *testing.T) {
	kv := newTestStore(t)
	ctx := context.Background()

	for i := range 3 {
		require.NoError(t, kv.Set(ctx, fmt.Sprintf("transaction_%d", i), []byte("{}")))
	}
	require.NoError(t, kv.Set(ctx, "other", []byte("x")))

	keys, err := kv.Keys(ctx, "transaction_")
	require.NoError(t, err)
	assert.Equal(t, []string{"transaction_0", "transaction_1", "transaction_2"}, keys)

	keys, err = kv.Keys(ctx, "missing_")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCheckConfig(t *testing.T) {
	assert.Error(t, (&StoreConfig{}).checkConfig())
	assert.Error(t, (&StoreConfig{Paths: []string{t.TempDir() + "/absent"}}).checkConfig())
	assert.NoError(t, (&StoreConfig{InMemory: true}).checkConfig())
	assert.NoError(t, (&StoreConfig{Paths: []string{t.TempDir()}}).checkConfig())
}

func TestOnDiskStore(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	dir := t.TempDir()
	ctx := context.Background()

	kv, err := NewKeyValStore(StoreConfig{Paths: []string{dir}, Logger: logger})
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, "transaction_keys", []byte(`["a"]`)))
	require.NoError(t, kv.Close())

	kv, err = NewKeyValStore(StoreConfig{Paths: []string{dir}, Logger: logger})
	require.NoError(t, err)
	defer kv.Close()
	value, err := kv.Get(ctx, "transaction_keys")
	require.NoError(t, err)
	assert.Equal(t, `["a"]`, string(value))
}
