package cipherledger

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/cipherledger/pkg/auth"
	"github.com/i5heu/cipherledger/pkg/fhe"
	"github.com/i5heu/cipherledger/pkg/ledger"
	"github.com/i5heu/cipherledger/pkg/ledgererr"
)

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSubmitPersistsRecordAndIndex(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	tx, err := l.Submit(ctx, amount("42.10"), "0xAlice", "0xBob", ledger.WithID("t1"))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, tx.Status)

	raw, err := l.kv.Get(ctx, "transaction_t1")
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, tx.Amount.String(), fields["amount"])
	assert.Equal(t, "pending", fields["status"])
	assert.Equal(t, false, fields["amlCheck"])
	assert.Equal(t, float64(testNow().Unix()), fields["timestamp"])

	index, err := l.kv.Get(ctx, ledger.IndexKey)
	require.NoError(t, err)
	assert.JSONEq(t, `["t1"]`, string(index))

	got, err := l.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, tx, got)

	assert.Equal(t, float64(1), testutil.ToFloat64(l.metrics.submitted))
}

func TestSubmitRejectsDuplicateID(t *testing.T) {
	for name, l := range map[string]*Ledger{
		"badger": newTestLedger(t),
		"plain":  newTestLedgerWithStore(t, newMapStore()),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := l.Submit(ctx, amount("1"), "a", "b", ledger.WithID("dup"))
			require.NoError(t, err)
			_, err = l.Submit(ctx, amount("2"), "a", "b", ledger.WithID("dup"))
			assert.ErrorIs(t, err, ledgererr.ErrInvalidInput)

			got, err := l.Get(ctx, "dup")
			require.NoError(t, err)
			value, err := l.Codec().Decode(got.Amount)
			require.NoError(t, err)
			assert.True(t, value.Equal(amount("1")))
		})
	}
}

func TestSubmitOutOfRangeWritesNothing(t *testing.T) {
	store := newMapStore()
	l := newTestLedgerWithStore(t, store)

	_, err := l.Submit(context.Background(), amount("1e15"), "a", "b")
	assert.ErrorIs(t, err, ledgererr.ErrValueOutOfRange)
	assert.Zero(t, store.setCalls)
}

func TestGetUnknown(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ledgererr.ErrNotFound)
}

func TestIndexFailureIsReportedSeparately(t *testing.T) {
	store := newMapStore()
	store.failSet = func(key string) error {
		if key == ledger.IndexKey {
			return errDiskGone
		}
		return nil
	}
	l := newTestLedgerWithStore(t, store)
	ctx := context.Background()

	tx, err := l.Submit(ctx, amount("5"), "a", "b", ledger.WithID("orphan"))
	var perr *PersistError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StepIndex, perr.Step)
	assert.Equal(t, "orphan", perr.ID)
	assert.ErrorIs(t, err, ledgererr.ErrStore)
	assert.ErrorIs(t, err, errDiskGone)
	assert.True(t, ledgererr.Retryable(err))
	assert.Equal(t, "orphan", tx.ID)

	// record is there, the index is not
	_, err = l.Get(ctx, "orphan")
	require.NoError(t, err)
	res, err := l.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, res.Transactions)

	store.failSet = nil
	require.NoError(t, l.RetryIndex(ctx, "orphan"))
	require.NoError(t, l.RetryIndex(ctx, "orphan"))

	res, err = l.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, "orphan", res.Transactions[0].ID)
}

func TestRecordFailureSkipsIndex(t *testing.T) {
	store := newMapStore()
	store.failSet = func(key string) error {
		if key != ledger.IndexKey {
			return errDiskGone
		}
		return nil
	}
	l := newTestLedgerWithStore(t, store)

	_, err := l.Submit(context.Background(), amount("5"), "a", "b")
	var perr *PersistError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StepRecord, perr.Step)
	assert.Empty(t, store.data[ledger.IndexKey])
}

func TestRetryIndexUnknown(t *testing.T) {
	l := newTestLedger(t)
	assert.ErrorIs(t, l.RetryIndex(context.Background(), "ghost"), ledgererr.ErrNotFound)
}

func TestListReportsMissingRecords(t *testing.T) {
	store := newMapStore()
	l := newTestLedgerWithStore(t, store)
	ctx := context.Background()

	_, err := l.Submit(ctx, amount("1"), "a", "b", ledger.WithID("present"))
	require.NoError(t, err)
	store.data[ledger.IndexKey] = []byte(`["present","gone"]`)

	res, err := l.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, []string{"gone"}, res.Missing)
}

func TestListSkipsUndecodableRecords(t *testing.T) {
	store := newMapStore()
	l := newTestLedgerWithStore(t, store)
	ctx := context.Background()

	at := func(sec int64) ledger.SubmitOption {
		return ledger.WithClock(func() time.Time { return time.Unix(sec, 0) })
	}
	_, err := l.Submit(ctx, amount("1"), "a", "b", ledger.WithID("old"), at(100))
	require.NoError(t, err)
	_, err = l.Submit(ctx, amount("2"), "a", "b", ledger.WithID("new"), at(300))
	require.NoError(t, err)
	_, err = l.Submit(ctx, amount("3"), "a", "b", ledger.WithID("mid"), at(200))
	require.NoError(t, err)

	store.data[ledger.RecordKey("bad")] = []byte(`{"amount":"12.5","sender":"a","receiver":"b","timestamp":1}`)
	store.data[ledger.IndexKey] = []byte(`["old","bad","new","mid"]`)

	res, err := l.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"bad"}, res.Corrupt)
	assert.Empty(t, res.Missing)
	ids := make([]string, 0, len(res.Transactions))
	for _, tx := range res.Transactions {
		ids = append(ids, tx.ID)
	}
	assert.Equal(t, []string{"new", "mid", "old"}, ids)

	stats, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.Pending)
}

func TestListRecordReadErrorFails(t *testing.T) {
	store := newMapStore()
	l := newTestLedgerWithStore(t, store)
	ctx := context.Background()

	_, err := l.Submit(ctx, amount("1"), "a", "b", ledger.WithID("x"))
	require.NoError(t, err)
	store.failGet = func(key string) error {
		if key == ledger.RecordKey("x") {
			return errDiskGone
		}
		return nil
	}

	_, err = l.List(ctx, "")
	assert.ErrorIs(t, err, ledgererr.ErrStore)
}

func TestListStoreError(t *testing.T) {
	store := newMapStore()
	store.failGet = func(string) error { return errDiskGone }
	l := newTestLedgerWithStore(t, store)

	_, err := l.List(context.Background(), "")
	assert.ErrorIs(t, err, ledgererr.ErrStore)
	assert.ErrorIs(t, err, errDiskGone)
}

func TestClassifyFlow(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	big, err := l.Submit(ctx, amount("10000.01"), "0xSender", "0xR", ledger.WithID("big"))
	require.NoError(t, err)
	edge, err := l.Submit(ctx, amount("10000.00"), "0xSender", "0xR", ledger.WithID("edge"))
	require.NoError(t, err)

	// only the sender may classify, and a refusal changes nothing
	_, err = l.Classify(ctx, big.ID, "0xR")
	assert.ErrorIs(t, err, ledgererr.ErrNotAuthorized)
	stored, err := l.Get(ctx, big.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, stored.Status)
	assert.False(t, stored.AMLChecked)

	flagged, err := l.Classify(ctx, big.ID, "0xsender")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFlagged, flagged.Status)
	assert.True(t, flagged.AMLChecked)

	cleared, err := l.Classify(ctx, edge.ID, "0xSender")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCleared, cleared.Status)

	_, err = l.Classify(ctx, big.ID, "0xSender")
	assert.ErrorIs(t, err, ledgererr.ErrAlreadyClassified)
	assert.False(t, ledgererr.Retryable(err))

	stored, err = l.Get(ctx, big.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFlagged, stored.Status)

	_, err = l.Classify(ctx, "ghost", "0xSender")
	assert.ErrorIs(t, err, ledgererr.ErrNotFound)

	stats, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.Stats{Total: 2, Cleared: 1, Flagged: 1}, stats)

	res, err := l.List(ctx, ledger.StatusFlagged)
	require.NoError(t, err)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, "big", res.Transactions[0].ID)

	assert.Equal(t, float64(1), testutil.ToFloat64(l.metrics.classifications.WithLabelValues("flagged")))
}

func TestClassifyOnPlainStore(t *testing.T) {
	l := newTestLedgerWithStore(t, newMapStore())
	ctx := context.Background()

	tx, err := l.Submit(ctx, amount("20000"), "s", "r")
	require.NoError(t, err)
	done, err := l.Classify(ctx, tx.ID, "s")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFlagged, done.Status)

	_, err = l.Classify(ctx, tx.ID, "s")
	assert.ErrorIs(t, err, ledgererr.ErrAlreadyClassified)
}

func TestConcurrentClassifyOneWinner(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	tx, err := l.Submit(ctx, amount("1"), "s", "r")
	require.NoError(t, err)

	const sessions = 4
	errs := make([]error, sessions)
	var wg sync.WaitGroup
	for i := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = l.Classify(ctx, tx.ID, "s")
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ledgererr.ErrAlreadyClassified)
	}
	assert.Equal(t, 1, wins)
}

func TestRevealRequiresToken(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	tx, err := l.Submit(ctx, amount("310.25"), "s", "r")
	require.NoError(t, err)

	_, err = l.Reveal(ctx, tx.ID, nil)
	assert.ErrorIs(t, err, ledgererr.ErrAuthorizationDenied)

	_, err = l.AuthorizeDecrypt(ctx, l.ChallengeText(),
		auth.SignerFunc(func(context.Context, string) ([]byte, error) {
			return nil, errors.New("user declined")
		}))
	assert.ErrorIs(t, err, ledgererr.ErrAuthorizationDenied)

	tok, err := l.AuthorizeDecrypt(ctx, l.ChallengeText(), auth.PresignedSigner("sig"))
	require.NoError(t, err)

	value, err := l.Reveal(ctx, tx.ID, tok)
	require.NoError(t, err)
	assert.True(t, value.Equal(amount("310.25")))

	_, err = l.Reveal(ctx, tx.ID, tok)
	assert.ErrorIs(t, err, ledgererr.ErrAuthorizationDenied)
}

func TestRevealUnknownIDSpendsToken(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	tx, err := l.Submit(ctx, amount("5"), "s", "r")
	require.NoError(t, err)

	tok, err := l.AuthorizeDecrypt(ctx, l.ChallengeText(), auth.PresignedSigner("sig"))
	require.NoError(t, err)

	_, err = l.Reveal(ctx, "ghost", tok)
	assert.ErrorIs(t, err, ledgererr.ErrNotFound)

	_, err = l.Reveal(ctx, tx.ID, tok)
	assert.ErrorIs(t, err, ledgererr.ErrAuthorizationDenied)
}

func TestChallengeText(t *testing.T) {
	l := newTestLedger(t)
	p := l.Challenge()
	assert.Equal(t, "0x1", p.ContractAddress)
	assert.Equal(t, uint64(1), p.ChainID)
	assert.Equal(t, uint32(auth.DefaultDurationDays), p.WindowDurationDays)
	assert.Equal(t, auth.BuildChallenge(p), l.ChallengeText())
}

func TestEvaluateScale(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	tx, err := l.Submit(ctx, amount("200"), "s", "r")
	require.NoError(t, err)

	out, err := l.Evaluate(ctx, tx.ID, fhe.Scale(amount("1.1")))
	require.NoError(t, err)
	value, err := l.Codec().Decode(out)
	require.NoError(t, err)
	assert.True(t, value.Equal(amount("220")))

	// the stored amount is unchanged
	stored, err := l.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.Amount, stored.Amount)

	_, err = l.Evaluate(ctx, tx.ID, fhe.Operation{})
	assert.ErrorIs(t, err, ledgererr.ErrUnsupportedOperation)
}

func TestReconcile(t *testing.T) {
	store := scanStore{newMapStore()}
	l := newTestLedgerWithStore(t, store)
	ctx := context.Background()

	_, err := l.Submit(ctx, amount("1"), "a", "b", ledger.WithID("indexed"))
	require.NoError(t, err)
	store.data[ledger.RecordKey("orphan")] = store.data[ledger.RecordKey("indexed")]

	added, err := l.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"orphan"}, added)

	res, err := l.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, res.Transactions, 2)

	added, err = l.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, added)
}

func TestReconcileNeedsScanner(t *testing.T) {
	l := newTestLedgerWithStore(t, newMapStore())
	_, err := l.Reconcile(context.Background())
	assert.ErrorIs(t, err, ledgererr.ErrUnsupportedOperation)
}

func TestLifecycle(t *testing.T) {
	l, err := New(testConfig())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = l.Get(ctx, "x")
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, l.Start(ctx))
	require.NoError(t, l.Start(ctx))
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	_, err = l.Get(ctx, "x")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, l.Start(ctx), ErrClosed)

	_, err = New(Config{})
	assert.Error(t, err)
	_, err = NewWithStore(testConfig(), nil)
	assert.Error(t, err)
}

func TestOnDiskLedger(t *testing.T) {
	conf := testConfig()
	conf.InMemory = false
	conf.Paths = []string{t.TempDir()}
	ctx := context.Background()

	l, err := New(conf)
	require.NoError(t, err)
	require.NoError(t, l.Start(ctx))
	_, err = l.Submit(ctx, amount("9"), "a", "b", ledger.WithID("kept"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	conf.Registerer = nil
	l, err = New(conf)
	require.NoError(t, err)
	require.NoError(t, l.Start(ctx))
	defer l.Close()
	got, err := l.Get(ctx, "kept")
	require.NoError(t, err)
	assert.Equal(t, "kept", got.ID)
}
