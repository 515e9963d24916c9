package cipherledger

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/i5heu/cipherledger/pkg/fhe"
	"github.com/i5heu/cipherledger/pkg/ledger"
	"github.com/i5heu/cipherledger/pkg/ledgererr"
)

// PersistStep names one of the two independent writes of
// Submit.
type PersistStep string

const (
	StepRecord PersistStep = "record"
	StepIndex  PersistStep = "index"
)

// PersistError reports which store write failed. A failed
// StepIndex leaves the record in place; RetryIndex completes it.
type PersistError struct {
	Step PersistStep
	ID   string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("cipherledger: persist %s of %s: %v", e.Step, e.ID, e.Err)
}

// Unwrap matches ledgererr.ErrStore and the store's own error.
func (e *PersistError) Unwrap() []error {
	return []error{ledgererr.ErrStore, e.Err}
}

// ListResult is a page of transactions read through the index,
// newest first. Missing holds indexed ids whose record is
// absent and Corrupt those whose record does not decode.
type ListResult struct {
	Transactions []ledger.Transaction
	Missing      []string
	Corrupt      []string
}

// Submit encodes amount and persists a new pending transaction:
// first the record, then the index entry.
func (l *Ledger) Submit( // A
	ctx context.Context,
	amount decimal.Decimal,
	sender, receiver ledger.Address,
	opts ...ledger.SubmitOption,
) (ledger.Transaction, error) {
	store, err := l.getStore()
	if err != nil {
		return ledger.Transaction{}, err
	}

	opts = append([]ledger.SubmitOption{ledger.WithClock(l.config.Now)}, opts...)
	tx, err := ledger.Submit(l.codec, amount, sender, receiver, opts...)
	if err != nil {
		return ledger.Transaction{}, err
	}

	raw, err := ledger.MarshalRecord(tx)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("encode record %s: %w", tx.ID, err)
	}
	if err := l.writeNewRecord(ctx, store, tx.ID, raw); err != nil {
		return ledger.Transaction{}, err
	}
	if err := l.appendIndex(ctx, store, tx.ID); err != nil {
		return tx, err
	}

	l.metrics.submitted.Inc()
	l.log.DebugContext(ctx, "transaction submitted", logKeyTxID, tx.ID)
	return tx, nil
}

func (l *Ledger) writeNewRecord(ctx context.Context, store ledger.Store, id string, raw []byte) error {
	key := ledger.RecordKey(id)
	exists := fmt.Errorf("%w: transaction %s already exists", ledgererr.ErrInvalidInput, id)

	var err error
	if swapper, ok := store.(ledger.Swapper); ok {
		err = swapper.Swap(ctx, key, func(current []byte) ([]byte, error) {
			if len(current) > 0 {
				return nil, exists
			}
			return raw, nil
		})
		if errors.Is(err, ledgererr.ErrInvalidInput) {
			return err
		}
	} else {
		var current []byte
		current, err = store.Get(ctx, key)
		if err == nil && len(current) > 0 {
			return exists
		}
		if err == nil {
			err = store.Set(ctx, key, raw)
		}
	}
	if err != nil {
		return l.persistFailed(ctx, StepRecord, id, err)
	}
	return nil
}

// appendIndex adds id to the index unless it is already there.
func (l *Ledger) appendIndex(ctx context.Context, store ledger.Store, id string) error {
	add := func(current []byte) ([]byte, error) {
		ids, err := ledger.UnmarshalIndex(current)
		if err != nil {
			return nil, err
		}
		if slices.Contains(ids, id) {
			return current, nil
		}
		return ledger.MarshalIndex(append(ids, id))
	}

	var err error
	if swapper, ok := store.(ledger.Swapper); ok {
		err = swapper.Swap(ctx, ledger.IndexKey, add)
	} else {
		l.indexMu.Lock()
		defer l.indexMu.Unlock()
		var current, next []byte
		current, err = store.Get(ctx, ledger.IndexKey)
		if err == nil {
			next, err = add(current)
		}
		if err == nil {
			err = store.Set(ctx, ledger.IndexKey, next)
		}
	}
	if err != nil {
		return l.persistFailed(ctx, StepIndex, id, err)
	}
	return nil
}

func (l *Ledger) persistFailed(ctx context.Context, step PersistStep, id string, err error) error {
	l.metrics.persistFailures.WithLabelValues(string(step)).Inc()
	l.log.WarnContext(ctx, "store write failed",
		logKeyTxID, id, logKeyStep, string(step), logKeyError, err)
	return &PersistError{Step: step, ID: id, Err: err}
}

// RetryIndex repeats the index step of Submit for a record that
// is already stored.
func (l *Ledger) RetryIndex(ctx context.Context, id string) error { // A
	store, err := l.getStore()
	if err != nil {
		return err
	}
	if _, err := l.load(ctx, store, id); err != nil {
		return err
	}
	return l.appendIndex(ctx, store, id)
}

// Get loads one transaction.
func (l *Ledger) Get(ctx context.Context, id string) (ledger.Transaction, error) { // A
	store, err := l.getStore()
	if err != nil {
		return ledger.Transaction{}, err
	}
	return l.load(ctx, store, id)
}

func (l *Ledger) load(ctx context.Context, store ledger.Store, id string) (ledger.Transaction, error) {
	if err := ledger.ValidateID(id); err != nil {
		return ledger.Transaction{}, err
	}
	raw, err := store.Get(ctx, ledger.RecordKey(id))
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("%w: read %s: %w", ledgererr.ErrStore, id, err)
	}
	if len(raw) == 0 {
		return ledger.Transaction{}, fmt.Errorf("%w: transaction %s", ledgererr.ErrNotFound, id)
	}
	return ledger.UnmarshalRecord(id, raw)
}

// List reads the index and every indexed record, optionally
// keeping only one status. An empty status keeps all. Records
// that fail to decode are skipped and reported in Corrupt.
func (l *Ledger) List(ctx context.Context, status ledger.Status) (ListResult, error) { // A
	store, err := l.getStore()
	if err != nil {
		return ListResult{}, err
	}
	raw, err := store.Get(ctx, ledger.IndexKey)
	if err != nil {
		return ListResult{}, fmt.Errorf("%w: read index: %w", ledgererr.ErrStore, err)
	}
	ids, err := ledger.UnmarshalIndex(raw)
	if err != nil {
		return ListResult{}, fmt.Errorf("%w: %w", ledgererr.ErrStore, err)
	}

	var res ListResult
	for _, id := range ids {
		tx, err := l.load(ctx, store, id)
		if errors.Is(err, ledgererr.ErrNotFound) {
			res.Missing = append(res.Missing, id)
			continue
		}
		if errors.Is(err, ledgererr.ErrStore) {
			return ListResult{}, err
		}
		if err != nil {
			l.log.WarnContext(ctx, "skipping undecodable record",
				logKeyTxID, id, logKeyError, err)
			res.Corrupt = append(res.Corrupt, id)
			continue
		}
		res.Transactions = append(res.Transactions, tx)
	}
	if len(res.Missing) > 0 {
		l.log.WarnContext(ctx, "indexed transactions without record", "missing", res.Missing)
	}
	slices.SortStableFunc(res.Transactions, func(a, b ledger.Transaction) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if status != "" {
		res.Transactions = ledger.Filter(res.Transactions, status)
	}
	return res, nil
}

// Stats counts all listed transactions by status.
func (l *Ledger) Stats(ctx context.Context) (ledger.Stats, error) { // A
	res, err := l.List(ctx, "")
	if err != nil {
		return ledger.Stats{}, err
	}
	return ledger.Summarize(res.Transactions), nil
}

// Classify runs the AML check for caller and persists the
// terminal status. On a store with Swap the status check and
// the write are one atomic step, so of two concurrent callers
// exactly one succeeds and the other gets ErrAlreadyClassified.
func (l *Ledger) Classify( // A
	ctx context.Context,
	id string,
	caller ledger.Address,
) (ledger.Transaction, error) {
	store, err := l.getStore()
	if err != nil {
		return ledger.Transaction{}, err
	}
	if err := ledger.ValidateID(id); err != nil {
		return ledger.Transaction{}, err
	}

	var next ledger.Transaction
	classify := func(current []byte) ([]byte, error) {
		if len(current) == 0 {
			return nil, fmt.Errorf("%w: transaction %s", ledgererr.ErrNotFound, id)
		}
		tx, err := ledger.UnmarshalRecord(id, current)
		if err != nil {
			return nil, err
		}
		result, err := l.classifier.Classify(tx, caller)
		if err != nil {
			return nil, err
		}
		next, err = ledger.ApplyClassification(tx, result)
		if err != nil {
			return nil, err
		}
		return ledger.MarshalRecord(next)
	}

	key := ledger.RecordKey(id)
	if swapper, ok := store.(ledger.Swapper); ok {
		err = swapper.Swap(ctx, key, classify)
		if err != nil && ledgererr.Kind(err) == nil {
			err = fmt.Errorf("%w: write %s: %w", ledgererr.ErrStore, id, err)
		}
	} else {
		err = l.classifyUnguarded(ctx, store, key, classify)
	}
	if err != nil {
		l.log.InfoContext(ctx, "classification refused", logKeyTxID, id, logKeyError, err)
		return ledger.Transaction{}, err
	}

	l.metrics.classifications.WithLabelValues(string(next.Status)).Inc()
	l.log.InfoContext(ctx, "transaction classified", logKeyTxID, id, logKeyStatus, string(next.Status))
	return next, nil
}

// classifyUnguarded reads then writes with no check in between.
// Two sessions racing here may both succeed; the last write wins.
func (l *Ledger) classifyUnguarded(
	ctx context.Context,
	store ledger.Store,
	key string,
	classify func([]byte) ([]byte, error),
) error {
	current, err := store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", ledgererr.ErrStore, key, err)
	}
	next, err := classify(current)
	if err != nil {
		return err
	}
	if err := store.Set(ctx, key, next); err != nil {
		return fmt.Errorf("%w: write %s: %w", ledgererr.ErrStore, key, err)
	}
	return nil
}

// Evaluate applies op to the stored amount of id and returns
// the encoded result. Nothing is persisted.
func (l *Ledger) Evaluate( // A
	ctx context.Context,
	id string,
	op fhe.Operation,
) (fhe.EncodedValue, error) {
	tx, err := l.Get(ctx, id)
	if err != nil {
		return fhe.EncodedValue{}, err
	}
	return l.operator.Apply(tx.Amount, op)
}

// Reconcile appends record keys missing from the index. It
// needs a store that implements ledger.Scanner and returns the
// ids it added.
func (l *Ledger) Reconcile(ctx context.Context) ([]string, error) { // A
	store, err := l.getStore()
	if err != nil {
		return nil, err
	}
	scanner, ok := store.(ledger.Scanner)
	if !ok {
		return nil, fmt.Errorf("%w: store cannot list keys", ledgererr.ErrUnsupportedOperation)
	}

	keys, err := scanner.Keys(ctx, ledger.RecordPrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: scan: %w", ledgererr.ErrStore, err)
	}
	raw, err := store.Get(ctx, ledger.IndexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: read index: %w", ledgererr.ErrStore, err)
	}
	indexed, err := ledger.UnmarshalIndex(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ledgererr.ErrStore, err)
	}

	var added []string
	for _, key := range keys {
		id, ok := ledger.IDFromRecordKey(key)
		if !ok || slices.Contains(indexed, id) {
			continue
		}
		if err := l.appendIndex(ctx, store, id); err != nil {
			return added, err
		}
		added = append(added, id)
	}
	if len(added) > 0 {
		l.log.InfoContext(ctx, "index reconciled", "added", added)
	}
	return added, nil
}
