// Package ledger defines the ledger entry and its lifecycle:
// a transaction is submitted Pending and classified exactly
// once into Cleared or Flagged.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/i5heu/cipherledger/pkg/fhe"
	"github.com/i5heu/cipherledger/pkg/ledgererr"
)

// Address identifies an account. Comparison ignores case.
type Address string

// Equal reports whether a and b name the same account.
func (a Address) Equal(b Address) bool {
	return strings.EqualFold(string(a), string(b))
}

// Status is the lifecycle state of a Transaction.
type Status string

const (
	StatusPending Status = "pending"
	StatusCleared Status = "cleared"
	StatusFlagged Status = "flagged"
)

// Terminal reports whether s is Cleared or Flagged.
func (s Status) Terminal() bool {
	return s == StatusCleared || s == StatusFlagged
}

// ParseStatus accepts the lower-case status names. An empty
// string means pending, matching records written before the
// field existed.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case "", StatusPending:
		return StatusPending, nil
	case StatusCleared:
		return StatusCleared, nil
	case StatusFlagged:
		return StatusFlagged, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ledgererr.ErrInvalidInput, s)
	}
}

// Transaction is a single ledger entry. Values are immutable;
// lifecycle functions return updated copies.
type Transaction struct {
	ID         string
	Amount     fhe.EncodedValue
	Sender     Address
	Receiver   Address
	CreatedAt  time.Time
	Status     Status
	AMLChecked bool
}

// ClassificationResult is the outcome of one AML check.
type ClassificationResult struct {
	Flagged       bool
	ThresholdUsed decimal.Decimal
}

// SubmitOption customizes Submit.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	id  string
	now func() time.Time
}

// WithID uses id instead of a generated UUID.
func WithID(id string) SubmitOption {
	return func(o *submitOptions) { o.id = id }
}

// WithClock sets the source of CreatedAt.
func WithClock(now func() time.Time) SubmitOption {
	return func(o *submitOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// Submit encodes amount and returns a new Pending transaction.
func Submit(
	codec *fhe.Codec,
	amount decimal.Decimal,
	sender, receiver Address,
	opts ...SubmitOption,
) (Transaction, error) {
	o := submitOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	if err := ValidateID(o.id); err != nil {
		return Transaction{}, err
	}
	if strings.TrimSpace(string(sender)) == "" {
		return Transaction{}, fmt.Errorf("%w: sender is required", ledgererr.ErrInvalidInput)
	}
	if strings.TrimSpace(string(receiver)) == "" {
		return Transaction{}, fmt.Errorf("%w: receiver is required", ledgererr.ErrInvalidInput)
	}

	enc, err := codec.Encode(amount)
	if err != nil {
		return Transaction{}, fmt.Errorf("submit: %w", err)
	}

	return Transaction{
		ID:        o.id,
		Amount:    enc,
		Sender:    sender,
		Receiver:  receiver,
		CreatedAt: time.Unix(o.now().Unix(), 0),
		Status:    StatusPending,
	}, nil
}

// ApplyClassification moves a Pending transaction to Flagged
// or Cleared and marks it AML checked. On any other status the
// error matches both ErrInvalidTransition and
// ErrAlreadyClassified.
func ApplyClassification(tx Transaction, result ClassificationResult) (Transaction, error) {
	if tx.Status != StatusPending {
		return tx, fmt.Errorf(
			"%w: %w: %s is %s",
			ledgererr.ErrInvalidTransition, ledgererr.ErrAlreadyClassified, tx.ID, tx.Status,
		)
	}
	next := tx
	next.AMLChecked = true
	if result.Flagged {
		next.Status = StatusFlagged
	} else {
		next.Status = StatusCleared
	}
	return next, nil
}
