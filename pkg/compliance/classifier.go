// Package compliance runs the AML threshold check over an
// encoded transaction amount.
//
// Classification is sender-initiated: only the sender of a
// pending transaction may request it. This mirrors a
// self-reporting compliance model rather than a third-party
// regulator.
package compliance

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/i5heu/cipherledger/pkg/fhe"
	"github.com/i5heu/cipherledger/pkg/ledger"
	"github.com/i5heu/cipherledger/pkg/ledgererr"
)

var one = decimal.NewFromInt(1)

// Classifier evaluates transactions against the operator's
// AML threshold.
type Classifier struct {
	op    *fhe.Operator
	codec *fhe.Codec
}

// NewClassifier returns a Classifier that drives op and
// decodes its encoded boolean with codec.
func NewClassifier(op *fhe.Operator, codec *fhe.Codec) *Classifier {
	if codec == nil {
		codec = fhe.NewCodec()
	}
	if op == nil {
		op = fhe.NewOperator(codec, fhe.DefaultAMLThreshold)
	}
	return &Classifier{op: op, codec: codec}
}

// Threshold returns the AML threshold in use.
func (c *Classifier) Threshold() decimal.Decimal {
	return c.op.Threshold()
}

// Classify checks tx for the caller. It has no side effect on
// tx; the result is applied with ledger.ApplyClassification.
func (c *Classifier) Classify(
	tx ledger.Transaction,
	caller ledger.Address,
) (ledger.ClassificationResult, error) {
	if tx.Status != ledger.StatusPending {
		return ledger.ClassificationResult{}, fmt.Errorf(
			"%w: %s is %s", ledgererr.ErrAlreadyClassified, tx.ID, tx.Status,
		)
	}
	if !caller.Equal(tx.Sender) {
		return ledger.ClassificationResult{}, fmt.Errorf(
			"%w: only the sender may classify %s", ledgererr.ErrNotAuthorized, tx.ID,
		)
	}

	encoded, err := c.op.Apply(tx.Amount, fhe.AMLThresholdCheck())
	if err != nil {
		return ledger.ClassificationResult{}, fmt.Errorf("classify %s: %w", tx.ID, err)
	}

	// engine-internal decode: the boolean never leaves as
	// plaintext to an external party
	flag, err := c.codec.Decode(encoded)
	if err != nil {
		return ledger.ClassificationResult{}, fmt.Errorf("classify %s: %w", tx.ID, err)
	}
	if !flag.Equal(one) && !flag.IsZero() {
		return ledger.ClassificationResult{}, fmt.Errorf(
			"%w: check result %s is not boolean", ledgererr.ErrMalformedCiphertext, flag,
		)
	}

	return ledger.ClassificationResult{
		Flagged:       flag.Equal(one),
		ThresholdUsed: c.op.Threshold(),
	}, nil
}
