package fhe

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/i5heu/cipherledger/pkg/ledgererr"
)

// DefaultAMLThreshold is the amount above which a transaction
// is flagged.
var DefaultAMLThreshold = decimal.NewFromInt(10000)

// OpKind enumerates the operations an Operator understands.
// The set is closed.
type OpKind int

const (
	OpInvalid OpKind = iota
	OpAMLThresholdCheck
	OpScale
)

const (
	opNameAMLThresholdCheck = "aml_threshold_check"
	opNameScale             = "scale"
)

// Operation is a tagged operation with its parameters.
type Operation struct {
	Kind   OpKind
	Factor decimal.Decimal
}

// AMLThresholdCheck yields an encoded 1 when the amount
// exceeds the operator threshold, 0 otherwise.
func AMLThresholdCheck() Operation {
	return Operation{Kind: OpAMLThresholdCheck}
}

// Scale multiplies the encoded amount by factor.
func Scale(factor decimal.Decimal) Operation {
	return Operation{Kind: OpScale, Factor: factor}
}

// ParseOperation maps an operation name to an Operation. The
// factor is only read for "scale".
func ParseOperation(name, factor string) (Operation, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case opNameAMLThresholdCheck:
		return AMLThresholdCheck(), nil
	case opNameScale:
		f, err := decimal.NewFromString(factor)
		if err != nil {
			return Operation{}, fmt.Errorf(
				"%w: scale factor %q: %v", ledgererr.ErrInvalidInput, factor, err,
			)
		}
		return Scale(f), nil
	default:
		return Operation{}, fmt.Errorf(
			"%w: %q", ledgererr.ErrUnsupportedOperation, name,
		)
	}
}

func (o Operation) String() string {
	switch o.Kind {
	case OpAMLThresholdCheck:
		return opNameAMLThresholdCheck
	case OpScale:
		return opNameScale + "(" + o.Factor.String() + ")"
	default:
		return fmt.Sprintf("op(%d)", int(o.Kind))
	}
}

// Operator applies operations to encoded values. Plaintext is
// only held for the duration of one Apply call and never
// returned.
type Operator struct {
	codec     *Codec
	threshold decimal.Decimal
}

// NewOperator returns an Operator over codec using threshold
// for OpAMLThresholdCheck.
func NewOperator(codec *Codec, threshold decimal.Decimal) *Operator {
	if codec == nil {
		codec = NewCodec()
	}
	return &Operator{codec: codec, threshold: threshold}
}

// Threshold returns the AML threshold in use.
func (o *Operator) Threshold() decimal.Decimal {
	return o.threshold
}

// Apply decodes v, computes op and re-encodes the result.
func (o *Operator) Apply(v EncodedValue, op Operation) (EncodedValue, error) {
	var compute func(decimal.Decimal) decimal.Decimal
	switch op.Kind {
	case OpAMLThresholdCheck:
		compute = func(x decimal.Decimal) decimal.Decimal {
			if x.GreaterThan(o.threshold) {
				return decimal.NewFromInt(1)
			}
			return decimal.Zero
		}
	case OpScale:
		compute = func(x decimal.Decimal) decimal.Decimal {
			return x.Mul(op.Factor).Round(Precision)
		}
	default:
		return EncodedValue{}, fmt.Errorf(
			"%w: %s", ledgererr.ErrUnsupportedOperation, op,
		)
	}

	x, err := o.codec.Decode(v)
	if err != nil {
		return EncodedValue{}, fmt.Errorf("apply %s: %w", op, err)
	}
	out, err := o.codec.Encode(compute(x))
	if err != nil {
		return EncodedValue{}, fmt.Errorf("apply %s: %w", op, err)
	}
	return out, nil
}
