package fhe

import (
	"encoding/base64"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"

	"github.com/i5heu/cipherledger/pkg/ledgererr"
)

// TagV1 identifies the reference encoding scheme.
const TagV1 = "v1"

// Scheme turns amounts into payloads and back. Implementations
// must be deterministic up to nonces: two payloads sealed from
// the same amount open to the same amount.
type Scheme interface {
	Tag() string
	Seal(amount decimal.Decimal) (string, error)
	Open(payload string) (decimal.Decimal, error)
}

// payloads carry a plain decimal: optional sign, no leading
// zeros, at most two fractional digits
var v1Plaintext = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]{1,2})?$`)

// SchemeV1 encodes an amount as base64 of its decimal string.
type SchemeV1 struct{}

// Tag returns TagV1.
func (SchemeV1) Tag() string { return TagV1 }

// Seal encodes amount.
func (SchemeV1) Seal(amount decimal.Decimal) (string, error) {
	return base64.StdEncoding.EncodeToString([]byte(amount.String())), nil
}

// Open decodes a payload produced by Seal.
func (SchemeV1) Open(payload string) (decimal.Decimal, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf(
			"%w: payload is not base64: %v", ledgererr.ErrMalformedCiphertext, err,
		)
	}
	if !v1Plaintext.Match(raw) {
		return decimal.Decimal{}, fmt.Errorf(
			"%w: payload is not a v1 amount", ledgererr.ErrMalformedCiphertext,
		)
	}
	amount, err := decimal.NewFromString(string(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf(
			"%w: %v", ledgererr.ErrMalformedCiphertext, err,
		)
	}
	return amount, nil
}
