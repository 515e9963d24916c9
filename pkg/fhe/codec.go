package fhe

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/i5heu/cipherledger/pkg/ledgererr"
)

// Precision is the number of fractional digits an amount may
// carry.
const Precision = 2

// MaxMagnitude is the exclusive bound on |amount|: 10^15.
var MaxMagnitude = decimal.New(1, 15)

// Codec is the single seam every amount passes through. It
// validates range and precision and dispatches to a Scheme by
// tag.
type Codec struct {
	schemes map[string]Scheme
	encoder Scheme
}

// NewCodec returns a Codec that encodes with the first scheme
// and decodes with any of them. Without schemes it uses
// SchemeV1.
func NewCodec(schemes ...Scheme) *Codec {
	if len(schemes) == 0 {
		schemes = []Scheme{SchemeV1{}}
	}
	c := &Codec{
		schemes: make(map[string]Scheme, len(schemes)),
		encoder: schemes[0],
	}
	for _, s := range schemes {
		c.schemes[s.Tag()] = s
	}
	return c
}

// Encode validates amount and seals it.
func (c *Codec) Encode(amount decimal.Decimal) (EncodedValue, error) {
	if err := checkAmount(amount); err != nil {
		return EncodedValue{}, err
	}
	payload, err := c.encoder.Seal(amount)
	if err != nil {
		return EncodedValue{}, fmt.Errorf("seal: %w", err)
	}
	return EncodedValue{SchemeTag: c.encoder.Tag(), Payload: payload}, nil
}

// Decode opens v. Unknown scheme tags, unparsable payloads and
// payloads no Encode call could have produced fail with
// ErrMalformedCiphertext.
func (c *Codec) Decode(v EncodedValue) (decimal.Decimal, error) {
	s, ok := c.schemes[v.SchemeTag]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf(
			"%w: unknown scheme %q", ledgererr.ErrMalformedCiphertext, v.SchemeTag,
		)
	}
	amount, err := s.Open(v.Payload)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if err := checkAmount(amount); err != nil {
		return decimal.Decimal{}, fmt.Errorf(
			"%w: decoded amount invalid: %v", ledgererr.ErrMalformedCiphertext, err,
		)
	}
	return amount, nil
}

func checkAmount(amount decimal.Decimal) error {
	if !amount.Equal(amount.Truncate(Precision)) {
		return fmt.Errorf(
			"%w: %s has more than %d fractional digits",
			ledgererr.ErrValueOutOfRange, amount, Precision,
		)
	}
	if amount.Abs().GreaterThanOrEqual(MaxMagnitude) {
		return fmt.Errorf(
			"%w: |%s| must be below %s",
			ledgererr.ErrValueOutOfRange, amount, MaxMagnitude,
		)
	}
	return nil
}
