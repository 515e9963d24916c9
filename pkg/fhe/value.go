// Package fhe holds the encoded-value representation used by
// the ledger and the operator that computes over it.
//
// The v1 scheme is a reproducible stand-in for real
// homomorphic ciphertexts: every amount passes through a
// Scheme, so a hardened backend can replace it without
// changing the operator, the classifier or the lifecycle.
package fhe

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/i5heu/cipherledger/pkg/ledgererr"
)

// TextPrefix marks the textual form of a v1 value.
const TextPrefix = "FHE-"

// EncodedValue is an opaque, immutable encoded amount.
type EncodedValue struct {
	SchemeTag string
	Payload   string
}

// IsZero reports whether v is the zero value.
func (v EncodedValue) IsZero() bool {
	return v.SchemeTag == "" && v.Payload == ""
}

// String returns the textual form stored in ledger records.
func (v EncodedValue) String() string {
	if v.SchemeTag == TagV1 {
		return TextPrefix + v.Payload
	}
	return v.SchemeTag + ":" + v.Payload
}

// ParseEncodedValue parses the textual form. Untagged input is
// rejected rather than read as a bare number.
func ParseEncodedValue(text string) (EncodedValue, error) {
	payload, ok := strings.CutPrefix(text, TextPrefix)
	if !ok {
		return EncodedValue{}, fmt.Errorf(
			"%w: missing %q prefix", ledgererr.ErrMalformedCiphertext, TextPrefix,
		)
	}
	if payload == "" {
		return EncodedValue{}, fmt.Errorf(
			"%w: empty payload", ledgererr.ErrMalformedCiphertext,
		)
	}
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		return EncodedValue{}, fmt.Errorf(
			"%w: payload is not base64: %v", ledgererr.ErrMalformedCiphertext, err,
		)
	}
	return EncodedValue{SchemeTag: TagV1, Payload: payload}, nil
}

// MarshalText implements encoding.TextMarshaler.
func (v EncodedValue) MarshalText() ([]byte, error) {
	if v.SchemeTag != TagV1 {
		return nil, fmt.Errorf(
			"%w: no textual form for scheme %q", ledgererr.ErrMalformedCiphertext, v.SchemeTag,
		)
	}
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *EncodedValue) UnmarshalText(text []byte) error {
	parsed, err := ParseEncodedValue(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
