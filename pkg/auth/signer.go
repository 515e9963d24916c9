package auth

import (
	"context"
	"errors"

	"github.com/i5heu/ouroboros-crypt/keys"
)

// Signer is the external wallet that signs a challenge. It may
// block on user interaction and must honor ctx.
type Signer interface {
	SignMessage(ctx context.Context, message string) ([]byte, error)
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(ctx context.Context, message string) ([]byte, error)

// SignMessage calls f.
func (f SignerFunc) SignMessage(ctx context.Context, message string) ([]byte, error) {
	return f(ctx, message)
}

// Verifier checks a signature over a challenge. An Authorizer
// without a Verifier accepts any non-empty signature.
type Verifier interface {
	Verify(message string, signature []byte) bool
}

// PresignedSigner returns a signature that was produced
// out of band, e.g. by a browser wallet posting it over HTTP.
type PresignedSigner []byte

// SignMessage returns the stored signature.
func (p PresignedSigner) SignMessage(ctx context.Context, _ string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(p) == 0 {
		return nil, errors.New("no signature supplied")
	}
	return []byte(p), nil
}

// KeySigner signs challenges with a local ouroboros-crypt key
// pair. It stands in for a wallet in the CLI and in tests.
type KeySigner struct { // A
	keys *keys.AsyncCrypt
}

// NewKeySigner wraps ac.
func NewKeySigner(ac *keys.AsyncCrypt) *KeySigner { // A
	return &KeySigner{keys: ac}
}

// SignMessage signs message unless ctx is already done.
func (s *KeySigner) SignMessage( // A
	ctx context.Context,
	message string,
) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.keys == nil {
		return nil, errors.New("key signer has no keys")
	}
	return s.keys.Sign([]byte(message))
}

// Verifier returns a Verifier for the signer's public key.
func (s *KeySigner) Verifier() *KeyVerifier { // A
	pub := s.keys.GetPublicKey()
	return NewKeyVerifier(&pub)
}

// KeyVerifier verifies signatures made by a KeySigner.
type KeyVerifier struct { // A
	pub *keys.PublicKey
}

// NewKeyVerifier returns a verifier for pub.
func NewKeyVerifier(pub *keys.PublicKey) *KeyVerifier { // A
	return &KeyVerifier{pub: pub}
}

// Verify reports whether signature is valid for message.
func (v *KeyVerifier) Verify(message string, signature []byte) bool { // A
	if v == nil || v.pub == nil || len(signature) == 0 {
		return false
	}
	return v.pub.Verify([]byte(message), signature)
}
