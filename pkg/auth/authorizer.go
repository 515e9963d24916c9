// Package auth gates plaintext reveal behind a signed
// challenge. A successful signature yields a Token, a
// single-use capability that Reveal consumes.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/i5heu/ouroboros-crypt/hash"
	"github.com/shopspring/decimal"

	"github.com/i5heu/cipherledger/pkg/fhe"
	"github.com/i5heu/cipherledger/pkg/ledgererr"
)

// DefaultTokenTTL bounds how long an unused token stays valid.
const DefaultTokenTTL = 5 * time.Minute

// Clock supplies token issue times and challenge windows.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function such as time.Now to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

const (
	logKeySession = "session"
	logKeyError   = "error"
)

// Config configures an Authorizer.
type Config struct {
	// Codec decodes revealed values. Nil uses fhe.NewCodec().
	Codec *fhe.Codec
	// Verifier checks wallet signatures. Nil accepts any
	// non-empty signature.
	Verifier Verifier
	// TokenTTL defaults to DefaultTokenTTL.
	TokenTTL time.Duration
	// SignTimeout caps the wait for a signature. Zero relies
	// on the caller's context alone.
	SignTimeout time.Duration
	// ContractAddress, ChainID and DurationDays seed
	// Challenge.
	ContractAddress string
	ChainID         uint64
	DurationDays    uint32
	Clock           Clock
	Logger          *slog.Logger
}

// Token is a single-use capability to reveal one value. It is
// valid only for the Authorizer that issued it.
type Token struct {
	nonce     [32]byte
	session   hash.Hash
	challenge string
	issuedAt  time.Time
}

// Challenge returns the signed challenge text.
func (t *Token) Challenge() string { return t.challenge }

// IssuedAt returns the issue time.
func (t *Token) IssuedAt() time.Time { return t.issuedAt }

// Authorizer issues and redeems tokens for one logical
// session.
type Authorizer struct {
	codec       *fhe.Codec
	verifier    Verifier
	signTimeout time.Duration
	clock       Clock
	log         *slog.Logger

	session   hash.Hash
	publicKey string
	defaults  ChallengeParams
	tokens    *NonceCache
}

// NewAuthorizer starts a new session with a fresh session key.
func NewAuthorizer(conf Config) (*Authorizer, error) { // A
	if conf.Codec == nil {
		conf.Codec = fhe.NewCodec()
	}
	if conf.TokenTTL <= 0 {
		conf.TokenTTL = DefaultTokenTTL
	}
	if conf.DurationDays == 0 {
		conf.DurationDays = DefaultDurationDays
	}
	if conf.Clock == nil {
		conf.Clock = ClockFunc(time.Now)
	}
	if conf.Logger == nil {
		conf.Logger = slog.Default()
	}

	pub, err := NewPublicKey()
	if err != nil {
		return nil, err
	}

	return &Authorizer{
		codec:       conf.Codec,
		verifier:    conf.Verifier,
		signTimeout: conf.SignTimeout,
		clock:       conf.Clock,
		log:         conf.Logger,
		session:     hash.HashBytes([]byte(pub)),
		publicKey:   pub,
		defaults: ChallengeParams{
			PublicKey:          pub,
			ContractAddress:    conf.ContractAddress,
			ChainID:            conf.ChainID,
			WindowDurationDays: conf.DurationDays,
		},
		tokens: NewNonceCache(conf.TokenTTL, conf.Clock),
	}, nil
}

// PublicKey returns the session public key.
func (a *Authorizer) PublicKey() string { return a.publicKey }

// Challenge returns the session's challenge parameters with a
// window starting now. Callers rebuild the text per attempt.
func (a *Authorizer) Challenge() ChallengeParams { // A
	p := a.defaults
	p.WindowStart = time.Unix(a.clock.Now().Unix(), 0)
	return p
}

type signResult struct {
	sig []byte
	err error
}

// AuthorizeDecrypt asks signer to sign challenge and issues a
// Token on success. A challenge not issued for this session or
// outside its window, rejection, an empty or invalid signature,
// and ctx expiry fail with ErrAuthorizationDenied. A signature
// that arrives after ctx is done is discarded.
func (a *Authorizer) AuthorizeDecrypt( // A
	ctx context.Context,
	challenge string,
	signer Signer,
) (*Token, error) {
	if signer == nil {
		return nil, fmt.Errorf("%w: no signer", ledgererr.ErrAuthorizationDenied)
	}
	if err := a.checkChallenge(challenge); err != nil {
		a.log.InfoContext(ctx, "challenge refused",
			logKeySession, a.session.String(), logKeyError, err)
		return nil, fmt.Errorf("%w: %w", ledgererr.ErrAuthorizationDenied, err)
	}
	if a.signTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.signTimeout)
		defer cancel()
	}

	// buffered so a late signer never blocks after we return
	done := make(chan signResult, 1)
	go func() {
		sig, err := signer.SignMessage(ctx, challenge)
		done <- signResult{sig: sig, err: err}
	}()

	var res signResult
	select {
	case <-ctx.Done():
		a.log.WarnContext(ctx, "signature wait abandoned",
			logKeySession, a.session.String(), logKeyError, ctx.Err())
		return nil, fmt.Errorf("%w: %w", ledgererr.ErrAuthorizationDenied, ctx.Err())
	case res = <-done:
	}
	// select picks at random when both are ready
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ledgererr.ErrAuthorizationDenied, err)
	}

	if res.err != nil {
		a.log.InfoContext(ctx, "signature rejected",
			logKeySession, a.session.String(), logKeyError, res.err)
		return nil, fmt.Errorf("%w: signer: %v", ledgererr.ErrAuthorizationDenied, res.err)
	}
	if len(res.sig) == 0 {
		return nil, fmt.Errorf("%w: empty signature", ledgererr.ErrAuthorizationDenied)
	}
	if a.verifier != nil && !a.verifier.Verify(challenge, res.sig) {
		return nil, fmt.Errorf("%w: signature does not verify", ledgererr.ErrAuthorizationDenied)
	}

	tok := &Token{
		session:   a.session,
		challenge: challenge,
		issuedAt:  a.clock.Now(),
	}
	if _, err := rand.Read(tok.nonce[:]); err != nil {
		return nil, fmt.Errorf("token nonce: %w", err)
	}
	if !a.tokens.Issue(tok.nonce) {
		return nil, fmt.Errorf("%w: token nonce collision", ledgererr.ErrAuthorizationDenied)
	}

	a.log.DebugContext(ctx, "decrypt authorized", logKeySession, a.session.String())
	return tok, nil
}

// checkChallenge accepts only text issued for this session: the
// session key, contract and chain must match and the signed
// window must contain the current time.
func (a *Authorizer) checkChallenge(challenge string) error {
	if challenge == "" {
		return errors.New("empty challenge")
	}
	p, err := ParseChallenge(challenge)
	if err != nil {
		return err
	}
	switch {
	case p.PublicKey != a.defaults.PublicKey:
		return errors.New("challenge is for another session")
	case p.ContractAddress != a.defaults.ContractAddress:
		return fmt.Errorf("challenge names contract %q", p.ContractAddress)
	case p.ChainID != a.defaults.ChainID:
		return fmt.Errorf("challenge names chain %d", p.ChainID)
	case p.WindowDurationDays != a.defaults.WindowDurationDays:
		return fmt.Errorf("challenge window is %d days", p.WindowDurationDays)
	}
	now := a.clock.Now()
	if now.Before(p.WindowStart) {
		return errors.New("challenge window has not started")
	}
	if !now.Before(p.WindowEnd()) {
		return errors.New("challenge window has expired")
	}
	return nil
}

// Revoke burns tok without revealing anything. Unknown, spent
// and foreign tokens are ignored.
func (a *Authorizer) Revoke(tok *Token) { // A
	if tok == nil || tok.session != a.session {
		return
	}
	a.tokens.Consume(tok.nonce)
}

// Reveal consumes tok and decodes v. The token is not bound to
// v: any live token of this session reveals any one value.
func (a *Authorizer) Reveal( // A
	v fhe.EncodedValue,
	tok *Token,
) (decimal.Decimal, error) {
	if tok == nil {
		return decimal.Decimal{}, fmt.Errorf("%w: no token", ledgererr.ErrAuthorizationDenied)
	}
	if tok.session != a.session {
		return decimal.Decimal{}, fmt.Errorf(
			"%w: token belongs to another session", ledgererr.ErrAuthorizationDenied,
		)
	}
	if !a.tokens.Consume(tok.nonce) {
		return decimal.Decimal{}, fmt.Errorf(
			"%w: token expired or already used", ledgererr.ErrAuthorizationDenied,
		)
	}
	amount, err := a.codec.Decode(v)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("reveal: %w", err)
	}
	return amount, nil
}
