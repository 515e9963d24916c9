package cipherledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/i5heu/cipherledger/pkg/auth"
)

// Challenge returns the decrypt challenge of the current
// session, with a window starting now.
func (l *Ledger) Challenge() auth.ChallengeParams { // A
	return l.authorizer.Challenge()
}

// ChallengeText renders Challenge as the exact text a wallet
// signs.
func (l *Ledger) ChallengeText() string { // A
	return auth.BuildChallenge(l.authorizer.Challenge())
}

// AuthorizeDecrypt obtains a single-use token by having signer
// sign challenge.
func (l *Ledger) AuthorizeDecrypt( // A
	ctx context.Context,
	challenge string,
	signer auth.Signer,
) (*auth.Token, error) {
	tok, err := l.authorizer.AuthorizeDecrypt(ctx, challenge, signer)
	if err != nil {
		l.metrics.reveals.WithLabelValues("denied").Inc()
		return nil, err
	}
	return tok, nil
}

// Reveal loads transaction id and decodes its amount. tok is
// spent on every path, including an unknown id.
func (l *Ledger) Reveal( // A
	ctx context.Context,
	id string,
	tok *auth.Token,
) (decimal.Decimal, error) {
	tx, err := l.Get(ctx, id)
	if err != nil {
		l.authorizer.Revoke(tok)
		return decimal.Decimal{}, err
	}
	amount, err := l.authorizer.Reveal(tx.Amount, tok)
	if err != nil {
		l.metrics.reveals.WithLabelValues("denied").Inc()
		return decimal.Decimal{}, fmt.Errorf("reveal %s: %w", id, err)
	}
	l.metrics.reveals.WithLabelValues("revealed").Inc()
	l.log.InfoContext(ctx, "amount revealed", logKeyTxID, id)
	return amount, nil
}
