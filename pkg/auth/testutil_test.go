package auth

import (
	"crypto/rand"
	"io"
	"log/slog"
	"testing"
	"time"
)

// testNonce returns a non-zero nonce for tests.
func testNonce(t *testing.T) [32]byte { // A
	t.Helper()
	var n [32]byte
	if _, err := rand.Read(n[:]); err != nil {
		t.Fatalf("generate nonce: %v", err)
	}
	return n
}

type fakeClock struct { // A
	now time.Time
}

func (c *fakeClock) Now() time.Time { // A
	return c.now
}

func testLogger() *slog.Logger { // A
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestAuthorizer returns an Authorizer on a fake clock
// without a signature verifier.
func newTestAuthorizer( // A
	t *testing.T,
	clk *fakeClock,
) *Authorizer {
	t.Helper()
	a, err := NewAuthorizer(Config{
		ContractAddress: "0x1",
		ChainID:         1,
		Clock:           clk,
		Logger:          testLogger(),
	})
	if err != nil {
		t.Fatalf("new authorizer: %v", err)
	}
	return a
}
