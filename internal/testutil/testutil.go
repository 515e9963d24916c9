// Package testutil holds switches shared by the package tests.
package testutil

import (
	"flag"
	"os"
	"testing"
)

// LongEnv enables long tests when -long cannot be passed, for
// example under `go test ./...` in CI.
const LongEnv = "CIPHERLEDGER_LONG"

var runLong = flag.Bool("long", false, "run long/heavy tests")

// RequireLong skips t unless long tests are enabled.
func RequireLong(t *testing.T) {
	t.Helper()
	if !LongEnabled() {
		t.Skip("skipping long test (use -long or " + LongEnv + "=1)")
	}
}

// LongEnabled reports whether -long or LongEnv is set.
func LongEnabled() bool {
	return *runLong || os.Getenv(LongEnv) != ""
}
