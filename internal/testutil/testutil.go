// Package testutil holds small helpers shared by the package test suites.
package testutil

import (
	"flag"
	"io"
	"log/slog"
	"testing"
)

var RunLong = flag.Bool("long", false, "run long/heavy tests")

// RequireLong skips the test unless the -long flag is set. Used for tests
// that move large blobs or run many iterations.
func RequireLong(t *testing.T) {
	t.Helper()
	if !*RunLong {
		t.Skip("skipping long test (use -long to enable)")
	}
}

func IsLongEnabled() bool {
	return *RunLong
}

// SilentLogger returns a slog.Logger that discards everything, keeping
// test output readable.
func SilentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
