// Package dblock serializes integration tests that share one Postgres
// database across test binaries.
package dblock

import (
	"net"
	"os"
	"testing"
	"time"
)

const defaultLockAddr = "127.0.0.1:45432"

// Acquire blocks until this process holds the database lock and releases it
// when t finishes. The lock is a listening socket, so it is dropped even if
// the test binary crashes. ESCROW_TEST_DB_LOCK overrides the address.
func Acquire(t testing.TB) {
	t.Helper()
	addr := os.Getenv("ESCROW_TEST_DB_LOCK")
	if addr == "" {
		addr = defaultLockAddr
	}
	deadline := time.Now().Add(2 * time.Minute)
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			t.Cleanup(func() { _ = ln.Close() })
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("acquire database lock %s: %v", addr, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
