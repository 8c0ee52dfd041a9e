//go:build deadlock

// Package sync provides the mutex types used by the session registry and the
// notification channel. Building with -tags deadlock swaps them for
// go-deadlock implementations that report lock-order inversions.
package sync

import (
	"os"
	"sync"
	"time"

	"github.com/sasha-s/go-deadlock"
)

// Mutex wraps deadlock.Mutex in debug builds.
type Mutex = deadlock.Mutex

// RWMutex wraps deadlock.RWMutex in debug builds.
type RWMutex = deadlock.RWMutex

// Once is the standard sync.Once.
type Once = sync.Once

// WaitGroup is the standard sync.WaitGroup.
type WaitGroup = sync.WaitGroup

// DetectionEnabled reports whether deadlock detection is compiled in.
func DetectionEnabled() bool {
	return !deadlock.Opts.Disable
}

func init() {
	// Registry key locks are held across a websocket handshake, which is
	// bounded by the handshake timeout; keep the report threshold above it.
	deadlock.Opts.DeadlockTimeout = 30 * time.Second

	if os.Getenv("DOCSYNC_NO_DEADLOCK_DETECT") != "" {
		deadlock.Opts.Disable = true
		return
	}

	deadlock.Opts.PrintAllCurrentGoroutines = true
	deadlock.Opts.LogBuf = nil
}
