//go:build !deadlock

// Package sync provides the mutex types used by the session registry and the
// notification channel. Building with -tags deadlock swaps them for
// go-deadlock implementations that report lock-order inversions.
package sync

import "sync"

// Mutex is the standard sync.Mutex in release builds.
type Mutex = sync.Mutex

// RWMutex is the standard sync.RWMutex in release builds.
type RWMutex = sync.RWMutex

// Once is the standard sync.Once.
type Once = sync.Once

// WaitGroup is the standard sync.WaitGroup.
type WaitGroup = sync.WaitGroup

// DetectionEnabled reports whether deadlock detection is compiled in.
func DetectionEnabled() bool {
	return false
}
