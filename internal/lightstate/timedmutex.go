// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package lightstate

import "time"

// TimedMutex is a mutual-exclusion lock that additionally supports acquiring
// with a bounded wait. It backs the Light State Table: the Renderer must
// never stall on contention, while the Control Server and Persistence
// Writer acquire it unbounded.
//
// A buffered channel of capacity 1 holding a single token is used instead
// of sync.Mutex so that a timed acquire can race the wait against a timer
// without busy-polling TryLock.
type TimedMutex struct {
	token chan struct{}
}

// NewTimedMutex returns an unlocked TimedMutex.
func NewTimedMutex() *TimedMutex {
	m := &TimedMutex{token: make(chan struct{}, 1)}
	m.token <- struct{}{}
	return m
}

// Lock acquires the mutex, blocking indefinitely.
func (m *TimedMutex) Lock() {
	<-m.token
}

// TryLockTimeout attempts to acquire the mutex, giving up after d. Reports
// whether the lock was acquired.
func (m *TimedMutex) TryLockTimeout(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-m.token:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-m.token:
		return true
	case <-timer.C:
		return false
	}
}

// Unlock releases the mutex. Unlocking a mutex that is not locked is a
// programmer error: the call blocks until some other goroutine acquires
// the mutex, after which mutual exclusion no longer holds.
func (m *TimedMutex) Unlock() {
	m.token <- struct{}{}
}
