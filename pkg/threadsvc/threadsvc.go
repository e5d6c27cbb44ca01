// Package threadsvc binds the receiver's worker goroutine to thread-local
// infrastructure. Attach and Detach return zero on success, matching the
// component-service convention of the wider server.
package threadsvc

import (
    "runtime"
    "sync/atomic"
)

// Service is consumed by the worker once at entry (Attach) and once at exit
// (Detach).
type Service interface {
    Attach() int
    Detach() int
    IsAttached() bool
}

// osThreads pins the calling goroutine to its OS thread for the duration of
// the attachment. One worker per service instance.
type osThreads struct {
    attached atomic.Bool
}

// OS returns the default Service backed by runtime OS-thread locking.
func OS() Service { return &osThreads{} }

func (s *osThreads) Attach() int {
    if !s.attached.CompareAndSwap(false, true) {
        return 1
    }
    runtime.LockOSThread()
    return 0
}

func (s *osThreads) Detach() int {
    if !s.attached.CompareAndSwap(true, false) {
        return 1
    }
    runtime.UnlockOSThread()
    return 0
}

func (s *osThreads) IsAttached() bool { return s.attached.Load() }
