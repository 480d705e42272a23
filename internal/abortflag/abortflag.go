// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package abortflag is a shared first-error signal for a group of
// worker goroutines, generalizing the errc channel muscato_screen.go
// uses to let any one worker stop the whole pool on first failure:
// here any goroutine can call Set(err) and every other goroutine
// polling Done()/Err() observes it on its next check, without a
// dedicated collector goroutine or channel fan-in.
package abortflag

import "sync/atomic"

// Flag holds at most one error, the first one reported.
type Flag struct {
	err atomic.Value
}

// Set records err as the abort reason if none has been recorded yet.
// Safe for concurrent use; only the first call has effect.
func (f *Flag) Set(err error) {
	if err == nil {
		return
	}
	f.err.CompareAndSwap(nil, wrappedError{err})
}

// Err returns the first recorded error, or nil if none.
func (f *Flag) Err() error {
	v := f.err.Load()
	if v == nil {
		return nil
	}
	return v.(wrappedError).err
}

// Done reports whether an error has been recorded.
func (f *Flag) Done() bool {
	return f.err.Load() != nil
}

// wrappedError lets a nil-interface-typed error be stored in an
// atomic.Value, which otherwise requires a consistent concrete type
// across all Store calls.
type wrappedError struct{ err error }
