// Copyright 2026 The Wirecall Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock interface parameter instead of
// calling time.Now, time.After, or time.AfterFunc directly. In
// production, Real() provides the standard library behavior. In tests,
// Fake() provides a deterministic clock that advances only when
// Advance is called.
//
// The call engine uses the clock for its single-shot call timers: the
// invite timeout (caller gives up ringing) and the invite lifetime
// (an unanswered incoming invite expires). Both are AfterFunc timers
// whose handles the engine stops when the call moves past ringing.
// Stopping a timer that has already fired is a safe no-op.
//
// # Wiring Pattern
//
// Add a Clock field to structs that use time:
//
//	type Engine struct {
//	    clock clock.Clock
//	    // ...
//	}
//
// In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	engine := call.NewEngine(call.EngineConfig{Clock: c, ...})
//	// ... place a call, which registers the invite timer ...
//	c.WaitForTimers(1)            // wait for the timer to register
//	c.Advance(2 * time.Minute)    // fire the timeout deterministically
//
// WaitForTimers eliminates the race between timer registration on one
// goroutine and time advancement on the test goroutine.
package clock
