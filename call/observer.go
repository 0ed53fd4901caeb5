// Copyright 2026 The Wirecall Authors
// SPDX-License-Identifier: Apache-2.0

package call

// Observer receives call lifecycle notifications. All callbacks are
// invoked outside the call's lock, in the order the underlying
// transitions occurred, but possibly from different goroutines
// (inbound event handling, timer callbacks, transport callbacks).
// Implementations must be safe for concurrent use and must not call
// back into the engine synchronously.
type Observer interface {
	// StateChanged fires on every state transition of a live call.
	StateChanged(c *Call, from, to State)

	// CallEnded fires exactly once per call, when it reaches its
	// terminal state.
	CallEnded(c *Call, reason Reason)

	// CallError reports a call-scoped error. The call may or may not
	// end as a consequence; when it does, CallEnded follows.
	CallError(c *Call, code ErrorCode, err error)

	// IncomingCall fires when the engine creates a call from a
	// received invite, before the call is launched. The client
	// attaches UI and then calls LaunchIncomingCall.
	IncomingCall(c *Call)
}

// nopObserver is used when no observer is configured.
type nopObserver struct{}

func (nopObserver) StateChanged(*Call, State, State)  {}
func (nopObserver) CallEnded(*Call, Reason)           {}
func (nopObserver) CallError(*Call, ErrorCode, error) {}
func (nopObserver) IncomingCall(*Call)                {}
