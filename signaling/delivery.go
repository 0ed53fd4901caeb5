// Copyright 2026 The Wirecall Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"

	"github.com/wirecall/wirecall/lib/ref"
)

// Delivery sends an outbound signaling event to its room. The call
// engine's per-call outbound queue is the only caller: it serializes
// sends so that a room never observes two in-flight events for the
// same call.
//
// Send is synchronous from the caller's point of view but the queue
// invokes it off the call's lock, so implementations may block on
// network I/O. No retry contract is required — a failed send is
// reported to the caller and the queue moves on. Retry policy, if
// any, belongs to the implementation.
type Delivery interface {
	// Send delivers event to event.RoomID and returns the event ID
	// assigned by the room.
	Send(ctx context.Context, event Event) (ref.EventID, error)
}
