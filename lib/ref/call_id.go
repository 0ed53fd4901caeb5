// Copyright 2026 The Wirecall Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"sync/atomic"
	"time"
)

// CallID identifies one call session. A call's ID is generated by the
// party that places the call and travels in the content of every
// signaling event for that call, letting both sides correlate
// invite, answer, candidates, and hangup events.
//
// Call IDs are opaque. Uniqueness within the signaling room is the
// only required property.
type CallID struct {
	id string
}

// callCounter disambiguates call IDs generated within the same
// millisecond in one process.
var callCounter atomic.Uint64

// NewCallID generates a fresh call ID of the form "c<unix-millis>.<n>".
func NewCallID() CallID {
	return CallID{id: fmt.Sprintf("c%d.%d", time.Now().UnixMilli(), callCounter.Add(1))}
}

// ParseCallID wraps a raw call ID string received from the wire.
// Returns an error if the string is empty; any non-empty string is
// accepted since remote parties may use their own ID scheme.
func ParseCallID(raw string) (CallID, error) {
	if raw == "" {
		return CallID{}, fmt.Errorf("call ID is empty")
	}
	return CallID{id: raw}, nil
}

// String returns the raw call ID string.
func (c CallID) String() string { return c.id }

// IsZero reports whether the CallID is the zero value (empty).
func (c CallID) IsZero() bool { return c.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (c CallID) MarshalText() ([]byte, error) {
	if c.id == "" {
		return nil, fmt.Errorf("cannot marshal zero CallID")
	}
	return []byte(c.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *CallID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*c = CallID{}
		return nil
	}
	*c = CallID{id: string(data)}
	return nil
}
