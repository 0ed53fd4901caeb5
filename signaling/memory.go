// Copyright 2026 The Wirecall Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wirecall/wirecall/lib/ref"
)

// Compile-time interface check.
var _ Delivery = (*MemoryMember)(nil)

// MemoryRoom is an in-process signaling room for tests and demos. It
// reproduces the delivery semantics a homeserver gives a call client:
// events are totally ordered, every member receives every event
// (including the sender, whose own copy carries the transaction ID of
// the send), and sender identity is stamped by the room rather than
// trusted from the event.
type MemoryRoom struct {
	roomID ref.RoomID

	mu      sync.Mutex
	members []*MemoryMember

	// dispatchMu serializes fan-outs so concurrent sends cannot
	// interleave their deliveries. This is what gives the room its
	// total order.
	dispatchMu sync.Mutex

	eventCounter atomic.Uint64
}

// NewMemoryRoom creates an empty in-process room.
func NewMemoryRoom(roomID ref.RoomID) *MemoryRoom {
	return &MemoryRoom{roomID: roomID}
}

// RoomID returns the room's identifier.
func (r *MemoryRoom) RoomID() ref.RoomID { return r.roomID }

// Join adds a member with the given identity. The same user may join
// repeatedly with different device IDs to simulate a multi-device
// account.
func (r *MemoryRoom) Join(user ref.UserID, device ref.DeviceID) *MemoryMember {
	member := &MemoryMember{
		room:   r,
		user:   user,
		device: device,
	}
	r.mu.Lock()
	r.members = append(r.members, member)
	r.mu.Unlock()
	return member
}

// MemoryMember is one joined identity. It implements Delivery for
// outbound events and invokes its registered handler for every event
// appended to the room (its own included).
type MemoryMember struct {
	room   *MemoryRoom
	user   ref.UserID
	device ref.DeviceID

	txnCounter atomic.Uint64

	handlerMu sync.Mutex
	handler   func(Event)
}

// UserID returns the member's user identity.
func (m *MemoryMember) UserID() ref.UserID { return m.user }

// DeviceID returns the member's device identity.
func (m *MemoryMember) DeviceID() ref.DeviceID { return m.device }

// Handle registers the function invoked for each event delivered to
// this member. Handlers run on the sender's goroutine and must not
// call Send synchronously.
func (m *MemoryMember) Handle(handler func(Event)) {
	m.handlerMu.Lock()
	m.handler = handler
	m.handlerMu.Unlock()
}

// Send appends the event to the room and fans it out to all members
// in join order. The room stamps sender, device, and event ID; the
// sender's own copy additionally carries the transaction ID, like a
// homeserver echo of a device's own submission.
func (m *MemoryMember) Send(_ context.Context, event Event) (ref.EventID, error) {
	sequence := m.room.eventCounter.Add(1)
	eventID, err := ref.ParseEventID(fmt.Sprintf("$mem%d", sequence))
	if err != nil {
		return ref.EventID{}, err
	}
	transactionID := fmt.Sprintf("mem-%s-%d", m.device, m.txnCounter.Add(1))

	event.Sender = m.user
	event.SenderDevice = m.device
	event.RoomID = m.room.roomID
	event.EventID = eventID
	event.Unsigned = EventUnsigned{}

	m.room.mu.Lock()
	members := make([]*MemoryMember, len(m.room.members))
	copy(members, m.room.members)
	m.room.mu.Unlock()

	m.room.dispatchMu.Lock()
	defer m.room.dispatchMu.Unlock()

	for _, member := range members {
		delivered := event
		if member == m {
			delivered.Unsigned = EventUnsigned{TransactionID: transactionID}
		}
		member.handlerMu.Lock()
		handler := member.handler
		member.handlerMu.Unlock()
		if handler != nil {
			handler(delivered)
		}
	}
	return eventID, nil
}
