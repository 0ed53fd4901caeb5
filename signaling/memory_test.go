// Copyright 2026 The Wirecall Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"sync"
	"testing"

	"github.com/wirecall/wirecall/lib/ref"
	"github.com/wirecall/wirecall/lib/testutil"
)

func mustUserID(t *testing.T, raw string) ref.UserID {
	t.Helper()
	id, err := ref.ParseUserID(raw)
	if err != nil {
		t.Fatalf("ParseUserID(%q): %v", raw, err)
	}
	return id
}

func mustDeviceID(t *testing.T, raw string) ref.DeviceID {
	t.Helper()
	id, err := ref.ParseDeviceID(raw)
	if err != nil {
		t.Fatalf("ParseDeviceID(%q): %v", raw, err)
	}
	return id
}

func mustRoomID(t *testing.T, raw string) ref.RoomID {
	t.Helper()
	id, err := ref.ParseRoomID(raw)
	if err != nil {
		t.Fatalf("ParseRoomID(%q): %v", raw, err)
	}
	return id
}

// recorder collects delivered events for one member.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestMemoryRoomFanOut(t *testing.T) {
	room := NewMemoryRoom(mustRoomID(t, "!r:test"))
	alice := room.Join(mustUserID(t, "@alice:test"), mustDeviceID(t, "ADEV"))
	bob := room.Join(mustUserID(t, "@bob:test"), mustDeviceID(t, "BDEV"))

	var aliceSeen, bobSeen recorder
	alice.Handle(aliceSeen.handle)
	bob.Handle(bobSeen.handle)

	content := NewHangupContent(ref.NewCallID(), "")
	event, err := NewEvent(EventTypeHangup, content, room.RoomID())
	if err != nil {
		t.Fatal(err)
	}
	eventID, err := alice.Send(context.Background(), event)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if eventID.IsZero() {
		t.Fatal("Send returned zero event ID")
	}

	bobEvents := bobSeen.all()
	if len(bobEvents) != 1 {
		t.Fatalf("bob received %d events, want 1", len(bobEvents))
	}
	got := bobEvents[0]
	if got.Sender != alice.UserID() {
		t.Errorf("sender = %v, want %v", got.Sender, alice.UserID())
	}
	if got.SenderDevice != alice.DeviceID() {
		t.Errorf("sender device = %v, want %v", got.SenderDevice, alice.DeviceID())
	}
	if got.RoomID != room.RoomID() {
		t.Errorf("room = %v, want %v", got.RoomID, room.RoomID())
	}
	if got.EventID != eventID {
		t.Errorf("event ID = %v, want %v", got.EventID, eventID)
	}
	// Only the sender's own copy carries a transaction ID.
	if got.Unsigned.TransactionID != "" {
		t.Errorf("bob's copy has transaction ID %q", got.Unsigned.TransactionID)
	}

	aliceEvents := aliceSeen.all()
	if len(aliceEvents) != 1 {
		t.Fatalf("alice received %d events, want 1", len(aliceEvents))
	}
	if aliceEvents[0].Unsigned.TransactionID == "" {
		t.Error("sender's own echo has no transaction ID")
	}
}

func TestMemoryRoomSenderIdentityStamped(t *testing.T) {
	room := NewMemoryRoom(mustRoomID(t, "!r:test"))
	alice := room.Join(mustUserID(t, "@alice:test"), mustDeviceID(t, "ADEV"))
	bob := room.Join(mustUserID(t, "@bob:test"), mustDeviceID(t, "BDEV"))

	var bobSeen recorder
	bob.Handle(bobSeen.handle)

	// A forged sender on the outbound event must be overwritten by
	// the room.
	event, err := NewEvent(EventTypeHangup, NewHangupContent(ref.NewCallID(), ""), room.RoomID())
	if err != nil {
		t.Fatal(err)
	}
	event.Sender = bob.UserID()
	event.SenderDevice = bob.DeviceID()
	if _, err := alice.Send(context.Background(), event); err != nil {
		t.Fatal(err)
	}

	events := bobSeen.all()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Sender != alice.UserID() {
		t.Errorf("sender = %v, want %v", events[0].Sender, alice.UserID())
	}
}

func TestMemoryRoomTotalOrder(t *testing.T) {
	room := NewMemoryRoom(mustRoomID(t, "!r:test"))
	alice := room.Join(mustUserID(t, "@alice:test"), mustDeviceID(t, "ADEV"))
	bob := room.Join(mustUserID(t, "@bob:test"), mustDeviceID(t, "BDEV"))
	carol := room.Join(mustUserID(t, "@carol:test"), mustDeviceID(t, "CDEV"))

	var bobSeen, carolSeen recorder
	bob.Handle(bobSeen.handle)
	carol.Handle(carolSeen.handle)

	const sends = 20
	var wg sync.WaitGroup
	for _, sender := range []*MemoryMember{alice, bob} {
		sender := sender
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < sends; i++ {
				// Distinguishable bodies, so a divergent
				// interleaving is visible even if two events
				// were stamped with the same ID.
				reason := testutil.UniqueID("hangup")
				event, err := NewEvent(EventTypeHangup, NewHangupContent(ref.NewCallID(), reason), room.RoomID())
				if err != nil {
					t.Error(err)
					return
				}
				if _, err := sender.Send(context.Background(), event); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	bobEvents := bobSeen.all()
	carolEvents := carolSeen.all()
	if len(bobEvents) != 2*sends || len(carolEvents) != 2*sends {
		t.Fatalf("bob saw %d, carol saw %d, want %d each", len(bobEvents), len(carolEvents), 2*sends)
	}
	// Every member observes the same interleaving.
	for i := range bobEvents {
		if bobEvents[i].EventID != carolEvents[i].EventID {
			t.Fatalf("order diverges at %d: bob %v, carol %v", i, bobEvents[i].EventID, carolEvents[i].EventID)
		}
		bobContent, err := ParseHangupContent(bobEvents[i].Content)
		if err != nil {
			t.Fatalf("hangup content at %d: %v", i, err)
		}
		carolContent, err := ParseHangupContent(carolEvents[i].Content)
		if err != nil {
			t.Fatalf("hangup content at %d: %v", i, err)
		}
		if bobContent.Reason != carolContent.Reason {
			t.Fatalf("bodies diverge at %d: bob %q, carol %q", i, bobContent.Reason, carolContent.Reason)
		}
	}
}

func TestMemoryRoomMultiDeviceSameUser(t *testing.T) {
	room := NewMemoryRoom(mustRoomID(t, "!r:test"))
	phone := room.Join(mustUserID(t, "@alice:test"), mustDeviceID(t, "PHONE"))
	laptop := room.Join(mustUserID(t, "@alice:test"), mustDeviceID(t, "LAPTOP"))

	var laptopSeen recorder
	laptop.Handle(laptopSeen.handle)

	event, err := NewEvent(EventTypeHangup, NewHangupContent(ref.NewCallID(), ""), room.RoomID())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := phone.Send(context.Background(), event); err != nil {
		t.Fatal(err)
	}

	events := laptopSeen.all()
	if len(events) != 1 {
		t.Fatalf("laptop saw %d events, want 1", len(events))
	}
	got := events[0]
	if got.Sender != laptop.UserID() {
		t.Errorf("sender = %v, want same user", got.Sender)
	}
	if got.SenderDevice == laptop.DeviceID() {
		t.Error("other device's event carries laptop's device ID")
	}
	if got.Unsigned.TransactionID != "" {
		t.Error("other device's copy carries a transaction ID")
	}
}
