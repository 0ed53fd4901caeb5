// Copyright 2026 The Wirecall Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wirecall/wirecall/lib/ref"
	"github.com/wirecall/wirecall/lib/testutil"
)

// mockHomeserver implements the two endpoints the signaling client
// uses: the idempotent event-send PUT and filtered /sync. Events
// queued with queueEvent are drained by the next sync response; a
// sync with nothing queued returns an empty batch immediately.
type mockHomeserver struct {
	mu        sync.Mutex
	sent      []sentEvent
	queued    []Event
	batch     int
	syncFails int // remaining /sync requests to fail with 500
}

type sentEvent struct {
	roomID        string
	eventType     string
	transactionID string
	content       json.RawMessage
}

func (m *mockHomeserver) queueEvent(event Event) {
	m.mu.Lock()
	m.queued = append(m.queued, event)
	m.mu.Unlock()
}

func (m *mockHomeserver) sentEvents() []sentEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentEvent(nil), m.sent...)
}

func (m *mockHomeserver) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if auth := request.Header.Get("Authorization"); auth != "Bearer test-token" {
		writer.WriteHeader(http.StatusUnauthorized)
		writer.Write([]byte(`{"errcode":"M_UNKNOWN_TOKEN","error":"bad token"}`))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if request.Method == http.MethodPut && strings.Contains(request.URL.Path, "/send/") {
		// Path: /_matrix/client/v3/rooms/{room}/send/{type}/{txn}
		parts := strings.Split(strings.TrimPrefix(request.URL.Path, "/_matrix/client/v3/rooms/"), "/")
		if len(parts) != 4 || parts[1] != "send" {
			http.Error(writer, "bad send path", http.StatusBadRequest)
			return
		}
		var content json.RawMessage
		if err := json.NewDecoder(request.Body).Decode(&content); err != nil {
			http.Error(writer, err.Error(), http.StatusBadRequest)
			return
		}
		m.sent = append(m.sent, sentEvent{
			roomID:        parts[0],
			eventType:     parts[2],
			transactionID: parts[3],
			content:       content,
		})
		writer.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(writer, `{"event_id":"$sent%d"}`, len(m.sent))
		return
	}

	if request.Method == http.MethodGet && request.URL.Path == "/_matrix/client/v3/sync" {
		if m.syncFails > 0 {
			m.syncFails--
			writer.WriteHeader(http.StatusInternalServerError)
			writer.Write([]byte(`{"errcode":"M_UNKNOWN","error":"transient"}`))
			return
		}
		m.batch++
		response := SyncResponse{
			NextBatch: fmt.Sprintf("batch%d", m.batch),
			Rooms:     RoomsSection{Join: map[ref.RoomID]JoinedRoom{}},
		}
		if len(m.queued) > 0 && request.URL.Query().Get("since") != "" {
			byRoom := map[ref.RoomID][]Event{}
			for _, event := range m.queued {
				byRoom[event.RoomID] = append(byRoom[event.RoomID], event)
			}
			for roomID, events := range byRoom {
				response.Rooms.Join[roomID] = JoinedRoom{Timeline: TimelineSection{Events: events}}
			}
			m.queued = nil
		}
		writer.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(writer).Encode(response); err != nil {
			panic(fmt.Sprintf("encoding sync response: %v", err))
		}
		return
	}

	http.Error(writer, "unexpected request", http.StatusNotFound)
}

func newTestClient(t *testing.T, server *httptest.Server) *MatrixClient {
	t.Helper()
	client, err := NewMatrixClient(MatrixClientConfig{
		HomeserverURL: server.URL,
		AccessToken:   "test-token",
		UserID:        mustUserID(t, "@caller:test"),
		DeviceID:      mustDeviceID(t, "DEVICE1"),
		HTTPClient:    server.Client(),
	})
	if err != nil {
		t.Fatalf("NewMatrixClient: %v", err)
	}
	return client
}

func TestMatrixClientSend(t *testing.T) {
	mock := &mockHomeserver{}
	server := httptest.NewServer(mock)
	defer server.Close()

	client := newTestClient(t, server)
	roomID := mustRoomID(t, "!room:test")
	callID := ref.NewCallID()

	event, err := NewEvent(EventTypeHangup, NewHangupContent(callID, "ice_failed"), roomID)
	if err != nil {
		t.Fatal(err)
	}
	eventID, err := client.Send(context.Background(), event)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if eventID.String() != "$sent1" {
		t.Errorf("event ID = %v, want $sent1", eventID)
	}

	sent := mock.sentEvents()
	if len(sent) != 1 {
		t.Fatalf("server saw %d sends, want 1", len(sent))
	}
	if sent[0].eventType != EventTypeHangup {
		t.Errorf("event type = %q", sent[0].eventType)
	}
	if !strings.HasPrefix(sent[0].transactionID, "wirecall-") {
		t.Errorf("transaction ID = %q, want wirecall- prefix", sent[0].transactionID)
	}
	hangup, err := ParseHangupContent(sent[0].content)
	if err != nil {
		t.Fatalf("parsing sent content: %v", err)
	}
	if hangup.CallID != callID || hangup.Reason != "ice_failed" {
		t.Errorf("sent content = %+v", hangup)
	}
}

func TestMatrixClientSendUniqueTransactionIDs(t *testing.T) {
	mock := &mockHomeserver{}
	server := httptest.NewServer(mock)
	defer server.Close()

	client := newTestClient(t, server)
	roomID := mustRoomID(t, "!room:test")
	for i := 0; i < 3; i++ {
		event, err := NewEvent(EventTypeHangup, NewHangupContent(ref.NewCallID(), ""), roomID)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := client.Send(context.Background(), event); err != nil {
			t.Fatal(err)
		}
	}

	seen := map[string]bool{}
	for _, sent := range mock.sentEvents() {
		if seen[sent.transactionID] {
			t.Fatalf("duplicate transaction ID %q", sent.transactionID)
		}
		seen[sent.transactionID] = true
	}
}

func TestMatrixClientErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusForbidden)
		writer.Write([]byte(`{"errcode":"M_FORBIDDEN","error":"not in room"}`))
	}))
	defer server.Close()

	client, err := NewMatrixClient(MatrixClientConfig{
		HomeserverURL: server.URL,
		AccessToken:   "test-token",
		UserID:        mustUserID(t, "@caller:test"),
		HTTPClient:    server.Client(),
	})
	if err != nil {
		t.Fatal(err)
	}

	event, err := NewEvent(EventTypeHangup, NewHangupContent(ref.NewCallID(), ""), mustRoomID(t, "!room:test"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.Send(context.Background(), event)
	if err == nil {
		t.Fatal("expected error")
	}
	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		t.Fatalf("error %v is not a *MatrixError", err)
	}
	if matrixErr.Code != "M_FORBIDDEN" || matrixErr.StatusCode != http.StatusForbidden {
		t.Errorf("matrix error = %+v", matrixErr)
	}
}

func TestMatrixReceiverDeliversCallEvents(t *testing.T) {
	mock := &mockHomeserver{}
	server := httptest.NewServer(mock)
	defer server.Close()

	client := newTestClient(t, server)
	roomID := mustRoomID(t, "!room:test")

	inviteContent, err := json.Marshal(NewInviteContent(ref.NewCallID(),
		SessionDescription{Type: "offer", SDP: "v=0\r\n"}, 60000))
	if err != nil {
		t.Fatal(err)
	}
	mock.queueEvent(Event{
		Type:    EventTypeInvite,
		Content: inviteContent,
		Sender:  mustUserID(t, "@callee:test"),
		RoomID:  roomID,
	})

	received := make(chan Event, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	receiver := NewMatrixReceiver(client, roomID, nil)
	done := make(chan error, 1)
	go func() {
		done <- receiver.Run(ctx, func(event Event) {
			select {
			case received <- event:
			default:
			}
		})
	}()

	event := testutil.RequireReceive(t, received, 5*time.Second, "waiting for invite")
	if event.Type != EventTypeInvite {
		t.Errorf("event type = %q", event.Type)
	}
	if event.RoomID != roomID {
		t.Errorf("room ID = %v, want %v", event.RoomID, roomID)
	}

	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Run to return"); err != nil {
		t.Errorf("Run returned %v after cancel, want nil", err)
	}
}

func TestMatrixReceiverRetriesTransientSyncErrors(t *testing.T) {
	mock := &mockHomeserver{}
	server := httptest.NewServer(mock)
	defer server.Close()

	client := newTestClient(t, server)
	roomID := mustRoomID(t, "!room:test")

	hangupContent, err := json.Marshal(NewHangupContent(ref.NewCallID(), ""))
	if err != nil {
		t.Fatal(err)
	}

	// The initial sync succeeds, then two long-polls fail before the
	// queued event comes through.
	received := make(chan Event, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	receiver := NewMatrixReceiver(client, roomID, nil)
	done := make(chan error, 1)
	go func() {
		done <- receiver.Run(ctx, func(event Event) {
			select {
			case received <- event:
			default:
			}
		})
	}()

	// Let the initial sync complete, then inject failures and the
	// event.
	time.Sleep(100 * time.Millisecond)
	mock.mu.Lock()
	mock.syncFails = 2
	mock.mu.Unlock()
	mock.queueEvent(Event{
		Type:    EventTypeHangup,
		Content: hangupContent,
		Sender:  mustUserID(t, "@callee:test"),
		RoomID:  roomID,
	})

	event := testutil.RequireReceive(t, received, 10*time.Second, "waiting for event after transient errors")
	if event.Type != EventTypeHangup {
		t.Errorf("event type = %q", event.Type)
	}
	cancel()
	testutil.RequireReceive(t, done, 5*time.Second, "waiting for Run to return")
}

func TestMatrixReceiverGivesUpAfterRepeatedFailures(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		requests++
		if requests == 1 {
			// Initial sync succeeds so the receiver enters its loop.
			writer.Header().Set("Content-Type", "application/json")
			writer.Write([]byte(`{"next_batch":"b1"}`))
			return
		}
		writer.WriteHeader(http.StatusInternalServerError)
		writer.Write([]byte(`{"errcode":"M_UNKNOWN","error":"down"}`))
	}))
	defer server.Close()

	client, err := NewMatrixClient(MatrixClientConfig{
		HomeserverURL: server.URL,
		AccessToken:   "test-token",
		UserID:        mustUserID(t, "@caller:test"),
		HTTPClient:    server.Client(),
	})
	if err != nil {
		t.Fatal(err)
	}

	receiver := NewMatrixReceiver(client, mustRoomID(t, "!room:test"), nil)
	err = receiver.Run(context.Background(), func(Event) {})
	if err == nil {
		t.Fatal("Run returned nil, want error after repeated sync failures")
	}
	if !strings.Contains(err.Error(), "consecutive") {
		t.Errorf("error = %v", err)
	}
}
