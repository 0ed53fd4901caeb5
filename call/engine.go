// Copyright 2026 The Wirecall Authors
// SPDX-License-Identifier: Apache-2.0

package call

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wirecall/wirecall/lib/clock"
	"github.com/wirecall/wirecall/lib/ref"
	"github.com/wirecall/wirecall/media"
	"github.com/wirecall/wirecall/signaling"
)

// defaultInviteTimeout is how long an outgoing invite rings before
// the caller gives up, and the lifetime stamped into outbound
// invites. Matches the reference wire behavior (120 seconds).
const defaultInviteTimeout = 120 * time.Second

// EngineConfig configures an Engine.
type EngineConfig struct {
	// LocalUser is the local account identity. Required.
	LocalUser ref.UserID
	// LocalDevice identifies this device for echo recognition. May
	// be zero when the delivery layer does not attribute devices.
	LocalDevice ref.DeviceID
	// Delivery sends outbound signaling events. Required.
	Delivery signaling.Delivery
	// Transport creates one media transport per call. Required.
	Transport media.Factory
	// Observer receives call notifications. If nil, notifications
	// are discarded.
	Observer Observer
	// Clock drives the invite and lifetime timers. If nil, the real
	// clock is used.
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
	// InviteTimeout overrides the ring timeout for outgoing calls.
	// Zero means the default.
	InviteTimeout time.Duration
}

// Engine owns the call table and is the single ingress for inbound
// signaling traffic. One engine per local identity; calls are created
// by PlaceCall or by a received invite, and remove themselves from
// the table on reaching their terminal state.
type Engine struct {
	localUser     ref.UserID
	localDevice   ref.DeviceID
	delivery      signaling.Delivery
	newTransport  media.Factory
	observer      Observer
	clock         clock.Clock
	logger        *slog.Logger
	inviteTimeout time.Duration

	mu     sync.Mutex
	calls  map[ref.CallID]*Call
	closed bool
}

// NewEngine validates the configuration and creates an engine with an
// empty call table.
func NewEngine(config EngineConfig) (*Engine, error) {
	if config.LocalUser.IsZero() {
		return nil, fmt.Errorf("call: LocalUser is required")
	}
	if config.Delivery == nil {
		return nil, fmt.Errorf("call: Delivery is required")
	}
	if config.Transport == nil {
		return nil, fmt.Errorf("call: Transport factory is required")
	}
	observer := config.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	engineClock := config.Clock
	if engineClock == nil {
		engineClock = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	inviteTimeout := config.InviteTimeout
	if inviteTimeout <= 0 {
		inviteTimeout = defaultInviteTimeout
	}
	return &Engine{
		localUser:     config.LocalUser,
		localDevice:   config.LocalDevice,
		delivery:      config.Delivery,
		newTransport:  config.Transport,
		observer:      observer,
		clock:         engineClock,
		logger:        logger,
		inviteTimeout: inviteTimeout,
	}, nil
}

func (e *Engine) newCall(id ref.CallID, direction Direction, roomID ref.RoomID, video bool) *Call {
	c := &Call{
		id:            id,
		direction:     direction,
		room:          roomID,
		video:         video,
		observer:      e.observer,
		clock:         e.clock,
		logger:        e.logger,
		newTransport:  e.newTransport,
		inviteTimeout: e.inviteTimeout,
		onEnded:       e.removeCall,
		state:         StateCreated,
	}
	c.queue = newPendingQueue(id, roomID, e.delivery, e.logger, c.onEventSent)
	return c
}

// PlaceCall starts an outgoing call into roomID. The returned call is
// already progressing through local media setup; track it through the
// observer.
func (e *Engine) PlaceCall(roomID ref.RoomID, video bool) (*Call, error) {
	if roomID.IsZero() {
		return nil, fmt.Errorf("call: room ID is required")
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, fmt.Errorf("call: engine is closed")
	}
	if e.calls == nil {
		e.calls = make(map[ref.CallID]*Call)
	}
	c := e.newCall(ref.NewCallID(), DirectionOutgoing, roomID, video)
	e.calls[c.id] = c
	e.mu.Unlock()

	e.logger.Info("placing call", "call_id", c.id, "room_id", roomID, "video", video)
	c.startOutgoing()
	return c, nil
}

// Call looks up a live call by ID.
func (e *Engine) Call(id ref.CallID) (*Call, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.calls[id]
	return c, ok
}

// HandleEvent is the single ingress for inbound signaling traffic.
// Safe to call from any goroutine; the delivery layer feeds every
// room event here and non-call events fall through silently.
func (e *Engine) HandleEvent(event signaling.Event) {
	if !signaling.IsCallEventType(event.Type) {
		return
	}
	callID, err := signaling.ContentCallID(event.Content)
	if err != nil {
		e.logger.Debug("call event without routable call_id dropped",
			"event_type", event.Type, "error", err)
		return
	}

	origin := ClassifyOrigin(event, e.localUser, e.localDevice)
	if origin == OriginIgnore {
		e.logger.Debug("own echo dropped", "call_id", callID, "event_type", event.Type)
		return
	}

	e.mu.Lock()
	c, ok := e.calls[callID]
	closed := e.closed
	e.mu.Unlock()

	if ok {
		c.handleEvent(event, origin)
		return
	}
	if closed || event.Type != signaling.EventTypeInvite || origin != OriginPeer {
		e.logger.Debug("event for unknown call dropped",
			"call_id", callID, "event_type", event.Type, "origin", origin)
		return
	}
	e.acceptInvite(event, callID)
}

// acceptInvite creates an incoming call from a peer invite. The
// invite is decoded leniently: a defective offer still creates the
// call (it stays parked in its created state), matching the rule that
// malformed content degrades, never crashes.
func (e *Engine) acceptInvite(event signaling.Event, callID ref.CallID) {
	invite, err := signaling.DecodeInviteContent(event.Content)
	if err != nil {
		e.logger.Warn("undecodable invite dropped", "call_id", callID, "error", err)
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if e.calls == nil {
		e.calls = make(map[ref.CallID]*Call)
	}
	if _, exists := e.calls[callID]; exists {
		// Duplicate invite delivery lost the race; the first one won.
		e.mu.Unlock()
		return
	}
	c := e.newCall(callID, DirectionIncoming, event.RoomID, false)
	e.calls[callID] = c
	e.mu.Unlock()

	e.logger.Info("incoming call", "call_id", callID,
		"room_id", event.RoomID, "from", event.Sender)
	c.PrepareIncomingCall(invite)
	e.observer.IncomingCall(c)
}

func (e *Engine) removeCall(c *Call) {
	e.mu.Lock()
	if current, ok := e.calls[c.id]; ok && current == c {
		delete(e.calls, c.id)
	}
	e.mu.Unlock()
}

// Close hangs up every live call and refuses further work. Safe to
// call more than once.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	live := make([]*Call, 0, len(e.calls))
	for _, c := range e.calls {
		live = append(live, c)
	}
	e.mu.Unlock()

	for _, c := range live {
		c.Hangup("")
	}
}
