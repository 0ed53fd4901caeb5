// Copyright 2026 The Wirecall Authors
// SPDX-License-Identifier: Apache-2.0

package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wirecall/wirecall/lib/clock"
	"github.com/wirecall/wirecall/lib/ref"
	"github.com/wirecall/wirecall/media"
	"github.com/wirecall/wirecall/signaling"
)

// Call is one call session. All mutation happens under the call's
// mutex; observer notifications are collected under the lock and
// delivered after release, in transition order. Transport and
// delivery operations never run under the lock.
type Call struct {
	id        ref.CallID
	direction Direction
	room      ref.RoomID

	observer     Observer
	clock        clock.Clock
	logger       *slog.Logger
	newTransport media.Factory

	// inviteTimeout doubles as the lifetime stamped into outbound
	// invites.
	inviteTimeout time.Duration

	// onEnded is the registry's removal hook, invoked (outside the
	// lock) when the call reaches its terminal state.
	onEnded func(*Call)

	queue  *pendingQueue
	buffer candidateBuffer

	// notifyMu serializes observer notification batches. Lock order:
	// mu, then notifyMu.
	notifyMu sync.Mutex

	mu            sync.Mutex
	state         State
	video         bool
	answered      bool
	transport     media.Transport
	pendingInvite *signaling.InviteContent
	inviteTimer   *clock.Timer
	lifetimeTimer *clock.Timer
}

// notification is an observer callback captured under the lock for
// delivery after release.
type notification func()

// deliver publishes notes outside the state lock while preserving
// transition order. The caller must hold c.mu; deliver takes the
// notify lock before releasing it, so a batch committed earlier can
// never be overtaken by one committed later on another goroutine.
func (c *Call) deliver(notes []notification) {
	c.notifyMu.Lock()
	c.mu.Unlock()
	for _, note := range notes {
		if note != nil {
			note()
		}
	}
	c.notifyMu.Unlock()
}

// ID returns the call identifier.
func (c *Call) ID() ref.CallID { return c.id }

// Direction reports whether the call is outgoing or incoming.
func (c *Call) Direction() Direction { return c.direction }

// Room returns the signaling room the call lives in.
func (c *Call) Room() ref.RoomID { return c.room }

// State returns the current call state.
func (c *Call) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Video reports whether the call carries video. For incoming calls
// this is inferred from the offer and is meaningful only once the
// invite has been stashed.
func (c *Call) Video() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.video
}

func (c *Call) setStateLocked(to State) notification {
	from := c.state
	if from == to {
		return nil
	}
	c.state = to
	c.logger.Debug("call state changed", "call_id", c.id, "from", from, "to", to)
	return func() { c.observer.StateChanged(c, from, to) }
}

func (c *Call) ensureTransportLocked() error {
	if c.transport != nil {
		return nil
	}
	transport, err := c.newTransport(media.Events{
		LocalDescription: c.onLocalDescription,
		LocalCandidate:   c.onLocalCandidate,
		RemotePrepared:   c.onRemotePrepared,
		Connected:        c.onConnected,
		Failed:           c.onTransportFailed,
	})
	if err != nil {
		return fmt.Errorf("creating media transport: %w", err)
	}
	c.transport = transport
	return nil
}

// startOutgoing begins the outgoing flow: establish local media, and
// on the resulting local offer advance to ringing and send the
// invite.
func (c *Call) startOutgoing() {
	c.mu.Lock()
	notes := []notification{c.setStateLocked(StateWaitLocalMedia)}
	err := c.ensureTransportLocked()
	transport := c.transport
	video := c.video
	c.deliver(notes)

	if err != nil {
		c.failTransport(err)
		return
	}
	go func() {
		if err := transport.EstablishLocalMedia(context.Background(), video); err != nil {
			c.failTransport(fmt.Errorf("establishing local media: %w", err))
		}
	}()
}

// PrepareIncomingCall records a received invite. In StateReady the
// setup begins immediately; in StateCreated the offer parameters are
// stashed and the call waits for LaunchIncomingCall. Video-ness is
// inferred from the offer's SDP; an offer with no SDP skips the
// inference and the call stays parked.
func (c *Call) PrepareIncomingCall(invite signaling.InviteContent) {
	c.mu.Lock()
	var notes []notification
	switch c.state {
	case StateReady:
		c.inferVideoLocked(invite)
		c.startLifetimeTimerLocked(invite.Lifetime)
		notes = c.beginIncomingSetupLocked(invite)
	case StateCreated:
		stashed := invite
		c.pendingInvite = &stashed
		c.inferVideoLocked(invite)
		c.startLifetimeTimerLocked(invite.Lifetime)
	default:
		c.logger.Debug("invite ignored in current state",
			"call_id", c.id, "state", c.state)
	}
	c.deliver(notes)
}

func (c *Call) inferVideoLocked(invite signaling.InviteContent) {
	if invite.Offer.SDP == "" {
		c.logger.Debug("invite offer has no sdp, skipping video inference", "call_id", c.id)
		return
	}
	c.video = invite.Offer.HasVideo()
}

// LaunchIncomingCall promotes a parked incoming call: the client has
// its view ready, so the call moves through readiness and, when an
// invite is stashed, into setup and ringing.
func (c *Call) LaunchIncomingCall() error {
	c.mu.Lock()
	if c.direction != DirectionIncoming {
		c.mu.Unlock()
		return fmt.Errorf("call %s is not incoming", c.id)
	}
	if c.state != StateCreated {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("call %s cannot launch from state %s", c.id, state)
	}
	notes := []notification{
		c.setStateLocked(StateCreatingCallView),
		c.setStateLocked(StateReady),
	}
	if c.pendingInvite != nil {
		invite := *c.pendingInvite
		c.pendingInvite = nil
		notes = append(notes, c.beginIncomingSetupLocked(invite)...)
	}
	c.deliver(notes)
	return nil
}

// beginIncomingSetupLocked hands the stashed offer to the transport
// and moves the call to ringing. Remote candidates stay buffered
// until the transport reports the offer applied.
func (c *Call) beginIncomingSetupLocked(invite signaling.InviteContent) []notification {
	notes := []notification{c.setStateLocked(StateWaitLocalMedia)}
	if err := c.ensureTransportLocked(); err != nil {
		c.logger.Error("incoming call setup failed", "call_id", c.id, "error", err)
		notes = append(notes, c.errorNoteLocked(ErrorTransportFailed, err))
		notes = append(notes, c.endLocked(ReasonTransportFailed)...)
		return notes
	}
	notes = append(notes, c.setStateLocked(StateRinging))

	transport := c.transport
	offer := invite.Offer
	go func() {
		if err := transport.SetRemoteDescription(context.Background(), offer); err != nil {
			c.failTransport(fmt.Errorf("applying remote offer: %w", err))
		}
	}()
	return notes
}

// Answer accepts a ringing incoming call: local media is established
// against the already-applied offer and the resulting answer goes
// out. Gated on the call having been prepared.
func (c *Call) Answer() error {
	c.mu.Lock()
	if c.direction != DirectionIncoming {
		c.mu.Unlock()
		return fmt.Errorf("call %s is not incoming", c.id)
	}
	switch c.state {
	case StateCreated:
		c.mu.Unlock()
		return fmt.Errorf("call %s is not prepared yet", c.id)
	case StateEnded:
		c.mu.Unlock()
		return fmt.Errorf("call %s has ended", c.id)
	}
	transport := c.transport
	video := c.video
	c.mu.Unlock()

	if transport == nil {
		return fmt.Errorf("call %s has no media transport", c.id)
	}
	go func() {
		if err := transport.EstablishLocalMedia(context.Background(), video); err != nil {
			c.failTransport(fmt.Errorf("establishing local media: %w", err))
		}
	}()
	return nil
}

// Hangup ends the call locally. Idempotent: a no-op once the call has
// ended. wireReason goes into the hangup event; empty means a plain
// user hangup.
func (c *Call) Hangup(wireReason string) {
	c.mu.Lock()
	notes := c.hangupLocked(wireReason, ReasonLocalHangup)
	c.deliver(notes)
}

func (c *Call) hangupLocked(wireReason string, endReason Reason) []notification {
	if c.state == StateEnded {
		return nil
	}
	c.queue.EnqueueHangup(signaling.NewHangupContent(c.id, wireReason))
	return c.endLocked(endReason)
}

// endLocked drives the call to its terminal state: timers cancelled,
// transport released, queue closed to new events (a hangup already
// enqueued still drains), registry entry removed.
func (c *Call) endLocked(reason Reason) []notification {
	if c.state == StateEnded {
		return nil
	}
	c.cancelTimersLocked()
	notes := []notification{c.setStateLocked(StateEnded)}

	transport := c.transport
	c.transport = nil
	if transport != nil {
		go func() {
			if err := transport.Close(); err != nil {
				c.logger.Warn("closing transport", "call_id", c.id, "error", err)
			}
		}()
	}
	c.queue.Close()

	c.logger.Info("call ended", "call_id", c.id, "reason", reason)
	notes = append(notes, func() { c.observer.CallEnded(c, reason) })
	if onEnded := c.onEnded; onEnded != nil {
		notes = append(notes, func() { onEnded(c) })
	}
	return notes
}

func (c *Call) errorNoteLocked(code ErrorCode, err error) notification {
	c.logger.Warn("call error", "call_id", c.id, "code", code, "error", err)
	return func() { c.observer.CallError(c, code, err) }
}

// failTransport ends the call after a transport failure, emitting a
// hangup event so the peer stops ringing.
func (c *Call) failTransport(err error) {
	c.mu.Lock()
	if c.state == StateEnded {
		c.mu.Unlock()
		return
	}
	notes := []notification{c.errorNoteLocked(ErrorTransportFailed, err)}
	notes = append(notes, c.hangupLocked("", ReasonTransportFailed)...)
	c.deliver(notes)
}

// --- timers ---

func (c *Call) startInviteTimerLocked() {
	if c.inviteTimer != nil {
		c.inviteTimer.Stop()
	}
	c.inviteTimer = c.clock.AfterFunc(c.inviteTimeout, c.onInviteTimeout)
}

// onInviteTimeout fires for an outgoing call the peer never answered.
// Only meaningful while still ringing or invite-sent; any later state
// means the call moved on and the timeout is stale.
func (c *Call) onInviteTimeout() {
	c.mu.Lock()
	if c.state != StateRinging && c.state != StateInviteSent {
		c.mu.Unlock()
		return
	}
	err := fmt.Errorf("no answer within %s", c.inviteTimeout)
	notes := []notification{c.errorNoteLocked(ErrorUserNotResponding, err)}
	notes = append(notes, c.hangupLocked("", ReasonUserNotResponding)...)
	c.deliver(notes)
}

func (c *Call) startLifetimeTimerLocked(lifetimeMillis int64) {
	duration := time.Duration(lifetimeMillis) * time.Millisecond
	if duration <= 0 {
		duration = c.inviteTimeout
	}
	if c.lifetimeTimer != nil {
		c.lifetimeTimer.Stop()
	}
	c.lifetimeTimer = c.clock.AfterFunc(duration, c.onLifetimeExpired)
}

// onLifetimeExpired fires when an incoming invite's lifetime elapses
// unanswered. The call ends locally without a hangup event: the
// caller's invite expired on its own, and the call may have been
// picked up elsewhere.
func (c *Call) onLifetimeExpired() {
	c.mu.Lock()
	if c.state == StateEnded || c.answered ||
		c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return
	}
	notes := c.endLocked(ReasonInviteExpired)
	c.deliver(notes)
}

func (c *Call) cancelTimersLocked() {
	if c.inviteTimer != nil {
		c.inviteTimer.Stop()
		c.inviteTimer = nil
	}
	if c.lifetimeTimer != nil {
		c.lifetimeTimer.Stop()
		c.lifetimeTimer = nil
	}
}

// --- media transport callbacks ---

// onLocalDescription receives the locally produced offer or answer
// from the transport. An offer sends the invite and starts ringing;
// an answer latches the call as locally answered and moves to
// connecting.
func (c *Call) onLocalDescription(description signaling.SessionDescription) {
	c.mu.Lock()
	if c.state == StateEnded {
		c.mu.Unlock()
		return
	}
	var notes []notification
	lifetimeMillis := c.inviteTimeout.Milliseconds()
	switch description.Type {
	case "offer":
		notes = append(notes, c.setStateLocked(StateRinging))
		c.queue.EnqueueInvite(signaling.NewInviteContent(c.id, description, lifetimeMillis))
		c.startInviteTimerLocked()
	case "answer":
		c.answered = true
		c.queue.EnqueueAnswer(signaling.NewAnswerContent(c.id, description, lifetimeMillis))
		c.cancelTimersLocked()
		notes = append(notes, c.setStateLocked(StateConnecting))
	default:
		c.logger.Warn("unexpected local description type",
			"call_id", c.id, "type", description.Type)
	}
	c.deliver(notes)
}

func (c *Call) onLocalCandidate(candidate signaling.Candidate) {
	c.mu.Lock()
	ended := c.state == StateEnded
	c.mu.Unlock()
	if ended {
		return
	}
	c.queue.EnqueueCandidates([]signaling.Candidate{candidate})
}

// onRemotePrepared flushes candidates buffered before the remote
// offer was applied.
func (c *Call) onRemotePrepared() {
	buffered := c.buffer.Prepare()
	c.mu.Lock()
	transport := c.transport
	ended := c.state == StateEnded
	c.mu.Unlock()
	if ended || transport == nil || len(buffered) == 0 {
		return
	}
	go func() {
		if err := transport.AddICECandidates(context.Background(), buffered); err != nil {
			c.logger.Warn("applying buffered remote candidates", "call_id", c.id, "error", err)
		}
	}()
}

func (c *Call) onConnected() {
	c.mu.Lock()
	if c.state == StateEnded {
		c.mu.Unlock()
		return
	}
	c.cancelTimersLocked()
	notes := []notification{c.setStateLocked(StateConnected)}
	c.deliver(notes)
}

func (c *Call) onTransportFailed(err error) {
	c.mu.Lock()
	if c.state == StateEnded {
		c.mu.Unlock()
		return
	}
	notes := []notification{c.errorNoteLocked(ErrorICEFailed, err)}
	notes = append(notes, c.hangupLocked(wireReasonICEFailed, ReasonTransportFailed)...)
	c.deliver(notes)
}

// onEventSent is the queue's completion callback. Successful delivery
// of the invite advances a still-ringing call to invite-sent. Send
// failures are already logged by the queue; the call keeps going and
// its timers decide the outcome.
func (c *Call) onEventSent(eventType string, err error) {
	if err != nil || eventType != signaling.EventTypeInvite {
		return
	}
	c.mu.Lock()
	var notes []notification
	if c.state == StateRinging {
		notes = append(notes, c.setStateLocked(StateInviteSent))
	}
	c.deliver(notes)
}

// --- inbound signaling ---

// handleEvent dispatches one classified inbound event. The engine is
// the only caller.
func (c *Call) handleEvent(event signaling.Event, origin Origin) {
	switch origin {
	case OriginIgnore:
		c.logger.Debug("ignoring own echo", "call_id", c.id, "event_type", event.Type)
	case OriginPeer:
		c.handlePeerEvent(event)
	case OriginSelfOtherDevice:
		c.handleOtherDeviceEvent(event)
	}
}

func (c *Call) handlePeerEvent(event signaling.Event) {
	switch event.Type {
	case signaling.EventTypeAnswer:
		c.handlePeerAnswer(event)
	case signaling.EventTypeCandidates:
		c.handlePeerCandidates(event)
	case signaling.EventTypeHangup:
		c.handlePeerHangup(event)
	case signaling.EventTypeInvite:
		// Invites for a live call would be renegotiation, which the
		// engine does not support.
		c.logger.Debug("invite for existing call dropped", "call_id", c.id)
	}
}

// handlePeerAnswer parses before transitioning: a malformed answer is
// dropped with the state untouched.
func (c *Call) handlePeerAnswer(event signaling.Event) {
	answer, err := signaling.ParseAnswerContent(event.Content)
	if err != nil {
		c.mu.Lock()
		notes := []notification{c.errorNoteLocked(ErrorMalformedMessage, err)}
		c.deliver(notes)
		return
	}

	c.mu.Lock()
	if c.state == StateEnded || c.state == StateCreated {
		c.mu.Unlock()
		return
	}
	c.cancelTimersLocked()
	notes := []notification{c.setStateLocked(StateConnecting)}
	transport := c.transport
	c.deliver(notes)

	if transport == nil {
		return
	}
	go func() {
		if err := transport.SetRemoteDescription(context.Background(), answer.Answer); err != nil {
			c.failTransport(fmt.Errorf("applying remote answer: %w", err))
		}
	}()
}

func (c *Call) handlePeerCandidates(event signaling.Event) {
	content, dropped, err := signaling.ParseCandidatesContent(event.Content)
	if err != nil {
		c.mu.Lock()
		notes := []notification{c.errorNoteLocked(ErrorMalformedMessage, err)}
		c.deliver(notes)
		return
	}
	if dropped > 0 {
		c.logger.Warn("dropped malformed candidates",
			"call_id", c.id, "dropped", dropped, "kept", len(content.Candidates))
	}
	c.addRemoteCandidates(content.Candidates)
}

// addRemoteCandidates forwards candidates to the transport, routing
// through the buffer while an incoming call is not yet prepared.
// Outgoing calls need no gating: their remote description is the
// answer, and candidates arriving before it are the transport's
// concern.
func (c *Call) addRemoteCandidates(candidates []signaling.Candidate) {
	if len(candidates) == 0 {
		return
	}
	c.mu.Lock()
	transport := c.transport
	ended := c.state == StateEnded
	incoming := c.direction == DirectionIncoming
	c.mu.Unlock()
	if ended {
		return
	}
	if incoming && !c.buffer.Add(candidates) {
		return
	}
	if transport != nil {
		go func() {
			if err := transport.AddICECandidates(context.Background(), candidates); err != nil {
				c.logger.Warn("applying remote candidates", "call_id", c.id, "error", err)
			}
		}()
	}
}

func (c *Call) handlePeerHangup(event signaling.Event) {
	hangup, err := signaling.ParseHangupContent(event.Content)
	if err != nil {
		c.logger.Warn("malformed hangup, ending call anyway", "call_id", c.id, "error", err)
	} else if hangup.Reason != "" {
		c.logger.Info("peer hung up", "call_id", c.id, "reason", hangup.Reason)
	}
	c.mu.Lock()
	notes := c.endLocked(ReasonPeerHungUp)
	c.deliver(notes)
}

// handleOtherDeviceEvent covers the local account signaling from a
// different device: its invite echo re-announces ringing, its answer
// means the call was picked up elsewhere, its hangup ends the call
// here too.
func (c *Call) handleOtherDeviceEvent(event signaling.Event) {
	switch event.Type {
	case signaling.EventTypeInvite:
		c.mu.Lock()
		var notes []notification
		if c.state == StateRinging {
			notes = append(notes, func() { c.observer.StateChanged(c, StateRinging, StateRinging) })
		}
		c.deliver(notes)
	case signaling.EventTypeAnswer:
		c.mu.Lock()
		if c.state == StateConnected || c.state == StateEnded || c.answered {
			c.mu.Unlock()
			return
		}
		notes := c.endLocked(ReasonAnsweredElsewhere)
		c.deliver(notes)
	case signaling.EventTypeHangup:
		c.mu.Lock()
		notes := c.endLocked(ReasonPeerHungUpElsewhere)
		c.deliver(notes)
	case signaling.EventTypeCandidates:
		// Another device's candidates are for its own transport.
		c.logger.Debug("other-device candidates dropped", "call_id", c.id)
	}
}
