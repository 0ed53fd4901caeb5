// Copyright 2026 The Wirecall Authors
// SPDX-License-Identifier: Apache-2.0

package call

// State is a call's position in its lifecycle. StateEnded is terminal
// and absorbing: once entered, no further state notifications fire,
// no further outbound events are enqueued, and all timers for the
// call are cancelled.
type State int

const (
	StateCreated State = iota
	StateCreatingCallView
	StateReady
	StateWaitLocalMedia
	StateRinging
	StateInviteSent
	StateConnecting
	StateConnected
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateCreatingCallView:
		return "creating_call_view"
	case StateReady:
		return "ready"
	case StateWaitLocalMedia:
		return "wait_local_media"
	case StateRinging:
		return "ringing"
	case StateInviteSent:
		return "invite_sent"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

// Direction is fixed at call creation.
type Direction int

const (
	DirectionOutgoing Direction = iota
	DirectionIncoming
)

func (d Direction) String() string {
	if d == DirectionIncoming {
		return "incoming"
	}
	return "outgoing"
}

// Reason explains why a call ended.
type Reason string

const (
	// ReasonPeerHungUp: the peer sent a hangup event.
	ReasonPeerHungUp Reason = "peer_hung_up"
	// ReasonPeerHungUpElsewhere: another device of the local account
	// hung the call up.
	ReasonPeerHungUpElsewhere Reason = "peer_hung_up_elsewhere"
	// ReasonAnsweredElsewhere: another device of the local account
	// answered the call.
	ReasonAnsweredElsewhere Reason = "answered_elsewhere"
	// ReasonUserNotResponding: the peer did not answer within the
	// invite timeout.
	ReasonUserNotResponding Reason = "user_not_responding"
	// ReasonLocalHangup: the local user hung up.
	ReasonLocalHangup Reason = "local_hangup"
	// ReasonInviteExpired: an incoming invite's lifetime elapsed
	// before the call was answered here.
	ReasonInviteExpired Reason = "invite_expired"
	// ReasonTransportFailed: the media transport could not be
	// established or failed terminally.
	ReasonTransportFailed Reason = "transport_failed"
)

// ErrorCode classifies call-level errors reported to the observer.
// Every error is scoped to a single call; none is fatal to the
// engine.
type ErrorCode string

const (
	ErrorUserNotResponding ErrorCode = "user_not_responding"
	ErrorTransportFailed   ErrorCode = "transport_failed"
	ErrorMalformedMessage  ErrorCode = "malformed_message"
	ErrorICEFailed         ErrorCode = "ice_failed"
)

// Wire reasons carried in outbound hangup content. A plain user
// hangup sends no reason.
const (
	wireReasonICEFailed = "ice_failed"
)
