// Copyright 2026 The Wirecall Authors
// SPDX-License-Identifier: Apache-2.0

package media

import (
	"context"

	"github.com/wirecall/wirecall/signaling"
)

// Events carries the transport's callbacks into the call engine. All
// fields are optional; a nil callback is skipped. Callbacks fire on
// transport-internal goroutines and must not block.
type Events struct {
	// LocalDescription fires once, when the local offer or answer is
	// ready to go on the wire.
	LocalDescription func(signaling.SessionDescription)

	// LocalCandidate fires once per locally gathered ICE candidate,
	// in discovery order.
	LocalCandidate func(signaling.Candidate)

	// RemotePrepared fires when the remote description has been
	// applied and buffered remote candidates have been flushed.
	RemotePrepared func()

	// Connected fires when the peer connection reaches the connected
	// state. May fire again after a transient disconnection heals.
	Connected func()

	// Failed fires when the peer connection fails terminally.
	Failed func(error)
}

// Transport is the media half of a call: one peer connection,
// negotiated through descriptions and candidates the call engine
// relays over signaling.
//
// Direction is implicit in call order. An outgoing call invokes
// EstablishLocalMedia first and gets an offer; an incoming call
// applies the remote offer with SetRemoteDescription first, and
// EstablishLocalMedia then produces an answer.
type Transport interface {
	// EstablishLocalMedia captures local media (audio, plus video
	// when video is true), attaches it to the peer connection, and
	// produces the local description via Events.LocalDescription.
	EstablishLocalMedia(ctx context.Context, video bool) error

	// SetRemoteDescription applies the peer's offer or answer.
	SetRemoteDescription(ctx context.Context, description signaling.SessionDescription) error

	// AddICECandidates feeds remote candidates to the peer
	// connection. Candidates arriving before the remote description
	// are held and applied once it lands.
	AddICECandidates(ctx context.Context, candidates []signaling.Candidate) error

	// Close releases the peer connection and local media. Safe to
	// call more than once.
	Close() error
}

// Factory creates one Transport per call. The engine calls it with
// the events sink wired to that call's state machine.
type Factory func(events Events) (Transport, error)
