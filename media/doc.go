// Copyright 2026 The Wirecall Authors
// SPDX-License-Identifier: Apache-2.0

// Package media manages the WebRTC peer connection behind a call.
//
// The call engine never touches pion directly; it drives a [Transport]
// and receives [Events] callbacks. The split keeps the signaling state
// machine testable with a fake transport and keeps all pion-specific
// handling (trickle ICE, transceiver setup, connection state mapping)
// in one place.
//
// Trickle ICE: the transport emits the local session description as
// soon as it is set, then streams candidates one at a time through
// Events.LocalCandidate as pion discovers them. Batching for the wire
// is the caller's concern.
//
// [ICEConfig] holds STUN/TURN server configuration. [ICEConfigFromTURN]
// converts the homeserver's time-limited TURN credentials into one.
package media
