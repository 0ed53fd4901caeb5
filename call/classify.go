// Copyright 2026 The Wirecall Authors
// SPDX-License-Identifier: Apache-2.0

package call

import (
	"github.com/wirecall/wirecall/lib/ref"
	"github.com/wirecall/wirecall/signaling"
)

// Origin classifies who an inbound event came from, relative to the
// local identity.
type Origin int

const (
	// OriginPeer: the other party of the call.
	OriginPeer Origin = iota
	// OriginSelfOtherDevice: the local account, signaling from a
	// different device (ringing there too, or answering there).
	OriginSelfOtherDevice
	// OriginIgnore: a recognizable echo of this very device's own
	// send. Dropped without dispatch.
	OriginIgnore
)

func (o Origin) String() string {
	switch o {
	case OriginPeer:
		return "peer"
	case OriginSelfOtherDevice:
		return "self_other_device"
	case OriginIgnore:
		return "ignore"
	}
	return "unknown"
}

// ClassifyOrigin decides how to route one inbound event. Events from
// another user are the peer's. Events from the local user are echoes
// of this device's own sends only when that is positively
// recognizable: the sender device matches the local device, or the
// event carries the transaction ID the homeserver attaches to a
// device's own submissions. A same-user event with no device
// attribution and no transaction ID cannot be told apart from a
// genuine other-device event and is classified OriginSelfOtherDevice.
func ClassifyOrigin(event signaling.Event, localUser ref.UserID, localDevice ref.DeviceID) Origin {
	if event.Sender != localUser {
		return OriginPeer
	}
	if event.Unsigned.TransactionID != "" {
		return OriginIgnore
	}
	if !event.SenderDevice.IsZero() && !localDevice.IsZero() && event.SenderDevice == localDevice {
		return OriginIgnore
	}
	return OriginSelfOtherDevice
}
