// Copyright 2026 The Wirecall Authors
// SPDX-License-Identifier: Apache-2.0

// Package call implements the call signaling engine: a per-call state
// machine negotiating 1:1 voice/video sessions over an asynchronous,
// reordering, lossy signaling room.
//
// The [Engine] owns the call table and is the single ingress for
// inbound events. Each [Call] serializes its own mutations under one
// mutex; inbound events, user actions, and timer callbacks all funnel
// through it, and observer notifications collected under the lock are
// delivered after release so observers never run inside the engine's
// critical sections.
//
// Around the state machine sit three small components: an outbound
// queue that keeps at most one event per call in flight and merges
// consecutive candidate batches, a candidate buffer that holds remote
// ICE candidates until an incoming call has applied its offer, and an
// origin classifier separating peer traffic from the local account's
// other devices and from this device's own echoes.
//
// A same-user event carrying neither a device attribution nor the
// homeserver's own-echo transaction ID cannot be classified reliably;
// it is treated as coming from another device. See [ClassifyOrigin].
package call
