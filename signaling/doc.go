// Copyright 2026 The Wirecall Authors
// SPDX-License-Identifier: Apache-2.0

// Package signaling defines the call signaling wire model and the
// delivery mechanisms that move signaling events in and out of a
// shared room.
//
// A call is negotiated by appending typed events to the room shared by
// the two parties: m.call.invite carries the offer session
// description, m.call.answer the answer, m.call.candidates batches of
// ICE candidates, and m.call.hangup terminates the call. Event
// content shapes follow the Matrix VoIP event schema; every content
// carries the call_id that correlates the events of one call.
//
// Parsing is strict at the boundary and forgiving in the middle: an
// event whose content is structurally broken (missing call_id, wrong
// session description type) is rejected whole, while a candidates
// batch with one malformed entry drops only that entry and keeps the
// rest.
//
// Outbound delivery is abstracted behind the [Delivery] interface.
// [MemoryRoom] provides an in-process room for tests and demos that
// reproduces the semantics the engine has to live with in production:
// every member receives every event, including an echo of its own
// sends (marked with the sender's transaction ID, as a homeserver
// does). [MatrixClient] implements delivery over the Matrix
// client-server API, and [MatrixReceiver] feeds inbound call events
// from filtered /sync long-polling.
package signaling
