// Copyright 2026 The Wirecall Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wirecall/wirecall/lib/ref"
)

// Call signaling event types, as they appear on the wire.
const (
	EventTypeInvite     = "m.call.invite"
	EventTypeAnswer     = "m.call.answer"
	EventTypeCandidates = "m.call.candidates"
	EventTypeHangup     = "m.call.hangup"
)

// contentVersion is the VoIP event schema version stamped into every
// outbound content.
const contentVersion = 0

// IsCallEventType reports whether eventType is one of the call
// signaling event types.
func IsCallEventType(eventType string) bool {
	switch eventType {
	case EventTypeInvite, EventTypeAnswer, EventTypeCandidates, EventTypeHangup:
		return true
	}
	return false
}

// CallEventTypes lists the event types the engine consumes, in a form
// suitable for sync filters.
func CallEventTypes() []string {
	return []string{EventTypeInvite, EventTypeAnswer, EventTypeCandidates, EventTypeHangup}
}

// Event is one signaling event as received from (or destined for) the
// room. Content is kept raw; the typed Parse functions decode it once
// the event type is known.
//
// Events are immutable once constructed, with one deliberate
// exception: a not-yet-sent candidates event at the tail of a call's
// outbound queue may have its candidate list extended in place (see
// the call package's queue merge rule). The queue rebuilds Content
// when it does so.
type Event struct {
	Type         string          `json:"type"`
	Content      json.RawMessage `json:"content"`
	Sender       ref.UserID      `json:"sender"`
	SenderDevice ref.DeviceID    `json:"sender_device,omitempty"`
	RoomID       ref.RoomID      `json:"room_id,omitempty"`
	EventID      ref.EventID     `json:"event_id,omitempty"`
	Unsigned     EventUnsigned   `json:"unsigned,omitempty"`
}

// EventUnsigned holds optional unsigned data the homeserver attaches
// to events. TransactionID is present only on the sender's own echo of
// an event it submitted from this device — the disambiguator uses it
// to recognize same-device echoes.
type EventUnsigned struct {
	Age           int64  `json:"age,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// SessionDescription is an opaque negotiated description of media
// capabilities, carried inside invite and answer content. Type is
// "offer" or "answer"; SDP is never interpreted beyond the video
// media-line probe.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// HasVideo reports whether the description's SDP declares a video
// media section. Incoming calls infer their video-ness from the
// offer this way.
func (d SessionDescription) HasVideo() bool {
	return strings.Contains(d.SDP, "m=video")
}

// Candidate is one ICE candidate as carried in a candidates event.
// The engine treats all three fields as opaque.
type Candidate struct {
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
	Candidate     string `json:"candidate"`
}

// InviteContent is the content of an m.call.invite event.
type InviteContent struct {
	Version  int                `json:"version"`
	CallID   ref.CallID         `json:"call_id"`
	Lifetime int64              `json:"lifetime"` // milliseconds the invite is valid for
	Offer    SessionDescription `json:"offer"`
}

// AnswerContent is the content of an m.call.answer event. Lifetime
// mirrors the invite's and is informational only.
type AnswerContent struct {
	Version  int                `json:"version"`
	CallID   ref.CallID         `json:"call_id"`
	Lifetime int64              `json:"lifetime,omitempty"`
	Answer   SessionDescription `json:"answer"`
}

// CandidatesContent is the content of an m.call.candidates event.
type CandidatesContent struct {
	Version    int         `json:"version"`
	CallID     ref.CallID  `json:"call_id"`
	Candidates []Candidate `json:"candidates"`
}

// HangupContent is the content of an m.call.hangup event. Reason is
// empty for a plain user hangup; non-empty values indicate errors
// (e.g., "ice_failed", "invite_timeout").
type HangupContent struct {
	Version int        `json:"version"`
	CallID  ref.CallID `json:"call_id"`
	Reason  string     `json:"reason,omitempty"`
}

// NewInviteContent builds the content for an outbound invite.
func NewInviteContent(callID ref.CallID, offer SessionDescription, lifetimeMillis int64) InviteContent {
	return InviteContent{
		Version:  contentVersion,
		CallID:   callID,
		Lifetime: lifetimeMillis,
		Offer:    offer,
	}
}

// NewAnswerContent builds the content for an outbound answer.
func NewAnswerContent(callID ref.CallID, answer SessionDescription, lifetimeMillis int64) AnswerContent {
	return AnswerContent{
		Version:  contentVersion,
		CallID:   callID,
		Lifetime: lifetimeMillis,
		Answer:   answer,
	}
}

// NewCandidatesContent builds the content for an outbound candidates
// batch.
func NewCandidatesContent(callID ref.CallID, candidates []Candidate) CandidatesContent {
	return CandidatesContent{
		Version:    contentVersion,
		CallID:     callID,
		Candidates: candidates,
	}
}

// NewHangupContent builds the content for an outbound hangup. reason
// may be empty.
func NewHangupContent(callID ref.CallID, reason string) HangupContent {
	return HangupContent{
		Version: contentVersion,
		CallID:  callID,
		Reason:  reason,
	}
}

// NewEvent marshals content into an outbound Event destined for the
// given room. Sender identity is stamped by the delivery layer (the
// homeserver attributes sender and device; MemoryRoom mimics that).
func NewEvent(eventType string, content any, roomID ref.RoomID) (Event, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return Event{}, fmt.Errorf("signaling: encoding %s content: %w", eventType, err)
	}
	return Event{
		Type:    eventType,
		Content: raw,
		RoomID:  roomID,
	}, nil
}

// ContentCallID extracts just the call_id from any call event content.
// Used by the engine to route an event to the right call before the
// type-specific parse.
func ContentCallID(content json.RawMessage) (ref.CallID, error) {
	var envelope struct {
		CallID ref.CallID `json:"call_id"`
	}
	if err := json.Unmarshal(content, &envelope); err != nil {
		return ref.CallID{}, fmt.Errorf("signaling: decoding call_id: %w", err)
	}
	if envelope.CallID.IsZero() {
		return ref.CallID{}, fmt.Errorf("signaling: content has no call_id")
	}
	return envelope.CallID, nil
}

// DecodeInviteContent decodes invite content without validating the
// offer. Callers that must keep a call alive despite a defective
// offer (inference skipped, setup deferred) use this; everything else
// wants ParseInviteContent.
func DecodeInviteContent(content json.RawMessage) (InviteContent, error) {
	var invite InviteContent
	if err := json.Unmarshal(content, &invite); err != nil {
		return InviteContent{}, fmt.Errorf("signaling: decoding invite content: %w", err)
	}
	if invite.CallID.IsZero() {
		return InviteContent{}, fmt.Errorf("signaling: invite has no call_id")
	}
	return invite, nil
}

// ParseInviteContent decodes and validates invite content. The offer
// must have type "offer" and a non-empty SDP.
func ParseInviteContent(content json.RawMessage) (InviteContent, error) {
	var invite InviteContent
	if err := json.Unmarshal(content, &invite); err != nil {
		return InviteContent{}, fmt.Errorf("signaling: decoding invite content: %w", err)
	}
	if invite.CallID.IsZero() {
		return InviteContent{}, fmt.Errorf("signaling: invite has no call_id")
	}
	if invite.Offer.Type != "offer" {
		return InviteContent{}, fmt.Errorf("signaling: invite offer has type %q, want \"offer\"", invite.Offer.Type)
	}
	if invite.Offer.SDP == "" {
		return InviteContent{}, fmt.Errorf("signaling: invite offer has empty sdp")
	}
	return invite, nil
}

// ParseAnswerContent decodes and validates answer content. The answer
// must have type "answer" and a non-empty SDP.
func ParseAnswerContent(content json.RawMessage) (AnswerContent, error) {
	var answer AnswerContent
	if err := json.Unmarshal(content, &answer); err != nil {
		return AnswerContent{}, fmt.Errorf("signaling: decoding answer content: %w", err)
	}
	if answer.CallID.IsZero() {
		return AnswerContent{}, fmt.Errorf("signaling: answer has no call_id")
	}
	if answer.Answer.Type != "answer" {
		return AnswerContent{}, fmt.Errorf("signaling: answer has type %q, want \"answer\"", answer.Answer.Type)
	}
	if answer.Answer.SDP == "" {
		return AnswerContent{}, fmt.Errorf("signaling: answer has empty sdp")
	}
	return answer, nil
}

// ParseCandidatesContent decodes candidates content. A single
// malformed candidate is dropped without aborting the rest of the
// batch; the dropped count is returned so the caller can log it. An
// error is returned only when the content as a whole is unusable
// (undecodable or missing call_id).
func ParseCandidatesContent(content json.RawMessage) (CandidatesContent, int, error) {
	var envelope struct {
		Version    int               `json:"version"`
		CallID     ref.CallID        `json:"call_id"`
		Candidates []json.RawMessage `json:"candidates"`
	}
	if err := json.Unmarshal(content, &envelope); err != nil {
		return CandidatesContent{}, 0, fmt.Errorf("signaling: decoding candidates content: %w", err)
	}
	if envelope.CallID.IsZero() {
		return CandidatesContent{}, 0, fmt.Errorf("signaling: candidates content has no call_id")
	}

	parsed := CandidatesContent{
		Version: envelope.Version,
		CallID:  envelope.CallID,
	}
	dropped := 0
	for _, raw := range envelope.Candidates {
		var candidate Candidate
		if err := json.Unmarshal(raw, &candidate); err != nil {
			dropped++
			continue
		}
		if candidate.Candidate == "" || candidate.SDPMid == "" {
			dropped++
			continue
		}
		parsed.Candidates = append(parsed.Candidates, candidate)
	}
	return parsed, dropped, nil
}

// ParseHangupContent decodes hangup content.
func ParseHangupContent(content json.RawMessage) (HangupContent, error) {
	var hangup HangupContent
	if err := json.Unmarshal(content, &hangup); err != nil {
		return HangupContent{}, fmt.Errorf("signaling: decoding hangup content: %w", err)
	}
	if hangup.CallID.IsZero() {
		return HangupContent{}, fmt.Errorf("signaling: hangup has no call_id")
	}
	return hangup, nil
}
