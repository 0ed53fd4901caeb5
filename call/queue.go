// Copyright 2026 The Wirecall Authors
// SPDX-License-Identifier: Apache-2.0

package call

import (
	"context"
	"log/slog"
	"sync"

	"github.com/wirecall/wirecall/lib/ref"
	"github.com/wirecall/wirecall/signaling"
)

// pendingQueue serializes one call's outbound signaling events. A
// single drain goroutine sends strictly FIFO, so the room never
// observes two in-flight events for the same call and an invite is
// always on the wire before any candidates that follow it.
//
// Consecutive candidate batches merge: enqueueing candidates while
// the queue tail is a not-yet-sent candidates event extends the
// tail's list in place instead of appending a new event. This bounds
// candidates traffic to roughly one event per negotiation burst. An
// event already handed to the sender is no longer the tail and is
// never mutated.
type pendingQueue struct {
	callID   ref.CallID
	roomID   ref.RoomID
	delivery signaling.Delivery
	logger   *slog.Logger

	// sent reports each completed send attempt. Invoked from the
	// drain goroutine, outside the queue lock.
	sent func(eventType string, err error)

	mu       sync.Mutex
	events   []*outboundEvent
	draining bool
	closed   bool

	// idle is closed each time the drain goroutine stops and
	// replaced when a new one starts; Idle exposes it so tests can
	// observe quiescence.
	idle chan struct{}
}

// outboundEvent is one queued control event. Candidates are kept as a
// slice until send time so tail merges are cheap; content for other
// event types is prebuilt.
type outboundEvent struct {
	eventType  string
	content    any
	candidates []signaling.Candidate
}

func newPendingQueue(callID ref.CallID, roomID ref.RoomID, delivery signaling.Delivery, logger *slog.Logger, sent func(eventType string, err error)) *pendingQueue {
	idle := make(chan struct{})
	close(idle)
	return &pendingQueue{
		callID:   callID,
		roomID:   roomID,
		delivery: delivery,
		logger:   logger,
		sent:     sent,
		idle:     idle,
	}
}

// EnqueueInvite appends an invite event.
func (q *pendingQueue) EnqueueInvite(content signaling.InviteContent) {
	q.append(&outboundEvent{eventType: signaling.EventTypeInvite, content: content})
}

// EnqueueAnswer appends an answer event.
func (q *pendingQueue) EnqueueAnswer(content signaling.AnswerContent) {
	q.append(&outboundEvent{eventType: signaling.EventTypeAnswer, content: content})
}

// EnqueueHangup appends a hangup event. Accepted even after Close so
// the terminal hangup still goes out.
func (q *pendingQueue) EnqueueHangup(content signaling.HangupContent) {
	q.mu.Lock()
	q.events = append(q.events, &outboundEvent{eventType: signaling.EventTypeHangup, content: content})
	q.startDrainLocked()
	q.mu.Unlock()
}

// EnqueueCandidates appends candidates, merging into the tail when
// the tail is itself an unsent candidates event.
func (q *pendingQueue) EnqueueCandidates(candidates []signaling.Candidate) {
	if len(candidates) == 0 {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if tail := q.tailLocked(); tail != nil && tail.eventType == signaling.EventTypeCandidates {
		tail.candidates = append(tail.candidates, candidates...)
		q.mu.Unlock()
		return
	}
	q.events = append(q.events, &outboundEvent{
		eventType:  signaling.EventTypeCandidates,
		candidates: append([]signaling.Candidate(nil), candidates...),
	})
	q.startDrainLocked()
	q.mu.Unlock()
}

// Close stops accepting non-hangup events. Already-queued events
// still drain.
func (q *pendingQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Idle returns a channel that is closed once the current drain
// goroutine has gone quiet. Test helper.
func (q *pendingQueue) Idle() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.idle
}

func (q *pendingQueue) append(event *outboundEvent) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.events = append(q.events, event)
	q.startDrainLocked()
	q.mu.Unlock()
}

func (q *pendingQueue) tailLocked() *outboundEvent {
	if len(q.events) == 0 {
		return nil
	}
	return q.events[len(q.events)-1]
}

func (q *pendingQueue) startDrainLocked() {
	if q.draining {
		return
	}
	q.draining = true
	q.idle = make(chan struct{})
	go q.drain(q.idle)
}

// drain pops and sends events until the queue is empty. Exactly one
// drain goroutine runs at a time. A failed send is logged and
// reported through the sent callback; the drain moves on (no retry
// here; retry policy belongs to the delivery implementation).
func (q *pendingQueue) drain(idle chan struct{}) {
	defer close(idle)
	for {
		q.mu.Lock()
		if len(q.events) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		head := q.events[0]
		q.events = q.events[1:]
		q.mu.Unlock()

		err := q.send(head)
		if err != nil {
			q.logger.Warn("sending call event failed",
				"call_id", q.callID,
				"event_type", head.eventType,
				"error", err,
			)
		}
		if q.sent != nil {
			q.sent(head.eventType, err)
		}
	}
}

func (q *pendingQueue) send(outbound *outboundEvent) error {
	content := outbound.content
	if outbound.eventType == signaling.EventTypeCandidates {
		content = signaling.NewCandidatesContent(q.callID, outbound.candidates)
	}
	event, err := signaling.NewEvent(outbound.eventType, content, q.roomID)
	if err != nil {
		return err
	}
	_, err = q.delivery.Send(context.Background(), event)
	return err
}
