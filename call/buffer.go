// Copyright 2026 The Wirecall Authors
// SPDX-License-Identifier: Apache-2.0

package call

import (
	"sync"

	"github.com/wirecall/wirecall/signaling"
)

// candidateBuffer holds remote ICE candidates that arrive before an
// incoming call has applied the offer that gives them meaning. Once
// prepared, candidates bypass the buffer entirely.
//
// The flush is swap-then-forward: Prepare marks the buffer ready and
// swaps the held slice out under the lock, and the caller forwards
// the returned candidates outside it. A concurrent Add during the
// flush sees the prepared flag and forwards directly, so no candidate
// is lost and none is delivered twice.
type candidateBuffer struct {
	mu       sync.Mutex
	prepared bool
	pending  []signaling.Candidate
}

// Add records candidates for later delivery, or reports that the
// caller should forward them to the transport now (buffer already
// prepared).
func (b *candidateBuffer) Add(candidates []signaling.Candidate) (forward bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.prepared {
		return true
	}
	b.pending = append(b.pending, candidates...)
	return false
}

// Prepare marks the buffer ready and returns everything buffered so
// far, exactly once. Subsequent calls return nil.
func (b *candidateBuffer) Prepare() []signaling.Candidate {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.prepared {
		return nil
	}
	b.prepared = true
	buffered := b.pending
	b.pending = nil
	return buffered
}
