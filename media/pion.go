// Copyright 2026 The Wirecall Authors
// SPDX-License-Identifier: Apache-2.0

package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/wirecall/wirecall/signaling"
)

// Compile-time interface check.
var _ Transport = (*PionTransport)(nil)

// PionConfig configures a PionTransport.
type PionConfig struct {
	// ICE is the STUN/TURN server configuration for this connection.
	ICE ICEConfig
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// PionTransport implements Transport on a pion/webrtc PeerConnection
// with trickle ICE.
type PionTransport struct {
	connection *webrtc.PeerConnection
	events     Events
	logger     *slog.Logger

	mu sync.Mutex
	// remoteSet records that the remote description has been applied;
	// until then remote candidates are buffered in pending.
	remoteSet bool
	pending   []signaling.Candidate
	closed    bool
}

// NewPionTransport creates the peer connection and registers its state
// handlers. No media is captured and no candidates gather until
// EstablishLocalMedia or SetRemoteDescription runs.
func NewPionTransport(config PionConfig, events Events) (*PionTransport, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	connection, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: config.ICE.Servers,
	})
	if err != nil {
		return nil, fmt.Errorf("media: creating PeerConnection: %w", err)
	}

	transport := &PionTransport{
		connection: connection,
		events:     events,
		logger:     logger,
	}

	connection.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			// End of gathering. Trickle ICE has already shipped
			// everything.
			return
		}
		if events.LocalCandidate == nil {
			return
		}
		init := candidate.ToJSON()
		converted := signaling.Candidate{Candidate: init.Candidate}
		if init.SDPMid != nil {
			converted.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			converted.SDPMLineIndex = int(*init.SDPMLineIndex)
		}
		events.LocalCandidate(converted)
	})

	connection.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("peer connection state changed", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateConnected:
			if events.Connected != nil {
				events.Connected()
			}
		case webrtc.PeerConnectionStateFailed:
			if events.Failed != nil {
				events.Failed(fmt.Errorf("media: peer connection failed"))
			}
		}
	})

	return transport, nil
}

// EstablishLocalMedia attaches audio (and optionally video)
// transceivers and produces the local description: an offer when no
// remote description has been applied yet, an answer otherwise.
func (t *PionTransport) EstablishLocalMedia(_ context.Context, video bool) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("media: transport is closed")
	}
	answering := t.remoteSet
	t.mu.Unlock()

	kinds := []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio}
	if video {
		kinds = append(kinds, webrtc.RTPCodecTypeVideo)
	}
	for _, kind := range kinds {
		_, err := t.connection.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		})
		if err != nil {
			return fmt.Errorf("media: adding %s transceiver: %w", kind, err)
		}
	}

	var description webrtc.SessionDescription
	var err error
	if answering {
		description, err = t.connection.CreateAnswer(nil)
	} else {
		description, err = t.connection.CreateOffer(nil)
	}
	if err != nil {
		return fmt.Errorf("media: creating local description: %w", err)
	}
	if err := t.connection.SetLocalDescription(description); err != nil {
		return fmt.Errorf("media: setting local description: %w", err)
	}

	if t.events.LocalDescription != nil {
		t.events.LocalDescription(signaling.SessionDescription{
			Type: description.Type.String(),
			SDP:  description.SDP,
		})
	}
	return nil
}

// SetRemoteDescription applies the peer's description and flushes any
// candidates buffered before it arrived.
func (t *PionTransport) SetRemoteDescription(_ context.Context, description signaling.SessionDescription) error {
	sdpType := webrtc.NewSDPType(description.Type)
	if sdpType == webrtc.SDPTypeUnknown {
		return fmt.Errorf("media: unknown SDP type %q", description.Type)
	}

	err := t.connection.SetRemoteDescription(webrtc.SessionDescription{
		Type: sdpType,
		SDP:  description.SDP,
	})
	if err != nil {
		return fmt.Errorf("media: setting remote description: %w", err)
	}

	t.mu.Lock()
	t.remoteSet = true
	buffered := t.pending
	t.pending = nil
	t.mu.Unlock()

	for _, candidate := range buffered {
		if err := t.addCandidate(candidate); err != nil {
			t.logger.Warn("adding buffered remote candidate failed", "error", err)
		}
	}

	if t.events.RemotePrepared != nil {
		t.events.RemotePrepared()
	}
	return nil
}

// AddICECandidates feeds remote candidates to the connection,
// buffering them while the remote description is not yet applied. A
// candidate pion rejects is logged and skipped; the rest of the batch
// still goes through.
func (t *PionTransport) AddICECandidates(_ context.Context, candidates []signaling.Candidate) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("media: transport is closed")
	}
	if !t.remoteSet {
		t.pending = append(t.pending, candidates...)
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	for _, candidate := range candidates {
		if err := t.addCandidate(candidate); err != nil {
			t.logger.Warn("adding remote candidate failed", "error", err)
		}
	}
	return nil
}

func (t *PionTransport) addCandidate(candidate signaling.Candidate) error {
	mid := candidate.SDPMid
	lineIndex := uint16(candidate.SDPMLineIndex)
	return t.connection.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &lineIndex,
	})
}

// Close releases the peer connection. Events stop firing after Close
// returns.
func (t *PionTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.connection.Close()
}

// NewPionFactory returns a Factory producing PionTransports with the
// given configuration. The engine calls it once per call.
func NewPionFactory(config PionConfig) Factory {
	return func(events Events) (Transport, error) {
		return NewPionTransport(config, events)
	}
}
