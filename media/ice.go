// Copyright 2026 The Wirecall Authors
// SPDX-License-Identifier: Apache-2.0

package media

import (
	"github.com/pion/webrtc/v4"

	"github.com/wirecall/wirecall/signaling"
)

// ICEConfig holds ICE server configuration for WebRTC PeerConnections.
// Callers refresh it periodically from the homeserver TURN credential
// endpoint to keep HMAC credentials valid.
type ICEConfig struct {
	// Servers is the list of ICE servers (STUN + TURN) to use during
	// candidate gathering. Order matters: pion tries them in sequence.
	Servers []webrtc.ICEServer
}

// StaticICEServer builds a webrtc.ICEServer from statically configured
// values. Username and password are empty for plain STUN servers.
func StaticICEServer(urls []string, username, password string) webrtc.ICEServer {
	server := webrtc.ICEServer{URLs: urls}
	if username != "" {
		server.Username = username
		server.Credential = password
	}
	return server
}

// ICEConfigFromTURN converts homeserver TURN credentials into an
// ICEConfig suitable for pion/webrtc. When turn is nil (homeserver has
// no TURN configured), returns a config with only host candidates (no
// STUN, no TURN) — sufficient for same-machine and same-LAN calls.
func ICEConfigFromTURN(turn *signaling.TURNCredentials) ICEConfig {
	if turn == nil || len(turn.URIs) == 0 {
		return ICEConfig{}
	}
	return ICEConfig{
		Servers: []webrtc.ICEServer{
			{
				URLs:       turn.URIs,
				Username:   turn.Username,
				Credential: turn.Password,
			},
		},
	}
}
