// Copyright 2026 The Wirecall Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wirecall.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

const validConfig = `
homeserver:
  url: https://matrix.example.org
  access_token: syt_secret
  user_id: "@alice:example.org"
  device_id: PHONE

call:
  invite_timeout: 90s
`

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Call.InviteTimeout != "2m" {
		t.Errorf("expected invite_timeout=2m, got %s", cfg.Call.InviteTimeout)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected level=info, got %s", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("expected format=text, got %s", cfg.Logging.Format)
	}
}

func TestLoad_RequiresWirecallConfig(t *testing.T) {
	t.Setenv("WIRECALL_CONFIG", "")
	os.Unsetenv("WIRECALL_CONFIG")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when WIRECALL_CONFIG not set, got nil")
	}
	if !strings.Contains(err.Error(), "WIRECALL_CONFIG") {
		t.Errorf("expected error to mention WIRECALL_CONFIG, got %q", err.Error())
	}
}

func TestLoad_WithWirecallConfig(t *testing.T) {
	path := writeConfig(t, validConfig)
	t.Setenv("WIRECALL_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Homeserver.URL != "https://matrix.example.org" {
		t.Errorf("expected homeserver url, got %s", cfg.Homeserver.URL)
	}
	if cfg.Call.InviteTimeout != "90s" {
		t.Errorf("expected invite_timeout=90s, got %s", cfg.Call.InviteTimeout)
	}
}

func TestLoadFile_DefaultsSurviveMerge(t *testing.T) {
	// A file that says nothing about logging keeps the defaults.
	path := writeConfig(t, validConfig)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default level=info, got %s", cfg.Logging.Level)
	}

	timeout, err := cfg.InviteTimeout()
	if err != nil {
		t.Fatalf("InviteTimeout() failed: %v", err)
	}
	if timeout != 90*time.Second {
		t.Errorf("expected 90s, got %s", timeout)
	}
}

func TestLoadFile_ExpandsTokenFileVars(t *testing.T) {
	t.Setenv("CREDS_DIR", "/etc/wirecall")
	path := writeConfig(t, `
homeserver:
  url: https://matrix.example.org
  access_token_file: ${CREDS_DIR}/token
  user_id: "@alice:example.org"
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if cfg.Homeserver.AccessTokenFile != "/etc/wirecall/token" {
		t.Errorf("expected expanded token file path, got %s", cfg.Homeserver.AccessTokenFile)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing url",
			mutate:  func(c *Config) { c.Homeserver.URL = "" },
			wantErr: "homeserver.url is required",
		},
		{
			name:    "malformed url",
			mutate:  func(c *Config) { c.Homeserver.URL = "not a url" },
			wantErr: "not a valid URL",
		},
		{
			name:    "missing token",
			mutate:  func(c *Config) { c.Homeserver.AccessToken = "" },
			wantErr: "access_token",
		},
		{
			name: "both token forms",
			mutate: func(c *Config) {
				c.Homeserver.AccessTokenFile = "/etc/wirecall/token"
			},
			wantErr: "mutually exclusive",
		},
		{
			name:    "bad user id",
			mutate:  func(c *Config) { c.Homeserver.UserID = "alice" },
			wantErr: "homeserver.user_id",
		},
		{
			name:    "negative timeout",
			mutate:  func(c *Config) { c.Call.InviteTimeout = "-5s" },
			wantErr: "must be positive",
		},
		{
			name:    "unparseable timeout",
			mutate:  func(c *Config) { c.Call.InviteTimeout = "soon" },
			wantErr: "call.invite_timeout",
		},
		{
			name: "ice server without urls",
			mutate: func(c *Config) {
				c.ICE.Servers = []ICEServerConfig{{Username: "u"}}
			},
			wantErr: "urls is required",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFile(writeConfig(t, validConfig))
			if err != nil {
				t.Fatalf("LoadFile() failed: %v", err)
			}
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() failed: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestResolveAccessToken(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}

	token, err := cfg.ResolveAccessToken()
	if err != nil {
		t.Fatalf("ResolveAccessToken() failed: %v", err)
	}
	if token != "syt_secret" {
		t.Errorf("expected inline token, got %q", token)
	}

	tokenPath := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenPath, []byte("syt_from_file\n"), 0600); err != nil {
		t.Fatalf("failed to write token file: %v", err)
	}
	cfg.Homeserver.AccessToken = ""
	cfg.Homeserver.AccessTokenFile = tokenPath

	token, err = cfg.ResolveAccessToken()
	if err != nil {
		t.Fatalf("ResolveAccessToken() failed: %v", err)
	}
	if token != "syt_from_file" {
		t.Errorf("expected trimmed file token, got %q", token)
	}

	cfg.Homeserver.AccessTokenFile = filepath.Join(t.TempDir(), "missing")
	if _, err := cfg.ResolveAccessToken(); err == nil {
		t.Error("expected error for missing token file")
	}
}
