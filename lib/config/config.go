// Copyright 2026 The Wirecall Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Wirecall commands.
//
// Configuration is loaded from a single file specified by:
//   - WIRECALL_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wirecall/wirecall/lib/ref"
)

// Config is the master configuration for Wirecall.
type Config struct {
	// Homeserver configures the Matrix connection.
	Homeserver HomeserverConfig `yaml:"homeserver"`

	// Call configures call behavior.
	Call CallConfig `yaml:"call"`

	// ICE configures static ICE servers. When empty, the homeserver's
	// TURN credentials are used if it offers any.
	ICE ICEConfig `yaml:"ice"`

	// Logging configures the slog handler.
	Logging LoggingConfig `yaml:"logging"`
}

// HomeserverConfig configures the Matrix connection.
type HomeserverConfig struct {
	// URL is the homeserver base URL, e.g. https://matrix.example.org.
	URL string `yaml:"url"`

	// AccessToken authenticates every request. Exactly one of
	// AccessToken and AccessTokenFile must be set; the file form keeps
	// the token out of the config file.
	AccessToken     string `yaml:"access_token"`
	AccessTokenFile string `yaml:"access_token_file"`

	// UserID is the full Matrix user ID, e.g. @alice:example.org.
	UserID string `yaml:"user_id"`

	// DeviceID identifies this device's session. Used to tell our own
	// signaling echoes apart from another device of the same account.
	DeviceID string `yaml:"device_id"`
}

// CallConfig configures call behavior.
type CallConfig struct {
	// InviteTimeout is how long an outgoing invite rings before the
	// call is abandoned. Also stamped into the invite as its lifetime.
	// Default: 2m
	InviteTimeout string `yaml:"invite_timeout"`
}

// ICEConfig configures static ICE servers.
type ICEConfig struct {
	Servers []ICEServerConfig `yaml:"servers"`
}

// ICEServerConfig is one STUN or TURN server entry.
type ICEServerConfig struct {
	URLs     []string `yaml:"urls"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Default: info
	Level string `yaml:"level"`

	// Format is "text" or "json". Default: text
	Format string `yaml:"format"`
}

// Default returns the default configuration. These defaults are a base
// before loading the config file, not a fallback - the config file is
// required.
func Default() *Config {
	return &Config{
		Call: CallConfig{
			InviteTimeout: "2m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the WIRECALL_CONFIG environment
// variable. There are no fallbacks - if WIRECALL_CONFIG is not set,
// this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("WIRECALL_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("WIRECALL_CONFIG environment variable not set; " +
			"set it to the path of your wirecall.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values. The only expansion performed is
// ${HOME} and similar variables in paths for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.Homeserver.AccessTokenFile = expandVars(cfg.Homeserver.AccessTokenFile)
	return cfg, nil
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Homeserver.URL == "" {
		errs = append(errs, fmt.Errorf("homeserver.url is required"))
	} else if u, err := url.Parse(c.Homeserver.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("homeserver.url is not a valid URL: %q", c.Homeserver.URL))
	}

	if c.Homeserver.AccessToken == "" && c.Homeserver.AccessTokenFile == "" {
		errs = append(errs, fmt.Errorf("one of homeserver.access_token or homeserver.access_token_file is required"))
	}
	if c.Homeserver.AccessToken != "" && c.Homeserver.AccessTokenFile != "" {
		errs = append(errs, fmt.Errorf("homeserver.access_token and homeserver.access_token_file are mutually exclusive"))
	}

	if c.Homeserver.UserID == "" {
		errs = append(errs, fmt.Errorf("homeserver.user_id is required"))
	} else if _, err := ref.ParseUserID(c.Homeserver.UserID); err != nil {
		errs = append(errs, fmt.Errorf("homeserver.user_id: %w", err))
	}

	if c.Homeserver.DeviceID != "" {
		if _, err := ref.ParseDeviceID(c.Homeserver.DeviceID); err != nil {
			errs = append(errs, fmt.Errorf("homeserver.device_id: %w", err))
		}
	}

	if c.Call.InviteTimeout != "" {
		if d, err := time.ParseDuration(c.Call.InviteTimeout); err != nil {
			errs = append(errs, fmt.Errorf("call.invite_timeout: %w", err))
		} else if d <= 0 {
			errs = append(errs, fmt.Errorf("call.invite_timeout must be positive, got %s", d))
		}
	}

	for i, server := range c.ICE.Servers {
		if len(server.URLs) == 0 {
			errs = append(errs, fmt.Errorf("ice.servers[%d]: urls is required", i))
		}
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json; got %q", c.Logging.Format))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ResolveAccessToken returns the access token, reading and trimming
// the token file when that form is configured.
func (c *Config) ResolveAccessToken() (string, error) {
	if c.Homeserver.AccessToken != "" {
		return c.Homeserver.AccessToken, nil
	}
	if c.Homeserver.AccessTokenFile == "" {
		return "", fmt.Errorf("no access token configured")
	}
	data, err := os.ReadFile(c.Homeserver.AccessTokenFile)
	if err != nil {
		return "", fmt.Errorf("reading access token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("access token file %s is empty", c.Homeserver.AccessTokenFile)
	}
	return token, nil
}

// InviteTimeout parses the configured invite timeout. Zero means the
// engine's default applies.
func (c *Config) InviteTimeout() (time.Duration, error) {
	if c.Call.InviteTimeout == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Call.InviteTimeout)
}
