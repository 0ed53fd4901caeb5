// Copyright 2026 The Wirecall Authors
// SPDX-License-Identifier: Apache-2.0

// Package version exposes the build version string printed by the
// wirecall command-line binaries.
package version

// value is overridden at build time:
//
//	go build -ldflags "-X github.com/wirecall/wirecall/lib/version.value=v0.3.0"
var value = "development"

// Info returns the version string for this build.
func Info() string {
	return value
}
