// Copyright 2026 The Wirecall Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated identifier types for the entities the
// signaling engine works with: Matrix-style user IDs, room IDs, device
// IDs, event IDs, and call IDs.
//
// Each type wraps a string validated at construction, so the rest of
// the codebase never passes raw strings where an identifier is meant.
// The zero value of every type is invalid; use IsZero to check.
// Identifiers come from the homeserver (or the local call engine, for
// CallID) and are parsed into these types at the boundary.
package ref
