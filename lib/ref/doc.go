// Copyright 2026 The Matrixmail Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated Matrix identifier types for matrixmail.
//
// Destinations on the command line, user IDs returned by login, and
// room IDs appearing in /sync responses are all parsed into these
// types at the boundary. Code past the boundary never handles raw
// identifier strings, so a malformed destination fails before any
// network activity.
//
// All types are immutable value types. The zero value is never valid;
// use IsZero to check. RoomID and UserID implement
// encoding.TextMarshaler/TextUnmarshaler so they can serve as JSON map
// keys (the /sync rooms section) and round-trip through the session
// file.
package ref
