// Copyright 2026 The Matrixmail Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the subset of the Matrix client-server API
// that matrixmail needs to deliver mail into rooms.
//
// The package provides two core types. [Client] is an unauthenticated
// Matrix client holding the homeserver URL and HTTP transport. It
// performs password login (with a requested device ID and initial
// device display name) and reconstructs authenticated sessions from a
// stored token pair without a network round trip.
//
// [Session] wraps a Client with an access token for authenticated
// operations: incremental /sync with inline JSON filters, room joins,
// plain-text message sends (idempotent PUT with transaction IDs),
// room alias resolution, profile display-name updates, and identity
// verification (WhoAmI). Tokens live in mmap-backed secret.Buffer
// memory; callers must Close the session to release them. When the
// homeserver rotates tokens (soft logout with a refresh token on
// file), the session refreshes once and retries the failed request —
// the rotated pair is what send mode persists afterwards.
//
// [RoomWatcher] captures a position in the /sync stream for one room
// before an action is triggered, then waits for a matching event.
// The delivery engine uses it to observe its own membership event
// after issuing a join, so a message is never sent into a room the
// server has not yet confirmed.
//
// All API errors are returned as [*MatrixError] with the standard
// Matrix error code (M_FORBIDDEN, M_UNKNOWN_TOKEN, etc.) and HTTP
// status code. [IsMatrixError] tests for a specific code. Request
// URLs are built by string concatenation rather than url.URL to avoid
// double-encoding of path segments such as room aliases.
package messaging
