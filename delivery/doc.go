// Copyright 2026 The Matrixmail Authors
// SPDX-License-Identifier: Apache-2.0

// Package delivery implements the send pipeline: compose a message
// from subject and body, bootstrap a sync view of the account's
// joined rooms, then deliver to each destination in order — resolving
// aliases, joining rooms the account is not yet in, sending, and
// advancing the sync checkpoint between destinations.
//
// The Syncer owns the checkpoint token and the joined-room view; only
// tokens returned by successful syncs are ever recorded. The
// Deliverer drives the per-destination sequence and stops at the
// first failure, leaving the caller's stored session untouched.
package delivery
