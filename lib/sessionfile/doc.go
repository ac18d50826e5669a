// Copyright 2026 The Matrixmail Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessionfile persists Matrix credentials between matrixmail
// invocations and restores live sessions from them.
//
// The on-disk record is a single JSON document holding the homeserver
// URL, user identity, device ID, token pair, and the last /sync
// checkpoint. It lives under the XDG data directory
// ($XDG_DATA_HOME/matrixmail/login, falling back to
// ~/.local/share/matrixmail/login) with owner-only permissions, since
// the access token is a full credential for the account.
//
// Failures are typed: *CorruptSessionError for unreadable or invalid
// stored state, *PersistenceError for write failures, *RestoreError
// when a loaded record cannot be turned back into a live session.
package sessionfile
