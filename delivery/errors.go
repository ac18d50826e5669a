// Copyright 2026 The Matrixmail Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"fmt"
	"time"

	"github.com/matrixmail/matrixmail/lib/ref"
)

// JoinTimeoutError indicates a join request was accepted by the
// homeserver but the membership event confirming it never arrived in
// the /sync stream within the wait bound. The room may still become
// joined later; the delivery for it did not happen.
type JoinTimeoutError struct {
	// RoomID is the room whose join confirmation timed out.
	RoomID ref.RoomID
	// Timeout is the wait bound that elapsed.
	Timeout time.Duration
}

func (e *JoinTimeoutError) Error() string {
	return fmt.Sprintf("delivery: join of %s not confirmed within %s", e.RoomID, e.Timeout)
}
