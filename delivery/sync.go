// Copyright 2026 The Matrixmail Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/matrixmail/matrixmail/lib/clock"
	"github.com/matrixmail/matrixmail/lib/ref"
	"github.com/matrixmail/matrixmail/messaging"
)

// bootstrapMaxAttempts bounds the initial sync retry loop. Five
// attempts with exponential backoff covers a homeserver restart or a
// brief network outage; beyond that the invocation fails rather than
// sitting silently in a retry loop.
const bootstrapMaxAttempts = 5

// bootstrapBackoffCap is the ceiling for the exponential backoff
// between bootstrap attempts (1s, 2s, 4s, 8s, capped at 30s).
const bootstrapBackoffCap = 30 * time.Second

// Syncer owns the /sync checkpoint token and the joined-room view for
// one send invocation. Only tokens returned by successful syncs are
// recorded, so the checkpoint advances monotonically along the
// server's stream; callers never synthesize tokens.
//
// Syncer is not safe for concurrent use. The send pipeline is
// strictly sequential, so it never needs to be.
type Syncer struct {
	session *messaging.Session
	clock   clock.Clock
	logger  *slog.Logger

	checkpoint string
	joined     map[ref.RoomID]struct{}
	filter     string
}

// NewSyncer creates a Syncer starting from a stored checkpoint token.
// Pass an empty checkpoint on first run; the initial sync then starts
// from scratch. A nil clk uses the real clock, a nil logger uses
// slog.Default().
func NewSyncer(session *messaging.Session, checkpoint string, clk clock.Clock, logger *slog.Logger) *Syncer {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		session:    session,
		clock:      clk,
		logger:     logger,
		checkpoint: checkpoint,
		joined:     make(map[ref.RoomID]struct{}),
		filter:     lazyLoadFilter(),
	}
}

// lazyLoadFilter builds the inline /sync filter used by all syncs:
// lazy member loading so accounts in large rooms don't pay for full
// member lists, presence and account data suppressed entirely.
func lazyLoadFilter() string {
	filter := map[string]any{
		"room": map[string]any{
			"state":    map[string]any{"lazy_load_members": true},
			"timeline": map[string]any{"lazy_load_members": true},
		},
		"presence":     map[string]any{"types": []string{}},
		"account_data": map[string]any{"types": []string{}},
	}
	data, _ := json.Marshal(filter)
	return string(data)
}

// Checkpoint returns the latest token recorded from a successful
// sync, or the stored token the Syncer started from when no sync has
// succeeded yet.
func (s *Syncer) Checkpoint() string {
	return s.checkpoint
}

// Joined reports whether the account was in the room as of the last
// successful sync.
func (s *Syncer) Joined(roomID ref.RoomID) bool {
	_, ok := s.joined[roomID]
	return ok
}

// Bootstrap establishes the initial sync position and joined-room
// view. Transient failures (connection errors, 429, 5xx) are retried
// with exponential backoff up to bootstrapMaxAttempts; permanent
// protocol errors fail immediately. The context bounds the total
// time including backoff sleeps.
func (s *Syncer) Bootstrap(ctx context.Context) error {
	var lastError error
	for attempt := 0; attempt < bootstrapMaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := min(time.Duration(1<<(attempt-1))*time.Second, bootstrapBackoffCap)
			select {
			case <-ctx.Done():
				return fmt.Errorf("delivery: bootstrap sync cancelled: %w", ctx.Err())
			case <-s.clock.After(backoff):
			}
		}

		err := s.bootstrapOnce(ctx)
		if err == nil {
			return nil
		}
		lastError = err

		if !isTransientError(err) {
			return fmt.Errorf("delivery: bootstrap sync failed: %w", err)
		}

		// A poisoned pooled connection would make every retry fail the
		// same way; start the next attempt on a fresh socket.
		s.session.CloseIdleConnections()
		s.logger.Warn("transient bootstrap sync failure, retrying",
			"attempt", attempt+1,
			"max_attempts", bootstrapMaxAttempts,
			"error", err,
		)
	}
	return fmt.Errorf("delivery: bootstrap sync failed after %d attempts: %w", bootstrapMaxAttempts, lastError)
}

// Refresh performs exactly one incremental sync from the current
// checkpoint, advancing the checkpoint and joined view. Failures
// propagate without retry — between destinations a failed refresh
// aborts the invocation rather than risking a stale view.
func (s *Syncer) Refresh(ctx context.Context) error {
	if err := s.syncOnce(ctx); err != nil {
		return fmt.Errorf("delivery: sync refresh failed: %w", err)
	}
	return nil
}

// bootstrapOnce performs one sync and seeds the joined view from
// /joined_rooms. The seeding matters when resuming from a stored
// checkpoint: an incremental sync only reports rooms with new
// activity, so quiet rooms the account is in would otherwise look
// unjoined and trigger a redundant join whose confirmation event
// never arrives.
func (s *Syncer) bootstrapOnce(ctx context.Context) error {
	if err := s.syncOnce(ctx); err != nil {
		return err
	}

	rooms, err := s.session.JoinedRooms(ctx)
	if err != nil {
		return err
	}
	for _, roomID := range rooms {
		s.joined[roomID] = struct{}{}
	}
	return nil
}

func (s *Syncer) syncOnce(ctx context.Context) error {
	response, err := s.session.Sync(ctx, messaging.SyncOptions{
		Since:      s.checkpoint,
		SetTimeout: true,
		Timeout:    0,
		Filter:     s.filter,
	})
	if err != nil {
		return err
	}

	s.checkpoint = response.NextBatch
	for roomID := range response.Rooms.Join {
		s.joined[roomID] = struct{}{}
	}
	for roomID := range response.Rooms.Leave {
		delete(s.joined, roomID)
	}

	s.logger.Debug("sync checkpoint advanced",
		"checkpoint", s.checkpoint,
		"joined_rooms", len(s.joined),
	)
	return nil
}
