// Copyright 2026 The Matrixmail Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/matrixmail/matrixmail/lib/ref"
	"github.com/matrixmail/matrixmail/messaging"
)

// defaultJoinTimeout bounds the wait for a join's membership event to
// appear in the /sync stream. Joins over federation can take a few
// round trips between homeservers, but a minute of silence means the
// confirmation is not coming.
const defaultJoinTimeout = time.Minute

// Destination is one delivery target from the command line: either a
// room ID ("!...") or a room alias ("#...") that must be resolved
// before use. Raw preserves the user's spelling for diagnostics.
type Destination struct {
	Raw    string
	RoomID ref.RoomID
	Alias  ref.RoomAlias
}

// ParseDestination classifies a command-line destination by sigil.
// Malformed identifiers fail here, before any network traffic.
func ParseDestination(raw string) (Destination, error) {
	if raw == "" {
		return Destination{}, fmt.Errorf("delivery: empty destination")
	}
	switch raw[0] {
	case '!':
		roomID, err := ref.ParseRoomID(raw)
		if err != nil {
			return Destination{}, fmt.Errorf("delivery: invalid destination %q: %w", raw, err)
		}
		return Destination{Raw: raw, RoomID: roomID}, nil
	case '#':
		alias, err := ref.ParseRoomAlias(raw)
		if err != nil {
			return Destination{}, fmt.Errorf("delivery: invalid destination %q: %w", raw, err)
		}
		return Destination{Raw: raw, Alias: alias}, nil
	default:
		return Destination{}, fmt.Errorf("delivery: destination %q is neither a room ID (!) nor an alias (#)", raw)
	}
}

// ParseDestinations parses every command-line destination up front so
// that a typo in the third argument is caught before the first
// message goes out.
func ParseDestinations(raw []string) ([]Destination, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("delivery: at least one destination is required")
	}
	destinations := make([]Destination, 0, len(raw))
	for _, r := range raw {
		destination, err := ParseDestination(strings.TrimSpace(r))
		if err != nil {
			return nil, err
		}
		destinations = append(destinations, destination)
	}
	return destinations, nil
}

// Deliverer sends one composed message to a sequence of destinations,
// joining rooms as needed and advancing the Syncer's checkpoint
// between them. The first failure aborts the remaining destinations.
type Deliverer struct {
	session     *messaging.Session
	syncer      *Syncer
	logger      *slog.Logger
	joinTimeout time.Duration
}

// NewDeliverer creates a Deliverer over an authenticated session and
// a bootstrapped Syncer. A nil logger uses slog.Default(); a zero
// joinTimeout uses the one-minute default.
func NewDeliverer(session *messaging.Session, syncer *Syncer, logger *slog.Logger, joinTimeout time.Duration) *Deliverer {
	if logger == nil {
		logger = slog.Default()
	}
	if joinTimeout <= 0 {
		joinTimeout = defaultJoinTimeout
	}
	return &Deliverer{
		session:     session,
		syncer:      syncer,
		logger:      logger,
		joinTimeout: joinTimeout,
	}
}

// DeliverAll sends the message to every destination in order. On the
// first failure the error names the destination and the remaining
// destinations are not attempted; the caller must not persist session
// state in that case.
func (d *Deliverer) DeliverAll(ctx context.Context, destinations []Destination, message string) error {
	for _, destination := range destinations {
		if err := d.deliver(ctx, destination, message); err != nil {
			return fmt.Errorf("delivering to %s: %w", destination.Raw, err)
		}

		// Refresh the view before the next destination so a room
		// joined out-of-band since bootstrap is seen as joined. The
		// last destination needs no refresh for itself, but the final
		// checkpoint still has to cover the events this invocation
		// produced, so refresh unconditionally.
		if err := d.syncer.Refresh(ctx); err != nil {
			return fmt.Errorf("after delivering to %s: %w", destination.Raw, err)
		}
	}
	return nil
}

// deliver handles one destination: resolve, ensure membership, send.
func (d *Deliverer) deliver(ctx context.Context, destination Destination, message string) error {
	roomID := destination.RoomID
	if roomID.IsZero() {
		resolved, err := d.session.ResolveAlias(ctx, destination.Alias)
		if err != nil {
			return fmt.Errorf("resolving alias: %w", err)
		}
		roomID = resolved
		d.logger.Debug("resolved destination alias",
			"alias", destination.Alias,
			"room_id", roomID,
		)
	}

	if !d.syncer.Joined(roomID) {
		if err := d.joinAndWait(ctx, roomID); err != nil {
			return fmt.Errorf("joining room: %w", err)
		}
	}

	eventID, err := d.session.SendMessage(ctx, roomID, messaging.NewTextMessage(message))
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}

	d.logger.Info("message delivered",
		"room_id", roomID,
		"event_id", eventID,
	)
	return nil
}

// joinAndWait joins a room and blocks until the account's own
// membership event arrives in the /sync stream, bounded by the join
// timeout. The watcher is created BEFORE the join request so the
// membership event cannot slip past between the join completing and
// the watch starting. Each call uses a fresh watcher; nothing about
// the wait survives into the next destination.
func (d *Deliverer) joinAndWait(ctx context.Context, roomID ref.RoomID) error {
	watcher, err := messaging.WatchRoom(ctx, d.session, roomID, &messaging.SyncFilter{
		StateTypes:      []string{"m.room.member"},
		ExcludeTimeline: true,
	})
	if err != nil {
		return fmt.Errorf("watching for join confirmation: %w", err)
	}

	joinedRoomID, err := d.session.JoinRoom(ctx, roomID)
	if err != nil {
		return err
	}

	ownUserID := d.session.UserID().String()
	waitCtx, cancel := context.WithTimeout(ctx, d.joinTimeout)
	defer cancel()

	_, err = watcher.WaitForEvent(waitCtx, func(event messaging.Event) bool {
		return event.Membership() == "join" &&
			event.StateKey != nil && *event.StateKey == ownUserID
	})
	if err != nil {
		if waitCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return &JoinTimeoutError{RoomID: joinedRoomID, Timeout: d.joinTimeout}
		}
		return fmt.Errorf("waiting for join confirmation: %w", err)
	}

	d.logger.Info("joined room", "room_id", joinedRoomID)
	return nil
}
