// Copyright 2026 The Matrixmail Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matrixmail/matrixmail/lib/ref"
	"github.com/matrixmail/matrixmail/lib/secret"
)

// Session is an authenticated Matrix session: a Client plus the token
// pair for one device. Tokens are stored in secret.Buffer memory
// (mmap-backed, locked against swap, excluded from core dumps). The
// caller must call Close when the Session is no longer needed.
//
// When the homeserver invalidates the access token with soft_logout
// and a refresh token is on file, the session transparently refreshes
// the pair once and retries the failed request. Send mode reads the
// possibly-rotated pair back out via Tokens before persisting.
type Session struct {
	client   *Client
	userID   ref.UserID
	deviceID string

	// tokenMu guards the token pair across the refresh-and-retry path.
	tokenMu      sync.Mutex
	accessToken  *secret.Buffer
	refreshToken *secret.Buffer

	// transactionCounter generates unique transaction IDs for idempotent sends.
	transactionCounter atomic.Int64
}

// UserID returns the fully-qualified Matrix user ID (e.g., "@alice:matrix.org").
func (s *Session) UserID() ref.UserID {
	return s.userID
}

// DeviceID returns the device ID for this session.
func (s *Session) DeviceID() string {
	return s.deviceID
}

// Tokens returns the current access and refresh tokens as heap
// strings. This creates brief copies from the mmap-backed buffers —
// use only at the persistence boundary. The refresh token is empty
// when the server does not support rotation.
func (s *Session) Tokens() (accessToken, refreshToken string) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()

	accessToken = s.accessToken.String()
	if s.refreshToken != nil {
		refreshToken = s.refreshToken.String()
	}
	return accessToken, refreshToken
}

// CloseIdleConnections closes idle HTTP connections in the underlying
// transport's connection pool. Call this after a sync error to force
// the next request to establish a fresh TCP connection.
func (s *Session) CloseIdleConnections() {
	s.client.CloseIdleConnections()
}

// Close releases the token memory (zeros, unlocks, unmaps).
// Idempotent — safe to call multiple times.
func (s *Session) Close() error {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()

	var firstError error
	if s.accessToken != nil {
		firstError = s.accessToken.Close()
	}
	if s.refreshToken != nil {
		if err := s.refreshToken.Close(); err != nil && firstError == nil {
			firstError = err
		}
	}
	return firstError
}

// WhoAmI validates the access token and returns the user ID.
// Useful for checking whether a stored token is still valid.
func (s *Session) WhoAmI(ctx context.Context) (ref.UserID, error) {
	body, err := s.doAuthed(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", nil)
	if err != nil {
		return ref.UserID{}, fmt.Errorf("messaging: whoami failed: %w", err)
	}

	var response WhoAmIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.UserID{}, fmt.Errorf("messaging: failed to parse whoami response: %w", err)
	}
	return response.UserID, nil
}

// JoinRoom issues a join request for a room by ID. Returns the room ID
// confirmed by the server. Membership confirmation may arrive only
// through a later /sync — use a RoomWatcher to wait for it.
func (s *Session) JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error) {
	path := "/_matrix/client/v3/join/" + url.PathEscape(roomID.String())
	body, err := s.doAuthed(ctx, http.MethodPost, path, struct{}{})
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: join room %s failed: %w", roomID, err)
	}

	var response struct {
		RoomID ref.RoomID `json:"room_id"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: failed to parse join response: %w", err)
	}
	return response.RoomID, nil
}

// SendMessage sends a message event to a room using Matrix's
// idempotent PUT with a transaction ID. Returns the event ID.
func (s *Session) SendMessage(ctx context.Context, roomID ref.RoomID, content MessageContent) (ref.EventID, error) {
	transactionID := s.nextTransactionID()
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/m.room.message/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(transactionID),
	)

	body, err := s.doAuthed(ctx, http.MethodPut, path, content)
	if err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: send message to %s failed: %w", roomID, err)
	}

	var response SendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: failed to parse send response: %w", err)
	}
	return response.EventID, nil
}

// Sync performs an incremental sync with the homeserver.
// For an initial sync, leave options.Since empty.
// For long-polling, set options.Timeout to the desired wait in milliseconds.
func (s *Session) Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if options.Since != "" {
		query.Set("since", options.Since)
	}
	if options.SetTimeout {
		query.Set("timeout", strconv.Itoa(options.Timeout))
	}
	if options.Filter != "" {
		query.Set("filter", options.Filter)
	}

	body, err := s.doAuthed(ctx, http.MethodGet, "/_matrix/client/v3/sync", nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: sync failed: %w", err)
	}

	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse sync response: %w", err)
	}
	return &response, nil
}

// ResolveAlias resolves a room alias (e.g., "#friends:matrix.org") to a room ID.
func (s *Session) ResolveAlias(ctx context.Context, alias ref.RoomAlias) (ref.RoomID, error) {
	path := "/_matrix/client/v3/directory/room/" + url.PathEscape(alias.String())
	body, err := s.doAuthed(ctx, http.MethodGet, path, nil)
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: resolve alias %s failed: %w", alias, err)
	}

	var response ResolveAliasResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: failed to parse resolve alias response: %w", err)
	}
	return response.RoomID, nil
}

// JoinedRooms returns the list of room IDs the user has joined.
func (s *Session) JoinedRooms(ctx context.Context) ([]ref.RoomID, error) {
	body, err := s.doAuthed(ctx, http.MethodGet, "/_matrix/client/v3/joined_rooms", nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: joined rooms failed: %w", err)
	}

	var response JoinedRoomsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse joined rooms response: %w", err)
	}
	return response.JoinedRooms, nil
}

// SetDisplayName updates the profile display name for the session's user.
func (s *Session) SetDisplayName(ctx context.Context, displayName string) error {
	path := "/_matrix/client/v3/profile/" + url.PathEscape(s.userID.String()) + "/displayname"
	_, err := s.doAuthed(ctx, http.MethodPut, path, DisplayNameRequest{DisplayName: displayName})
	if err != nil {
		return fmt.Errorf("messaging: set display name failed: %w", err)
	}
	return nil
}

// doAuthed performs an authenticated request, refreshing the token
// pair and retrying once when the server reports a soft logout and a
// refresh token is on file.
func (s *Session) doAuthed(ctx context.Context, method, path string, requestBody any, query ...url.Values) ([]byte, error) {
	body, err := s.client.doRequest(ctx, method, path, s.currentAccessToken(), requestBody, query...)
	if err == nil || !s.shouldRefresh(err) {
		return body, err
	}

	if refreshErr := s.refreshTokenPair(ctx); refreshErr != nil {
		// The original failure is the interesting one; the refresh
		// failure is attached for diagnosis.
		return nil, fmt.Errorf("%w (token refresh also failed: %v)", err, refreshErr)
	}

	return s.client.doRequest(ctx, method, path, s.currentAccessToken(), requestBody, query...)
}

// shouldRefresh reports whether err is a soft-logout token rejection
// that a stored refresh token can recover from.
func (s *Session) shouldRefresh(err error) bool {
	s.tokenMu.Lock()
	hasRefreshToken := s.refreshToken != nil
	s.tokenMu.Unlock()
	if !hasRefreshToken {
		return false
	}

	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		return false
	}
	return matrixErr.Code == ErrCodeUnknownToken && matrixErr.SoftLogout
}

// refreshTokenPair exchanges the refresh token for a new token pair
// via POST /_matrix/client/v3/refresh and installs it.
func (s *Session) refreshTokenPair(ctx context.Context) error {
	s.tokenMu.Lock()
	refreshRequest := RefreshRequest{RefreshToken: s.refreshToken.String()}
	s.tokenMu.Unlock()

	body, err := s.client.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/refresh", nil, refreshRequest)
	if err != nil {
		return fmt.Errorf("messaging: token refresh failed: %w", err)
	}

	var response RefreshResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return fmt.Errorf("messaging: failed to parse refresh response: %w", err)
	}
	if response.AccessToken == "" {
		return fmt.Errorf("messaging: refresh response missing access token")
	}

	newAccess, err := secret.NewFromString(response.AccessToken)
	if err != nil {
		return fmt.Errorf("messaging: protecting refreshed access token: %w", err)
	}
	var newRefresh *secret.Buffer
	if response.RefreshToken != "" {
		newRefresh, err = secret.NewFromString(response.RefreshToken)
		if err != nil {
			newAccess.Close()
			return fmt.Errorf("messaging: protecting refreshed refresh token: %w", err)
		}
	}

	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()

	s.accessToken.Close()
	s.accessToken = newAccess
	if newRefresh != nil {
		if s.refreshToken != nil {
			s.refreshToken.Close()
		}
		s.refreshToken = newRefresh
	}

	s.client.logger.Info("refreshed matrix token pair", "user_id", s.userID)
	return nil
}

// currentAccessToken returns the live access token buffer under the
// token mutex. The buffer itself is only read by doRequest while the
// session is alive, so handing out the pointer is safe.
func (s *Session) currentAccessToken() *secret.Buffer {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	return s.accessToken
}

// nextTransactionID generates a unique transaction ID for idempotent
// event sending. Format: "matrixmail-<timestamp_ms>-<counter>" to
// ensure uniqueness across restarts.
func (s *Session) nextTransactionID() string {
	counter := s.transactionCounter.Add(1)
	return fmt.Sprintf("matrixmail-%d-%d", time.Now().UnixMilli(), counter)
}
