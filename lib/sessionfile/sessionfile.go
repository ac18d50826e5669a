// Copyright 2026 The Matrixmail Authors
// SPDX-License-Identifier: Apache-2.0

package sessionfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/matrixmail/matrixmail/lib/ref"
)

// Session is the persisted credential record, one per enrollment.
// RefreshToken and SyncToken are optional: a server without token
// rotation never issues a refresh token, and SyncToken is empty until
// the first successful delivery records a checkpoint. Absent optional
// fields stay absent on disk.
type Session struct {
	// Homeserver is the effective client-server base URL, after
	// well-known discovery (e.g., "https://matrix-client.matrix.org").
	Homeserver string `json:"homeserver"`

	// UserID is the fully-qualified Matrix user ID.
	UserID ref.UserID `json:"user_id"`

	// DeviceID identifies this enrollment's device on the account.
	DeviceID string `json:"device_id"`

	// AccessToken authenticates requests. A full credential — the
	// session file must stay owner-only.
	AccessToken string `json:"access_token"`

	// RefreshToken revives the session after a soft logout. Empty when
	// the server does not support rotation.
	RefreshToken string `json:"refresh_token,omitempty"`

	// SyncToken is the last recorded /sync checkpoint. Empty before
	// the first delivery.
	SyncToken string `json:"sync_token,omitempty"`
}

// Validate checks the fields required to authenticate. SyncToken and
// RefreshToken are legitimately absent, everything else is not.
func (s *Session) Validate() error {
	if s.Homeserver == "" {
		return fmt.Errorf("session has no homeserver")
	}
	if s.UserID.IsZero() {
		return fmt.Errorf("session has no user_id")
	}
	if s.DeviceID == "" {
		return fmt.Errorf("session has no device_id")
	}
	if s.AccessToken == "" {
		return fmt.Errorf("session has no access_token")
	}
	return nil
}

// DefaultPath returns the session file location:
// $XDG_DATA_HOME/matrixmail/login, or ~/.local/share/matrixmail/login
// when XDG_DATA_HOME is unset.
func DefaultPath() (string, error) {
	dataDirectory := os.Getenv("XDG_DATA_HOME")
	if dataDirectory == "" {
		homeDirectory, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("sessionfile: cannot determine home directory: %w", err)
		}
		dataDirectory = filepath.Join(homeDirectory, ".local", "share")
	}
	return filepath.Join(dataDirectory, "matrixmail", "login"), nil
}

// HardenFileCreation sets the process umask to 0o077 so every file and
// directory created afterwards is owner-only regardless of mode bits
// passed at the call sites. main calls this once before any file I/O.
func HardenFileCreation() {
	unix.Umask(0o077)
}

// Load reads and validates a session record from path. Any failure —
// missing file, unreadable file, malformed JSON, missing required
// fields — is a *CorruptSessionError; send mode has no way to proceed
// without a valid enrollment.
func Load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &CorruptSessionError{Path: path, Err: err}
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, &CorruptSessionError{Path: path, Err: fmt.Errorf("parsing session: %w", err)}
	}
	if err := session.Validate(); err != nil {
		return nil, &CorruptSessionError{Path: path, Err: err}
	}

	return &session, nil
}

// Save writes the session record to path, replacing any previous
// content. The parent directory is created with mode 0700 and the
// file written with mode 0600 — the access token is a full account
// credential. Failures are *PersistenceError.
func Save(path string, session *Session) error {
	if err := session.Validate(); err != nil {
		return &PersistenceError{Path: path, Err: err}
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return &PersistenceError{Path: path, Err: fmt.Errorf("marshaling session: %w", err)}
	}
	data = append(data, '\n')

	directory := filepath.Dir(path)
	if err := os.MkdirAll(directory, 0700); err != nil {
		return &PersistenceError{Path: path, Err: fmt.Errorf("creating session directory %s: %w", directory, err)}
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return &PersistenceError{Path: path, Err: err}
	}

	return nil
}
