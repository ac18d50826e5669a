// Copyright 2026 The Matrixmail Authors
// SPDX-License-Identifier: Apache-2.0

package sessionfile

import (
	"log/slog"
	"net/http"

	"github.com/matrixmail/matrixmail/messaging"
)

// Restore turns a stored session record into a live authenticated
// messaging.Session without any network round trip — an expired or
// revoked token surfaces as a request failure on first use (or is
// transparently refreshed when the server soft-logged-out a session
// that still has a refresh token). The caller must Close the returned
// session; failures are *RestoreError.
func Restore(record *Session, httpClient *http.Client, logger *slog.Logger) (*messaging.Session, error) {
	if err := record.Validate(); err != nil {
		return nil, &RestoreError{Err: err}
	}

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: record.Homeserver,
		HTTPClient:    httpClient,
		Logger:        logger,
	})
	if err != nil {
		return nil, &RestoreError{Err: err}
	}

	session, err := client.SessionFromTokens(record.UserID, record.DeviceID, record.AccessToken, record.RefreshToken)
	if err != nil {
		return nil, &RestoreError{Err: err}
	}
	return session, nil
}
