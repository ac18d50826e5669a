// Copyright 2026 The Matrixmail Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"errors"

	"github.com/matrixmail/matrixmail/messaging"
)

// isTransientError returns true for errors that are likely transient
// and worth retrying: connection failures, rate limiting (429), and
// server errors (5xx). Returns false for client errors (4xx except
// 429) which indicate a permanent problem — in particular
// M_UNKNOWN_TOKEN, which no amount of retrying fixes without a fresh
// enrollment.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	var matrixErr *messaging.MatrixError
	if errors.As(err, &matrixErr) {
		// 429 Too Many Requests — rate limit, transient.
		if matrixErr.StatusCode == 429 {
			return true
		}
		// 5xx — server error, transient.
		if matrixErr.StatusCode >= 500 {
			return true
		}
		// 4xx (except 429) — client error, permanent.
		if matrixErr.StatusCode >= 400 {
			return false
		}
	}

	// Non-Matrix errors (connection refused, timeout, EOF) are transient.
	return true
}
