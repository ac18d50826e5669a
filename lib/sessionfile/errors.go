// Copyright 2026 The Matrixmail Authors
// SPDX-License-Identifier: Apache-2.0

package sessionfile

import "fmt"

// CorruptSessionError indicates the stored session could not be read,
// parsed, or validated. Send mode treats this as fatal: the user must
// re-run enrollment to produce a fresh session file.
type CorruptSessionError struct {
	// Path is the session file that failed to load.
	Path string
	// Err is the underlying read, parse, or validation failure.
	Err error
}

func (e *CorruptSessionError) Error() string {
	return fmt.Sprintf("sessionfile: corrupt session at %s: %v (re-run setup to enroll again)", e.Path, e.Err)
}

func (e *CorruptSessionError) Unwrap() error { return e.Err }

// PersistenceError indicates the session could not be written to disk.
type PersistenceError struct {
	// Path is the session file that failed to write.
	Path string
	// Err is the underlying filesystem failure.
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("sessionfile: failed to persist session to %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// RestoreError indicates a loaded session record could not be turned
// back into a live Matrix session (for example, the stored homeserver
// URL no longer parses).
type RestoreError struct {
	// Err is the underlying failure.
	Err error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("sessionfile: failed to restore session: %v", e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }
