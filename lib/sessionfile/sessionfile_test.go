// Copyright 2026 The Matrixmail Authors
// SPDX-License-Identifier: Apache-2.0

package sessionfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matrixmail/matrixmail/lib/ref"
)

func validSession() *Session {
	return &Session{
		Homeserver:   "https://matrix.example.org",
		UserID:       ref.MustParseUserID("@alice:example.org"),
		DeviceID:     "LAPTOP",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		SyncToken:    "s100",
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matrixmail", "login")
	saved := validSession()

	if err := Save(path, saved); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if *loaded != *saved {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", loaded, saved)
	}
}

func TestSaveOmitsAbsentOptionalFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "login")
	session := validSession()
	session.RefreshToken = ""
	session.SyncToken = ""

	if err := Save(path, session); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading saved file: %v", err)
	}
	if strings.Contains(string(data), "refresh_token") {
		t.Error("absent refresh_token must not appear on disk")
	}
	if strings.Contains(string(data), "sync_token") {
		t.Error("absent sync_token must not appear on disk")
	}
}

func TestSaveFileMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matrixmail", "login")
	if err := Save(path, validSession()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		t.Errorf("session file mode = %o, want 0600", mode)
	}

	directoryInfo, err := os.Stat(filepath.Dir(path))
	if err != nil {
		t.Fatalf("stat directory failed: %v", err)
	}
	if mode := directoryInfo.Mode().Perm(); mode != 0700 {
		t.Errorf("session directory mode = %o, want 0700", mode)
	}
}

func TestSaveReplacesPreviousContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "login")
	first := validSession()
	if err := Save(path, first); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}

	second := validSession()
	second.SyncToken = "s200"
	second.AccessToken = "access-2"
	if err := Save(path, second); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.SyncToken != "s200" || loaded.AccessToken != "access-2" {
		t.Errorf("old content survived the rewrite: %+v", loaded)
	}
}

func TestLoadCorruptSessions(t *testing.T) {
	directory := t.TempDir()

	writeFile := func(t *testing.T, name, content string) string {
		t.Helper()
		path := filepath.Join(directory, name)
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("writing fixture: %v", err)
		}
		return path
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(directory, "does-not-exist")},
		{"malformed JSON", writeFile(t, "garbage", "not json at all")},
		{"missing access token", writeFile(t, "no-token",
			`{"homeserver":"https://m.org","user_id":"@a:m.org","device_id":"D"}`)},
		{"missing homeserver", writeFile(t, "no-homeserver",
			`{"user_id":"@a:m.org","device_id":"D","access_token":"tok"}`)},
		{"invalid user ID", writeFile(t, "bad-user",
			`{"homeserver":"https://m.org","user_id":"alice","device_id":"D","access_token":"tok"}`)},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Load(test.path)
			if err == nil {
				t.Fatal("expected error")
			}
			var corrupt *CorruptSessionError
			if !errors.As(err, &corrupt) {
				t.Errorf("expected *CorruptSessionError, got %T: %v", err, err)
			}
		})
	}
}

func TestDefaultPath(t *testing.T) {
	t.Run("XDG_DATA_HOME set", func(t *testing.T) {
		t.Setenv("XDG_DATA_HOME", "/data")
		path, err := DefaultPath()
		if err != nil {
			t.Fatalf("DefaultPath failed: %v", err)
		}
		if path != filepath.Join("/data", "matrixmail", "login") {
			t.Errorf("unexpected path: %s", path)
		}
	})

	t.Run("fallback to ~/.local/share", func(t *testing.T) {
		t.Setenv("XDG_DATA_HOME", "")
		t.Setenv("HOME", "/home/alice")
		path, err := DefaultPath()
		if err != nil {
			t.Fatalf("DefaultPath failed: %v", err)
		}
		if path != filepath.Join("/home/alice", ".local", "share", "matrixmail", "login") {
			t.Errorf("unexpected path: %s", path)
		}
	})
}

func TestRestore(t *testing.T) {
	t.Run("valid record", func(t *testing.T) {
		session, err := Restore(validSession(), nil, nil)
		if err != nil {
			t.Fatalf("Restore failed: %v", err)
		}
		defer session.Close()

		if session.UserID().String() != "@alice:example.org" {
			t.Errorf("unexpected user ID: %s", session.UserID())
		}
		access, refresh := session.Tokens()
		if access != "access-1" || refresh != "refresh-1" {
			t.Errorf("unexpected tokens: %q / %q", access, refresh)
		}
	})

	t.Run("invalid record", func(t *testing.T) {
		record := validSession()
		record.AccessToken = ""
		_, err := Restore(record, nil, nil)
		if err == nil {
			t.Fatal("expected error")
		}
		var restoreErr *RestoreError
		if !errors.As(err, &restoreErr) {
			t.Errorf("expected *RestoreError, got %T: %v", err, err)
		}
	})

	t.Run("unparseable homeserver", func(t *testing.T) {
		record := validSession()
		record.Homeserver = "not a url"
		_, err := Restore(record, nil, nil)
		if err == nil {
			t.Fatal("expected error")
		}
		var restoreErr *RestoreError
		if !errors.As(err, &restoreErr) {
			t.Errorf("expected *RestoreError, got %T: %v", err, err)
		}
	})
}
