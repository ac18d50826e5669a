// Copyright 2026 The Matrixmail Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matrixmail/matrixmail/lib/ref"
	"github.com/matrixmail/matrixmail/lib/secret"
)

func TestNewClient(t *testing.T) {
	t.Run("valid URL", func(t *testing.T) {
		client, err := NewClient(ClientConfig{HomeserverURL: "https://matrix.org/"})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		if got := client.HomeserverURL(); got != "https://matrix.org" {
			t.Errorf("unexpected base URL: %s", got)
		}
	})

	t.Run("missing URL", func(t *testing.T) {
		if _, err := NewClient(ClientConfig{}); err == nil {
			t.Fatal("expected error for empty HomeserverURL")
		}
	})

	t.Run("bad scheme", func(t *testing.T) {
		if _, err := NewClient(ClientConfig{HomeserverURL: "ftp://matrix.org"}); err == nil {
			t.Fatal("expected error for non-HTTP scheme")
		}
	})
}

func TestLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/_matrix/client/v3/login" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}

		var body LoginRequest
		if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if body.Type != "m.login.password" {
			t.Errorf("unexpected login type: %s", body.Type)
		}
		if body.User != "alice" {
			t.Errorf("unexpected user: %s", body.User)
		}
		if body.Password != "hunter2" {
			t.Errorf("unexpected password: %s", body.Password)
		}
		if body.DeviceID != "LAPTOP" {
			t.Errorf("unexpected device ID: %s", body.DeviceID)
		}
		if body.InitialDeviceDisplayName != "alice@laptop" {
			t.Errorf("unexpected display name: %s", body.InitialDeviceDisplayName)
		}
		if !body.RefreshToken {
			t.Error("expected refresh_token: true in login request")
		}

		writeJSON(writer, AuthResponse{
			UserID:       ref.MustParseUserID("@alice:local"),
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			DeviceID:     "LAPTOP",
		})
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	password, err := secret.NewFromString("hunter2")
	if err != nil {
		t.Fatalf("creating password buffer: %v", err)
	}
	defer password.Close()

	session, err := client.Login(context.Background(), "alice", password, LoginOptions{
		DeviceID:                 "LAPTOP",
		InitialDeviceDisplayName: "alice@laptop",
	})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	defer session.Close()

	if got := session.UserID().String(); got != "@alice:local" {
		t.Errorf("unexpected user ID: %s", got)
	}
	if got := session.DeviceID(); got != "LAPTOP" {
		t.Errorf("unexpected device ID: %s", got)
	}
	access, refresh := session.Tokens()
	if access != "access-1" {
		t.Errorf("unexpected access token: %s", access)
	}
	if refresh != "refresh-1" {
		t.Errorf("unexpected refresh token: %s", refresh)
	}
}

func TestLoginEmptyPasswordReachesServer(t *testing.T) {
	// An empty password is not rejected client-side: it goes out in
	// the login request and the server applies its own policy.
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		var body LoginRequest
		if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if body.Password != "" {
			t.Errorf("password = %q, want empty", body.Password)
		}
		writeJSON(writer, AuthResponse{
			UserID:      ref.MustParseUserID("@alice:local"),
			AccessToken: "access-1",
			DeviceID:    "LAPTOP",
		})
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	password, err := secret.NewFromBytes(nil)
	if err != nil {
		t.Fatalf("creating empty password buffer: %v", err)
	}
	defer password.Close()

	session, err := client.Login(context.Background(), "alice", password, LoginOptions{})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	session.Close()
}

func TestLoginWithoutRefreshToken(t *testing.T) {
	// Servers without rotation support omit refresh_token from the
	// response. The session must carry an empty refresh token rather
	// than fail.
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writeJSON(writer, AuthResponse{
			UserID:      ref.MustParseUserID("@alice:local"),
			AccessToken: "access-1",
			DeviceID:    "LAPTOP",
		})
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	password, err := secret.NewFromString("hunter2")
	if err != nil {
		t.Fatalf("creating password buffer: %v", err)
	}
	defer password.Close()

	session, err := client.Login(context.Background(), "alice", password, LoginOptions{})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	defer session.Close()

	if _, refresh := session.Tokens(); refresh != "" {
		t.Errorf("expected empty refresh token, got %q", refresh)
	}
}

func TestLoginRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusForbidden)
		json.NewEncoder(writer).Encode(MatrixError{Code: ErrCodeForbidden, Message: "Invalid password"})
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	password, err := secret.NewFromString("wrong")
	if err != nil {
		t.Fatalf("creating password buffer: %v", err)
	}
	defer password.Close()

	_, err = client.Login(context.Background(), "alice", password, LoginOptions{})
	if err == nil {
		t.Fatal("expected error for rejected login")
	}
	if !IsMatrixError(err, ErrCodeForbidden) {
		t.Errorf("expected M_FORBIDDEN, got: %v", err)
	}
}

func TestSessionFromTokens(t *testing.T) {
	client, err := NewClient(ClientConfig{HomeserverURL: "https://matrix.org"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	t.Run("full pair", func(t *testing.T) {
		session, err := client.SessionFromTokens(ref.MustParseUserID("@alice:local"), "DEV1", "access-1", "refresh-1")
		if err != nil {
			t.Fatalf("SessionFromTokens failed: %v", err)
		}
		defer session.Close()

		access, refresh := session.Tokens()
		if access != "access-1" || refresh != "refresh-1" {
			t.Errorf("unexpected tokens: %q / %q", access, refresh)
		}
	})

	t.Run("no refresh token", func(t *testing.T) {
		session, err := client.SessionFromTokens(ref.MustParseUserID("@alice:local"), "DEV1", "access-1", "")
		if err != nil {
			t.Fatalf("SessionFromTokens failed: %v", err)
		}
		defer session.Close()

		if _, refresh := session.Tokens(); refresh != "" {
			t.Errorf("expected empty refresh token, got %q", refresh)
		}
	})

	t.Run("missing access token", func(t *testing.T) {
		if _, err := client.SessionFromTokens(ref.MustParseUserID("@alice:local"), "DEV1", "", ""); err == nil {
			t.Fatal("expected error for empty access token")
		}
	})

	t.Run("zero user ID", func(t *testing.T) {
		if _, err := client.SessionFromTokens(ref.UserID{}, "DEV1", "access-1", ""); err == nil {
			t.Fatal("expected error for zero user ID")
		}
	})
}

func TestDiscoverHomeserverURL(t *testing.T) {
	t.Run("well-known present", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if request.URL.Path != "/.well-known/matrix/client" {
				t.Errorf("unexpected path: %s", request.URL.Path)
			}
			writeJSON(writer, WellKnownResponse{
				Homeserver: WellKnownHomeserver{BaseURL: "https://synapse.example.org/"},
			})
		}))
		t.Cleanup(server.Close)

		got := DiscoverHomeserverURL(context.Background(), nil, server.URL)
		if got != "https://synapse.example.org" {
			t.Errorf("unexpected discovered URL: %s", got)
		}
	})

	t.Run("no well-known document", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
			http.Error(writer, "not found", http.StatusNotFound)
		}))
		t.Cleanup(server.Close)

		if got := DiscoverHomeserverURL(context.Background(), nil, server.URL); got != server.URL {
			t.Errorf("expected entered URL %s, got %s", server.URL, got)
		}
	})

	t.Run("malformed document", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
			writer.Write([]byte("<html>not json</html>"))
		}))
		t.Cleanup(server.Close)

		if got := DiscoverHomeserverURL(context.Background(), nil, server.URL); got != server.URL {
			t.Errorf("expected entered URL %s, got %s", server.URL, got)
		}
	})

	t.Run("unreachable server", func(t *testing.T) {
		entered := "http://127.0.0.1:1"
		if got := DiscoverHomeserverURL(context.Background(), nil, entered); got != entered {
			t.Errorf("expected entered URL %s, got %s", entered, got)
		}
	})
}
