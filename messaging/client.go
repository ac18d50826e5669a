// Copyright 2026 The Matrixmail Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/matrixmail/matrixmail/lib/netutil"
	"github.com/matrixmail/matrixmail/lib/ref"
	"github.com/matrixmail/matrixmail/lib/secret"
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// HomeserverURL is the base URL of the Matrix homeserver
	// (e.g., "https://matrix.org").
	HomeserverURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is an unauthenticated Matrix client.
// It holds the homeserver URL and HTTP transport shared by Sessions.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new unauthenticated Matrix client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("messaging: HomeserverURL is required")
	}

	// Validate the URL structure. We store the string form (with
	// trailing slash stripped) and build request URLs by direct
	// concatenation. This avoids double-encoding issues with Go's
	// url.URL.String(), which re-encodes Path even when RawPath is set
	// if it doesn't consider RawPath a valid encoding of Path.
	parsed, err := url.Parse(config.HomeserverURL)
	if err != nil {
		return nil, fmt.Errorf("messaging: invalid HomeserverURL %q: %w", config.HomeserverURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("messaging: HomeserverURL %q must use http or https", config.HomeserverURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.HomeserverURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// HomeserverURL returns the effective base URL of the homeserver this
// client talks to. After well-known discovery this may differ from the
// URL the user entered; the session file records this value.
func (c *Client) HomeserverURL() string {
	return c.baseURL
}

// CloseIdleConnections closes idle HTTP connections in the underlying
// transport's connection pool. Call this after a network disruption to
// force subsequent requests to establish fresh TCP connections instead
// of reusing a poisoned pooled connection.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// DiscoverHomeserverURL performs .well-known client discovery against
// the entered homeserver URL and returns the advertised base URL. When
// the server publishes no well-known document (404, network error, or
// a malformed payload), the entered URL is returned unchanged — the
// subsequent login surfaces any real reachability problem.
func DiscoverHomeserverURL(ctx context.Context, httpClient *http.Client, enteredURL string) string {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	requestURL := strings.TrimRight(enteredURL, "/") + "/.well-known/matrix/client"
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return enteredURL
	}

	response, err := httpClient.Do(request)
	if err != nil {
		return enteredURL
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return enteredURL
	}

	var wellKnown WellKnownResponse
	if err := netutil.DecodeResponse(response.Body, &wellKnown); err != nil {
		return enteredURL
	}
	discovered := strings.TrimRight(wellKnown.Homeserver.BaseURL, "/")
	if discovered == "" {
		return enteredURL
	}
	if _, err := url.Parse(discovered); err != nil {
		return enteredURL
	}
	return discovered
}

// LoginOptions carries the device identity requested during password
// login. DeviceID asks the server to register the session under a
// caller-chosen device; InitialDeviceDisplayName labels it for other
// clients' device lists.
type LoginOptions struct {
	DeviceID                 string
	InitialDeviceDisplayName string
}

// Login authenticates with username and password, returning a Session.
// The password Buffer is read but not closed — the caller retains
// ownership. An empty password is sent as-is; whether to accept it is
// the server's call. Refresh tokens are requested; servers that do not
// support rotation simply omit them from the response.
func (c *Client) Login(ctx context.Context, username string, password *secret.Buffer, options LoginOptions) (*Session, error) {
	if username == "" {
		return nil, fmt.Errorf("messaging: username is required for login")
	}
	if password == nil {
		return nil, fmt.Errorf("messaging: password is required for login")
	}

	// Password is converted to string at the JSON serialization boundary.
	loginRequest := LoginRequest{
		Type:                     "m.login.password",
		User:                     username,
		Password:                 password.String(),
		DeviceID:                 options.DeviceID,
		InitialDeviceDisplayName: options.InitialDeviceDisplayName,
		RefreshToken:             true,
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/login", nil, loginRequest)
	if err != nil {
		return nil, fmt.Errorf("messaging: login failed: %w", err)
	}

	var authResponse AuthResponse
	if err := json.Unmarshal(body, &authResponse); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse login response: %w", err)
	}

	c.logger.Info("logged in to matrix",
		"user_id", authResponse.UserID,
		"device_id", authResponse.DeviceID,
	)

	return c.sessionFromAuth(&authResponse)
}

// SessionFromTokens reconstructs an authenticated Session from a
// stored token pair and identity. No network round trip is made — an
// invalid token surfaces as a regular request failure on first use.
// refreshToken may be empty for servers without rotation support.
//
// The tokens are moved into mmap-backed memory (locked against swap,
// excluded from core dumps). The caller must call Close on the
// returned Session when done.
func (c *Client) SessionFromTokens(userID ref.UserID, deviceID, accessToken, refreshToken string) (*Session, error) {
	if userID.IsZero() {
		return nil, fmt.Errorf("messaging: user ID is required to restore a session")
	}
	if accessToken == "" {
		return nil, fmt.Errorf("messaging: access token is required to restore a session")
	}

	accessBuffer, err := secret.NewFromString(accessToken)
	if err != nil {
		return nil, fmt.Errorf("messaging: protecting access token: %w", err)
	}

	var refreshBuffer *secret.Buffer
	if refreshToken != "" {
		refreshBuffer, err = secret.NewFromString(refreshToken)
		if err != nil {
			accessBuffer.Close()
			return nil, fmt.Errorf("messaging: protecting refresh token: %w", err)
		}
	}

	return &Session{
		client:       c,
		accessToken:  accessBuffer,
		refreshToken: refreshBuffer,
		userID:       userID,
		deviceID:     deviceID,
	}, nil
}

func (c *Client) sessionFromAuth(auth *AuthResponse) (*Session, error) {
	if auth.AccessToken == "" {
		return nil, fmt.Errorf("messaging: login response carried no access token")
	}

	accessBuffer, err := secret.NewFromString(auth.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("messaging: protecting access token: %w", err)
	}

	var refreshBuffer *secret.Buffer
	if auth.RefreshToken != "" {
		refreshBuffer, err = secret.NewFromString(auth.RefreshToken)
		if err != nil {
			accessBuffer.Close()
			return nil, fmt.Errorf("messaging: protecting refresh token: %w", err)
		}
	}

	return &Session{
		client:       c,
		accessToken:  accessBuffer,
		refreshToken: refreshBuffer,
		userID:       auth.UserID,
		deviceID:     auth.DeviceID,
	}, nil
}

// doRequest performs an HTTP request to the homeserver and returns the
// response body. On 2xx, returns the body. On 4xx/5xx, returns the body
// alongside a *MatrixError. accessToken may be nil for unauthenticated
// endpoints. query may be omitted for endpoints without parameters.
func (c *Client) doRequest(ctx context.Context, method, path string, accessToken *secret.Buffer, requestBody any, query ...url.Values) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 && query[0] != nil {
		requestURL += "?" + query[0].Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("messaging: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to create request: %w", err)
	}

	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if accessToken != nil {
		request.Header.Set("Authorization", "Bearer "+accessToken.String())
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("messaging: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	// All Matrix error responses use the same JSON shape.
	var matrixErr MatrixError
	if jsonErr := json.Unmarshal(responseBody, &matrixErr); jsonErr != nil {
		// Server returned non-JSON error. This should not happen with a
		// spec-compliant server, but fail loud with the raw body.
		return nil, fmt.Errorf("messaging: unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, string(responseBody))
	}
	matrixErr.StatusCode = response.StatusCode

	return responseBody, &matrixErr
}
