// Copyright 2026 The Matrixmail Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/user"
	"strings"

	"golang.org/x/term"

	"github.com/matrixmail/matrixmail/lib/secret"
	"github.com/matrixmail/matrixmail/lib/sessionfile"
	"github.com/matrixmail/matrixmail/messaging"
)

// enrollment is everything collected from the user during setup.
// Password lives in locked memory; the caller closes it after login.
type enrollment struct {
	HomeserverURL string
	Username      string
	Password      *secret.Buffer
	DeviceName    string
	DisplayName   string
}

// prompter asks line-oriented questions with empty-line defaults.
// The password read is injected so tests can script it.
type prompter struct {
	input        *bufio.Reader
	output       io.Writer
	readPassword func() (*secret.Buffer, error)
}

// ask prints the label (with its default, when there is one) and
// returns the line the user typed, or the default on an empty line.
func (p *prompter) ask(label, defaultValue string) (string, error) {
	if defaultValue != "" {
		fmt.Fprintf(p.output, "%s (default: %s): ", label, defaultValue)
	} else {
		fmt.Fprintf(p.output, "%s: ", label)
	}

	line, err := p.input.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading input: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return defaultValue, nil
	}
	return line, nil
}

// ensureScheme prefixes https:// when the entered homeserver carries
// no scheme, so "matrix.org" and "https://matrix.org" mean the same
// thing. An explicit http:// is respected for local test servers.
func ensureScheme(homeserver string) string {
	if strings.HasPrefix(homeserver, "https://") || strings.HasPrefix(homeserver, "http://") {
		return homeserver
	}
	return "https://" + homeserver
}

// collectEnrollment runs the prompt sequence. hostname and username
// supply the device-name and display-name defaults; both are injected
// for tests.
func collectEnrollment(p *prompter, hostname func() (string, error), username func() string) (*enrollment, error) {
	homeserver, err := p.ask("Homeserver", "matrix.org")
	if err != nil {
		return nil, err
	}
	homeserver = ensureScheme(homeserver)

	account, err := p.ask("User", "")
	if err != nil {
		return nil, err
	}
	if account == "" {
		return nil, fmt.Errorf("a user is required")
	}

	password, err := p.readPassword()
	if err != nil {
		return nil, err
	}

	defaultDevice, hostErr := hostname()
	if hostErr != nil {
		defaultDevice = ""
	}
	deviceName, err := p.ask("Device name", defaultDevice)
	if err != nil {
		password.Close()
		return nil, err
	}

	defaultDisplay := username() + "@" + deviceName
	displayName, err := p.ask("Display name", defaultDisplay)
	if err != nil {
		password.Close()
		return nil, err
	}

	return &enrollment{
		HomeserverURL: homeserver,
		Username:      account,
		Password:      password,
		DeviceName:    deviceName,
		DisplayName:   displayName,
	}, nil
}

// readPasswordFromTerminal prompts for the password with echo
// disabled. The terminal state is restored by term.ReadPassword even
// when the read fails.
func readPasswordFromTerminal() (*secret.Buffer, error) {
	stdinFileDescriptor := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFileDescriptor) {
		return nil, fmt.Errorf("no terminal available for the password prompt")
	}

	fmt.Fprint(os.Stderr, "Password: ")
	passwordBytes, err := term.ReadPassword(stdinFileDescriptor)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}

	buffer, err := secret.NewFromBytes(passwordBytes)
	if err != nil {
		secret.Zero(passwordBytes)
		return nil, err
	}
	return buffer, nil
}

// currentUsername returns the login name for the display-name
// default, falling back to $USER when the user database is
// unavailable (static binaries, minimal containers).
func currentUsername() string {
	if current, err := user.Current(); err == nil && current.Username != "" {
		return current.Username
	}
	return os.Getenv("USER")
}

// runSetup enrolls this machine: prompt, discover, log in, persist.
// No session file is written unless every step succeeds.
func runSetup(ctx context.Context, logger *slog.Logger) error {
	path, err := sessionfile.DefaultPath()
	if err != nil {
		return err
	}

	p := &prompter{
		input:        bufio.NewReader(os.Stdin),
		output:       os.Stderr,
		readPassword: readPasswordFromTerminal,
	}
	enrolled, err := collectEnrollment(p, os.Hostname, currentUsername)
	if err != nil {
		return err
	}
	defer enrolled.Password.Close()

	// Follow the server's advertised client API base URL so the
	// stored session talks to the right host (matrix.org advertises
	// matrix-client.matrix.org, for example).
	effectiveURL := messaging.DiscoverHomeserverURL(ctx, nil, enrolled.HomeserverURL)

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: effectiveURL,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	session, err := client.Login(ctx, enrolled.Username, enrolled.Password, messaging.LoginOptions{
		DeviceID:                 enrolled.DeviceName,
		InitialDeviceDisplayName: enrolled.DisplayName,
	})
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	defer session.Close()

	// Profile display name is cosmetic — a failure here must not
	// discard a successful login.
	if err := session.SetDisplayName(ctx, enrolled.DisplayName); err != nil {
		logger.Warn("could not set profile display name", "error", err)
	}

	accessToken, refreshToken := session.Tokens()
	record := &sessionfile.Session{
		Homeserver:   effectiveURL,
		UserID:       session.UserID(),
		DeviceID:     session.DeviceID(),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}
	if err := sessionfile.Save(path, record); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Logged in as %s\n", session.UserID())
	fmt.Fprintf(os.Stderr, "Session saved to %s\n", path)
	return nil
}
