// Copyright 2026 The Matrixmail Authors
// SPDX-License-Identifier: Apache-2.0

// matrixmail is a sendmail-style mail client for Matrix. Invoked as
// "mail" or "mailx" it reads a message from stdin and delivers it to
// the Matrix rooms named on the command line; invoked under any other
// name it runs interactive enrollment and stores the resulting
// session under the XDG data directory.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/term"

	"github.com/matrixmail/matrixmail/lib/sessionfile"
)

// Mode selects the program's behavior, resolved once from the name
// the binary was invoked under.
type Mode int

const (
	// ModeSetup runs interactive enrollment.
	ModeSetup Mode = iota
	// ModeSend delivers a message from stdin.
	ModeSend
)

// modeForProgramName maps the invoked name to a mode: "mail" and
// "mailx" send, anything else (typically "matrixmail") enrolls.
func modeForProgramName(name string) Mode {
	if name == "mail" || name == "mailx" {
		return ModeSend
	}
	return ModeSetup
}

// newLogger creates the process logger. When stderr is a terminal,
// text output for humans; when piped or redirected, JSON for
// machine consumption.
func newLogger() *slog.Logger {
	var handler slog.Handler
	options := &slog.HandlerOptions{Level: slog.LevelWarn}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}

func main() {
	// Owner-only permissions on everything created from here on. Must
	// run before any file I/O — the session file holds a live access
	// token.
	sessionfile.HardenFileCreation()

	logger := newLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch modeForProgramName(filepath.Base(os.Args[0])) {
	case ModeSend:
		err = runSend(ctx, logger, os.Args[1:])
	default:
		err = runSetup(ctx, logger)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "matrixmail: %v\n", err)
		os.Exit(1)
	}
}
