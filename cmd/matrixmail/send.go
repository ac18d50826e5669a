// Copyright 2026 The Matrixmail Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/matrixmail/matrixmail/delivery"
	"github.com/matrixmail/matrixmail/lib/sessionfile"
)

// parseSendArgs parses the mailx-compatible send surface: -s for the
// subject, every positional argument a destination. There is no help
// output — unknown flags are errors, as mailx callers (cron, scripts)
// expect.
func parseSendArgs(args []string) (subject string, destinations []delivery.Destination, err error) {
	flags := pflag.NewFlagSet("mail", pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.StringVarP(&subject, "subject", "s", "", "message subject")

	if err := flags.Parse(args); err != nil {
		return "", nil, err
	}

	destinations, err = delivery.ParseDestinations(flags.Args())
	if err != nil {
		return "", nil, err
	}
	return subject, destinations, nil
}

// runSend delivers one message to every destination. The stored
// session is rewritten only after every destination succeeded, so a
// failed invocation leaves the previous state untouched.
func runSend(ctx context.Context, logger *slog.Logger, args []string) error {
	subject, destinations, err := parseSendArgs(args)
	if err != nil {
		return err
	}

	body, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("reading message body: %w", err)
	}
	message := delivery.ComposeMessage(subject, string(body))

	path, err := sessionfile.DefaultPath()
	if err != nil {
		return err
	}
	record, err := sessionfile.Load(path)
	if err != nil {
		return err
	}

	session, err := sessionfile.Restore(record, nil, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	syncer := delivery.NewSyncer(session, record.SyncToken, nil, logger)
	if err := syncer.Bootstrap(ctx); err != nil {
		return err
	}

	deliverer := delivery.NewDeliverer(session, syncer, logger, 0)
	if err := deliverer.DeliverAll(ctx, destinations, message); err != nil {
		return err
	}

	// Tokens may have rotated during delivery; the checkpoint moved
	// with every refresh. Persist the lot in one rewrite.
	record.AccessToken, record.RefreshToken = session.Tokens()
	record.SyncToken = syncer.Checkpoint()
	return sessionfile.Save(path, record)
}
