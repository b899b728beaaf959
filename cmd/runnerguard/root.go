// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/runnerguard/cmd/runnerguard/cli"
	"github.com/bureau-foundation/runnerguard/lib/version"
)

// rootCommand builds the complete runnerguard command tree. Both
// phases of the drop-sudo protocol dispatch through this table: the
// elevated re-invocation runs "drop-sudo --root-phase", so the root
// phase is an ordinary command a test harness can call directly.
func rootCommand() *cli.Command {
	return &cli.Command{
		Name: "runnerguard",
		Description: `runnerguard: privilege hardening for CI agent runs.

Revokes a runner account's passwordless administrative access and
executes the Codex agent under a safety strategy that bounds the
privilege available to it.`,
		Subcommands: []*cli.Command{
			execCommand(),
			dropSudoCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, _ []string, _ *slog.Logger) error {
					fmt.Printf("runnerguard %s\n", version.Full())
					return nil
				},
			},
		},
	}
}
