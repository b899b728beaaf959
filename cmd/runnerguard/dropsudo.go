// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/runnerguard/cmd/runnerguard/cli"
	"github.com/bureau-foundation/runnerguard/lib/config"
	"github.com/bureau-foundation/runnerguard/lib/privilege"
	"github.com/bureau-foundation/runnerguard/lib/run"
)

func dropSudoCommand() *cli.Command {
	var (
		user       string
		group      string
		configPath string
		rootPhase  bool
	)

	return &cli.Command{
		Name:    "drop-sudo",
		Summary: "Revoke a runner account's passwordless sudo access",
		Description: `Revoke a runner account's passwordless administrative access.

The revocation runs in two phases. The caller phase verifies that
passwordless sudo works, re-invokes runnerguard under sudo with
--root-phase, and invalidates the sudo ticket afterwards. The root
phase removes the account from the elevation group and strips its
entries from /etc/sudoers.d and /etc/sudoers.`,
		Examples: []cli.Example{
			{
				Description: "Revoke the default runner account's sudo access",
				Command:     "runnerguard drop-sudo",
			},
			{
				Description: "Revoke a custom account from the wheel group",
				Command:     "runnerguard drop-sudo --user ci --group wheel",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("drop-sudo", pflag.ContinueOnError)
			flagSet.StringVar(&user, "user", "", `account to strip of elevated access (default "runner")`)
			flagSet.StringVar(&group, "group", "", `elevation group (default "sudo")`)
			flagSet.StringVar(&configPath, "config", "", "path to a runnerguard config file")
			flagSet.BoolVar(&rootPhase, "root-phase", false, "run the privileged root phase (set by the elevated re-invocation)")
			flagSet.MarkHidden("root-phase")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected arguments: %v", args)
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if user == "" {
				user = cfg.DropSudo.User
			}
			if group == "" {
				group = cfg.DropSudo.Group
			}

			revocation := &privilege.Revocation{
				User:   user,
				Group:  group,
				Runner: run.NewRunner(logger),
				Logger: logger,
			}
			if rootPhase {
				return revocation.RootPhase(ctx)
			}
			return revocation.CallerPhase(ctx)
		},
	}
}
