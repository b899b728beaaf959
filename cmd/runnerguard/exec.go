// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/runnerguard/cmd/runnerguard/cli"
	"github.com/bureau-foundation/runnerguard/lib/config"
	"github.com/bureau-foundation/runnerguard/lib/launch"
	"github.com/bureau-foundation/runnerguard/lib/privilege"
	"github.com/bureau-foundation/runnerguard/lib/run"
)

func execCommand() *cli.Command {
	var (
		prompt           string
		promptFile       string
		workingDirectory string
		strategyToken    string
		runAsUser        string
		sandboxToken     string
		outputFile       string
		outputSchema     string
		outputSchemaFile string
		model            string
		codexHome        string
		extraArgs        string
		agentBinary      string
		configPath       string
	)

	return &cli.Command{
		Name:    "exec",
		Summary: "Run the agent under a safety strategy",
		Description: `Run the Codex agent with bounded privilege.

The safety strategy decides how much ambient privilege the agent
retains: drop-sudo revokes the runner account's passwordless sudo
before the agent starts, unprivileged-user runs the agent as a
separate account, read-only forces a read-only sandbox, and unsafe
runs with the caller's full privilege.

The agent's final message is printed to stdout; its diagnostics
stream to stderr while it runs.`,
		Examples: []cli.Example{
			{
				Description: "Run a prompt with sudo access revoked first",
				Command:     `runnerguard exec --prompt "fix the failing test"`,
			},
			{
				Description: "Run as a dedicated low-privilege account",
				Command:     `runnerguard exec --prompt-file task.md --safety-strategy unprivileged-user --run-as-user codex`,
			},
			{
				Description: "Structured output into an explicit file",
				Command:     `runnerguard exec --prompt "summarize" --output-schema-file schema.json --output-file result.md`,
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("exec", pflag.ContinueOnError)
			flagSet.StringVar(&prompt, "prompt", "", "inline prompt text (mutually exclusive with --prompt-file)")
			flagSet.StringVar(&promptFile, "prompt-file", "", "file containing the prompt")
			flagSet.StringVar(&workingDirectory, "cd", ".", "working directory for the agent")
			flagSet.StringVar(&strategyToken, "safety-strategy", string(privilege.StrategyDropSudo),
				"safety strategy: drop-sudo, unprivileged-user, read-only, or unsafe")
			flagSet.StringVar(&runAsUser, "run-as-user", "", "account to impersonate (required with unprivileged-user)")
			flagSet.StringVar(&sandboxToken, "sandbox", "", "sandbox mode: read-only, workspace-write, or danger-full-access")
			flagSet.StringVar(&outputFile, "output-file", "", "write the final message to this path instead of a temporary file")
			flagSet.StringVar(&outputSchema, "output-schema", "", "inline JSON schema for the final message")
			flagSet.StringVar(&outputSchemaFile, "output-schema-file", "", "file containing the output schema")
			flagSet.StringVar(&model, "model", "", "model override for the agent")
			flagSet.StringVar(&codexHome, "codex-home", "", "configuration home directory for the agent")
			flagSet.StringVar(&extraArgs, "extra-args", "", "pass-through agent arguments (JSON array or shell-style string)")
			flagSet.StringVar(&agentBinary, "agent-binary", "", `agent executable (default "codex")`)
			flagSet.StringVar(&configPath, "config", "", "path to a runnerguard config file")
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
			// Flags win; the config file fills blanks.
			if agentBinary == "" {
				agentBinary = cfg.AgentBinary
			}
			if codexHome == "" {
				codexHome = cfg.CodexHome
			}
			if model == "" {
				model = cfg.Model
			}
			if sandboxToken == "" {
				sandboxToken = cfg.SandboxMode
			}
			if sandboxToken == "" {
				sandboxToken = string(launch.SandboxWorkspaceWrite)
			}

			strategy, err := privilege.ParseStrategy(strategyToken)
			if err != nil {
				return err
			}
			if err := strategy.Validate(); err != nil {
				return err
			}
			mode, err := launch.ParseSandboxMode(sandboxToken)
			if err != nil {
				return err
			}

			runner := run.NewRunner(logger)

			// The drop-sudo strategy revokes access to completion
			// before the agent is invoked.
			if strategy == privilege.StrategyDropSudo {
				revocation := &privilege.Revocation{
					User:   cfg.DropSudo.User,
					Group:  cfg.DropSudo.Group,
					Runner: runner,
					Logger: logger,
				}
				if err := revocation.CallerPhase(ctx); err != nil {
					return err
				}
			}

			launcher := &launch.Launcher{Runner: runner, Logger: logger}
			message, err := launcher.Execute(ctx, launch.Request{
				Prompt:           prompt,
				PromptFile:       promptFile,
				WorkingDirectory: workingDirectory,
				Strategy:         strategy,
				RunAsUser:        runAsUser,
				SandboxMode:      mode,
				OutputFile:       outputFile,
				OutputSchema:     outputSchema,
				OutputSchemaFile: outputSchemaFile,
				Model:            model,
				CodexHome:        codexHome,
				ExtraArgs:        extraArgs,
				AgentBinary:      agentBinary,
			})
			if err != nil {
				var agentErr *launch.AgentError
				if errors.As(err, &agentErr) && agentErr.ExitCode > 0 {
					// The agent's diagnostics already streamed to
					// stderr; propagate its exit code.
					fmt.Fprintf(os.Stderr, "error: %v\n", agentErr)
					return &cli.ExitError{Code: agentErr.ExitCode}
				}
				return err
			}

			fmt.Print(message)
			if !strings.HasSuffix(message, "\n") {
				fmt.Println()
			}
			return nil
		},
	}
}
