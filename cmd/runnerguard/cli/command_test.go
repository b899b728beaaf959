// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	var called string

	root := &Command{
		Name: "runnerguard",
		Subcommands: []*Command{
			{
				Name: "version",
				Run: func(_ context.Context, args []string, _ *slog.Logger) error {
					called = "version"
					return nil
				},
			},
			{
				Name: "drop-sudo",
				Run: func(_ context.Context, args []string, _ *slog.Logger) error {
					called = "drop-sudo"
					return nil
				},
			},
		},
	}

	if err := root.Execute(context.Background(), []string{"drop-sudo"}, testLogger()); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "drop-sudo" {
		t.Errorf("dispatched to %q, want %q", called, "drop-sudo")
	}
}

func TestCommand_Execute_PassesContextAndArgs(t *testing.T) {
	type contextKey struct{}
	var receivedArgs []string
	var receivedValue any

	root := &Command{
		Name: "runnerguard",
		Subcommands: []*Command{
			{
				Name: "exec",
				Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
					receivedArgs = args
					receivedValue = ctx.Value(contextKey{})
					return nil
				},
			},
		},
	}

	ctx := context.WithValue(context.Background(), contextKey{}, "threaded")
	if err := root.Execute(ctx, []string{"exec", "extra-arg"}, testLogger()); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if len(receivedArgs) != 1 || receivedArgs[0] != "extra-arg" {
		t.Errorf("args = %v, want [extra-arg]", receivedArgs)
	}
	if receivedValue != "threaded" {
		t.Errorf("context value = %v, want it threaded through dispatch", receivedValue)
	}
}

func TestCommand_Execute_FlagParsing(t *testing.T) {
	var user string
	var target string

	command := &Command{
		Name: "drop-sudo",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("drop-sudo", pflag.ContinueOnError)
			flagSet.StringVar(&user, "user", "runner", "account to strip")
			return flagSet
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 0 {
				target = args[0]
			}
			return nil
		},
	}

	if err := command.Execute(context.Background(), []string{"--user", "ci", "positional"}, testLogger()); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if user != "ci" {
		t.Errorf("user = %q, want %q", user, "ci")
	}
	if target != "positional" {
		t.Errorf("target = %q, want %q", target, "positional")
	}
}

func TestCommand_Execute_UnknownFlagSuggestion(t *testing.T) {
	command := &Command{
		Name: "drop-sudo",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("drop-sudo", pflag.ContinueOnError)
			flagSet.Bool("root-phase", false, "run the root phase")
			flagSet.String("group", "sudo", "elevation group")
			return flagSet
		},
		Run: func(_ context.Context, _ []string, _ *slog.Logger) error { return nil },
	}

	err := command.Execute(context.Background(), []string{"--gropu"}, testLogger())
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "did you mean --group") {
		t.Errorf("error = %q, want suggestion for '--group'", errStr)
	}
	if !strings.Contains(errStr, "gropu") {
		t.Errorf("error = %q, should mention the bad flag", errStr)
	}
	if !strings.Contains(errStr, "--help") {
		t.Errorf("error = %q, should point to --help", errStr)
	}
}

func TestCommand_Execute_UnknownFlagNoSuggestion(t *testing.T) {
	command := &Command{
		Name: "exec",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("exec", pflag.ContinueOnError)
			flagSet.String("prompt", "", "inline prompt")
			return flagSet
		},
		Run: func(_ context.Context, _ []string, _ *slog.Logger) error { return nil },
	}

	err := command.Execute(context.Background(), []string{"--zzzzzzzzz"}, testLogger())
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	if strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %q, should not suggest for distant flag", err.Error())
	}
	if !strings.Contains(err.Error(), "--help") {
		t.Errorf("error = %q, should point to --help", err.Error())
	}
}

func TestCommand_Execute_UnknownSubcommandSuggestion(t *testing.T) {
	root := &Command{
		Name: "runnerguard",
		Subcommands: []*Command{
			{Name: "exec"},
			{Name: "drop-sudo"},
			{Name: "version"},
		},
	}

	err := root.Execute(context.Background(), []string{"drop-sduo"}, testLogger())
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown subcommand")
	}
	if !strings.Contains(err.Error(), "did you mean \"drop-sudo\"") {
		t.Errorf("error = %q, want suggestion for 'drop-sudo'", err.Error())
	}
}

func TestCommand_Execute_HelpFlag(t *testing.T) {
	for _, helpArg := range []string{"-h", "--help", "help"} {
		t.Run(helpArg, func(t *testing.T) {
			root := &Command{
				Name:    "runnerguard",
				Summary: "Privilege hardening for CI agent runs",
				Subcommands: []*Command{
					{Name: "exec", Summary: "Run the agent"},
				},
			}

			if err := root.Execute(context.Background(), []string{helpArg}, testLogger()); err != nil {
				t.Errorf("Execute(%q) error: %v", helpArg, err)
			}
		})
	}
}

func TestCommand_Execute_NoArgsShowsHelp(t *testing.T) {
	root := &Command{
		Name: "runnerguard",
		Subcommands: []*Command{
			{Name: "exec", Summary: "Run the agent"},
		},
	}

	err := root.Execute(context.Background(), []string{}, testLogger())
	if err == nil {
		t.Fatal("Execute() = nil, want error for missing subcommand")
	}
	if !strings.Contains(err.Error(), "subcommand required") {
		t.Errorf("error = %q, want 'subcommand required'", err.Error())
	}
}

func TestCommand_PrintHelp(t *testing.T) {
	command := &Command{
		Name:        "runnerguard",
		Description: "Privilege hardening for CI agent runs.",
		Subcommands: []*Command{
			{Name: "exec", Summary: "Run the agent under a safety strategy"},
			{Name: "drop-sudo", Summary: "Revoke passwordless sudo access"},
			{Name: "version", Summary: "Print version information"},
		},
		Examples: []Example{
			{
				Description: "Run a prompt with sudo revoked first",
				Command:     `runnerguard exec --prompt "fix the failing test"`,
			},
		},
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()

	for _, want := range []string{
		"Privilege hardening for CI agent runs.",
		"Usage:",
		"runnerguard <command> [flags]",
		"Commands:",
		"exec",
		"Run the agent under a safety strategy",
		"drop-sudo",
		"Revoke passwordless sudo access",
		"Examples:",
		`runnerguard exec --prompt "fix the failing test"`,
		"Run 'runnerguard <command> --help'",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q\n\nFull output:\n%s", want, output)
		}
	}
}

func TestCommand_PrintHelp_WithFlags(t *testing.T) {
	command := &Command{
		Name:    "drop-sudo",
		Summary: "Revoke passwordless sudo access",
		Usage:   "runnerguard drop-sudo [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("drop-sudo", pflag.ContinueOnError)
			flagSet.String("user", "runner", "account to strip")
			flagSet.String("group", "sudo", "elevation group")
			return flagSet
		},
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()

	for _, want := range []string{
		"runnerguard drop-sudo [flags]",
		"Flags:",
		"user",
		"group",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q\n\nFull output:\n%s", want, output)
		}
	}
}

func TestCommand_FullName(t *testing.T) {
	root := &Command{Name: "runnerguard"}
	dropSudo := &Command{Name: "drop-sudo", parent: root}

	if got := root.fullName(); got != "runnerguard" {
		t.Errorf("root.fullName() = %q, want %q", got, "runnerguard")
	}
	if got := dropSudo.fullName(); got != "runnerguard drop-sudo" {
		t.Errorf("dropSudo.fullName() = %q, want %q", got, "runnerguard drop-sudo")
	}
}

func TestExitError(t *testing.T) {
	err := &ExitError{Code: 7}
	if err.ExitCode() != 7 {
		t.Errorf("ExitCode() = %d, want 7", err.ExitCode())
	}
	if !strings.Contains(err.Error(), "7") {
		t.Errorf("Error() = %q, want the code mentioned", err.Error())
	}
}
