// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package launch composes and executes one Codex agent invocation
// under a safety strategy. It resolves the prompt, output target,
// schema target, sandbox mode, and impersonation context, runs the
// agent through the run primitive, reads the final message back, and
// guarantees that every temporary resource it allocated is released
// on every exit path.
package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/runnerguard/lib/impersonate"
	"github.com/bureau-foundation/runnerguard/lib/privilege"
	"github.com/bureau-foundation/runnerguard/lib/run"
)

// SandboxMode is the filesystem/network access policy enforced on the
// agent process.
type SandboxMode string

const (
	SandboxReadOnly         SandboxMode = "read-only"
	SandboxWorkspaceWrite   SandboxMode = "workspace-write"
	SandboxDangerFullAccess SandboxMode = "danger-full-access"
)

// SandboxModes lists every valid sandbox mode.
var SandboxModes = []SandboxMode{
	SandboxReadOnly,
	SandboxWorkspaceWrite,
	SandboxDangerFullAccess,
}

// ParseSandboxMode converts a token into a SandboxMode, rejecting
// unknown values with an error naming the value and the allowed set.
func ParseSandboxMode(value string) (SandboxMode, error) {
	for _, mode := range SandboxModes {
		if SandboxMode(value) == mode {
			return mode, nil
		}
	}
	names := make([]string, len(SandboxModes))
	for i, mode := range SandboxModes {
		names[i] = string(mode)
	}
	return "", privilege.Validationf("unknown sandbox mode %q (valid modes: %s)",
		value, strings.Join(names, ", "))
}

// DefaultAgentBinary is the Codex CLI executable name.
const DefaultAgentBinary = "codex"

// lastMessageName is the fixed filename for the agent's final message
// inside a temporary output directory.
const lastMessageName = "last-message.txt"

const (
	originatorEnv   = "CODEX_INTERNAL_ORIGINATOR_OVERRIDE"
	originatorValue = "runnerguard"
	codexHomeEnv    = "CODEX_HOME"
)

// Request describes one agent invocation.
type Request struct {
	// Prompt is the inline prompt text. Exactly one of Prompt and
	// PromptFile must be set.
	Prompt     string
	PromptFile string

	// WorkingDirectory is where the agent operates.
	WorkingDirectory string

	// Strategy is the safety strategy governing the invocation.
	Strategy privilege.Strategy

	// RunAsUser is the impersonation account, required exactly when
	// Strategy is unprivileged-user.
	RunAsUser string

	// SandboxMode is the requested sandbox policy. The read-only
	// strategy overrides it. Empty means workspace-write.
	SandboxMode SandboxMode

	// OutputFile receives the agent's final message. Empty means a
	// temporary directory is allocated and removed afterwards;
	// explicit paths are never deleted.
	OutputFile string

	// OutputSchema is inline JSON schema content for the agent's
	// final message; OutputSchemaFile points at an existing schema
	// file. At most one may be set.
	OutputSchema     string
	OutputSchemaFile string

	// Model overrides the agent's default model.
	Model string

	// CodexHome overrides the agent's configuration directory.
	CodexHome string

	// ExtraArgs holds pass-through agent arguments, either as a JSON
	// array of strings or as one shell-style string.
	ExtraArgs string

	// AgentBinary overrides DefaultAgentBinary.
	AgentBinary string
}

// AgentError reports an agent process that failed to spawn or exited
// non-zero. The agent's diagnostics were already streamed live to
// stderr, so the error carries only the exit status.
type AgentError struct {
	// ExitCode is the agent's exit status, or -1 when the process
	// could not be spawned.
	ExitCode int
	Err      error
}

func (e *AgentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent process: %v", e.Err)
	}
	return fmt.Sprintf("agent process exited with code %d", e.ExitCode)
}

func (e *AgentError) Unwrap() error {
	return e.Err
}

// FinalReadError reports that the agent ran successfully but its
// final message could not be read back. Distinct from a cleanup
// warning: the operation's result is missing, so the run failed.
type FinalReadError struct {
	Path string
	Err  error
}

func (e *FinalReadError) Error() string {
	return fmt.Sprintf("reading final agent message from %s: %v", e.Path, e.Err)
}

func (e *FinalReadError) Unwrap() error {
	return e.Err
}

// Launcher executes agent invocations. Populate Runner and Logger;
// the remaining fields default to the real host environment and exist
// for tests.
type Launcher struct {
	Runner run.Runner
	Logger *slog.Logger

	// LookPath resolves the agent binary in the caller's PATH when
	// impersonating. Defaults to exec.LookPath.
	LookPath func(file string) (string, error)

	// Environ supplies the base process environment. Defaults to
	// os.Environ.
	Environ func() []string
}

func (l *Launcher) setDefaults() {
	if l.Logger == nil {
		l.Logger = slog.Default()
	}
	if l.Runner == nil {
		l.Runner = run.NewRunner(l.Logger)
	}
	if l.LookPath == nil {
		l.LookPath = exec.LookPath
	}
	if l.Environ == nil {
		l.Environ = os.Environ
	}
}

// Execute runs one agent invocation and returns the agent's final
// message. Temporary resources allocated along the way are released
// before Execute returns, on success and on every failure path;
// release failures are logged and never mask the primary result.
func (l *Launcher) Execute(ctx context.Context, request Request) (string, error) {
	l.setDefaults()

	if err := validate(request); err != nil {
		return "", err
	}

	prompt := request.Prompt
	if request.PromptFile != "" {
		content, err := os.ReadFile(request.PromptFile)
		if err != nil {
			return "", fmt.Errorf("reading prompt file: %w", err)
		}
		prompt = string(content)
	}

	// Only the unprivileged-user strategy impersonates; the run-as
	// user gates every resource operation below.
	var ictx impersonate.Context
	if request.Strategy == privilege.StrategyUnprivilegedUser {
		ictx.RunAsUser = request.RunAsUser
	}
	manager := impersonate.NewManager(ictx, l.Runner, l.Logger)

	// Temporary allocations released in the deferred cleanup. The
	// cleanup context survives cancellation so a signal that killed
	// the agent does not also strand its temp files.
	var tempOutputDir, tempSchemaFile string
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if tempSchemaFile != "" {
			if err := manager.RemoveAll(cleanupCtx, tempSchemaFile); err != nil {
				l.Logger.Warn("failed to remove temporary schema file",
					"path", tempSchemaFile, "error", err)
			}
		}
		if tempOutputDir != "" {
			if err := manager.RemoveAll(cleanupCtx, tempOutputDir); err != nil {
				l.Logger.Warn("failed to remove temporary output directory",
					"path", tempOutputDir, "error", err)
			}
		}
	}()

	// Output target: explicit paths are used verbatim and never
	// deleted; otherwise a fresh temporary directory holds the fixed
	// output filename.
	outputPath := request.OutputFile
	if outputPath == "" {
		dir, err := manager.MkdirTemp(ctx)
		if err != nil {
			return "", fmt.Errorf("allocating output directory: %w", err)
		}
		tempOutputDir = dir
		outputPath = filepath.Join(dir, lastMessageName)
	}

	// Schema target, same shape: explicit path passed through
	// untouched, inline content materialized into a temporary file.
	schemaPath := request.OutputSchemaFile
	if request.OutputSchema != "" {
		path, err := manager.CreateTemp(ctx)
		if err != nil {
			return "", fmt.Errorf("allocating schema file: %w", err)
		}
		tempSchemaFile = path
		if err := manager.WriteFile(ctx, path, []byte(request.OutputSchema)); err != nil {
			return "", fmt.Errorf("materializing output schema: %w", err)
		}
		schemaPath = path
	}

	mode := request.SandboxMode
	if mode == "" {
		mode = SandboxWorkspaceWrite
	}
	if request.Strategy == privilege.StrategyReadOnly && mode != SandboxReadOnly {
		l.Logger.Info("read-only strategy forces sandbox mode",
			"requested", mode, "effective", SandboxReadOnly)
		mode = SandboxReadOnly
	}

	binary := request.AgentBinary
	if binary == "" {
		binary = DefaultAgentBinary
	}
	if ictx.Active() {
		// Resolve in the caller's PATH: the impersonated user's
		// search path may not contain the agent at all.
		resolved, err := l.LookPath(binary)
		if err != nil {
			return "", fmt.Errorf("agent executable %q not found in PATH: %w", binary, err)
		}
		binary = resolved
	}

	argv := composeCommand(ictx, binary, request, outputPath, schemaPath, mode)
	extra, err := TokenizeExtraArgs(request.ExtraArgs)
	if err != nil {
		return "", err
	}
	argv = append(argv, extra...)
	// The sandbox flag goes last so pass-through arguments cannot
	// silently override the computed policy.
	argv = append(argv, "--sandbox", string(mode))

	env := l.Environ()
	if lookupEnv(env, originatorEnv) == -1 {
		env = append(env, originatorEnv+"="+originatorValue)
	}
	if request.CodexHome != "" {
		env = setEnv(env, codexHomeEnv, request.CodexHome)
	}

	l.Logger.Info("starting agent process",
		"strategy", request.Strategy, "sandbox", mode, "output", outputPath)

	_, err = l.Runner.Run(ctx, run.Spec{
		Args:        argv,
		Env:         env,
		Stdin:       strings.NewReader(prompt),
		Passthrough: true,
	})
	if err != nil {
		var exitErr *run.ExitError
		if errors.As(err, &exitErr) {
			return "", &AgentError{ExitCode: exitErr.ExitCode}
		}
		return "", &AgentError{ExitCode: -1, Err: err}
	}

	message, err := manager.ReadFile(ctx, outputPath)
	if err != nil {
		return "", &FinalReadError{Path: outputPath, Err: err}
	}
	return string(message), nil
}

// validate rejects malformed requests before any subprocess runs or
// any resource is allocated.
func validate(request Request) error {
	if request.Prompt == "" && request.PromptFile == "" {
		return privilege.Validationf("a prompt is required: set one of --prompt or --prompt-file")
	}
	if request.Prompt != "" && request.PromptFile != "" {
		return privilege.Validationf("--prompt and --prompt-file are mutually exclusive")
	}
	if request.OutputSchema != "" && request.OutputSchemaFile != "" {
		return privilege.Validationf("--output-schema and --output-schema-file are mutually exclusive")
	}
	if err := request.Strategy.Validate(); err != nil {
		return err
	}
	if request.Strategy == privilege.StrategyUnprivilegedUser && request.RunAsUser == "" {
		return privilege.Validationf("the %s strategy requires --run-as-user",
			privilege.StrategyUnprivilegedUser)
	}
	if request.SandboxMode != "" {
		if _, err := ParseSandboxMode(string(request.SandboxMode)); err != nil {
			return err
		}
	}
	return nil
}

// composeCommand builds the fixed leading portion of the agent argv:
// impersonation prefix, binary, exec subcommand, repository precheck
// skip, working directory, output and schema targets, and model.
func composeCommand(ictx impersonate.Context, binary string, request Request, outputPath, schemaPath string, mode SandboxMode) []string {
	var argv []string
	if ictx.Active() {
		// Unlike the file-operation prefix, the agent keeps the
		// prepared environment (originator marker, CODEX_HOME)
		// across the user switch.
		argv = append(argv, "sudo", "-n", "--preserve-env", "-u", ictx.RunAsUser, "--")
	}
	argv = append(argv, binary, "exec", "--skip-git-repo-check")

	workingDirectory := request.WorkingDirectory
	if workingDirectory == "" {
		workingDirectory = "."
	}
	argv = append(argv, "--cd", workingDirectory)
	argv = append(argv, "--output-last-message", outputPath)
	if schemaPath != "" {
		argv = append(argv, "--output-schema", schemaPath)
	}
	if request.Model != "" {
		argv = append(argv, "--model", request.Model)
	}
	return argv
}

// lookupEnv returns the index of key's entry in env, or -1.
func lookupEnv(env []string, key string) int {
	prefix := key + "="
	for i, entry := range env {
		if strings.HasPrefix(entry, prefix) {
			return i
		}
	}
	return -1
}

// setEnv overrides key in env, appending when absent.
func setEnv(env []string, key, value string) []string {
	entry := key + "=" + value
	if i := lookupEnv(env, key); i >= 0 {
		env[i] = entry
		return env
	}
	return append(env, entry)
}
