// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package run provides the single subprocess primitive used by every
// other runnerguard component. A command either inherits the parent's
// standard streams (passthrough mode, used for the agent process and
// the elevated self re-invocation) or captures stdout and stderr into
// bounded in-memory buffers (capture mode, used for probes and
// impersonated file operations).
//
// All privileged operations in this tool are subprocess invocations —
// sudo probes, group edits, impersonated file access — so routing them
// through one primitive keeps context cancellation and exit-status
// handling in one place.
package run

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// DefaultCaptureLimit bounds in-memory capture of a command's output.
// Expected payloads (probe output, group lists, final agent messages)
// are small; the cap exists so runaway or adversarial output cannot
// grow the buffers without bound.
const DefaultCaptureLimit = 1 << 20

// Spec describes one external command invocation.
type Spec struct {
	// Args is the full argv; Args[0] is the executable.
	Args []string

	// Dir is the working directory. Empty means inherit.
	Dir string

	// Env is the process environment. Nil means inherit.
	Env []string

	// Stdin supplies the command's standard input. Nil means no input.
	Stdin io.Reader

	// Passthrough connects the command directly to the parent's stdout
	// and stderr instead of capturing them.
	Passthrough bool

	// BestEffort makes a non-zero exit an ordinary Result instead of
	// an error. Spawn failures are still errors.
	BestEffort bool

	// CaptureLimit overrides DefaultCaptureLimit when positive.
	CaptureLimit int
}

// Result holds the outcome of a command invocation.
type Result struct {
	// ExitCode is the command's exit status. Zero on success.
	ExitCode int

	// Stdout and Stderr hold captured output. Both are nil in
	// passthrough mode.
	Stdout []byte
	Stderr []byte

	// Truncated is true when either captured stream hit the capture
	// limit and output was discarded.
	Truncated bool
}

// ExitError reports a capture-mode command that exited non-zero. It
// carries the exit code and both captured streams so callers can
// surface diagnostics without re-running the command.
type ExitError struct {
	Args     []string
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s: exit status %d", strings.Join(e.Args, " "), e.ExitCode)
	if stderr := strings.TrimSpace(string(e.Stderr)); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// Runner executes external commands. The interface exists so that the
// privilege and launch packages can be exercised in tests with a fake
// that records invocations instead of spawning processes.
type Runner interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// ExecRunner is the os/exec-backed Runner used in production.
type ExecRunner struct {
	logger *slog.Logger
}

// NewRunner returns an ExecRunner logging through logger.
func NewRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{logger: logger}
}

// Run executes the command described by spec and waits for it to exit.
// The context aborts the command: cancellation kills the process and
// Run returns once it has been reaped.
func (r *ExecRunner) Run(ctx context.Context, spec Spec) (Result, error) {
	if len(spec.Args) == 0 {
		return Result{}, fmt.Errorf("empty command")
	}

	command := exec.CommandContext(ctx, spec.Args[0], spec.Args[1:]...)
	command.Dir = spec.Dir
	command.Env = spec.Env
	command.Stdin = spec.Stdin

	var stdout, stderr *boundedBuffer
	if spec.Passthrough {
		command.Stdout = os.Stdout
		command.Stderr = os.Stderr
	} else {
		limit := spec.CaptureLimit
		if limit <= 0 {
			limit = DefaultCaptureLimit
		}
		stdout = &boundedBuffer{limit: limit}
		stderr = &boundedBuffer{limit: limit}
		command.Stdout = stdout
		command.Stderr = stderr
	}

	r.logger.Debug("running command", "args", spec.Args)

	runErr := command.Run()

	var result Result
	if stdout != nil {
		result.Stdout = stdout.buf.Bytes()
		result.Stderr = stderr.buf.Bytes()
		result.Truncated = stdout.truncated || stderr.truncated
	}
	if runErr == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) && exitErr.ExitCode() >= 0 {
		result.ExitCode = exitErr.ExitCode()
		if spec.BestEffort {
			return result, nil
		}
		return result, &ExitError{
			Args:     spec.Args,
			ExitCode: result.ExitCode,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
		}
	}

	// Spawn failure (executable not found, permission denied) or the
	// process was killed by context cancellation.
	if ctx.Err() != nil {
		return result, fmt.Errorf("running %s: %w", spec.Args[0], ctx.Err())
	}
	return result, fmt.Errorf("running %s: %w", spec.Args[0], runErr)
}

// boundedBuffer accepts writes up to a fixed limit and silently
// discards the remainder, recording that truncation occurred. Write
// never fails so the wrapped command keeps running even after the
// limit is reached.
type boundedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - b.buf.Len()
	switch {
	case remaining <= 0:
		if len(p) > 0 {
			b.truncated = true
		}
	case len(p) > remaining:
		b.buf.Write(p[:remaining])
		b.truncated = true
	default:
		b.buf.Write(p)
	}
	return len(p), nil
}
