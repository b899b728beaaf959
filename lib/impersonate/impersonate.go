// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package impersonate performs file operations as an alternate,
// lower-privileged OS user. When a run-as user is active, every
// operation is an elevation-plus-user-switch subprocess (sudo -n -u)
// rather than a direct filesystem call, because the operation must
// execute with the impersonated user's identity and permissions —
// a file the impersonated agent wrote may not be readable by the
// caller, and a directory the caller created may not be writable by
// the agent. Without a run-as user the same operations are plain
// os package calls.
package impersonate

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/bureau-foundation/runnerguard/lib/run"
)

// readLimit caps impersonated reads. Final agent messages and schema
// files are far below this; hitting the cap is an error rather than
// silent truncation.
const readLimit = 8 << 20

// Context carries the optional impersonation username for one
// invocation. The zero value means "operate as the current user".
type Context struct {
	// RunAsUser is the account to impersonate, or empty for none.
	RunAsUser string
}

// Active reports whether an impersonation user is set.
func (c Context) Active() bool {
	return c.RunAsUser != ""
}

// CommandPrefix returns the elevation-plus-user-switch argv prefix
// for running a command as the impersonated user, or nil when
// impersonation is inactive.
func (c Context) CommandPrefix() []string {
	if !c.Active() {
		return nil
	}
	return []string{"sudo", "-n", "-u", c.RunAsUser, "--"}
}

// Manager creates, reads, moves, and deletes files and directories in
// the identity selected by its Context.
type Manager struct {
	context Context
	runner  run.Runner
	logger  *slog.Logger
}

// NewManager returns a Manager performing operations as ictx's user.
func NewManager(ictx Context, runner run.Runner, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = run.NewRunner(logger)
	}
	return &Manager{context: ictx, runner: runner, logger: logger}
}

// Context returns the impersonation context the manager operates in.
func (m *Manager) Context() Context {
	return m.context
}

// MkdirTemp creates a fresh temporary directory owned by the active
// identity and returns its path.
func (m *Manager) MkdirTemp(ctx context.Context) (string, error) {
	if !m.context.Active() {
		dir, err := os.MkdirTemp("", "runnerguard-")
		if err != nil {
			return "", fmt.Errorf("creating temporary directory: %w", err)
		}
		return dir, nil
	}

	result, err := m.run(ctx, nil, "mktemp", "-d")
	if err != nil {
		return "", fmt.Errorf("creating temporary directory as %s: %w", m.context.RunAsUser, err)
	}
	return strings.TrimSpace(string(result.Stdout)), nil
}

// CreateTemp creates a fresh empty temporary file owned by the active
// identity and returns its path.
func (m *Manager) CreateTemp(ctx context.Context) (string, error) {
	if !m.context.Active() {
		file, err := os.CreateTemp("", "runnerguard-")
		if err != nil {
			return "", fmt.Errorf("creating temporary file: %w", err)
		}
		path := file.Name()
		if err := file.Close(); err != nil {
			return "", fmt.Errorf("closing temporary file %s: %w", path, err)
		}
		return path, nil
	}

	result, err := m.run(ctx, nil, "mktemp")
	if err != nil {
		return "", fmt.Errorf("creating temporary file as %s: %w", m.context.RunAsUser, err)
	}
	return strings.TrimSpace(string(result.Stdout)), nil
}

// WriteFile writes content to path in the active identity.
func (m *Manager) WriteFile(ctx context.Context, path string, content []byte) error {
	if !m.context.Active() {
		if err := os.WriteFile(path, content, 0o600); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		return nil
	}

	// tee duplicates the content to stdout; capture mode discards it.
	if _, err := m.run(ctx, bytes.NewReader(content), "tee", "--", path); err != nil {
		return fmt.Errorf("writing %s as %s: %w", path, m.context.RunAsUser, err)
	}
	return nil
}

// ReadFile returns the content of path read in the active identity.
func (m *Manager) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if !m.context.Active() {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		return content, nil
	}

	result, err := m.run(ctx, nil, "cat", "--", path)
	if err != nil {
		return nil, fmt.Errorf("reading %s as %s: %w", path, m.context.RunAsUser, err)
	}
	if result.Truncated {
		return nil, fmt.Errorf("reading %s as %s: content exceeds %d bytes", path, m.context.RunAsUser, readLimit)
	}
	return result.Stdout, nil
}

// Move renames oldPath to newPath in the active identity.
func (m *Manager) Move(ctx context.Context, oldPath, newPath string) error {
	if !m.context.Active() {
		if err := os.Rename(oldPath, newPath); err != nil {
			return fmt.Errorf("moving %s to %s: %w", oldPath, newPath, err)
		}
		return nil
	}

	if _, err := m.run(ctx, nil, "mv", "--", oldPath, newPath); err != nil {
		return fmt.Errorf("moving %s to %s as %s: %w", oldPath, newPath, m.context.RunAsUser, err)
	}
	return nil
}

// RemoveAll deletes path and everything under it in the active
// identity. Missing paths are not an error.
func (m *Manager) RemoveAll(ctx context.Context, path string) error {
	if !m.context.Active() {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("removing %s: %w", path, err)
		}
		return nil
	}

	if _, err := m.run(ctx, nil, "rm", "-rf", "--", path); err != nil {
		return fmt.Errorf("removing %s as %s: %w", path, m.context.RunAsUser, err)
	}
	return nil
}

func (m *Manager) run(ctx context.Context, stdin *bytes.Reader, argv ...string) (run.Result, error) {
	spec := run.Spec{
		Args:         append(m.context.CommandPrefix(), argv...),
		CaptureLimit: readLimit,
	}
	if stdin != nil {
		spec.Stdin = stdin
	}
	return m.runner.Run(ctx, spec)
}
