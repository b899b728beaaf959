// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package privilege

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/bureau-foundation/runnerguard/lib/run"
	"github.com/bureau-foundation/runnerguard/lib/sudoers"
)

// Conventional CI runner account and elevation group.
const (
	DefaultUser  = "runner"
	DefaultGroup = "sudo"
)

const (
	defaultSudoersDir  = "/etc/sudoers.d"
	defaultSudoersFile = "/etc/sudoers"
)

// OperationError reports a fatal privilege-revocation failure:
// passwordless elevation unavailable, no group-removal mechanism on
// the host, or an unsupported operating system. Steps completed
// before the failure are not rolled back — a partially revoked
// account is safer than a fully privileged one.
type OperationError struct {
	Message string
	Err     error
}

func (e *OperationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Revocation removes a user's passwordless administrative access. The
// zero value is not usable; populate User, Group, Runner, and Logger,
// then call CallerPhase (or RootPhase when already privileged). The
// remaining fields default to the real host environment and exist so
// tests can point the revocation at fixture files and fake binaries.
type Revocation struct {
	// User is the account being stripped of elevated access.
	User string

	// Group is the elevation group granting passwordless sudo.
	Group string

	// SudoersDir is the supplemental rules directory. Defaults to
	// /etc/sudoers.d.
	SudoersDir string

	// SudoersFile is the primary rules file. Defaults to /etc/sudoers.
	SudoersFile string

	// Executable re-invoked under sudo for the root phase. Defaults
	// to os.Executable().
	Executable string

	// GOOS overrides runtime.GOOS for OS-specific mechanism
	// selection.
	GOOS string

	// LookPath resolves group-management binaries. Defaults to
	// exec.LookPath.
	LookPath func(file string) (string, error)

	Runner run.Runner
	Logger *slog.Logger
}

func (r *Revocation) setDefaults() {
	if r.User == "" {
		r.User = DefaultUser
	}
	if r.Group == "" {
		r.Group = DefaultGroup
	}
	if r.SudoersDir == "" {
		r.SudoersDir = defaultSudoersDir
	}
	if r.SudoersFile == "" {
		r.SudoersFile = defaultSudoersFile
	}
	if r.GOOS == "" {
		r.GOOS = runtime.GOOS
	}
	if r.LookPath == nil {
		r.LookPath = exec.LookPath
	}
	if r.Logger == nil {
		r.Logger = slog.Default()
	}
	if r.Runner == nil {
		r.Runner = run.NewRunner(r.Logger)
	}
}

func (r *Revocation) checkOS() error {
	switch r.GOOS {
	case "linux", "darwin":
		return nil
	default:
		return &OperationError{
			Message: fmt.Sprintf("the drop-sudo strategy is not supported on %s", r.GOOS),
		}
	}
}

// CallerPhase runs with the invoking session's (potentially
// sudo-capable) privilege. It verifies that passwordless elevation is
// actually available, then re-invokes the runnerguard binary under
// sudo with the --root-phase flag so the mutation happens with full
// privilege, and invalidates the sudo ticket before and after so the
// transient elevation never outlives the revocation itself.
func (r *Revocation) CallerPhase(ctx context.Context) error {
	r.setDefaults()
	if err := r.checkOS(); err != nil {
		return err
	}

	// Probe with a no-op elevated command. drop-sudo hardens hosts
	// where the runner account holds NOPASSWD sudo; if the probe
	// fails there is no access to revoke and something about the
	// host is not what this strategy assumes.
	if _, err := r.Runner.Run(ctx, run.Spec{Args: []string{"sudo", "-n", "true"}}); err != nil {
		return &OperationError{
			Message: "passwordless sudo is unavailable; the drop-sudo strategy requires it",
			Err:     err,
		}
	}

	r.invalidateTicket(ctx)

	executable := r.Executable
	if executable == "" {
		path, err := os.Executable()
		if err != nil {
			return &OperationError{
				Message: "resolving own executable for elevated re-invocation",
				Err:     err,
			}
		}
		executable = path
	}

	r.Logger.Info("re-invoking elevated for root phase",
		"user", r.User, "group", r.Group)

	rootPhase := run.Spec{
		Args: []string{
			"sudo", "-n", executable,
			"drop-sudo", "--root-phase", "--user", r.User, "--group", r.Group,
		},
		Passthrough: true,
	}
	if _, err := r.Runner.Run(ctx, rootPhase); err != nil {
		r.invalidateTicket(ctx)
		return &OperationError{Message: "elevated root phase failed", Err: err}
	}

	r.invalidateTicket(ctx)
	return nil
}

// invalidateTicket drops any cached sudo ticket. Best-effort: having
// no ticket to invalidate is not an error.
func (r *Revocation) invalidateTicket(ctx context.Context) {
	result, err := r.Runner.Run(ctx, run.Spec{
		Args:       []string{"sudo", "-k"},
		BestEffort: true,
	})
	if err != nil {
		r.Logger.Debug("sudo ticket invalidation failed", "error", err)
	} else if result.ExitCode != 0 {
		r.Logger.Debug("sudo ticket invalidation exited non-zero", "code", result.ExitCode)
	}
}

// RootPhase runs with full privilege, normally via the caller phase's
// elevated re-invocation. It removes the user's membership in the
// elevation group, strips the user's entries from the supplemental
// rules directory and the primary rules file, and logs the user's
// remaining group memberships for operator visibility.
func (r *Revocation) RootPhase(ctx context.Context) error {
	r.setDefaults()
	if err := r.checkOS(); err != nil {
		return err
	}

	changed := false

	member, err := r.groupMember(ctx)
	if err != nil {
		return err
	}
	if member {
		if err := r.removeFromGroup(ctx); err != nil {
			return err
		}
		changed = true
		r.Logger.Info("removed group membership", "user", r.User, "group", r.Group)
	} else {
		r.Logger.Info("user is not in the elevation group",
			"user", r.User, "group", r.Group)
	}

	if r.stripFragments() {
		changed = true
	}
	if r.stripFile(r.SudoersFile) {
		changed = true
	}

	if !changed {
		r.Logger.Info("user already had no elevated access", "user", r.User)
	}

	r.logGroups(ctx)
	return nil
}

// groupMember reports whether the user currently belongs to the
// elevation group, via "id -nG".
func (r *Revocation) groupMember(ctx context.Context) (bool, error) {
	result, err := r.Runner.Run(ctx, run.Spec{Args: []string{"id", "-nG", r.User}})
	if err != nil {
		return false, &OperationError{
			Message: fmt.Sprintf("querying group membership for %s", r.User),
			Err:     err,
		}
	}
	for _, group := range strings.Fields(string(result.Stdout)) {
		if group == r.Group {
			return true, nil
		}
	}
	return false, nil
}

// removeFromGroup removes the user from the elevation group using the
// first available mechanism: deluser where present, otherwise gpasswd
// on Linux or dscl on Darwin. A host with none of these is fatal.
func (r *Revocation) removeFromGroup(ctx context.Context) error {
	var argv []string
	if path, err := r.LookPath("deluser"); err == nil {
		argv = []string{path, r.User, r.Group}
	} else {
		switch r.GOOS {
		case "linux":
			if path, err := r.LookPath("gpasswd"); err == nil {
				argv = []string{path, "-d", r.User, r.Group}
			}
		case "darwin":
			if path, err := r.LookPath("dscl"); err == nil {
				argv = []string{path, ".", "-delete", "/Groups/" + r.Group, "GroupMembership", r.User}
			}
		}
	}
	if argv == nil {
		return &OperationError{
			Message: fmt.Sprintf("no mechanism available to remove %s from group %s (looked for deluser, gpasswd, dscl)",
				r.User, r.Group),
		}
	}

	if _, err := r.Runner.Run(ctx, run.Spec{Args: argv}); err != nil {
		return &OperationError{
			Message: fmt.Sprintf("removing %s from group %s", r.User, r.Group),
			Err:     err,
		}
	}
	return nil
}

// stripFragments strips the user's entries from every regular file in
// the supplemental rules directory. A missing directory is a silent
// no-op. Returns whether any file changed.
func (r *Revocation) stripFragments() bool {
	entries, err := os.ReadDir(r.SudoersDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.Logger.Warn("cannot enumerate sudoers fragment directory",
				"dir", r.SudoersDir, "error", err)
		}
		return false
	}

	changed := false
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if r.stripFile(filepath.Join(r.SudoersDir, entry.Name())) {
			changed = true
		}
	}
	return changed
}

// stripFile strips the user's entries from one rules file. Rewrite
// failures are logged as warnings and the revocation continues with
// the remaining files; a missing file counts as nothing to change.
func (r *Revocation) stripFile(path string) bool {
	result := sudoers.RemoveUserEntries(path, r.User)
	switch result.Outcome {
	case sudoers.Changed:
		r.Logger.Info("removed sudoers entries",
			"file", path, "lines", result.Removed)
		return true
	case sudoers.Failed:
		if !errors.Is(result.Err, fs.ErrNotExist) {
			r.Logger.Warn("could not rewrite sudoers file",
				"file", path, "error", result.Err)
		}
		return false
	default:
		return false
	}
}

// logGroups reports the user's post-cleanup group memberships.
func (r *Revocation) logGroups(ctx context.Context) {
	result, err := r.Runner.Run(ctx, run.Spec{Args: []string{"id", "-nG", r.User}})
	if err != nil {
		r.Logger.Warn("cannot query post-cleanup group memberships",
			"user", r.User, "error", err)
		return
	}
	r.Logger.Info("current group memberships",
		"user", r.User, "groups", strings.TrimSpace(string(result.Stdout)))
}
