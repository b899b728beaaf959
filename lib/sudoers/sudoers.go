// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sudoers rewrites sudo rule files to remove the entries of a
// single user. The transformation is deliberately narrow: only
// non-comment, non-blank lines whose first whitespace-delimited token
// equals the target username are removed. Comments, blank lines, every
// other rule, the original line-ending style, and the presence or
// absence of a trailing newline are preserved byte for byte.
//
// Rewrites go through a sibling temporary file that is renamed over
// the target, so a crash mid-write can never leave a half-written
// sudoers file behind. Permission bits and ownership are copied onto
// the temporary file before the rename.
package sudoers

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Outcome classifies the result of a rule-file rewrite. A Failed
// outcome is distinct from Unchanged so callers can tell "nothing to
// remove" apart from "could not rewrite the file".
type Outcome int

const (
	// Unchanged means the file contained no entries for the user.
	Unchanged Outcome = iota
	// Changed means at least one entry was removed and the file was
	// rewritten.
	Changed
	// Failed means the file could not be read or rewritten. The
	// error is in EditResult.Err.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Changed:
		return "changed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// EditResult describes a single rule-file edit.
type EditResult struct {
	// Path is the file that was examined.
	Path string

	// Outcome classifies what happened.
	Outcome Outcome

	// Removed is the number of rule lines removed (zero unless
	// Outcome is Changed).
	Removed int

	// Err holds the failure when Outcome is Failed.
	Err error
}

// Strip removes every rule line owned by user from content and
// returns the new content plus the number of lines removed. A line is
// owned by user when its first whitespace-delimited token equals the
// username exactly. Lines are kept with their original terminators,
// so LF and CRLF files round-trip unmodified, as does a missing final
// newline.
func Strip(content []byte, user string) ([]byte, int) {
	var out bytes.Buffer
	removed := 0

	rest := content
	for len(rest) > 0 {
		var line []byte
		if index := bytes.IndexByte(rest, '\n'); index >= 0 {
			line = rest[:index+1]
			rest = rest[index+1:]
		} else {
			line = rest
			rest = nil
		}
		if ownedBy(line, user) {
			removed++
			continue
		}
		out.Write(line)
	}
	return out.Bytes(), removed
}

// ownedBy reports whether line is a rule entry for user. Blank lines
// and comments are never owned by anyone.
func ownedBy(line []byte, user string) bool {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return false
	}
	fields := strings.Fields(trimmed)
	return fields[0] == user
}

// RemoveUserEntries strips user's rule lines from the file at path.
// The file is rewritten only when at least one line was removed,
// which makes the operation idempotent: a second pass over the same
// file reports Unchanged. Failures are reported in the result rather
// than returned, because callers treat individual rule files as
// best-effort and continue with the remaining files.
func RemoveUserEntries(path, user string) EditResult {
	result := EditResult{Path: path}

	content, err := os.ReadFile(path)
	if err != nil {
		result.Outcome = Failed
		result.Err = fmt.Errorf("reading %s: %w", path, err)
		return result
	}

	stripped, removed := Strip(content, user)
	if removed == 0 {
		return result
	}

	if err := atomicRewrite(path, stripped); err != nil {
		result.Outcome = Failed
		result.Err = err
		return result
	}

	result.Outcome = Changed
	result.Removed = removed
	return result
}

// atomicRewrite replaces the file at path with content via a sibling
// temporary file, carrying over the original permission bits and
// ownership before the rename.
func atomicRewrite(path string, content []byte) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	var stat unix.Stat_t
	if err := unix.Stat(path, &stat); err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temporary file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()

	// On any failure below, remove the temporary file so aborted
	// rewrites leave no debris next to the sudoers file.
	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}

	if _, err := tmp.Write(content); err != nil {
		return fail(fmt.Errorf("writing %s: %w", tmpPath, err))
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		return fail(fmt.Errorf("setting mode on %s: %w", tmpPath, err))
	}
	if err := tmp.Chown(int(stat.Uid), int(stat.Gid)); err != nil {
		return fail(fmt.Errorf("setting ownership on %s: %w", tmpPath, err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("syncing %s: %w", tmpPath, err))
	}
	if err := tmp.Close(); err != nil {
		return fail(fmt.Errorf("closing %s: %w", tmpPath, err))
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
