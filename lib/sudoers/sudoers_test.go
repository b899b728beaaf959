// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sudoers

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStripRemovesOnlyUserRules(t *testing.T) {
	content := []byte("alice ALL=(ALL) NOPASSWD:ALL\n# alice backup rule\n\n")

	stripped, removed := Strip(content, "alice")
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	want := "# alice backup rule\n\n"
	if string(stripped) != want {
		t.Errorf("stripped = %q, want %q", stripped, want)
	}
}

func TestStripIsIdempotent(t *testing.T) {
	content := []byte("alice ALL=(ALL) NOPASSWD:ALL\nbob ALL=(ALL) ALL\n")

	once, removed := Strip(content, "alice")
	if removed != 1 {
		t.Fatalf("first pass removed = %d, want 1", removed)
	}
	twice, removed := Strip(once, "alice")
	if removed != 0 {
		t.Errorf("second pass removed = %d, want 0", removed)
	}
	if string(twice) != string(once) {
		t.Errorf("second pass changed content: %q -> %q", once, twice)
	}
}

func TestStripMatchesFirstTokenOnly(t *testing.T) {
	content := []byte("alicesmith ALL=(ALL) ALL\nbob alice ALL\n\talice ALL=(ALL) ALL\n")

	stripped, removed := Strip(content, "alice")
	if removed != 1 {
		t.Fatalf("removed = %d, want 1 (only the indented alice rule)", removed)
	}
	want := "alicesmith ALL=(ALL) ALL\nbob alice ALL\n"
	if string(stripped) != want {
		t.Errorf("stripped = %q, want %q", stripped, want)
	}
}

func TestStripPreservesCRLF(t *testing.T) {
	content := []byte("alice ALL=(ALL) ALL\r\nbob ALL=(ALL) ALL\r\n")

	stripped, removed := Strip(content, "alice")
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if string(stripped) != "bob ALL=(ALL) ALL\r\n" {
		t.Errorf("stripped = %q, want CRLF preserved", stripped)
	}
}

func TestStripPreservesMissingTrailingNewline(t *testing.T) {
	content := []byte("alice ALL=(ALL) ALL\nbob ALL=(ALL) ALL")

	stripped, removed := Strip(content, "alice")
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if string(stripped) != "bob ALL=(ALL) ALL" {
		t.Errorf("stripped = %q, want no trailing newline", stripped)
	}
}

func TestRemoveUserEntriesRewritesAndPreservesMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "90-ci")
	content := "alice ALL=(ALL) NOPASSWD:ALL\n# alice backup rule\n\n"
	if err := os.WriteFile(path, []byte(content), 0o440); err != nil {
		t.Fatal(err)
	}

	result := RemoveUserEntries(path, "alice")
	if result.Outcome != Changed {
		t.Fatalf("outcome = %v (err: %v), want changed", result.Outcome, result.Err)
	}
	if result.Removed != 1 {
		t.Errorf("removed = %d, want 1", result.Removed)
	}

	rewritten, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(rewritten) != "# alice backup rule\n\n" {
		t.Errorf("rewritten = %q, want comment and blank line only", rewritten)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o440 {
		t.Errorf("mode = %v, want 0440", info.Mode().Perm())
	}

	// Second pass must be a no-op.
	result = RemoveUserEntries(path, "alice")
	if result.Outcome != Unchanged {
		t.Errorf("second pass outcome = %v, want unchanged", result.Outcome)
	}
}

func TestRemoveUserEntriesUnchangedDoesNotRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "10-other")
	if err := os.WriteFile(path, []byte("bob ALL=(ALL) ALL\n"), 0o440); err != nil {
		t.Fatal(err)
	}
	before, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}

	result := RemoveUserEntries(path, "alice")
	if result.Outcome != Unchanged {
		t.Fatalf("outcome = %v, want unchanged", result.Outcome)
	}

	after, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if !after.ModTime().Equal(before.ModTime()) {
		t.Error("file was rewritten despite no matching entries")
	}
}

func TestRemoveUserEntriesMissingFileFails(t *testing.T) {
	result := RemoveUserEntries(filepath.Join(t.TempDir(), "absent"), "alice")
	if result.Outcome != Failed {
		t.Fatalf("outcome = %v, want failed", result.Outcome)
	}
	if result.Err == nil {
		t.Error("Err = nil, want read error")
	}
}

func TestRemoveUserEntriesLeavesNoTempDebris(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "50-runner")
	if err := os.WriteFile(path, []byte("runner ALL=(ALL) NOPASSWD:ALL\n"), 0o440); err != nil {
		t.Fatal(err)
	}

	if result := RemoveUserEntries(path, "runner"); result.Outcome != Changed {
		t.Fatalf("outcome = %v (err: %v), want changed", result.Outcome, result.Err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "50-runner" {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("directory contents = %v, want only 50-runner", names)
	}
}
