package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AfriCodeWizard/dotgit/pkg/repo"
)

func TestLogCmd_OnelineAndDecoration(t *testing.T) {
	dir := t.TempDir()
	r, err := repo.Init(dir)
	if err != nil {
		t.Fatalf("repo.Init: %v", err)
	}

	writeRepoFile(t, dir, "a.txt", "one\n")
	stageAndCommit(t, r, "a.txt", "first")

	writeRepoFile(t, dir, "a.txt", "two\n")
	stageAndCommit(t, r, "a.txt", "second")

	out := runLogCommand(t, dir, "--oneline")
	lines := nonEmptyLines(out)
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d\noutput:\n%s", len(lines), out)
	}
	assertLineContainsMessage(t, lines[0], "second")
	if !strings.Contains(lines[0], "(HEAD -> main)") {
		t.Fatalf("expected HEAD decoration on newest commit, got %q", lines[0])
	}
	assertLineContainsMessage(t, lines[1], "first")
}

func TestLogCmd_Limit(t *testing.T) {
	dir := t.TempDir()
	r, err := repo.Init(dir)
	if err != nil {
		t.Fatalf("repo.Init: %v", err)
	}

	for i := 0; i < 3; i++ {
		writeRepoFile(t, dir, "a.txt", strings.Repeat("x", i+1)+"\n")
		stageAndCommit(t, r, "a.txt", "commit")
	}

	out := runLogCommand(t, dir, "--oneline", "--limit", "2")
	lines := nonEmptyLines(out)
	if len(lines) != 2 {
		t.Fatalf("expected --limit=2 to cap output at 2 lines, got %d\noutput:\n%s", len(lines), out)
	}
}

func TestLogCmd_Patch(t *testing.T) {
	dir := t.TempDir()
	r, err := repo.Init(dir)
	if err != nil {
		t.Fatalf("repo.Init: %v", err)
	}

	writeRepoFile(t, dir, "a.txt", "hi\n")
	stageAndCommit(t, r, "a.txt", "first")

	writeRepoFile(t, dir, "a.txt", "hi there\n")
	stageAndCommit(t, r, "a.txt", "second")

	out := runLogCommand(t, dir, "--patch", "--limit", "1")
	if !strings.Contains(out, "-hi\n") {
		t.Errorf("expected --patch output to include the deleted line:\n%s", out)
	}
	if !strings.Contains(out, "+hi there\n") {
		t.Errorf("expected --patch output to include the added line:\n%s", out)
	}
}

func stageAndCommit(t *testing.T, r *repo.Repo, path, message string) {
	t.Helper()

	if err := r.Add([]string{path}); err != nil {
		t.Fatalf("Add(%q): %v", path, err)
	}
	if _, err := r.Commit(message, "tester"); err != nil {
		t.Fatalf("Commit(%q): %v", message, err)
	}
}

func writeRepoFile(t *testing.T, root, relPath, content string) {
	t.Helper()

	absPath := filepath.Join(root, relPath)
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		t.Fatalf("MkdirAll(%q): %v", relPath, err)
	}
	if err := os.WriteFile(absPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%q): %v", relPath, err)
	}
}

func runLogCommand(t *testing.T, repoDir string, args ...string) string {
	t.Helper()

	prevWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(repoDir); err != nil {
		t.Fatalf("Chdir(%q): %v", repoDir, err)
	}
	defer func() {
		if err := os.Chdir(prevWD); err != nil {
			t.Fatalf("restore cwd: %v", err)
		}
	}()

	cmd := newLogCmd()
	cmd.SetArgs(args)

	var output bytes.Buffer
	cmd.SetOut(&output)
	cmd.SetErr(&output)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("log command failed (%v): %v\noutput:\n%s", args, err, output.String())
	}

	return output.String()
}

func nonEmptyLines(s string) []string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

func assertLineContainsMessage(t *testing.T, line, message string) {
	t.Helper()

	if !strings.Contains(line, message) {
		t.Fatalf("line %q does not contain %q", line, message)
	}
}
