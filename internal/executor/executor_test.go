package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"llmsh/internal/domain"
	"llmsh/internal/filemgr"
	"llmsh/internal/sandbox"
	"llmsh/internal/security"
)

// testPolicy keeps classification deterministic regardless of the shipped
// defaults.
func testPolicy() *security.Policy {
	return &security.Policy{
		Default: "confirm",
		Rules: []security.Rule{
			{Pattern: "touch", Decision: "allow"},
			{Pattern: "mkdir", Decision: "allow"},
			{Pattern: "echo", Decision: "allow"},
			{Pattern: "mv", Decision: "allow"},
			{Pattern: "sleep", Decision: "allow"},
			{Pattern: "chmod", Decision: "deny"},
		},
	}
}

func newTestExecutor(t *testing.T, cfg Config) (*Executor, *sandbox.Resolver) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	resolver, err := sandbox.NewResolver(t.TempDir())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	cfg.Validator = security.NewValidator(testPolicy(), resolver, logger)
	cfg.Files = filemgr.New(filemgr.Config{Logger: logger})
	cfg.Resolver = resolver
	cfg.Logger = logger
	return New(cfg), resolver
}

func mustExecute(t *testing.T, e *Executor, raw string) Result {
	t.Helper()
	res := e.Execute(context.Background(), raw)
	if res.Status != StatusExecuted {
		t.Fatalf("Execute(%q) = %v (reason %q, err %v), want executed", raw, res.Status, res.Reason, res.Err)
	}
	return res
}

func TestExecute_TouchUndoRoundtrip(t *testing.T) {
	e, r := newTestExecutor(t, Config{})
	target := filepath.Join(r.Root(), "notes.txt")

	mustExecute(t, e, "touch notes.txt")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("file not created: %v", err)
	}
	if e.JournalLen() != 1 {
		t.Fatalf("journal len = %d, want 1", e.JournalLen())
	}

	res, err := e.UndoLast(context.Background())
	if err != nil {
		t.Fatalf("UndoLast: %v", err)
	}
	if res.Entry.Command != "touch notes.txt" {
		t.Errorf("undone command = %q", res.Entry.Command)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("undo did not remove the file")
	}

	if _, err := e.UndoLast(context.Background()); !errors.Is(err, domain.ErrEmptyJournal) {
		t.Fatalf("second undo: expected ErrEmptyJournal, got %v", err)
	}
}

func TestExecute_MkdirUndo(t *testing.T) {
	e, r := newTestExecutor(t, Config{})
	target := filepath.Join(r.Root(), "reports")

	mustExecute(t, e, "mkdir reports")
	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		t.Fatalf("directory not created: %v", err)
	}

	if _, err := e.UndoLast(context.Background()); err != nil {
		t.Fatalf("UndoLast: %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("undo did not remove the directory")
	}
}

func TestExecute_WriteUndoRestoresPriorContent(t *testing.T) {
	e, r := newTestExecutor(t, Config{})
	target := filepath.Join(r.Root(), "notes.txt")
	if err := os.WriteFile(target, []byte("original\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	mustExecute(t, e, "echo replaced > notes.txt")
	data, _ := os.ReadFile(target)
	if string(data) != "replaced\n" {
		t.Fatalf("content = %q after write", data)
	}

	if _, err := e.UndoLast(context.Background()); err != nil {
		t.Fatalf("UndoLast: %v", err)
	}
	data, _ = os.ReadFile(target)
	if string(data) != "original\n" {
		t.Errorf("content = %q after undo, want prior content back", data)
	}
}

func TestExecute_WriteUndoRestoresPriorMode(t *testing.T) {
	e, r := newTestExecutor(t, Config{})
	target := filepath.Join(r.Root(), "secret.txt")
	if err := os.WriteFile(target, []byte("keep\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(target, 0o600); err != nil {
		t.Fatal(err)
	}

	mustExecute(t, e, "echo replaced > secret.txt")
	if _, err := e.UndoLast(context.Background()); err != nil {
		t.Fatalf("UndoLast: %v", err)
	}

	info, err := os.Stat(target)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v after undo, want 0600", info.Mode().Perm())
	}
	data, _ := os.ReadFile(target)
	if string(data) != "keep\n" {
		t.Errorf("content = %q after undo", data)
	}
}

func TestExecute_WriteUndoRemovesFreshFile(t *testing.T) {
	e, r := newTestExecutor(t, Config{})
	target := filepath.Join(r.Root(), "new.txt")

	mustExecute(t, e, "echo hello > new.txt")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("file not created: %v", err)
	}

	if _, err := e.UndoLast(context.Background()); err != nil {
		t.Fatalf("UndoLast: %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("undo left a file that did not exist before")
	}
}

func TestExecute_DeniedNeverRuns(t *testing.T) {
	e, r := newTestExecutor(t, Config{})

	res := e.Execute(context.Background(), "rm -rf /")
	if res.Status != StatusRejected {
		t.Fatalf("status = %v, want rejected", res.Status)
	}

	res = e.Execute(context.Background(), "mkdir ../../evil")
	if res.Status != StatusRejected {
		t.Fatalf("status = %v, want rejected", res.Status)
	}
	if _, err := os.Stat(filepath.Join(r.Root(), "..", "..", "evil")); err == nil {
		t.Error("rejected mkdir still created a directory")
	}
	if e.JournalLen() != 0 {
		t.Errorf("journal len = %d after rejections, want 0", e.JournalLen())
	}
}

func TestExecute_Malformed(t *testing.T) {
	e, _ := newTestExecutor(t, Config{})
	res := e.Execute(context.Background(), `echo "unterminated`)
	if res.Status != StatusRejected {
		t.Fatalf("status = %v, want rejected", res.Status)
	}
	if !errors.Is(res.Err, domain.ErrMalformedCommand) {
		t.Errorf("err = %v, want ErrMalformedCommand", res.Err)
	}
}

func TestConfirmationFlow(t *testing.T) {
	e, _ := newTestExecutor(t, Config{})
	ctx := context.Background()

	// "true" has no rule; the default decision is confirm.
	res := e.Execute(ctx, "true")
	if res.Status != StatusAwaitingConfirmation {
		t.Fatalf("status = %v, want awaiting-confirmation", res.Status)
	}
	if e.Pending() == nil {
		t.Fatal("no pending command recorded")
	}

	res = e.Resume(ctx, false)
	if res.Status != StatusRejected {
		t.Fatalf("declined resume: status = %v, want rejected", res.Status)
	}
	if e.Pending() != nil {
		t.Error("pending command survived a decline")
	}
	if e.JournalLen() != 0 {
		t.Errorf("declined command reached the journal")
	}

	res = e.Execute(ctx, "true")
	if res.Status != StatusAwaitingConfirmation {
		t.Fatalf("status = %v", res.Status)
	}
	res = e.Resume(ctx, true)
	if res.Status != StatusExecuted {
		t.Fatalf("confirmed resume: status = %v (err %v), want executed", res.Status, res.Err)
	}
	if e.JournalLen() != 1 {
		t.Fatalf("journal len = %d, want 1", e.JournalLen())
	}

	// A generic process has no computed inverse.
	_, err := e.UndoLast(ctx)
	if !errors.Is(err, domain.ErrNotReversible) {
		t.Fatalf("expected ErrNotReversible, got %v", err)
	}
}

func TestResume_NothingPending(t *testing.T) {
	e, _ := newTestExecutor(t, Config{})
	res := e.Resume(context.Background(), true)
	if res.Status != StatusFailed {
		t.Fatalf("status = %v, want failed", res.Status)
	}
}

func TestExecute_MvInverseUndo(t *testing.T) {
	e, r := newTestExecutor(t, Config{})
	a := filepath.Join(r.Root(), "a.txt")
	b := filepath.Join(r.Root(), "b.txt")
	if err := os.WriteFile(a, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	mustExecute(t, e, "mv a.txt b.txt")
	if _, err := os.Stat(b); err != nil {
		t.Fatalf("mv did not move the file: %v", err)
	}
	if _, err := os.Stat(a); !os.IsNotExist(err) {
		t.Fatal("source still present after mv")
	}

	res, err := e.UndoLast(context.Background())
	if err != nil {
		t.Fatalf("UndoLast: %v", err)
	}
	if !strings.Contains(res.Output, "mv b.txt a.txt") {
		t.Errorf("undo output = %q", res.Output)
	}
	data, err := os.ReadFile(a)
	if err != nil || string(data) != "payload" {
		t.Errorf("file not moved back: %v, %q", err, data)
	}
}

func TestUndo_ExternallyRemovedFile(t *testing.T) {
	e, r := newTestExecutor(t, Config{})
	target := filepath.Join(r.Root(), "gone.txt")

	mustExecute(t, e, "touch gone.txt")
	if err := os.Remove(target); err != nil {
		t.Fatal(err)
	}

	_, err := e.UndoLast(context.Background())
	if !errors.Is(err, domain.ErrPathNotFound) {
		t.Fatalf("expected ErrPathNotFound, got %v", err)
	}
	// The failed entry is not re-pushed.
	if _, err := e.UndoLast(context.Background()); !errors.Is(err, domain.ErrEmptyJournal) {
		t.Fatalf("expected ErrEmptyJournal after failed undo, got %v", err)
	}
}

func TestUndo_LIFOOrder(t *testing.T) {
	e, r := newTestExecutor(t, Config{})
	ctx := context.Background()

	mustExecute(t, e, "touch first.txt")
	mustExecute(t, e, "touch second.txt")

	res, err := e.UndoLast(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Entry.Command != "touch second.txt" {
		t.Errorf("first undo reversed %q, want the most recent command", res.Entry.Command)
	}
	if _, err := os.Stat(filepath.Join(r.Root(), "first.txt")); err != nil {
		t.Error("older file removed out of order")
	}

	res, err = e.UndoLast(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Entry.Command != "touch first.txt" {
		t.Errorf("second undo reversed %q", res.Entry.Command)
	}
}

func TestExecute_ProcessOutput(t *testing.T) {
	e, _ := newTestExecutor(t, Config{})
	res := mustExecute(t, e, "echo hello")
	if strings.TrimSpace(res.Output) != "hello" {
		t.Errorf("output = %q", res.Output)
	}
}

func TestExecute_LaunchFailure(t *testing.T) {
	e, _ := newTestExecutor(t, Config{})
	res := e.Execute(context.Background(), "true")
	if res.Status != StatusAwaitingConfirmation {
		t.Fatal("setup: expected confirmation")
	}
	// Swap in a program that does not exist.
	e.pending.Program = "llmsh-no-such-binary"
	res = e.Resume(context.Background(), true)
	if res.Status != StatusFailed {
		t.Fatalf("status = %v, want failed", res.Status)
	}
	if res.Err == nil || !strings.Contains(res.Err.Error(), "launch") {
		t.Errorf("err = %v", res.Err)
	}
	if e.JournalLen() != 0 {
		t.Error("failed launch reached the journal")
	}
}

func TestExecute_Timeout(t *testing.T) {
	e, _ := newTestExecutor(t, Config{TimeoutSeconds: 1})
	res := e.Execute(context.Background(), "sleep 5")
	if res.Status != StatusFailed {
		t.Fatalf("status = %v, want failed", res.Status)
	}
	if res.Err == nil || !strings.Contains(res.Err.Error(), "timed out") {
		t.Errorf("err = %v", res.Err)
	}
}

func TestInverseEntry(t *testing.T) {
	tests := []struct {
		program string
		args    []string
		want    domain.UndoAction
		inverse []string
	}{
		{"mv", []string{"a", "b"}, domain.UndoInverse, []string{"mv", "b", "a"}},
		{"mv", []string{"-n", "a", "b"}, domain.UndoInverse, []string{"mv", "b", "a"}},
		{"mv", []string{"a", "b", "dir"}, domain.UndoNone, nil},
		{"cp", []string{"a", "b"}, domain.UndoNone, nil},
		{"date", nil, domain.UndoNone, nil},
	}
	for _, tt := range tests {
		entry := inverseEntry(&domain.Command{Program: tt.program, Args: tt.args})
		if entry.Action != tt.want {
			t.Errorf("inverseEntry(%s %v) action = %v, want %v", tt.program, tt.args, entry.Action, tt.want)
			continue
		}
		if tt.inverse != nil && strings.Join(entry.Inverse, " ") != strings.Join(tt.inverse, " ") {
			t.Errorf("inverseEntry(%s %v) inverse = %v, want %v", tt.program, tt.args, entry.Inverse, tt.inverse)
		}
	}
}
