package security

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"llmsh/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadPolicy_MissingFileUsesDefaults(t *testing.T) {
	p, err := LoadPolicy(filepath.Join(t.TempDir(), "nope.yaml"), testLogger())
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if p.Default != "confirm" {
		t.Errorf("default = %q, want confirm", p.Default)
	}
	if len(p.Rules) == 0 {
		t.Error("expected built-in rules")
	}
}

func TestLoadPolicy_EmptyPathUsesDefaults(t *testing.T) {
	p, err := LoadPolicy("", testLogger())
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if len(p.Rules) == 0 {
		t.Error("expected built-in rules")
	}
}

func TestLoadPolicy_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	data := `default: deny
rules:
  - pattern: ls
    decision: allow
  - pattern: git push
    decision: confirm
    description: pushes leave the machine
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPolicy(path, testLogger())
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if p.Default != "deny" {
		t.Errorf("default = %q", p.Default)
	}
	if len(p.Rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(p.Rules))
	}
	if p.Rules[1].Description == "" {
		t.Error("description not loaded")
	}
}

func TestLoadPolicy_InvalidDecision(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	data := "rules:\n  - pattern: ls\n    decision: maybe\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPolicy(path, testLogger()); err == nil {
		t.Fatal("expected error for invalid decision")
	}
}

func TestLoadPolicy_EmptyPattern(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	data := "rules:\n  - pattern: \"\"\n    decision: allow\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPolicy(path, testLogger()); err == nil {
		t.Fatal("expected error for empty pattern")
	}
}

func TestMatch_LongestPrefixWins(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		program string
		args    []string
		want    domain.Decision
	}{
		{"git", []string{"log", "--oneline"}, domain.DecisionAllow},
		{"git", []string{"status"}, domain.DecisionAllow},
		{"git", []string{"push"}, domain.DecisionConfirm},
		{"ls", []string{"-la"}, domain.DecisionAllow},
		{"chmod", []string{"644", "f"}, domain.DecisionDeny},
		{"nonexistent-prog", nil, domain.DecisionConfirm}, // default
	}
	for _, tt := range tests {
		got, _ := p.Match(tt.program, tt.args)
		if got != tt.want {
			t.Errorf("Match(%s %v) = %v, want %v", tt.program, tt.args, got, tt.want)
		}
	}
}

func TestMatch_WordBoundary(t *testing.T) {
	p := &Policy{Default: "deny", Rules: []Rule{{Pattern: "git log", Decision: "allow"}}}

	if got, _ := p.Match("git", []string{"logs"}); got != domain.DecisionDeny {
		t.Errorf("git logs matched rule for git log")
	}
	if got, _ := p.Match("git", []string{"log"}); got != domain.DecisionAllow {
		t.Errorf("exact match not allowed")
	}
	if got, _ := p.Match("git", []string{"log", "-n", "3"}); got != domain.DecisionAllow {
		t.Errorf("prefix with boundary not allowed")
	}
}

func TestMatch_RestrictiveTiebreak(t *testing.T) {
	p := &Policy{Default: "allow", Rules: []Rule{
		{Pattern: "kill", Decision: "allow"},
		{Pattern: "kill", Decision: "deny"},
	}}
	if got, _ := p.Match("kill", []string{"-9", "42"}); got != domain.DecisionDeny {
		t.Errorf("equal-length tie should pick the more restrictive decision, got %v", got)
	}
}
