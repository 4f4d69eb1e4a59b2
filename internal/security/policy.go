package security

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"llmsh/internal/domain"
)

// Rule maps a program-name prefix to a decision.
type Rule struct {
	Pattern     string `yaml:"pattern"`
	Decision    string `yaml:"decision"` // allow | deny | confirm
	Description string `yaml:"description,omitempty"`
}

// Policy is the static rule set for command classification. Loaded once at
// startup and read-only afterwards.
type Policy struct {
	Default string `yaml:"default"` // allow | deny | confirm
	Rules   []Rule `yaml:"rules"`
}

// DefaultPolicy is the built-in rule set used when no policy file exists.
func DefaultPolicy() *Policy {
	return &Policy{
		Default: "confirm",
		Rules: []Rule{
			{Pattern: "ls", Decision: "allow"},
			{Pattern: "cat", Decision: "allow"},
			{Pattern: "echo", Decision: "allow"},
			{Pattern: "pwd", Decision: "allow"},
			{Pattern: "date", Decision: "allow"},
			{Pattern: "whoami", Decision: "allow"},
			{Pattern: "uname", Decision: "allow"},
			{Pattern: "touch", Decision: "allow"},
			{Pattern: "mkdir", Decision: "allow"},
			{Pattern: "head", Decision: "allow"},
			{Pattern: "tail", Decision: "allow"},
			{Pattern: "wc", Decision: "allow"},
			{Pattern: "grep", Decision: "allow"},
			{Pattern: "find", Decision: "allow"},
			{Pattern: "git status", Decision: "allow"},
			{Pattern: "git log", Decision: "allow"},
			{Pattern: "git diff", Decision: "allow"},
			{Pattern: "git", Decision: "confirm"},
			{Pattern: "mv", Decision: "confirm"},
			{Pattern: "cp", Decision: "confirm"},
			{Pattern: "rm", Decision: "confirm"},
			{Pattern: "rmdir", Decision: "confirm"},
			{Pattern: "chmod", Decision: "deny"},
			{Pattern: "chown", Decision: "deny"},
			{Pattern: "mount", Decision: "deny"},
			{Pattern: "umount", Decision: "deny"},
			{Pattern: "shutdown", Decision: "deny"},
			{Pattern: "reboot", Decision: "deny"},
			{Pattern: "kill", Decision: "confirm"},
		},
	}
}

// LoadPolicy reads a YAML policy file. A missing file falls back to the
// built-in defaults; a present but invalid file is an error.
func LoadPolicy(path string, logger *slog.Logger) (*Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("policy file does not exist, using defaults", "path", path)
			return DefaultPolicy(), nil
		}
		return nil, fmt.Errorf("read policy file %s: %w", path, err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	if p.Default == "" {
		p.Default = "confirm"
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("policy file %s: %w", path, err)
	}
	logger.Info("loaded policy", "path", path, "rules", len(p.Rules))
	return &p, nil
}

func (p *Policy) validate() error {
	if !validDecision(p.Default) {
		return fmt.Errorf("default must be allow, deny or confirm, got %q", p.Default)
	}
	for i, r := range p.Rules {
		if strings.TrimSpace(r.Pattern) == "" {
			return fmt.Errorf("rule %d: empty pattern", i)
		}
		if !validDecision(r.Decision) {
			return fmt.Errorf("rule %d (%s): decision must be allow, deny or confirm, got %q", i, r.Pattern, r.Decision)
		}
	}
	return nil
}

func validDecision(s string) bool {
	switch s {
	case "allow", "deny", "confirm":
		return true
	}
	return false
}

// Match finds the decision for a command by longest-prefix match of the
// rule pattern against "program args...". When several rules of the same
// length match, the most restrictive decision wins (deny > confirm > allow).
func (p *Policy) Match(program string, args []string) (domain.Decision, string) {
	line := program
	if len(args) > 0 {
		line += " " + strings.Join(args, " ")
	}

	bestLen := -1
	best := decisionFromString(p.Default)
	bestPattern := ""
	for _, r := range p.Rules {
		if !matchesPrefix(line, r.Pattern) {
			continue
		}
		d := decisionFromString(r.Decision)
		switch {
		case len(r.Pattern) > bestLen:
			bestLen = len(r.Pattern)
			best = d
			bestPattern = r.Pattern
		case len(r.Pattern) == bestLen && restrictiveness(d) > restrictiveness(best):
			best = d
			bestPattern = r.Pattern
		}
	}
	if bestLen < 0 {
		return best, "default policy"
	}
	return best, fmt.Sprintf("rule %q", bestPattern)
}

// matchesPrefix matches on word boundaries: pattern "git log" matches
// "git log --oneline" but not "git logs" or "gitk".
func matchesPrefix(line, pattern string) bool {
	if !strings.HasPrefix(line, pattern) {
		return false
	}
	return len(line) == len(pattern) || line[len(pattern)] == ' '
}

func decisionFromString(s string) domain.Decision {
	switch s {
	case "allow":
		return domain.DecisionAllow
	case "deny":
		return domain.DecisionDeny
	default:
		return domain.DecisionConfirm
	}
}

func restrictiveness(d domain.Decision) int {
	switch d {
	case domain.DecisionDeny:
		return 2
	case domain.DecisionConfirm:
		return 1
	default:
		return 0
	}
}
