// Package security classifies proposed commands as allowed, denied or
// requiring confirmation. Classification is a pure decision function: it
// never launches anything and never treats a denial as an error.
package security

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"llmsh/internal/domain"
	"llmsh/internal/sandbox"
	"llmsh/internal/shellparse"
)

type denyRule struct {
	re     *regexp.Regexp
	reason string
}

// denylist covers destructive patterns that no policy rule may override.
// It is checked first, against the raw command text, so quoting tricks in
// later stages cannot resurrect a match.
var denylist = []denyRule{
	{regexp.MustCompile(`(?i)\brm\s+(-\w+\s+)*-\w*[rR]|\brm\b.*--recursive`), "recursive delete"},
	{regexp.MustCompile(`(?i)^\s*sudo\b|\|\s*sudo\b|;\s*sudo\b`), "privilege escalation"},
	{regexp.MustCompile(`(?i)^\s*su\b(\s|$)`), "privilege escalation"},
	{regexp.MustCompile(`(?i)\bmkfs`), "filesystem format"},
	{regexp.MustCompile(`(?i)\bdd\b.*\bof=/dev/`), "raw write to device"},
	{regexp.MustCompile(`>\s*/dev/(sd|hd|nvme|mmcblk|mem|kmem)`), "redirection to device file"},
	{regexp.MustCompile(`(?i)\|\s*(ba|z|da|fi)?sh\b`), "pipe to shell"},
	{regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`), "fork bomb"},
	{regexp.MustCompile(`(?i)\bchmod\b.*\s-R\b|\bchmod\s+-R\b`), "recursive permission change"},
}

// fileTargetPrograms are commands whose non-flag arguments are treated as
// paths and checked against the allowed root.
var fileTargetPrograms = map[string]bool{
	"touch": true, "mkdir": true, "rm": true, "rmdir": true,
	"cp": true, "mv": true, "cat": true, "ls": true,
	"head": true, "tail": true, "stat": true, "ln": true,
}

// Validator classifies raw command strings against the denylist, the path
// scope and the policy rule set.
type Validator struct {
	policy   *Policy
	resolver *sandbox.Resolver
	logger   *slog.Logger
}

func NewValidator(policy *Policy, resolver *sandbox.Resolver, logger *slog.Logger) *Validator {
	return &Validator{policy: policy, resolver: resolver, logger: logger}
}

// Classify decides what to do with a proposed command. Denial is a normal
// outcome returned in the Classification; the only error is
// domain.ErrMalformedCommand for input that cannot be tokenized.
func (v *Validator) Classify(raw string) (domain.Classification, error) {
	raw = strings.TrimSpace(raw)

	parsed, err := shellparse.Parse(raw)
	if err != nil {
		return domain.Classification{}, err
	}

	for _, rule := range denylist {
		if rule.re.MatchString(raw) {
			v.logger.Warn("command blocked by denylist", "command", raw, "reason", rule.reason)
			return v.denied(parsed, "denylist: "+rule.reason), nil
		}
	}

	cmd, denyReason := v.buildCommand(parsed)
	if denyReason != "" {
		return v.denied(parsed, denyReason), nil
	}

	// Redirections the tokenizer does not model (stdin, heredocs, fd
	// duplication, targets with no literal value) would be silently
	// dropped by a bare argv launch. Refuse instead of running a command
	// that differs from the one shown.
	if parsed.HasOtherRedir {
		return v.denied(parsed, "unsupported redirection"), nil
	}

	// Execution passes the argument list straight to the process launcher,
	// never through a shell. Constructs that only a shell can run are
	// denied here rather than silently mis-executed. The one exception is
	// echo with a single output redirection, which the file manager
	// handles itself.
	if cmd.Kind != domain.KindFileWrite {
		switch {
		case parsed.HasSubst:
			return v.denied(parsed, "command substitution is not supported"), nil
		case parsed.HasPipe:
			return v.denied(parsed, "pipelines are not supported"), nil
		case parsed.HasControl:
			return v.denied(parsed, "compound commands are not supported"), nil
		case len(parsed.RedirOut) > 0:
			return v.denied(parsed, "output redirection is only supported for echo"), nil
		}
	} else if parsed.HasSubst || parsed.HasExpansion {
		return v.denied(parsed, "file content must be literal"), nil
	}

	decision, matched := v.policy.Match(parsed.Program, parsed.Args)

	// Arguments with unresolved expansion ($VAR, globs) execute literally,
	// so an allow from the policy is downgraded to confirmation.
	if decision == domain.DecisionAllow && parsed.HasExpansion {
		decision, matched = domain.DecisionConfirm, "unresolved expansion"
	}

	switch decision {
	case domain.DecisionDeny:
		return v.denied(parsed, matched), nil
	case domain.DecisionConfirm:
		return domain.Classification{
			Decision: domain.DecisionConfirm,
			Reason:   matched,
			Command:  cmd,
		}, nil
	default:
		return domain.Classification{Decision: domain.DecisionAllow, Command: cmd}, nil
	}
}

func (v *Validator) denied(parsed *shellparse.Parsed, reason string) domain.Classification {
	return domain.Classification{
		Decision: domain.DecisionDeny,
		Reason:   reason,
		Command: &domain.Command{
			Raw:     parsed.Raw,
			Program: parsed.Program,
			Args:    parsed.Args,
			Kind:    domain.KindDenied,
		},
	}
}

// buildCommand resolves every path-like argument and settles the command
// kind. A non-empty second return is a denial reason (out-of-scope or
// unresolvable path).
func (v *Validator) buildCommand(parsed *shellparse.Parsed) (*domain.Command, string) {
	cmd := &domain.Command{
		Raw:     parsed.Raw,
		Program: parsed.Program,
		Args:    parsed.Args,
		Kind:    domain.KindShellGeneric,
	}

	var lastResolved sandbox.ResolvedPath
	for _, arg := range parsed.Args {
		if !looksLikePath(parsed.Program, arg) {
			continue
		}
		resolved, err := v.resolver.Resolve(arg)
		if err != nil {
			return nil, pathDenialReason(arg, err)
		}
		lastResolved = resolved
	}
	for _, target := range parsed.RedirOut {
		resolved, err := v.resolver.Resolve(target)
		if err != nil {
			return nil, pathDenialReason(target, err)
		}
		lastResolved = resolved
	}

	switch {
	case parsed.Program == "touch" || parsed.Program == "mkdir":
		if lastResolved.IsZero() {
			return nil, fmt.Sprintf("%s requires a target path", parsed.Program)
		}
		cmd.Kind = domain.KindFileCreate
		cmd.TargetPath = lastResolved.String()
		cmd.IsDir = parsed.Program == "mkdir"
	case parsed.Program == "echo" && len(parsed.RedirOut) == 1 && !parsed.HasPipe && !parsed.HasControl:
		cmd.Kind = domain.KindFileWrite
		cmd.TargetPath = lastResolved.String()
		cmd.Content = echoContent(parsed.Args)
		cmd.Append = parsed.Appends
	}
	return cmd, ""
}

// echoContent renders what echo would print: option flags are consumed
// rather than written, and a trailing newline is appended unless -n asked
// for it to be suppressed.
func echoContent(args []string) string {
	noNewline := false
	for len(args) > 0 && echoFlag(args[0]) {
		if strings.ContainsRune(args[0], 'n') {
			noNewline = true
		}
		args = args[1:]
	}
	content := strings.Join(args, " ")
	if !noNewline {
		content += "\n"
	}
	return content
}

// echoFlag reports whether arg is an echo option (-n, -e, -E or a
// combination of them).
func echoFlag(arg string) bool {
	if len(arg) < 2 || arg[0] != '-' {
		return false
	}
	for _, r := range arg[1:] {
		switch r {
		case 'n', 'e', 'E':
		default:
			return false
		}
	}
	return true
}

func pathDenialReason(arg string, err error) string {
	return fmt.Sprintf("path %q: %v", arg, err)
}

// looksLikePath decides whether an argument should go through the resolver.
// Flags never do; for known file-targeting programs every other argument
// does; elsewhere only arguments that contain a path separator.
func looksLikePath(program, arg string) bool {
	if strings.HasPrefix(arg, "-") {
		return false
	}
	if fileTargetPrograms[program] {
		return true
	}
	return strings.ContainsRune(arg, '/') || strings.HasPrefix(arg, "~")
}
