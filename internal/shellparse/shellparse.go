// Package shellparse tokenizes proposed shell commands with real shell
// quoting rules. Tokenization is security-critical: the validator and the
// executor both rely on it, so it lives in its own package with its own
// tests rather than inside the validator.
package shellparse

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"llmsh/internal/domain"
)

// Parsed is the tokenized form of one proposed command line.
type Parsed struct {
	Raw     string
	Program string
	Args    []string

	// RedirOut holds targets of > and >> redirections on the first command.
	RedirOut []string
	// Appends reports whether the first output redirection is >> rather than >.
	Appends bool

	// HasPipe is set when the line pipes between commands.
	HasPipe bool
	// HasSubst is set for command substitution ($(...), backticks) or
	// process substitution anywhere in the line.
	HasSubst bool
	// HasControl is set for lists (;, &&, ||), background jobs, loops and
	// other compound constructs: anything beyond a single simple command.
	HasControl bool
	// HasExpansion is set when an argument uses parameter or glob expansion
	// and therefore has no literal value at parse time.
	HasExpansion bool
	// HasOtherRedir is set for redirections the pipeline does not model:
	// stdin, heredocs, fd duplication, and output redirects whose target
	// has no literal value. Executing the bare argv would silently drop
	// them, so callers must not treat the line as a plain simple command.
	HasOtherRedir bool
}

// Parse tokenizes raw as Bash. Unparsable input (unbalanced quoting and the
// like) fails with domain.ErrMalformedCommand; an empty line does too.
func Parse(raw string) (*Parsed, error) {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(raw), "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedCommand, err)
	}
	if len(file.Stmts) == 0 {
		return nil, fmt.Errorf("%w: empty command", domain.ErrMalformedCommand)
	}

	p := &Parsed{Raw: raw}
	if len(file.Stmts) > 1 {
		p.HasControl = true
	}

	syntax.Walk(file, func(node syntax.Node) bool {
		switch node.(type) {
		case *syntax.CmdSubst, *syntax.ProcSubst:
			p.HasSubst = true
		}
		return true
	})

	stmt := file.Stmts[0]
	if stmt.Background || stmt.Coprocess {
		p.HasControl = true
	}
	p.collect(stmt.Cmd)
	for _, redir := range stmt.Redirs {
		p.collectRedir(redir)
	}
	return p, nil
}

// collect pulls the program name, arguments and redirections out of the
// first command in the statement, descending through pipelines.
func (p *Parsed) collect(cmd syntax.Command) {
	switch c := cmd.(type) {
	case *syntax.CallExpr:
		for i, word := range c.Args {
			lit, ok := wordLiteral(word)
			if !ok {
				p.HasExpansion = true
			}
			if i == 0 {
				p.Program = lit
			} else {
				p.Args = append(p.Args, lit)
			}
		}
	case *syntax.BinaryCmd:
		switch c.Op {
		case syntax.Pipe, syntax.PipeAll:
			p.HasPipe = true
		default:
			p.HasControl = true
		}
		p.collect(c.X.Cmd)
		for _, redir := range c.X.Redirs {
			p.collectRedir(redir)
		}
	default:
		// Subshells, loops, function declarations: nothing here is a
		// simple command the pipeline knows how to reason about.
		p.HasControl = true
	}
}

func (p *Parsed) collectRedir(redir *syntax.Redirect) {
	switch redir.Op {
	case syntax.RdrOut, syntax.AppOut, syntax.RdrAll, syntax.AppAll:
		if lit, ok := wordLiteral(redir.Word); ok {
			if len(p.RedirOut) == 0 {
				p.Appends = redir.Op == syntax.AppOut || redir.Op == syntax.AppAll
			}
			p.RedirOut = append(p.RedirOut, lit)
		} else {
			p.HasOtherRedir = true
		}
	default:
		p.HasOtherRedir = true
	}
}

// wordLiteral evaluates a word down to its literal string value, honoring
// single quotes, double quotes and backslash escapes. Words containing
// parameter expansion, substitution or globs have no literal value and
// return ok=false (with a best-effort rendering for error messages).
func wordLiteral(w *syntax.Word) (string, bool) {
	var sb strings.Builder
	ok := true
	for _, part := range w.Parts {
		s, literal := partLiteral(part)
		sb.WriteString(s)
		ok = ok && literal
	}
	return sb.String(), ok
}

func partLiteral(part syntax.WordPart) (string, bool) {
	switch p := part.(type) {
	case *syntax.Lit:
		v := p.Value
		if strings.ContainsAny(v, "*?[") {
			return v, false // glob, expands at run time
		}
		return unescape(v), true
	case *syntax.SglQuoted:
		return p.Value, true
	case *syntax.DblQuoted:
		var sb strings.Builder
		ok := true
		for _, inner := range p.Parts {
			s, literal := partLiteral(inner)
			sb.WriteString(s)
			ok = ok && literal
		}
		return sb.String(), ok
	default:
		// ParamExp, CmdSubst, ArithmExp, ExtGlob...
		return "", false
	}
}

// unescape drops backslashes used to escape single characters in an
// unquoted literal (touch my\ file.txt).
func unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var sb strings.Builder
	escaped := false
	for _, r := range s {
		if escaped {
			sb.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
