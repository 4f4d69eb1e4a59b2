// Package channel implements the interactive terminal session: the
// read/print loop that wires user questions through the model and the
// executor.
package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"llmsh/internal/domain"
	"llmsh/internal/executor"
	"llmsh/internal/scanner"
)

// CLI is the interactive command loop. Input and output are injectable for
// tests; by default it speaks on stdin/stdout.
type CLI struct {
	exec     *executor.Executor
	provider domain.Provider
	scanner  *scanner.Scanner
	root     string
	logger   *slog.Logger

	exitKeyword string
	undoKeyword string
	in          io.Reader
	out         io.Writer
}

type CLIConfig struct {
	Executor    *executor.Executor
	Provider    domain.Provider
	Scanner     *scanner.Scanner
	Root        string
	Logger      *slog.Logger
	ExitKeyword string
	UndoKeyword string
	In          io.Reader
	Out         io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.ExitKeyword == "" {
		cfg.ExitKeyword = "exit"
	}
	if cfg.UndoKeyword == "" {
		cfg.UndoKeyword = "undo"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		exec:        cfg.Executor,
		provider:    cfg.Provider,
		scanner:     cfg.Scanner,
		root:        cfg.Root,
		logger:      cfg.Logger,
		exitKeyword: cfg.ExitKeyword,
		undoKeyword: cfg.UndoKeyword,
		in:          cfg.In,
		out:         cfg.Out,
	}
}

// Run is the session loop. It returns on the exit keyword, EOF, or context
// cancellation; individual command failures never end the session.
func (c *CLI) Run(ctx context.Context) error {
	fmt.Fprintf(c.out, "llmsh: ask in plain language. %q undoes the last command, %q quits.\n", c.undoKeyword, c.exitKeyword)
	fmt.Fprint(c.out, "You> ")

	reader := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !reader.Scan() {
			if err := reader.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(reader.Text())
		switch {
		case line == "":
		case strings.EqualFold(line, c.exitKeyword):
			c.logger.Info("session ended by user")
			return nil
		case strings.EqualFold(line, c.undoKeyword):
			c.undo(ctx)
		default:
			c.handleQuestion(ctx, reader, line)
		}
		fmt.Fprint(c.out, "You> ")
	}
}

func (c *CLI) undo(ctx context.Context) {
	res, err := c.exec.UndoLast(ctx)
	switch {
	case errors.Is(err, domain.ErrEmptyJournal):
		fmt.Fprintln(c.out, "Nothing to undo.")
	case errors.Is(err, domain.ErrNotReversible):
		fmt.Fprintf(c.out, "Cannot undo %q: no inverse is known.\n", res.Entry.Command)
	case err != nil:
		fmt.Fprintf(c.out, "Undo failed: %v\n", err)
	default:
		fmt.Fprintln(c.out, res.Output)
	}
}

func (c *CLI) handleQuestion(ctx context.Context, reader *bufio.Scanner, question string) {
	prompt := c.buildPrompt(question)

	command, err := c.provider.Ask(ctx, prompt)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrModelUnavailable):
			fmt.Fprintln(c.out, "The model is unavailable. Is Ollama running?")
		case errors.Is(err, domain.ErrEmptyResponse):
			fmt.Fprintln(c.out, "The model returned no command. Try rephrasing.")
		default:
			fmt.Fprintf(c.out, "Model error: %v\n", err)
		}
		return
	}

	fmt.Fprintf(c.out, "Proposed command: %s\n", command)
	c.report(ctx, reader, c.exec.Execute(ctx, command))
}

func (c *CLI) report(ctx context.Context, reader *bufio.Scanner, res executor.Result) {
	switch res.Status {
	case executor.StatusExecuted:
		if strings.TrimSpace(res.Output) != "" {
			fmt.Fprintln(c.out, res.Output)
		} else {
			fmt.Fprintln(c.out, "Done.")
		}
	case executor.StatusRejected:
		fmt.Fprintf(c.out, "Refused: %s\n", res.Reason)
	case executor.StatusAwaitingConfirmation:
		fmt.Fprintf(c.out, "This command needs confirmation (%s).\nRun %q? Type 'yes' to allow: ", res.Reason, res.Command)
		confirmed := false
		if reader.Scan() {
			answer := strings.ToLower(strings.TrimSpace(reader.Text()))
			confirmed = answer == "yes" || answer == "y"
		}
		c.report(ctx, reader, c.exec.Resume(ctx, confirmed))
	default:
		fmt.Fprintf(c.out, "Failed: %v\n", res.Err)
	}
}

// buildPrompt frames the question for the model: reply with a single Bash
// command, absolute paths only, and here is what the workspace looks like.
func (c *CLI) buildPrompt(question string) string {
	var sb strings.Builder
	sb.WriteString("You are an assistant that proposes a single Bash command for a Linux system.\n")
	sb.WriteString("Reply with only the command, no explanation and no code fences.\n")
	sb.WriteString("Always use full absolute paths. Never use ~ or sudo, pipes, or command chaining.\n")
	fmt.Fprintf(&sb, "All files live under the base directory %s; never touch anything outside it.\n", c.root)

	if c.scanner != nil {
		if dirs, err := c.scanner.Directories(c.root); err == nil && len(dirs) > 0 {
			sb.WriteString("Existing directories:\n")
			for _, d := range dirs {
				sb.WriteString(d)
				sb.WriteByte('\n')
			}
		}
	}

	fmt.Fprintf(&sb, "Request: %s\n", question)
	return sb.String()
}
