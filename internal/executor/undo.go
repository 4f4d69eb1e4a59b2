package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"llmsh/internal/domain"
)

// UndoResult reports what reversing one journal entry did.
type UndoResult struct {
	Entry  domain.UndoEntry
	Output string
}

// UndoLast pops the most recent journal entry and reverses it. An empty
// journal fails with domain.ErrEmptyJournal; an entry without a computed
// inverse fails with domain.ErrNotReversible. Reversal failures are
// reported, not retried, and never re-push the entry.
func (e *Executor) UndoLast(ctx context.Context) (UndoResult, error) {
	if len(e.journal) == 0 {
		return UndoResult{}, domain.ErrEmptyJournal
	}
	entry := e.journal[len(e.journal)-1]
	e.journal = e.journal[:len(e.journal)-1]

	res := UndoResult{Entry: entry}
	var err error
	switch entry.Action {
	case domain.UndoDeletePath:
		res.Output, err = undoDelete(entry)
	case domain.UndoRestoreContent:
		res.Output, err = undoRestore(entry)
	case domain.UndoInverse:
		res.Output, err = e.undoInverse(ctx, entry)
	default:
		err = fmt.Errorf("%s: %w", entry.Command, domain.ErrNotReversible)
	}

	if err != nil {
		e.logAudit(ctx, "undo", entry.Command, "failed", err.Error())
		return res, err
	}
	e.logAudit(ctx, "undo", entry.Command, "ok", res.Output)
	return res, nil
}

func undoDelete(entry domain.UndoEntry) (string, error) {
	if _, err := os.Stat(entry.Path); os.IsNotExist(err) {
		return "", fmt.Errorf("%s was already removed: %w", entry.Path, domain.ErrPathNotFound)
	}
	if err := os.Remove(entry.Path); err != nil {
		return "", fmt.Errorf("remove %s: %w", entry.Path, err)
	}
	return fmt.Sprintf("removed %s", entry.Path), nil
}

func undoRestore(entry domain.UndoEntry) (string, error) {
	if !entry.Existed {
		if err := os.Remove(entry.Path); err != nil {
			if os.IsNotExist(err) {
				return "", fmt.Errorf("%s was already removed: %w", entry.Path, domain.ErrPathNotFound)
			}
			return "", fmt.Errorf("remove %s: %w", entry.Path, err)
		}
		return fmt.Sprintf("removed %s", entry.Path), nil
	}
	mode := entry.PriorMode.Perm()
	if mode == 0 {
		mode = 0o644
	}
	if err := os.WriteFile(entry.Path, entry.PriorBytes, mode); err != nil {
		return "", fmt.Errorf("restore %s: %w", entry.Path, err)
	}
	// WriteFile only applies the mode on creation; the file usually
	// still exists here.
	if err := os.Chmod(entry.Path, mode); err != nil {
		return "", fmt.Errorf("restore mode of %s: %w", entry.Path, err)
	}
	return fmt.Sprintf("restored prior content of %s", entry.Path), nil
}

func (e *Executor) undoInverse(ctx context.Context, entry domain.UndoEntry) (string, error) {
	if len(entry.Inverse) == 0 {
		return "", fmt.Errorf("%s: %w", entry.Command, domain.ErrNotReversible)
	}
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	proc := exec.CommandContext(runCtx, entry.Inverse[0], entry.Inverse[1:]...)
	proc.Dir = e.resolver.Root()
	output, err := proc.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("inverse %q: %w (%s)", strings.Join(entry.Inverse, " "), err, strings.TrimSpace(string(output)))
	}
	return fmt.Sprintf("ran inverse: %s", strings.Join(entry.Inverse, " ")), nil
}

// inverseEntry computes a best-effort inverse for a generic command. Only a
// plain two-argument mv has one; everything else is recorded as
// not-reversible so undo can say so instead of silently doing nothing.
func inverseEntry(cmd *domain.Command) domain.UndoEntry {
	entry := domain.UndoEntry{Command: cmd.Raw, Action: domain.UndoNone}

	if cmd.Program == "mv" {
		var paths []string
		for _, a := range cmd.Args {
			if strings.HasPrefix(a, "-") {
				continue
			}
			paths = append(paths, a)
		}
		if len(paths) == 2 {
			entry.Action = domain.UndoInverse
			entry.Inverse = []string{"mv", paths[1], paths[0]}
		}
	}
	return entry
}
