// Package executor orchestrates the pipeline for one command: validation,
// dispatch to the file manager or a constrained process launch, and the
// undo journal. One command at a time; the only suspension point is the
// confirmation step.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"llmsh/internal/domain"
	"llmsh/internal/filemgr"
	"llmsh/internal/sandbox"
	"llmsh/internal/security"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultMaxOutputBytes = 65536
)

// Status is the terminal (or suspended) state of one Execute call.
type Status string

const (
	StatusExecuted             Status = "executed"
	StatusRejected             Status = "rejected"
	StatusAwaitingConfirmation Status = "awaiting-confirmation"
	StatusFailed               Status = "failed"
)

// Result is what one Execute or Resume call produced.
type Result struct {
	Status  Status
	Command string
	Output  string
	Reason  string // denial reason, or why confirmation is needed
	Err     error
}

// Executor runs validated commands and records how to reverse them.
// Not safe for concurrent use; the session model is strictly one command
// at a time.
type Executor struct {
	validator *security.Validator
	files     *filemgr.Manager
	resolver  *sandbox.Resolver
	audit     domain.AuditLogger // optional
	logger    *slog.Logger

	timeout        time.Duration
	maxOutputBytes int
	sessionID      string

	journal []domain.UndoEntry
	pending *domain.Command
}

type Config struct {
	Validator      *security.Validator
	Files          *filemgr.Manager
	Resolver       *sandbox.Resolver
	Audit          domain.AuditLogger
	Logger         *slog.Logger
	TimeoutSeconds int
	MaxOutputBytes int
}

func New(cfg Config) *Executor {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	maxOut := cfg.MaxOutputBytes
	if maxOut <= 0 {
		maxOut = defaultMaxOutputBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		validator:      cfg.Validator,
		files:          cfg.Files,
		resolver:       cfg.Resolver,
		audit:          cfg.Audit,
		logger:         cfg.Logger,
		timeout:        timeout,
		maxOutputBytes: maxOut,
		sessionID:      uuid.NewString(),
	}
}

// SessionID identifies this executor's session in the audit log.
func (e *Executor) SessionID() string { return e.sessionID }

// JournalLen returns how many undo entries are recorded.
func (e *Executor) JournalLen() int { return len(e.journal) }

// Pending returns the command awaiting confirmation, if any.
func (e *Executor) Pending() *domain.Command { return e.pending }

// Execute classifies raw and, when allowed, runs it. A confirm decision
// suspends: the result carries StatusAwaitingConfirmation and the caller
// must invoke Resume before anything executes. A denied command never
// launches a process.
func (e *Executor) Execute(ctx context.Context, raw string) Result {
	e.pending = nil

	cls, err := e.validator.Classify(raw)
	if err != nil {
		// Malformed input; surfaced to the user, never fatal.
		return Result{Status: StatusRejected, Command: raw, Reason: err.Error(), Err: err}
	}

	switch cls.Decision {
	case domain.DecisionDeny:
		e.logAudit(ctx, "blocked", raw, "denied", cls.Reason)
		return Result{Status: StatusRejected, Command: raw, Reason: cls.Reason}
	case domain.DecisionConfirm:
		e.pending = cls.Command
		e.logAudit(ctx, "classified", raw, "confirm", cls.Reason)
		return Result{Status: StatusAwaitingConfirmation, Command: raw, Reason: cls.Reason}
	default:
		e.logAudit(ctx, "classified", raw, "allowed", "")
		return e.run(ctx, cls.Command)
	}
}

// Resume completes a suspended execution. With confirmed=false the pending
// command is dropped and reported as rejected.
func (e *Executor) Resume(ctx context.Context, confirmed bool) Result {
	cmd := e.pending
	if cmd == nil {
		err := errors.New("no command awaiting confirmation")
		return Result{Status: StatusFailed, Err: err}
	}
	e.pending = nil

	if !confirmed {
		e.logAudit(ctx, "confirm_no", cmd.Raw, "denied", "user declined")
		return Result{Status: StatusRejected, Command: cmd.Raw, Reason: "confirmation declined"}
	}
	e.logAudit(ctx, "confirm_yes", cmd.Raw, "confirmed", "")
	return e.run(ctx, cmd)
}

func (e *Executor) run(ctx context.Context, cmd *domain.Command) Result {
	var res Result
	switch cmd.Kind {
	case domain.KindFileCreate:
		res = e.runFileCreate(cmd)
	case domain.KindFileWrite:
		res = e.runFileWrite(cmd)
	default:
		res = e.runProcess(ctx, cmd)
	}

	if res.Status == StatusExecuted {
		e.logAudit(ctx, "executed", cmd.Raw, "ok", res.Output)
	} else {
		detail := res.Reason
		if res.Err != nil {
			detail = res.Err.Error()
		}
		e.logAudit(ctx, "executed", cmd.Raw, "failed", detail)
	}
	return res
}

func (e *Executor) runFileCreate(cmd *domain.Command) Result {
	// Re-resolve through the sandbox: the typed path guarantee must hold at
	// the moment of use, and the target may have changed since
	// classification. A vanished ancestor is a plain failure, not a
	// security violation.
	resolved, err := e.resolver.Resolve(cmd.TargetPath)
	if err != nil {
		return Result{Status: StatusFailed, Command: cmd.Raw, Err: err}
	}

	if cmd.IsDir {
		_, err = e.files.CreateDir(resolved)
	} else {
		_, err = e.files.CreateFile(resolved, false)
	}
	if err != nil {
		return Result{Status: StatusFailed, Command: cmd.Raw, Err: err}
	}

	e.push(domain.UndoEntry{
		Command: cmd.Raw,
		Action:  domain.UndoDeletePath,
		Path:    resolved.String(),
	})
	return Result{
		Status:  StatusExecuted,
		Command: cmd.Raw,
		Output:  fmt.Sprintf("created %s", resolved),
	}
}

func (e *Executor) runFileWrite(cmd *domain.Command) Result {
	resolved, err := e.resolver.Resolve(cmd.TargetPath)
	if err != nil {
		return Result{Status: StatusFailed, Command: cmd.Raw, Err: err}
	}

	prior, err := e.files.Write(resolved, cmd.Content, cmd.Append)
	if err != nil {
		return Result{Status: StatusFailed, Command: cmd.Raw, Err: err}
	}

	e.push(domain.UndoEntry{
		Command:    cmd.Raw,
		Action:     domain.UndoRestoreContent,
		Path:       resolved.String(),
		PriorBytes: prior.Content,
		PriorMode:  prior.Mode,
		Existed:    prior.Existed,
	})
	return Result{
		Status:  StatusExecuted,
		Command: cmd.Raw,
		Output:  fmt.Sprintf("wrote %s", resolved),
	}
}

// runProcess launches a generic command. The argument list goes directly to
// the process, never through a shell, so nothing in the LLM-produced string
// can be re-interpreted.
func (e *Executor) runProcess(ctx context.Context, cmd *domain.Command) Result {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	proc := exec.CommandContext(runCtx, cmd.Program, cmd.Args...)
	proc.Dir = e.resolver.Root()
	output, err := proc.CombinedOutput()
	out := string(output)
	if len(out) > e.maxOutputBytes {
		out = out[:e.maxOutputBytes] + "\n... (output truncated)"
	}

	if err != nil {
		if runCtx.Err() != nil {
			return Result{Status: StatusFailed, Command: cmd.Raw, Output: out,
				Err: fmt.Errorf("command timed out after %s", e.timeout)}
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return Result{Status: StatusFailed, Command: cmd.Raw,
				Err: fmt.Errorf("launch %s: %w", cmd.Program, err)}
		}
		return Result{Status: StatusFailed, Command: cmd.Raw, Output: out,
			Err: fmt.Errorf("%s: %w", cmd.Program, err)}
	}

	e.push(inverseEntry(cmd))
	return Result{Status: StatusExecuted, Command: cmd.Raw, Output: out}
}

func (e *Executor) push(entry domain.UndoEntry) {
	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now()
	e.journal = append(e.journal, entry)
}

func (e *Executor) logAudit(ctx context.Context, action, command, result, details string) {
	if e.audit == nil {
		return
	}
	err := e.audit.LogAudit(ctx, domain.AuditEntry{
		SessionID: e.sessionID,
		Action:    action,
		Command:   command,
		Result:    result,
		Details:   details,
	})
	if err != nil {
		e.logger.Warn("audit write failed", "err", err)
	}
}
