// Package filemgr performs the file operations requested by validated
// commands. It only accepts sandbox.ResolvedPath values, so by construction
// every path it touches is already inside the allowed root.
package filemgr

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"llmsh/internal/domain"
	"llmsh/internal/sandbox"
)

const defaultMaxContentBytes = 1 << 20 // 1 MiB

// PriorState captures what a path held before an operation, for the undo
// journal: either "did not exist" or the prior byte content and mode.
type PriorState struct {
	Existed bool
	Content []byte
	Mode    os.FileMode
}

// Manager creates files and directories and writes sanitized content.
type Manager struct {
	maxContentBytes int
	allowedExts     map[string]bool // empty: any extension
	logger          *slog.Logger
}

type Config struct {
	MaxContentBytes   int
	AllowedExtensions []string // e.g. [".txt", ".md"]; empty allows any
	Logger            *slog.Logger
}

func New(cfg Config) *Manager {
	if cfg.MaxContentBytes <= 0 {
		cfg.MaxContentBytes = defaultMaxContentBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	exts := make(map[string]bool, len(cfg.AllowedExtensions))
	for _, e := range cfg.AllowedExtensions {
		exts[strings.ToLower(e)] = true
	}
	return &Manager{
		maxContentBytes: cfg.MaxContentBytes,
		allowedExts:     exts,
		logger:          cfg.Logger,
	}
}

// CreateFile creates an empty file. Creating an existing file is
// idempotent-safe: it reports domain.ErrAlreadyExists instead of truncating,
// unless overwrite is set.
func (m *Manager) CreateFile(path sandbox.ResolvedPath, overwrite bool) (PriorState, error) {
	p := path.String()
	if err := m.checkExtension(p); err != nil {
		return PriorState{}, err
	}
	prior, err := capturePrior(p)
	if err != nil {
		return PriorState{}, err
	}
	if prior.Existed && !overwrite {
		return prior, fmt.Errorf("%s: %w", p, domain.ErrAlreadyExists)
	}
	f, err := os.Create(p)
	if err != nil {
		if os.IsNotExist(err) {
			return prior, fmt.Errorf("%s: %w", p, domain.ErrPathNotFound)
		}
		return prior, fmt.Errorf("create %s: %w", p, err)
	}
	if err := f.Close(); err != nil {
		return prior, fmt.Errorf("close %s: %w", p, err)
	}
	m.logger.Debug("created file", "path", p)
	return prior, nil
}

// CreateDir creates a directory. An existing directory reports
// domain.ErrAlreadyExists.
func (m *Manager) CreateDir(path sandbox.ResolvedPath) (PriorState, error) {
	p := path.String()
	prior, err := capturePrior(p)
	if err != nil {
		return PriorState{}, err
	}
	if prior.Existed {
		return prior, fmt.Errorf("%s: %w", p, domain.ErrAlreadyExists)
	}
	if err := os.Mkdir(p, 0o755); err != nil {
		if os.IsNotExist(err) {
			return prior, fmt.Errorf("%s: %w", p, domain.ErrPathNotFound)
		}
		return prior, fmt.Errorf("mkdir %s: %w", p, err)
	}
	m.logger.Debug("created directory", "path", p)
	return prior, nil
}

// Write persists sanitized content, capturing the prior state first.
// With appendTo set the content is appended instead of replacing the file.
func (m *Manager) Write(path sandbox.ResolvedPath, content string, appendTo bool) (PriorState, error) {
	p := path.String()
	if err := m.checkExtension(p); err != nil {
		return PriorState{}, err
	}
	if len(content) > m.maxContentBytes {
		return PriorState{}, fmt.Errorf("%d bytes (limit %d): %w", len(content), m.maxContentBytes, domain.ErrContentTooLarge)
	}
	prior, err := capturePrior(p)
	if err != nil {
		return PriorState{}, err
	}

	safe := SanitizeContent(content)
	flags := os.O_WRONLY | os.O_CREATE
	if appendTo {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(p, flags, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return prior, fmt.Errorf("%s: %w", p, domain.ErrPathNotFound)
		}
		return prior, fmt.Errorf("open %s: %w", p, err)
	}
	if _, err := f.WriteString(safe); err != nil {
		f.Close()
		return prior, fmt.Errorf("write %s: %w", p, err)
	}
	if err := f.Close(); err != nil {
		return prior, fmt.Errorf("close %s: %w", p, err)
	}
	m.logger.Debug("wrote file", "path", p, "bytes", len(safe), "append", appendTo)
	return prior, nil
}

func (m *Manager) checkExtension(p string) error {
	if len(m.allowedExts) == 0 {
		return nil
	}
	ext := strings.ToLower(filepath.Ext(p))
	if !m.allowedExts[ext] {
		return fmt.Errorf("extension %q is not permitted", ext)
	}
	return nil
}

func capturePrior(p string) (PriorState, error) {
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return PriorState{Existed: false}, nil
		}
		return PriorState{}, fmt.Errorf("stat prior state of %s: %w", p, err)
	}
	if info.IsDir() {
		return PriorState{Existed: true, Mode: info.Mode()}, nil
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return PriorState{}, fmt.Errorf("read prior state of %s: %w", p, err)
	}
	return PriorState{Existed: true, Content: data, Mode: info.Mode()}, nil
}

// SanitizeContent strips control characters that could be interpreted as
// shell metacharacters if the file is later sourced or executed. Tab and
// newline survive; everything else below 0x20, and DEL, is dropped.
func SanitizeContent(content string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, content)
}
