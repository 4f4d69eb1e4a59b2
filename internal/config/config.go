package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for llmsh. It is loaded once at startup
// and passed explicitly into constructors; nothing mutates it afterwards.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Provider ProviderConfig `json:"provider"`
	Security SecurityConfig `json:"security"`
	Files    FilesConfig    `json:"files"`
	Exec     ExecConfig     `json:"exec"`
	Scanner  ScannerConfig  `json:"scanner"`
	Audit    AuditConfig    `json:"audit"`
}

type GeneralConfig struct {
	// Workspace is the allowed root: no operation may read or write
	// outside it.
	Workspace   string `json:"workspace"`
	LogLevel    string `json:"logLevel"`
	LogFile     string `json:"logFile,omitempty"`
	ExitKeyword string `json:"exitKeyword"`
	UndoKeyword string `json:"undoKeyword"`
}

type ProviderConfig struct {
	APIBase        string `json:"apiBase,omitempty"`
	Model          string `json:"model,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
}

type SecurityConfig struct {
	// PolicyPath points at a YAML rule file; empty uses built-in defaults.
	PolicyPath string `json:"policyPath,omitempty"`
}

type FilesConfig struct {
	MaxContentBytes   int      `json:"maxContentBytes"`
	AllowedExtensions []string `json:"allowedExtensions,omitempty"`
}

type ScannerConfig struct {
	MaxDepth   int `json:"maxDepth"`
	MaxEntries int `json:"maxEntries"`
}

type AuditConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath,omitempty"`
}

type ExecConfig struct {
	TimeoutSeconds int `json:"timeoutSeconds"`
	MaxOutputBytes int `json:"maxOutputBytes"`
}

// DefaultConfigDir returns the default config directory (~/.llmsh).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".llmsh"
	}
	return filepath.Join(home, ".llmsh")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.Workspace = ExpandPath(cfg.General.Workspace)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Security.PolicyPath = ExpandPath(cfg.Security.PolicyPath)
	cfg.Audit.DBPath = ExpandPath(cfg.Audit.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has usable values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.Workspace == "" {
		errs = append(errs, "general.workspace must be set")
	}
	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.ExitKeyword == "" {
		errs = append(errs, "general.exitKeyword must not be empty")
	}
	if cfg.General.UndoKeyword == "" {
		errs = append(errs, "general.undoKeyword must not be empty")
	}
	if cfg.Provider.TimeoutSeconds < 0 {
		errs = append(errs, "provider.timeoutSeconds must be >= 0")
	}
	if cfg.Files.MaxContentBytes < 1 {
		errs = append(errs, "files.maxContentBytes must be >= 1")
	}
	for _, ext := range cfg.Files.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, fmt.Sprintf("files.allowedExtensions entry %q must start with a dot", ext))
		}
	}
	if cfg.Scanner.MaxDepth < 1 {
		errs = append(errs, "scanner.maxDepth must be >= 1")
	}
	if cfg.Scanner.MaxEntries < 1 {
		errs = append(errs, "scanner.maxEntries must be >= 1")
	}
	if cfg.Exec.TimeoutSeconds < 1 {
		errs = append(errs, "exec.timeoutSeconds must be >= 1")
	}
	if cfg.Audit.Enabled && cfg.Audit.DBPath == "" {
		errs = append(errs, "audit.dbPath must be set when audit is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves a leading ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
