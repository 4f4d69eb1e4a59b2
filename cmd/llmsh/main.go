package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"llmsh/internal/audit"
	"llmsh/internal/channel"
	"llmsh/internal/config"
	"llmsh/internal/domain"
	"llmsh/internal/executor"
	"llmsh/internal/filemgr"
	"llmsh/internal/provider"
	"llmsh/internal/sandbox"
	"llmsh/internal/scanner"
	"llmsh/internal/security"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "llmsh",
		Short:   "llmsh: natural-language shell with validated, undoable commands",
		Long:    "llmsh asks a local language model to turn plain-language requests into Bash commands, validates them against a sandbox root and a policy, runs the safe ones and records how to undo them.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.llmsh/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(askCmd())
	root.AddCommand(execCmd())
	root.AddCommand(scanCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(auditCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
		cfg.General.Workspace = config.ExpandPath(cfg.General.Workspace)
		cfg.Security.PolicyPath = config.ExpandPath(cfg.Security.PolicyPath)
		cfg.Audit.DBPath = config.ExpandPath(cfg.Audit.DBPath)
	}
	applyLogLevel(cfg)
	return cfg
}

func applyLogLevel(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	out := os.Stderr
	if cfg.General.LogFile != "" {
		if f, err := os.OpenFile(cfg.General.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			out = f
		} else {
			logger.Warn("cannot open log file, logging to stderr", "path", cfg.General.LogFile, "err", err)
		}
	}
	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

// session wires the full pipeline for one run.
type session struct {
	cfg      *config.Config
	exec     *executor.Executor
	resolver *sandbox.Resolver
	store    *audit.Store // nil when audit is disabled
}

func newSession(cfg *config.Config) (*session, error) {
	if err := os.MkdirAll(cfg.General.Workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	resolver, err := sandbox.NewResolver(cfg.General.Workspace)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}

	policy, err := security.LoadPolicy(cfg.Security.PolicyPath, logger)
	if err != nil {
		return nil, err
	}
	validator := security.NewValidator(policy, resolver, logger)

	files := filemgr.New(filemgr.Config{
		MaxContentBytes:   cfg.Files.MaxContentBytes,
		AllowedExtensions: cfg.Files.AllowedExtensions,
		Logger:            logger,
	})

	var auditLogger domain.AuditLogger
	var store *audit.Store
	if cfg.Audit.Enabled {
		store, err = audit.NewStore(cfg.Audit.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("audit store: %w", err)
		}
		auditLogger = store
	}

	exec := executor.New(executor.Config{
		Validator:      validator,
		Files:          files,
		Resolver:       resolver,
		Audit:          auditLogger,
		Logger:         logger,
		TimeoutSeconds: cfg.Exec.TimeoutSeconds,
		MaxOutputBytes: cfg.Exec.MaxOutputBytes,
	})

	return &session{cfg: cfg, exec: exec, resolver: resolver, store: store}, nil
}

func (s *session) close() {
	if s.store != nil {
		s.store.Close()
	}
}

func (s *session) provider() domain.Provider {
	return provider.NewOllama(provider.OllamaConfig{
		APIBase:      s.cfg.Provider.APIBase,
		DefaultModel: s.cfg.Provider.Model,
		Timeout:      time.Duration(s.cfg.Provider.TimeoutSeconds) * time.Second,
		Logger:       logger,
	})
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config, workspace and default policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			workspace := config.ExpandPath(cfg.General.Workspace)
			if err := os.MkdirAll(workspace, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "workspace", workspace)
			return nil
		},
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start the interactive session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			sess, err := newSession(cfg)
			if err != nil {
				return err
			}
			defer sess.close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cli := channel.NewCLI(channel.CLIConfig{
				Executor:    sess.exec,
				Provider:    sess.provider(),
				Scanner:     scanner.New(cfg.Scanner.MaxDepth, cfg.Scanner.MaxEntries),
				Root:        sess.resolver.Root(),
				Logger:      logger,
				ExitKeyword: cfg.General.ExitKeyword,
				UndoKeyword: cfg.General.UndoKeyword,
			})
			return cli.Run(ctx)
		},
	}
}

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question and print the proposed command without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			sess, err := newSession(cfg)
			if err != nil {
				return err
			}
			defer sess.close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			question := ""
			for i, a := range args {
				if i > 0 {
					question += " "
				}
				question += a
			}
			command, err := sess.provider().Ask(ctx, question)
			if err != nil {
				return err
			}
			fmt.Println(command)
			return nil
		},
	}
}

func execCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec [command]",
		Short: "Run one raw command through the validation pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			sess, err := newSession(cfg)
			if err != nil {
				return err
			}
			defer sess.close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res := sess.exec.Execute(ctx, args[0])
			if res.Status == executor.StatusAwaitingConfirmation {
				fmt.Fprintf(os.Stderr, "Needs confirmation (%s). Run %q? Type 'yes' to allow: ", res.Reason, res.Command)
				var answer string
				fmt.Scanln(&answer)
				res = sess.exec.Resume(ctx, answer == "yes" || answer == "y")
			}

			switch res.Status {
			case executor.StatusExecuted:
				fmt.Print(res.Output)
				if res.Output != "" && res.Output[len(res.Output)-1] != '\n' {
					fmt.Println()
				}
				return nil
			case executor.StatusRejected:
				return fmt.Errorf("refused: %s", res.Reason)
			default:
				return res.Err
			}
		},
	}
}

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "List directories under the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			sess, err := newSession(cfg)
			if err != nil {
				return err
			}
			defer sess.close()

			dirs, err := scanner.New(cfg.Scanner.MaxDepth, cfg.Scanner.MaxEntries).Directories(sess.resolver.Root())
			if err != nil {
				return err
			}
			for _, d := range dirs {
				fmt.Println(d)
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show provider health and effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			prov := provider.NewOllama(provider.OllamaConfig{
				APIBase:      cfg.Provider.APIBase,
				DefaultModel: cfg.Provider.Model,
				Logger:       logger,
			})
			if err := prov.Healthy(ctx); err != nil {
				logger.Info("provider", "name", prov.Name(), "healthy", false, "err", err)
			} else {
				logger.Info("provider", "name", prov.Name(), "healthy", true)
			}
			logger.Info("workspace", "path", cfg.General.Workspace)
			logger.Info("policy", "path", cfg.Security.PolicyPath)
			return nil
		},
	}
}

func auditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent audit log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if !cfg.Audit.Enabled {
				return fmt.Errorf("audit log is disabled in config")
			}
			store, err := audit.NewStore(cfg.Audit.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(context.Background(), limit)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%-10s %-8s %-40q %s\n", e.Action, e.Result, e.Command, e.Details)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of entries to show")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. general.workspace)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. provider.model llama3.2)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.ListPaths(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
