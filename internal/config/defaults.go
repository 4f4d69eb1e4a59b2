package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Workspace:   "~/.llmsh/workspace",
			LogLevel:    "info",
			ExitKeyword: "exit",
			UndoKeyword: "undo",
		},
		Provider: ProviderConfig{
			APIBase:        "http://localhost:11434",
			Model:          "llama3.2",
			TimeoutSeconds: 60,
		},
		Security: SecurityConfig{
			PolicyPath: "~/.llmsh/policy.yaml",
		},
		Files: FilesConfig{
			MaxContentBytes:   1 << 20,
			AllowedExtensions: []string{".txt", ".md", ".csv"},
		},
		Exec: ExecConfig{
			TimeoutSeconds: 30,
			MaxOutputBytes: 65536,
		},
		Scanner: ScannerConfig{
			MaxDepth:   2,
			MaxEntries: 100,
		},
		Audit: AuditConfig{
			Enabled: true,
			DBPath:  "~/.llmsh/audit.db",
		},
	}
}
