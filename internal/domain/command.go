package domain

// CommandKind tags what a proposed command does once classified.
type CommandKind string

const (
	KindFileCreate   CommandKind = "file-create"
	KindFileWrite    CommandKind = "file-write"
	KindShellGeneric CommandKind = "shell-generic"
	KindDenied       CommandKind = "denied"
)

// Decision is the validator's verdict for a proposed command.
type Decision string

const (
	DecisionAllow   Decision = "allow"
	DecisionDeny    Decision = "deny"
	DecisionConfirm Decision = "confirm"
)

// Command is a proposed shell command after parsing and classification.
// Immutable once classified; it lives only for the duration of one execution.
type Command struct {
	Raw        string
	Program    string
	Args       []string
	Kind       CommandKind
	TargetPath string // resolved absolute path for file-create / file-write
	Content    string // content to persist for file-write
	Append     bool   // file-write only: >> rather than >
	IsDir      bool   // file-create only: mkdir rather than touch
}

// Classification is the validator's outcome: the decision, a human-readable
// reason for deny/confirm, and the parsed command when one is available.
type Classification struct {
	Decision Decision
	Reason   string
	Command  *Command
}
