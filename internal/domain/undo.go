package domain

import (
	"io/fs"
	"time"
)

// UndoAction says how an executed command is reversed.
type UndoAction string

const (
	// UndoDeletePath removes a file or directory that the command created.
	UndoDeletePath UndoAction = "delete-path"
	// UndoRestoreContent writes back the bytes a file held before the command,
	// or removes the file if it did not exist.
	UndoRestoreContent UndoAction = "restore-content"
	// UndoInverse runs a computed inverse command (e.g. mv b a for mv a b).
	UndoInverse UndoAction = "inverse"
	// UndoNone marks a command with no computed inverse.
	UndoNone UndoAction = "not-reversible"
)

// UndoEntry records the minimal state needed to reverse one executed command.
// Entries are appended only after a command fully completes.
type UndoEntry struct {
	ID         string
	Command    string
	Action     UndoAction
	Path       string
	PriorBytes []byte      // restore-content: prior file content
	PriorMode  fs.FileMode // restore-content: file mode before the command
	Existed    bool        // restore-content: whether the file existed before
	Inverse    []string    // inverse: argv of the reversing command
	CreatedAt  time.Time
}

// Reversible reports whether undoing this entry can do anything.
func (e UndoEntry) Reversible() bool {
	return e.Action != UndoNone
}
