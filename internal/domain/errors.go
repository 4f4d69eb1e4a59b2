package domain

import "errors"

var (
	// ErrPathOutOfScope rejects any path that resolves outside the allowed root.
	ErrPathOutOfScope = errors.New("path is outside the allowed root")
	// ErrPathNotFound covers missing intermediate components and
	// resolution races (path removed between resolution and use).
	ErrPathNotFound = errors.New("path not found")
	// ErrMalformedCommand means the command text could not be tokenized
	// (unbalanced quotes and similar). Denial is not an error; this is.
	ErrMalformedCommand = errors.New("malformed command")
	// ErrContentTooLarge rejects file content over the configured byte cap.
	ErrContentTooLarge = errors.New("content exceeds maximum size")
	// ErrAlreadyExists reports a create on an existing file without overwrite.
	ErrAlreadyExists = errors.New("file already exists")
	// ErrNotReversible is the normal outcome of undoing a command that has
	// no computed inverse.
	ErrNotReversible = errors.New("command is not reversible")
	// ErrEmptyJournal reports an undo with nothing left to undo.
	ErrEmptyJournal = errors.New("nothing to undo")
	// ErrModelUnavailable means the language model could not be reached.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrEmptyResponse means the model returned no usable command text.
	ErrEmptyResponse = errors.New("model returned an empty response")
)
