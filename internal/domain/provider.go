package domain

import "context"

// Provider turns a plain-language question into a raw command string.
// The returned text is fully untrusted and must pass the validation pipeline.
type Provider interface {
	Name() string
	Healthy(ctx context.Context) error
	Ask(ctx context.Context, question string) (string, error)
}
