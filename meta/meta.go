// Package meta defines the metadata lookup consumed by frontends for
// keyword-to-image resolution and autocompletion. Implementations sit
// outside this module; the orchestrator only depends on the interface.
package meta

import "context"

// MaxSuggestions bounds the result of Suggestions.
const MaxSuggestions = 100

// Lookup resolves dataset metadata keywords.
type Lookup interface {
	// Paths returns the dataset file paths tagged with the given keyword.
	Paths(ctx context.Context, keyword string) ([]string, error)

	// Suggestions returns up to MaxSuggestions keywords starting with
	// prefix.
	Suggestions(ctx context.Context, prefix string) ([]string, error)
}
