// Package translate converts finalized transcript text into a target
// language. One Translator instance serves one language and keeps a growing
// conversation with the backend so later segments benefit from the context
// of earlier ones.
package translate

import "context"

// Status reports translator health to the orchestration layer.
type Status struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// Translator converts one segment of source-language text.
type Translator interface {
	// Translate returns the full translation of text. Implementations
	// drain any streamed backend response to completion before returning.
	Translate(ctx context.Context, text string) (string, error)

	// Health returns the current health of the backend connection.
	Health() Status
}

// Factory builds a Translator for a target language. It is called at most
// once per live language; the topic owning the language holds the result
// for its whole lifetime.
type Factory func(language string) (Translator, error)
