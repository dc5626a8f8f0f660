// Package embedding provides dense vector generation for concept text, with
// per-attribute model routing and KMS definition enrichment.
package embedding

import (
	"context"
	"fmt"
)

// Generator produces a dense vector for a piece of text. The concept type
// and attribute identify where the text came from so routing
// implementations can pick a model per field; base generators ignore them.
type Generator interface {
	Generate(ctx context.Context, text, conceptType, attribute string) ([]float32, error)

	// ModelID identifies the underlying model.
	ModelID() string
}

// EmbeddingError indicates that vector generation failed. A chunk-level
// failure aborts its message; a KMS-term failure only skips that term.
type EmbeddingError struct {
	Message string
	Err     error
}

func (e *EmbeddingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *EmbeddingError) Unwrap() error { return e.Err }
