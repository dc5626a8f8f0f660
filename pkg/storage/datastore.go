// Package storage implements the persistence layer of the embedding
// pipeline: concept chunks, concept associations, KMS embeddings, and
// concept-KMS links, with pgvector similarity search.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/earthdata/cmr-embeddings/pkg/models"
)

// KMSEmbedding is one stored canonical-term embedding, keyed by UUID.
type KMSEmbedding struct {
	UUID       string
	Scheme     string
	Term       string
	Definition string
	Embedding  []float32
	UpdatedAt  time.Time
}

// SearchResult is one similarity-ranked chunk.
type SearchResult struct {
	ConceptType string  `db:"concept_type"`
	ConceptID   string  `db:"concept_id"`
	Attribute   string  `db:"attribute"`
	TextContent string  `db:"text_content"`
	Similarity  float64 `db:"similarity"`
}

// Datastore is the persistence contract of the pipeline. Every write is
// idempotent: chunks and associations are full-replaced per concept id, KMS
// embeddings are upserted by UUID. Implementations must support concurrent
// callers; per-concept serializability comes from single-transaction
// upserts plus the FIFO message-group ordering upstream.
type Datastore interface {
	// UpsertChunks atomically replaces all chunks of a concept. An empty
	// chunk set is a no-op.
	UpsertChunks(ctx context.Context, conceptType, conceptID string, chunks []models.EmbeddedChunk) (int, error)

	// DeleteChunks removes all chunks of a concept. Idempotent.
	DeleteChunks(ctx context.Context, conceptID string) (int, error)

	// UpsertAssociations full-replaces the outgoing associations of a
	// concept. Keys map "variables" to variable and "citations" to
	// citation; unknown keys are ignored.
	UpsertAssociations(ctx context.Context, conceptType, conceptID string, associations map[string][]string) (int, error)

	// DeleteAssociations removes associations where the concept appears on
	// either side.
	DeleteAssociations(ctx context.Context, conceptID string) (int, error)

	// GetKMSEmbedding returns the stored embedding for a UUID, or nil.
	GetKMSEmbedding(ctx context.Context, uuid string) (*KMSEmbedding, error)

	// UpsertKMSEmbedding inserts or overwrites a canonical-term embedding.
	// Reports whether the row was newly inserted.
	UpsertKMSEmbedding(ctx context.Context, embedding KMSEmbedding) (bool, error)

	// UpsertConceptKMSAssociations full-replaces the KMS links of a
	// concept. The uuid list is deduplicated before writing.
	UpsertConceptKMSAssociations(ctx context.Context, conceptType, conceptID string, uuids []string) (int, error)

	// DeleteConceptKMSAssociations removes all KMS links of a concept.
	DeleteConceptKMSAssociations(ctx context.Context, conceptID string) (int, error)

	// SearchSimilar returns chunks ranked by cosine similarity,
	// 1 - cosine_distance. conceptType filters results when non-empty.
	SearchSimilar(ctx context.Context, embedding []float32, limit int, conceptType string) ([]SearchResult, error)

	// Close releases resources. Safe to call multiple times.
	Close() error
}

// StorageError indicates a failed datastore operation. The embedding
// handler treats these as retryable for the current message only.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
