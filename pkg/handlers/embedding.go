// Package handlers contains the pipeline stages: notification ingest, the
// FIFO embedding consumer, and the bulk bootstrap driver.
package handlers

import (
	"context"
	"fmt"

	"github.com/earthdata/cmr-embeddings/pkg/cmr"
	"github.com/earthdata/cmr-embeddings/pkg/embedding"
	"github.com/earthdata/cmr-embeddings/pkg/models"
	"github.com/earthdata/cmr-embeddings/pkg/observability"
	"github.com/earthdata/cmr-embeddings/pkg/queue"
	"github.com/earthdata/cmr-embeddings/pkg/storage"
)

// ConceptFetcher is the CMR surface the embedding handler depends on.
type ConceptFetcher interface {
	FetchConcept(ctx context.Context, conceptID string, revisionID int) (map[string]interface{}, error)
	FetchAssociations(ctx context.Context, conceptID string) map[string][]string
}

// BatchItemFailure identifies one failed message of a batch.
type BatchItemFailure struct {
	ItemIdentifier string `json:"itemIdentifier"`
}

// BatchResult is the partial-batch failure report. Successful messages are
// acknowledged by the caller; failed ones stay on the queue for redelivery.
type BatchResult struct {
	BatchItemFailures []BatchItemFailure `json:"batchItemFailures"`
}

// Failed reports whether the given message id is in the failure list.
func (r BatchResult) Failed(id string) bool {
	for _, f := range r.BatchItemFailures {
		if f.ItemIdentifier == id {
			return true
		}
	}
	return false
}

// EmbeddingHandler consumes concept events from the FIFO queue and keeps
// the vector index synchronized: fetch metadata, extract chunks, embed,
// resolve KMS terms, persist. Messages are processed sequentially in
// delivery order; a failure in one message never tears down the batch.
type EmbeddingHandler struct {
	store     storage.Datastore
	cmr       ConceptFetcher
	extractor *cmr.Extractor
	generator embedding.Generator
	kms       embedding.TermResolver
	logger    observability.Logger
}

// NewEmbeddingHandler wires the handler's collaborators.
func NewEmbeddingHandler(store storage.Datastore, fetcher ConceptFetcher, extractor *cmr.Extractor, generator embedding.Generator, resolver embedding.TermResolver, logger observability.Logger) *EmbeddingHandler {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &EmbeddingHandler{
		store:     store,
		cmr:       fetcher,
		extractor: extractor,
		generator: generator,
		kms:       resolver,
		logger:    logger,
	}
}

// HandleBatch processes a batch of queue messages and returns the
// identifiers of the ones that failed.
func (h *EmbeddingHandler) HandleBatch(ctx context.Context, messages []queue.Message) BatchResult {
	h.logger.Info("Processing message batch", map[string]interface{}{
		"count": len(messages),
	})

	var result BatchResult
	for _, msg := range messages {
		if err := h.processMessage(ctx, msg); err != nil {
			h.logger.Error("Failed to process message", map[string]interface{}{
				"message_id": msg.ID,
				"error":      err.Error(),
			})
			result.BatchItemFailures = append(result.BatchItemFailures, BatchItemFailure{ItemIdentifier: msg.ID})
		}
	}

	if len(result.BatchItemFailures) > 0 {
		h.logger.Warn("Batch completed with failures", map[string]interface{}{
			"failed": len(result.BatchItemFailures),
			"total":  len(messages),
		})
	}
	return result
}

// processMessage isolates one message: any panic or error becomes that
// message's failure without affecting the rest of the batch.
func (h *EmbeddingHandler) processMessage(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing message: %v", r)
		}
	}()

	parsed, err := models.ParseConceptMessage([]byte(msg.Body))
	if err != nil {
		return err
	}

	switch parsed.Action {
	case models.ActionUpdate:
		return h.processUpdate(ctx, parsed)
	case models.ActionDelete:
		return h.processDelete(ctx, parsed)
	default:
		// Unreachable after schema validation, kept for defense in depth
		// against schema drift.
		h.logger.Warn("Unknown action", map[string]interface{}{"action": parsed.Action})
		return nil
	}
}

func (h *EmbeddingHandler) processUpdate(ctx context.Context, msg models.ConceptMessage) error {
	h.logger.Info("Processing update", map[string]interface{}{
		"concept_type": msg.ConceptType,
		"concept_id":   msg.ConceptID,
		"revision_id":  msg.RevisionID,
	})

	metadata, err := h.cmr.FetchConcept(ctx, msg.ConceptID, msg.RevisionID)
	if err != nil {
		return err
	}

	extraction := h.extractor.Extract(msg, metadata)
	h.logger.Info("Extracted concept data", map[string]interface{}{
		"concept_id": msg.ConceptID,
		"chunks":     len(extraction.Chunks),
		"kms_terms":  len(extraction.KMSTerms),
	})

	// Embed every chunk before writing anything: the first embedding error
	// aborts the message so no partial chunk set is ever persisted.
	embedded := make([]models.EmbeddedChunk, 0, len(extraction.Chunks))
	for _, chunk := range extraction.Chunks {
		vector, err := h.generator.Generate(ctx, chunk.TextContent, chunk.ConceptType, chunk.Attribute)
		if err != nil {
			return err
		}
		embedded = append(embedded, models.EmbeddedChunk{
			Attribute:   chunk.Attribute,
			TextContent: chunk.TextContent,
			Embedding:   vector,
		})
	}

	if _, err := h.store.UpsertChunks(ctx, msg.ConceptType, msg.ConceptID, embedded); err != nil {
		return err
	}

	kmsUUIDs, err := h.processKMSTerms(ctx, extraction.KMSTerms)
	if err != nil {
		return err
	}
	if len(kmsUUIDs) > 0 {
		if _, err := h.store.UpsertConceptKMSAssociations(ctx, msg.ConceptType, msg.ConceptID, kmsUUIDs); err != nil {
			return err
		}
	}

	if msg.ConceptType == models.ConceptTypeCollection {
		if associations := h.cmr.FetchAssociations(ctx, msg.ConceptID); len(associations) > 0 {
			count, err := h.store.UpsertAssociations(ctx, msg.ConceptType, msg.ConceptID, associations)
			if err != nil {
				return err
			}
			h.logger.Info("Stored concept associations", map[string]interface{}{
				"concept_id": msg.ConceptID,
				"count":      count,
			})
		}
	}

	h.logger.Info("Processed concept", map[string]interface{}{
		"concept_id": msg.ConceptID,
		"chunks":     len(embedded),
		"kms_terms":  len(kmsUUIDs),
	})
	return nil
}

// processKMSTerms resolves each distinct (term, scheme), embeds terms not
// yet stored, and returns the collected UUIDs for association. Lookup
// misses are skipped silently; an embedding failure skips only that term.
func (h *EmbeddingHandler) processKMSTerms(ctx context.Context, refs []models.KMSTermRef) ([]string, error) {
	var uuids []string
	seen := make(map[models.KMSTermRef]bool, len(refs))

	for _, ref := range refs {
		if seen[ref] {
			continue
		}
		seen[ref] = true

		term := h.kms.LookupTerm(ctx, ref.Term, ref.Scheme)
		if term == nil {
			h.logger.Debug("KMS term not found", map[string]interface{}{
				"term":   ref.Term,
				"scheme": ref.Scheme,
			})
			continue
		}

		uuids = append(uuids, term.UUID)

		existing, err := h.store.GetKMSEmbedding(ctx, term.UUID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			continue
		}

		// Canonical embedding text for a controlled term.
		text := term.Term
		if term.Definition != "" {
			text = term.Term + ": " + term.Definition
		}

		vector, err := h.generator.Generate(ctx, text, "kms", ref.Scheme)
		if err != nil {
			h.logger.Warn("Failed to embed KMS term, skipping", map[string]interface{}{
				"term":  term.Term,
				"error": err.Error(),
			})
			continue
		}

		if _, err := h.store.UpsertKMSEmbedding(ctx, storage.KMSEmbedding{
			UUID:       term.UUID,
			Scheme:     term.Scheme,
			Term:       term.Term,
			Definition: term.Definition,
			Embedding:  vector,
		}); err != nil {
			return nil, err
		}
	}
	return uuids, nil
}

func (h *EmbeddingHandler) processDelete(ctx context.Context, msg models.ConceptMessage) error {
	h.logger.Info("Processing delete", map[string]interface{}{
		"concept_id": msg.ConceptID,
	})

	deletedChunks, err := h.store.DeleteChunks(ctx, msg.ConceptID)
	if err != nil {
		return err
	}
	deletedAssocs, err := h.store.DeleteAssociations(ctx, msg.ConceptID)
	if err != nil {
		return err
	}
	deletedKMSAssocs, err := h.store.DeleteConceptKMSAssociations(ctx, msg.ConceptID)
	if err != nil {
		return err
	}

	if deletedChunks == 0 && deletedAssocs == 0 && deletedKMSAssocs == 0 {
		h.logger.Warn("No chunks or associations found", map[string]interface{}{
			"concept_id": msg.ConceptID,
		})
		return nil
	}

	h.logger.Info("Deleted concept data", map[string]interface{}{
		"concept_id":       msg.ConceptID,
		"chunks":           deletedChunks,
		"associations":     deletedAssocs,
		"kms_associations": deletedKMSAssocs,
	})
	return nil
}
