// Package models holds the shared types of the embedding pipeline: queue
// messages, extracted chunks, and KMS terms.
package models

import (
	"encoding/json"
	"fmt"
)

// Actions carried by queue messages.
const (
	ActionUpdate = "concept-update"
	ActionDelete = "concept-delete"
)

// Concept types known to the pipeline.
const (
	ConceptTypeCollection = "collection"
	ConceptTypeVariable   = "variable"
	ConceptTypeCitation   = "citation"
)

// KMS concept schemes.
const (
	SchemeScienceKeywords = "sciencekeywords"
	SchemePlatforms       = "platforms"
	SchemeInstruments     = "instruments"
)

// ConceptMessage is the unit of work on the FIFO queue, describing a CMR
// concept update or delete event.
type ConceptMessage struct {
	Action      string `json:"action"`
	ConceptType string `json:"concept-type"`
	ConceptID   string `json:"concept-id"`
	RevisionID  int    `json:"revision-id"`
}

// GroupID returns the FIFO message group, ordering all events for one
// concept.
func (m ConceptMessage) GroupID() string {
	return fmt.Sprintf("%s:%s", m.ConceptType, m.ConceptID)
}

// DeduplicationID returns the FIFO deduplication key for one revision
// snapshot.
func (m ConceptMessage) DeduplicationID() string {
	return fmt.Sprintf("%s:%d", m.ConceptID, m.RevisionID)
}

// ParseConceptMessage decodes and validates a raw JSON message body.
func ParseConceptMessage(body []byte) (ConceptMessage, error) {
	if err := ValidateConceptMessage(body); err != nil {
		return ConceptMessage{}, err
	}

	var msg ConceptMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return ConceptMessage{}, &ValidationError{Reason: err.Error()}
	}
	return msg, nil
}

// ValidationError indicates a malformed concept message. Messages failing
// validation are reported and never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid concept message: %s", e.Reason)
}

// EmbeddingChunk is a single piece of text extracted from a concept, split
// by attribute so similarity search can match on the specific field.
type EmbeddingChunk struct {
	ConceptType string
	ConceptID   string
	Attribute   string
	TextContent string
}

// EmbeddedChunk is a chunk paired with its generated vector, ready for
// persistence.
type EmbeddedChunk struct {
	Attribute   string
	TextContent string
	Embedding   []float32
}

// KMSTermRef references a controlled-vocabulary term found during
// extraction, before KMS lookup.
type KMSTermRef struct {
	Term   string
	Scheme string
}

// KMSTerm is a resolved controlled-vocabulary entry. UUID is the canonical
// key; Definition may be empty when KMS carries none.
type KMSTerm struct {
	UUID       string
	Scheme     string
	Term       string
	Definition string
}

// ExtractionResult is the output of extracting embeddable data from one
// concept's metadata.
type ExtractionResult struct {
	Chunks   []EmbeddingChunk
	KMSTerms []KMSTermRef
}
