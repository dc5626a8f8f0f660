package cmr

import (
	"strings"

	"github.com/earthdata/cmr-embeddings/pkg/models"
	"github.com/earthdata/cmr-embeddings/pkg/observability"
)

// Field mappings: UMM field names -> attribute names per concept type.
var (
	collectionFields = []fieldMapping{
		{"EntryTitle", "title"},
		{"Abstract", "abstract"},
		{"Purpose", "purpose"},
	}
	variableFields = []fieldMapping{
		{"Name", "name"},
		{"LongName", "long_name"},
		{"Definition", "definition"},
	}
	citationFields = []fieldMapping{
		{"Name", "name"},
		{"Abstract", "abstract"},
	}
)

type fieldMapping struct {
	ummField  string
	attribute string
}

type extractFunc func(conceptID string, metadata map[string]interface{}) models.ExtractionResult

// Extractor turns UMM metadata into embedding chunks and KMS term
// references. Extraction is pure: the same metadata always yields the same
// result, and missing optional fields are skipped silently.
type Extractor struct {
	extractors map[string]extractFunc
	logger     observability.Logger
}

// NewExtractor builds the per-concept-type dispatch table.
func NewExtractor(logger observability.Logger) *Extractor {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Extractor{
		extractors: map[string]extractFunc{
			models.ConceptTypeCollection: extractFromCollection,
			models.ConceptTypeVariable:   extractFromVariable,
			models.ConceptTypeCitation:   extractFromCitation,
		},
		logger: logger,
	}
}

// Extract routes to the extractor for the message's concept type. Unknown
// types yield an empty result.
func (e *Extractor) Extract(msg models.ConceptMessage, metadata map[string]interface{}) models.ExtractionResult {
	extract, ok := e.extractors[msg.ConceptType]
	if !ok {
		e.logger.Warn("Unknown concept type, skipping extraction", map[string]interface{}{
			"concept_type": msg.ConceptType,
			"concept_id":   msg.ConceptID,
		})
		return models.ExtractionResult{}
	}
	return extract(msg.ConceptID, metadata)
}

func extractFromCollection(conceptID string, metadata map[string]interface{}) models.ExtractionResult {
	return models.ExtractionResult{
		Chunks: extractTextChunks(models.ConceptTypeCollection, conceptID, metadata, collectionFields),
		KMSTerms: append(
			extractScienceKeywords(metadata),
			extractPlatformsAndInstruments(metadata)...,
		),
	}
}

func extractFromVariable(conceptID string, metadata map[string]interface{}) models.ExtractionResult {
	return models.ExtractionResult{
		Chunks:   extractTextChunks(models.ConceptTypeVariable, conceptID, metadata, variableFields),
		KMSTerms: extractScienceKeywords(metadata),
	}
}

// Citations carry no KMS-sourced terms, only text chunks.
func extractFromCitation(conceptID string, metadata map[string]interface{}) models.ExtractionResult {
	chunks := extractTextChunks(models.ConceptTypeCitation, conceptID, metadata, citationFields)

	if authors := extractCitationAuthors(conceptID, metadata); authors != nil {
		chunks = append(chunks, *authors)
	}
	if publisher := extractCitationPublisher(conceptID, metadata); publisher != nil {
		chunks = append(chunks, *publisher)
	}

	return models.ExtractionResult{Chunks: chunks}
}

func extractTextChunks(conceptType, conceptID string, metadata map[string]interface{}, fields []fieldMapping) []models.EmbeddingChunk {
	var chunks []models.EmbeddingChunk
	for _, f := range fields {
		if text := getString(metadata, f.ummField); text != "" {
			chunks = append(chunks, models.EmbeddingChunk{
				ConceptType: conceptType,
				ConceptID:   conceptID,
				Attribute:   f.attribute,
				TextContent: text,
			})
		}
	}
	return chunks
}

// extractCitationAuthors formats authors as "Given Family; Given Family".
// Authors without a family name are skipped; authors with only a family
// name keep it.
func extractCitationAuthors(conceptID string, metadata map[string]interface{}) *models.EmbeddingChunk {
	citationMeta := getMap(metadata, "CitationMetadata")
	authors := getMapSlice(citationMeta, "Author")
	if len(authors) == 0 {
		return nil
	}

	var names []string
	for _, author := range authors {
		given := getString(author, "Given")
		family := getString(author, "Family")
		switch {
		case given != "" && family != "":
			names = append(names, given+" "+family)
		case family != "":
			names = append(names, family)
		}
	}
	if len(names) == 0 {
		return nil
	}

	return &models.EmbeddingChunk{
		ConceptType: models.ConceptTypeCitation,
		ConceptID:   conceptID,
		Attribute:   "authors",
		TextContent: strings.Join(names, "; "),
	}
}

func extractCitationPublisher(conceptID string, metadata map[string]interface{}) *models.EmbeddingChunk {
	citationMeta := getMap(metadata, "CitationMetadata")
	publisher := getString(citationMeta, "Publisher")
	if publisher == "" {
		return nil
	}
	return &models.EmbeddingChunk{
		ConceptType: models.ConceptTypeCitation,
		ConceptID:   conceptID,
		Attribute:   "publisher",
		TextContent: publisher,
	}
}

// extractScienceKeywords takes the most specific level of each hierarchical
// keyword: VariableLevel3 > VariableLevel2 > VariableLevel1 > Term.
func extractScienceKeywords(metadata map[string]interface{}) []models.KMSTermRef {
	var terms []models.KMSTermRef
	for _, kw := range getMapSlice(metadata, "ScienceKeywords") {
		term := firstNonEmpty(
			getString(kw, "VariableLevel3"),
			getString(kw, "VariableLevel2"),
			getString(kw, "VariableLevel1"),
			getString(kw, "Term"),
		)
		if term != "" {
			terms = append(terms, models.KMSTermRef{Term: term, Scheme: models.SchemeScienceKeywords})
		}
	}
	return terms
}

func extractPlatformsAndInstruments(metadata map[string]interface{}) []models.KMSTermRef {
	var terms []models.KMSTermRef
	for _, platform := range getMapSlice(metadata, "Platforms") {
		if name := getString(platform, "ShortName"); name != "" {
			terms = append(terms, models.KMSTermRef{Term: name, Scheme: models.SchemePlatforms})
		}
		for _, instrument := range getMapSlice(platform, "Instruments") {
			if name := getString(instrument, "ShortName"); name != "" {
				terms = append(terms, models.KMSTermRef{Term: name, Scheme: models.SchemeInstruments})
			}
		}
	}
	return terms
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getString(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func getMap(m map[string]interface{}, key string) map[string]interface{} {
	if m == nil {
		return nil
	}
	sub, _ := m[key].(map[string]interface{})
	return sub
}

func getMapSlice(m map[string]interface{}, key string) []map[string]interface{} {
	if m == nil {
		return nil
	}
	raw, _ := m[key].([]interface{})
	out := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		if entry, ok := item.(map[string]interface{}); ok {
			out = append(out, entry)
		}
	}
	return out
}
