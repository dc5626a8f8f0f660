package cmr

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earthdata/cmr-embeddings/pkg/models"
)

func metadataFromJSON(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

func TestExtractCollection(t *testing.T) {
	extractor := NewExtractor(nil)
	msg := models.ConceptMessage{
		Action:      models.ActionUpdate,
		ConceptType: models.ConceptTypeCollection,
		ConceptID:   "C1-P",
		RevisionID:  1,
	}

	metadata := metadataFromJSON(t, `{
		"EntryTitle": "MODIS SST",
		"Abstract": "Daily SST",
		"ScienceKeywords": [{"VariableLevel1": "SEA SURFACE TEMPERATURE"}],
		"Platforms": [{"ShortName": "TERRA", "Instruments": [{"ShortName": "MODIS"}]}]
	}`)

	result := extractor.Extract(msg, metadata)

	require.Len(t, result.Chunks, 2)
	assert.Equal(t, "title", result.Chunks[0].Attribute)
	assert.Equal(t, "MODIS SST", result.Chunks[0].TextContent)
	assert.Equal(t, "abstract", result.Chunks[1].Attribute)
	assert.Equal(t, "Daily SST", result.Chunks[1].TextContent)

	require.Len(t, result.KMSTerms, 3)
	assert.Equal(t, models.KMSTermRef{Term: "SEA SURFACE TEMPERATURE", Scheme: models.SchemeScienceKeywords}, result.KMSTerms[0])
	assert.Equal(t, models.KMSTermRef{Term: "TERRA", Scheme: models.SchemePlatforms}, result.KMSTerms[1])
	assert.Equal(t, models.KMSTermRef{Term: "MODIS", Scheme: models.SchemeInstruments}, result.KMSTerms[2])
}

func TestExtractCollectionSkipsEmptyFields(t *testing.T) {
	extractor := NewExtractor(nil)
	msg := models.ConceptMessage{ConceptType: models.ConceptTypeCollection, ConceptID: "C2-P"}

	result := extractor.Extract(msg, metadataFromJSON(t, `{
		"EntryTitle": "Only Title",
		"Abstract": "",
		"Purpose": ""
	}`))

	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "title", result.Chunks[0].Attribute)
	assert.Empty(t, result.KMSTerms)
}

func TestExtractScienceKeywordDepth(t *testing.T) {
	extractor := NewExtractor(nil)
	msg := models.ConceptMessage{ConceptType: models.ConceptTypeCollection, ConceptID: "C3-P"}

	t.Run("deepest level wins", func(t *testing.T) {
		result := extractor.Extract(msg, metadataFromJSON(t, `{
			"ScienceKeywords": [{
				"Term": "OCEAN TEMPERATURE",
				"VariableLevel1": "SEA SURFACE TEMPERATURE",
				"VariableLevel2": "FOUNDATION SST"
			}]
		}`))
		require.Len(t, result.KMSTerms, 1)
		assert.Equal(t, "FOUNDATION SST", result.KMSTerms[0].Term)
	})

	t.Run("falls back to Term", func(t *testing.T) {
		result := extractor.Extract(msg, metadataFromJSON(t, `{
			"ScienceKeywords": [{"Term": "OCEAN TEMPERATURE"}]
		}`))
		require.Len(t, result.KMSTerms, 1)
		assert.Equal(t, "OCEAN TEMPERATURE", result.KMSTerms[0].Term)
	})

	t.Run("keyword without any term skipped", func(t *testing.T) {
		result := extractor.Extract(msg, metadataFromJSON(t, `{
			"ScienceKeywords": [{"Category": "EARTH SCIENCE"}]
		}`))
		assert.Empty(t, result.KMSTerms)
	})
}

func TestExtractVariable(t *testing.T) {
	extractor := NewExtractor(nil)
	msg := models.ConceptMessage{ConceptType: models.ConceptTypeVariable, ConceptID: "V1-P"}

	result := extractor.Extract(msg, metadataFromJSON(t, `{
		"Name": "sst",
		"LongName": "Sea Surface Temp",
		"Definition": "Skin temperature of the ocean surface",
		"ScienceKeywords": []
	}`))

	require.Len(t, result.Chunks, 3)
	assert.Equal(t, "name", result.Chunks[0].Attribute)
	assert.Equal(t, "long_name", result.Chunks[1].Attribute)
	assert.Equal(t, "definition", result.Chunks[2].Attribute)
	assert.Empty(t, result.KMSTerms)
}

func TestExtractCitation(t *testing.T) {
	extractor := NewExtractor(nil)
	msg := models.ConceptMessage{ConceptType: models.ConceptTypeCitation, ConceptID: "CIT1-P"}

	t.Run("authors formatting", func(t *testing.T) {
		result := extractor.Extract(msg, metadataFromJSON(t, `{
			"Name": "T",
			"CitationMetadata": {
				"Author": [
					{"Given": "Alice", "Family": "A"},
					{"Given": "", "Family": "B"},
					{"Family": "C"}
				]
			}
		}`))

		require.Len(t, result.Chunks, 2)
		assert.Equal(t, "name", result.Chunks[0].Attribute)
		assert.Equal(t, "authors", result.Chunks[1].Attribute)
		assert.Equal(t, "Alice A; B; C", result.Chunks[1].TextContent)
	})

	t.Run("authors without family name skipped", func(t *testing.T) {
		result := extractor.Extract(msg, metadataFromJSON(t, `{
			"CitationMetadata": {"Author": [{"Given": "OnlyGiven"}]}
		}`))
		assert.Empty(t, result.Chunks)
	})

	t.Run("publisher and abstract", func(t *testing.T) {
		result := extractor.Extract(msg, metadataFromJSON(t, `{
			"Name": "Paper",
			"Abstract": "Findings",
			"CitationMetadata": {"Publisher": "AGU"}
		}`))

		require.Len(t, result.Chunks, 3)
		attributes := []string{result.Chunks[0].Attribute, result.Chunks[1].Attribute, result.Chunks[2].Attribute}
		assert.Equal(t, []string{"name", "abstract", "publisher"}, attributes)
	})

	t.Run("no KMS terms for citations", func(t *testing.T) {
		result := extractor.Extract(msg, metadataFromJSON(t, `{
			"Name": "Paper",
			"ScienceKeywords": [{"Term": "IGNORED"}]
		}`))
		assert.Empty(t, result.KMSTerms)
	})
}

func TestExtractUnknownType(t *testing.T) {
	extractor := NewExtractor(nil)
	msg := models.ConceptMessage{ConceptType: "granule", ConceptID: "G1-P"}

	result := extractor.Extract(msg, metadataFromJSON(t, `{"EntryTitle": "x"}`))
	assert.Empty(t, result.Chunks)
	assert.Empty(t, result.KMSTerms)
}

func TestExtractionIsPure(t *testing.T) {
	extractor := NewExtractor(nil)
	msg := models.ConceptMessage{ConceptType: models.ConceptTypeCollection, ConceptID: "C1-P"}
	metadata := metadataFromJSON(t, `{
		"EntryTitle": "MODIS SST",
		"Abstract": "Daily SST",
		"ScienceKeywords": [{"VariableLevel1": "SEA SURFACE TEMPERATURE"}],
		"Platforms": [{"ShortName": "TERRA", "Instruments": [{"ShortName": "MODIS"}]}]
	}`)

	first := extractor.Extract(msg, metadata)
	second := extractor.Extract(msg, metadata)
	assert.Equal(t, first, second)
}
