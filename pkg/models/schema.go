package models

import (
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// conceptMessageSchema is the JSON schema for queue message bodies. Unknown
// fields are rejected so schema drift surfaces at ingest rather than in the
// embedding worker.
const conceptMessageSchema = `{
	"type": "object",
	"required": ["action", "concept-type", "concept-id", "revision-id"],
	"additionalProperties": false,
	"properties": {
		"action": {
			"type": "string",
			"enum": ["concept-update", "concept-delete"]
		},
		"concept-type": {
			"type": "string",
			"enum": ["collection", "variable", "citation"]
		},
		"concept-id": {
			"type": "string",
			"minLength": 1
		},
		"revision-id": {
			"type": "integer",
			"minimum": 1
		}
	}
}`

var conceptMessageSchemaLoader = gojsonschema.NewStringLoader(conceptMessageSchema)

// ValidateConceptMessage checks a raw JSON body against the message schema.
// Returns a *ValidationError describing every violation on failure.
func ValidateConceptMessage(body []byte) error {
	result, err := gojsonschema.Validate(conceptMessageSchemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	if result.Valid() {
		return nil
	}

	reasons := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		reasons = append(reasons, desc.String())
	}
	return &ValidationError{Reason: strings.Join(reasons, "; ")}
}
