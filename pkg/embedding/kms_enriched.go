package embedding

import (
	"context"
	"strings"

	"github.com/earthdata/cmr-embeddings/pkg/models"
	"github.com/earthdata/cmr-embeddings/pkg/observability"
)

// TermResolver resolves a controlled term within a scheme. Satisfied by the
// kms package's Client.
type TermResolver interface {
	LookupTerm(ctx context.Context, term, scheme string) *models.KMSTerm
}

// KMSEnrichedGenerator wraps a base generator and rewrites each input line
// with its KMS definition before embedding. For hierarchical keyword paths
// like "EARTH SCIENCE > ATMOSPHERE > PRECIPITATION" the deepest segment is
// looked up; when a definition exists, the line becomes
// "{term}: {definition}", otherwise it is left unchanged. KMS errors never
// fail the embedding.
type KMSEnrichedGenerator struct {
	base     Generator
	resolver TermResolver
	scheme   string
	logger   observability.Logger
}

// NewKMSEnrichedGenerator creates the enrichment decorator for one KMS
// scheme.
func NewKMSEnrichedGenerator(base Generator, resolver TermResolver, scheme string, logger observability.Logger) *KMSEnrichedGenerator {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &KMSEnrichedGenerator{
		base:     base,
		resolver: resolver,
		scheme:   scheme,
		logger:   logger,
	}
}

// ModelID identifies the base generator's model.
func (g *KMSEnrichedGenerator) ModelID() string { return g.base.ModelID() }

// Generate enriches the text line by line, then calls the base generator
// once with the result.
func (g *KMSEnrichedGenerator) Generate(ctx context.Context, text, conceptType, attribute string) ([]float32, error) {
	return g.base.Generate(ctx, g.enrich(ctx, text), conceptType, attribute)
}

func (g *KMSEnrichedGenerator) enrich(ctx context.Context, text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	enriched := make([]string, len(lines))
	for i, line := range lines {
		enriched[i] = g.enrichLine(ctx, strings.TrimSpace(line))
	}
	return strings.Join(enriched, "\n")
}

func (g *KMSEnrichedGenerator) enrichLine(ctx context.Context, path string) string {
	if path == "" {
		return path
	}

	term := extractLeafTerm(path)
	resolved := g.resolver.LookupTerm(ctx, term, g.scheme)
	if resolved == nil || resolved.Definition == "" {
		return path
	}
	return term + ": " + resolved.Definition
}

// extractLeafTerm returns the most specific segment of a hierarchical path.
func extractLeafTerm(path string) string {
	if idx := strings.LastIndex(path, " > "); idx >= 0 {
		return strings.TrimSpace(path[idx+len(" > "):])
	}
	return strings.TrimSpace(path)
}
