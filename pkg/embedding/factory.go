package embedding

import (
	"github.com/earthdata/cmr-embeddings/pkg/models"
	"github.com/earthdata/cmr-embeddings/pkg/observability"
)

// NewDefaultRouter builds the standard routing table for CMR concepts: KMS
// keyword, platform, and instrument attributes go through definition
// enrichment in their scheme, everything else hits the base generator
// directly.
func NewDefaultRouter(base Generator, resolver TermResolver, logger observability.Logger) (*RoutingGenerator, error) {
	return NewRoutingGenerator(map[string]Generator{
		"collection.science_keywords": NewKMSEnrichedGenerator(base, resolver, models.SchemeScienceKeywords, logger),
		"collection.platforms":        NewKMSEnrichedGenerator(base, resolver, models.SchemePlatforms, logger),
		"collection.instruments":      NewKMSEnrichedGenerator(base, resolver, models.SchemeInstruments, logger),
		"variable.science_keywords":   NewKMSEnrichedGenerator(base, resolver, models.SchemeScienceKeywords, logger),
		"default":                     base,
	}, nil)
}
