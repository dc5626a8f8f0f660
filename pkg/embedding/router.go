package embedding

import (
	"context"
	"fmt"
)

// RoutingGenerator dispatches to a generator by key lookup, most specific
// first:
//
//  1. "{concept_type}.{attribute}"
//  2. "{concept_type}"
//  3. "default"
//
// The table is immutable after construction; the router holds no other
// state.
type RoutingGenerator struct {
	generators map[string]Generator
	fallback   Generator
}

// NewRoutingGenerator builds a router over the given table. The table must
// contain a "default" entry, or defaultGenerator must be provided.
func NewRoutingGenerator(generators map[string]Generator, defaultGenerator Generator) (*RoutingGenerator, error) {
	fallback := defaultGenerator
	if fallback == nil {
		fallback = generators["default"]
	}
	if fallback == nil {
		return nil, fmt.Errorf("routing generator requires a 'default' entry or an explicit default generator")
	}

	table := make(map[string]Generator, len(generators))
	for key, gen := range generators {
		table[key] = gen
	}

	return &RoutingGenerator{generators: table, fallback: fallback}, nil
}

// ModelID identifies the default generator's model.
func (r *RoutingGenerator) ModelID() string { return r.fallback.ModelID() }

// Generate routes to the matching generator and delegates.
func (r *RoutingGenerator) Generate(ctx context.Context, text, conceptType, attribute string) ([]float32, error) {
	return r.resolve(conceptType, attribute).Generate(ctx, text, conceptType, attribute)
}

func (r *RoutingGenerator) resolve(conceptType, attribute string) Generator {
	if conceptType != "" && attribute != "" {
		if gen, ok := r.generators[conceptType+"."+attribute]; ok {
			return gen
		}
	}
	if conceptType != "" {
		if gen, ok := r.generators[conceptType]; ok {
			return gen
		}
	}
	return r.fallback
}
