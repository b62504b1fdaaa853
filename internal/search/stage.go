package search

import (
	"context"
	"fmt"
	"sort"
)

// Stage is the phase of the pipeline a technique belongs to. Stages have
// a total order; a valid pipeline never goes backwards.
type Stage string

const (
	StageQueryTransformation Stage = "query_transformation"
	StageRetrieval           Stage = "retrieval"
	StagePostRetrieval       Stage = "post_retrieval"
	StageReasoning           Stage = "reasoning"
	StageGeneration          Stage = "generation"
	StagePostGeneration      Stage = "post_generation"
)

var stageRank = map[Stage]int{
	StageQueryTransformation: 0,
	StageRetrieval:           1,
	StagePostRetrieval:       2,
	StageReasoning:           3,
	StageGeneration:          4,
	StagePostGeneration:      5,
}

// Rank returns the position of the stage in the canonical order, or -1
// for an unknown stage.
func (s Stage) Rank() int {
	r, ok := stageRank[s]
	if !ok {
		return -1
	}
	return r
}

// Stable technique identifiers. Presets and explicit technique lists
// refer to these; they are part of the external API and must not change.
const (
	TechniqueQueryRewriting        = "query_rewriting"
	TechniqueHyDE                  = "hyde"
	TechniqueVectorRetrieval       = "vector_retrieval"
	TechniqueFusionRetrieval       = "fusion_retrieval"
	TechniqueReranking             = "reranking"
	TechniqueContextualCompression = "contextual_compression"
	TechniqueMultiFacetedFiltering = "multi_faceted_filtering"
	TechniqueCoTDecomposition      = "cot_decomposition"
	TechniqueCoTSynthesis          = "cot_synthesis"
)

// Technique is one composable pipeline step. Execute mutates the search
// context in place; a returned error aborts the request unless the
// technique degrades internally (recording a warning instead).
type Technique interface {
	ID() string
	Stage() Stage
	Execute(ctx context.Context, sc *SearchContext) error
}

// Registry maps technique IDs to implementations.
type Registry struct {
	techniques map[string]Technique
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{techniques: make(map[string]Technique)}
}

// Register adds a technique; duplicate IDs are a programming error.
func (r *Registry) Register(t Technique) error {
	if _, ok := r.techniques[t.ID()]; ok {
		return fmt.Errorf("technique %q already registered", t.ID())
	}
	r.techniques[t.ID()] = t
	return nil
}

// Get returns the technique for id.
func (r *Registry) Get(id string) (Technique, bool) {
	t, ok := r.techniques[id]
	return t, ok
}

// IDs returns all registered technique IDs, sorted.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.techniques))
	for id := range r.techniques {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
