package search

import (
	"fmt"

	"github.com/manavgup/rag-modulo-sub005/internal/core"
)

// PipelineSpec selects the techniques a request runs. Exactly one of
// Preset or Techniques may be set; CoTEnabled may only accompany an
// explicit technique list (presets already decide whether they reason).
type PipelineSpec struct {
	Preset     string
	Techniques []string
	CoTEnabled bool
	// RetrievalFree declares that the pipeline intentionally carries no
	// retrieval technique. Without the declaration such a pipeline is
	// rejected.
	RetrievalFree bool
}

// Builder validates a PipelineSpec against the registry and resolves it
// to an ordered technique sequence.
type Builder struct {
	registry *Registry
}

// NewBuilder creates a builder over the given registry.
func NewBuilder(registry *Registry) *Builder {
	return &Builder{registry: registry}
}

// Build resolves the spec. Violations return CodeInvalidInput.
func (b *Builder) Build(spec PipelineSpec) ([]Technique, error) {
	if spec.Preset != "" && len(spec.Techniques) > 0 {
		return nil, core.NewError(core.CodeInvalidInput,
			"invalid pipeline: preset and technique list are mutually exclusive")
	}
	if spec.Preset != "" && spec.CoTEnabled {
		return nil, core.NewError(core.CodeInvalidInput,
			"invalid pipeline: cot_enabled cannot be combined with a preset")
	}

	ids := spec.Techniques
	switch {
	case spec.Preset != "":
		preset, ok := Presets[spec.Preset]
		if !ok {
			return nil, core.NewError(core.CodeInvalidInput,
				fmt.Sprintf("invalid pipeline: unknown preset %q", spec.Preset))
		}
		ids = preset
	case len(ids) == 0:
		ids = Presets[PresetDefault]
	}

	if spec.CoTEnabled {
		ids = withCoT(ids)
	}

	techniques := make([]Technique, 0, len(ids))
	hasRetrieval := false
	prev := -1
	for _, id := range ids {
		t, ok := b.registry.Get(id)
		if !ok {
			return nil, core.NewError(core.CodeInvalidInput,
				fmt.Sprintf("invalid pipeline: unknown technique %q", id))
		}
		rank := t.Stage().Rank()
		if rank < prev {
			return nil, core.NewError(core.CodeInvalidInput,
				fmt.Sprintf("invalid pipeline: technique %q is out of stage order", id))
		}
		prev = rank
		if t.Stage() == StageRetrieval {
			hasRetrieval = true
		}
		techniques = append(techniques, t)
	}

	if !hasRetrieval && !spec.RetrievalFree {
		return nil, core.NewError(core.CodeInvalidInput,
			"invalid pipeline: no retrieval technique and pipeline not declared retrieval-free")
	}
	return techniques, nil
}

// withCoT appends the chain-of-thought pair unless already present.
func withCoT(ids []string) []string {
	out := make([]string, len(ids), len(ids)+2)
	copy(out, ids)
	have := make(map[string]bool, len(ids))
	for _, id := range ids {
		have[id] = true
	}
	if !have[TechniqueCoTDecomposition] {
		out = append(out, TechniqueCoTDecomposition)
	}
	if !have[TechniqueCoTSynthesis] {
		out = append(out, TechniqueCoTSynthesis)
	}
	return out
}
