package search

// Preset names accepted by PipelineSpec and per-user pipeline records.
const (
	PresetDefault       = "default"
	PresetFast          = "fast"
	PresetAccurate      = "accurate"
	PresetCostOptimized = "cost_optimized"
	PresetComprehensive = "comprehensive"
)

// Presets are named technique sequences. They are plain configuration:
// every preset resolves through the same builder and registry as an
// explicit technique list.
var Presets = map[string][]string{
	PresetDefault: {
		TechniqueQueryRewriting,
		TechniqueVectorRetrieval,
		TechniqueReranking,
	},
	PresetFast: {
		TechniqueVectorRetrieval,
	},
	PresetAccurate: {
		TechniqueQueryRewriting,
		TechniqueHyDE,
		TechniqueVectorRetrieval,
		TechniqueReranking,
		TechniqueContextualCompression,
	},
	PresetCostOptimized: {
		TechniqueVectorRetrieval,
		TechniqueMultiFacetedFiltering,
	},
	PresetComprehensive: {
		TechniqueQueryRewriting,
		TechniqueHyDE,
		TechniqueFusionRetrieval,
		TechniqueReranking,
		TechniqueContextualCompression,
		TechniqueCoTDecomposition,
		TechniqueCoTSynthesis,
	},
}
