package extraction

// Stage names an LLM call site with its own token budget.
type Stage string

const (
	StageBasic        Stage = "basic"
	StageDetailed     Stage = "detailed"
	StageEnhanced     Stage = "enhanced"
	StageOptimization Stage = "optimization"
	StageHealthCheck  Stage = "health_check"
)

var baseTokens = map[Stage]int{
	StageBasic:        800,
	StageDetailed:     3500,
	StageEnhanced:     3500,
	StageOptimization: 3000,
	StageHealthCheck:  10,
}

// MaxTokens caps every computed budget.
const MaxTokens = 8000

// Budget returns max_tokens for a stage given the document length in
// characters: base × (1 + min(len/10000, 2) × 0.5), never below base and
// never above MaxTokens.
func Budget(stage Stage, docLen int) int {
	base, ok := baseTokens[stage]
	if !ok {
		base = baseTokens[StageDetailed]
	}
	factor := 1 + min(float64(max(docLen, 0))/10000, 2.0)*0.5
	n := int(float64(base) * factor)
	return min(max(n, base), MaxTokens)
}
