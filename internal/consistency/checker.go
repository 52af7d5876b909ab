// Package consistency compares comparable records across providers and
// scores how much they agree.
package consistency

import (
	"math"
	"sort"

	"github.com/loongquant/loong/internal/common"
)

// Directives tell the sync services how to treat the pair of sources.
const (
	DirectiveUseEither      = "use-either"
	DirectiveUsePrimaryWarn = "use-primary-warn"
	DirectiveUsePrimaryOnly = "use-primary-only"
	DirectiveInvestigate    = "investigate"
)

// DefaultTolerances are the per-field relative deltas beyond which a
// discrepancy is significant.
func DefaultTolerances() map[string]float64 {
	return map[string]float64{
		"price":         0.01,
		"total_mv":      0.02,
		"pe":            0.05,
		"pb":            0.05,
		"turnover_rate": 0.05,
		"volume":        0.10,
	}
}

// DefaultWeights are the per-field contributions to the confidence score.
// They sum to 1.0.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		"pe":            0.25,
		"pb":            0.25,
		"total_mv":      0.20,
		"price":         0.15,
		"volume":        0.10,
		"turnover_rate": 0.05,
	}
}

// Report is the outcome of one cross-source comparison. The checker never
// mutates data; consumers act on the directive.
type Report struct {
	Symbol            string             `json:"symbol"`
	Primary           string             `json:"primary"`
	Secondary         string             `json:"secondary"`
	FieldDeltas       map[string]float64 `json:"field_deltas"`
	SignificantFields []string           `json:"significant_fields,omitempty"`
	Score             float64            `json:"score"`
	Directive         string             `json:"directive"`
}

// Checker scores agreement between two providers' views of one symbol.
type Checker struct {
	tolerances map[string]float64
	weights    map[string]float64
	logger     *common.Logger
}

// NewChecker builds a checker from config, falling back to the built-in
// tolerances and weights when the config maps are empty.
func NewChecker(cfg common.ConsistencyConfig, logger *common.Logger) *Checker {
	tolerances := cfg.Tolerances
	if len(tolerances) == 0 {
		tolerances = DefaultTolerances()
	}
	weights := cfg.Weights
	if len(weights) == 0 {
		weights = DefaultWeights()
	}
	return &Checker{tolerances: tolerances, weights: weights, logger: logger}
}

// Check compares two field maps for one symbol. Only fields present in
// both maps participate; fields without a configured tolerance or weight
// are ignored.
func (c *Checker) Check(symbol, primary, secondary string, a, b map[string]float64) *Report {
	report := &Report{
		Symbol:      symbol,
		Primary:     primary,
		Secondary:   secondary,
		FieldDeltas: make(map[string]float64),
	}

	var score, weightUsed float64
	for field, tolerance := range c.tolerances {
		weight, ok := c.weights[field]
		if !ok {
			continue
		}
		av, aok := a[field]
		bv, bok := b[field]
		if !aok || !bok {
			continue
		}

		delta := relativeDelta(av, bv)
		report.FieldDeltas[field] = delta
		if delta > tolerance {
			report.SignificantFields = append(report.SignificantFields, field)
		}

		score += weight * math.Max(0, 1-delta/tolerance)
		weightUsed += weight
	}
	sort.Strings(report.SignificantFields)

	if weightUsed == 0 {
		// Nothing comparable; treat the pair as agreeing.
		report.Score = 1.0
		report.Directive = DirectiveUseEither
		return report
	}

	report.Score = score / weightUsed
	report.Directive = directive(report.Score)

	if report.Directive != DirectiveUseEither {
		c.logger.Warn().
			Str("symbol", symbol).
			Str("primary", primary).
			Str("secondary", secondary).
			Float64("score", report.Score).
			Strs("significant", report.SignificantFields).
			Str("directive", report.Directive).
			Msg("[WARN] Cross-source discrepancy")
	}

	return report
}

// relativeDelta is |a-b| / |a|, guarding the zero denominator.
func relativeDelta(a, b float64) float64 {
	if a == b {
		return 0
	}
	if a == 0 {
		return 1
	}
	return math.Abs(a-b) / math.Abs(a)
}

func directive(score float64) string {
	switch {
	case score > 0.8:
		return DirectiveUseEither
	case score > 0.6:
		return DirectiveUsePrimaryWarn
	case score > 0.3:
		return DirectiveUsePrimaryOnly
	default:
		return DirectiveInvestigate
	}
}
