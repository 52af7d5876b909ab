package consistency

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loongquant/loong/internal/common"
)

func newTestChecker() *Checker {
	return NewChecker(common.ConsistencyConfig{}, common.NewSilentLogger())
}

func TestCheck_IdenticalValues_UseEither(t *testing.T) {
	c := newTestChecker()
	fields := map[string]float64{
		"price": 10.50, "pe": 12.3, "pb": 1.8, "total_mv": 2500, "volume": 1_000_000, "turnover_rate": 2.1,
	}

	report := c.Check("600000", "tushare", "eastmoney", fields, fields)

	assert.Equal(t, 1.0, report.Score)
	assert.Equal(t, DirectiveUseEither, report.Directive)
	assert.Empty(t, report.SignificantFields)
}

func TestCheck_SmallDeltas_HighConfidence(t *testing.T) {
	c := newTestChecker()
	a := map[string]float64{"price": 10.00, "pe": 12.00, "pb": 1.80}
	b := map[string]float64{"price": 10.001, "pe": 12.01, "pb": 1.801}

	report := c.Check("600000", "tushare", "eastmoney", a, b)

	assert.Greater(t, report.Score, 0.8)
	assert.Equal(t, DirectiveUseEither, report.Directive)
}

func TestCheck_ValuationFieldsFarOffTolerance_Investigate(t *testing.T) {
	c := newTestChecker()
	a := map[string]float64{"pe": 10.0, "pb": 2.0}
	b := map[string]float64{"pe": 12.0, "pb": 2.6} // 20% and 30% off

	report := c.Check("600000", "A", "B", a, b)

	// Both deltas exceed their 5% tolerance many times over, so neither
	// field contributes anything to the score.
	assert.Equal(t, 0.0, report.Score)
	assert.Equal(t, DirectiveInvestigate, report.Directive)
	assert.Contains(t, report.SignificantFields, "pe")
	assert.Contains(t, report.SignificantFields, "pb")
}

func TestCheck_EverythingOff_Investigate(t *testing.T) {
	c := newTestChecker()
	a := map[string]float64{"price": 10.0, "pe": 10.0, "pb": 2.0, "total_mv": 100, "volume": 1000, "turnover_rate": 1.0}
	b := map[string]float64{"price": 20.0, "pe": 30.0, "pb": 9.0, "total_mv": 300, "volume": 9000, "turnover_rate": 5.0}

	report := c.Check("600000", "A", "B", a, b)

	assert.Equal(t, 0.0, report.Score)
	assert.Equal(t, DirectiveInvestigate, report.Directive)
}

func TestCheck_MissingFieldsIgnored(t *testing.T) {
	c := newTestChecker()
	a := map[string]float64{"price": 10.0, "pe": 12.0}
	b := map[string]float64{"price": 10.0} // no pe on secondary

	report := c.Check("600000", "A", "B", a, b)

	assert.Equal(t, 1.0, report.Score)
	assert.NotContains(t, report.FieldDeltas, "pe")
}

func TestCheck_NoComparableFields_UseEither(t *testing.T) {
	c := newTestChecker()

	report := c.Check("600000", "A", "B", map[string]float64{"eps": 1.0}, map[string]float64{"roe": 8.0})

	assert.Equal(t, 1.0, report.Score)
	assert.Equal(t, DirectiveUseEither, report.Directive)
}

func TestCheck_ZeroPrimaryValue(t *testing.T) {
	c := newTestChecker()
	a := map[string]float64{"pe": 0}
	b := map[string]float64{"pe": 15.0}

	report := c.Check("600000", "A", "B", a, b)

	// Delta saturates at 1.0 against a zero denominator.
	assert.Equal(t, 1.0, report.FieldDeltas["pe"])
	assert.Contains(t, report.SignificantFields, "pe")
}

func TestCheck_ConfiguredTolerances(t *testing.T) {
	cfg := common.ConsistencyConfig{
		Tolerances: map[string]float64{"price": 0.5},
		Weights:    map[string]float64{"price": 1.0},
	}
	c := NewChecker(cfg, common.NewSilentLogger())

	// 20% off, but the configured tolerance is 50%: the delta stays
	// within tolerance, scoring 1 - 0.2/0.5 = 0.6 exactly.
	report := c.Check("600000", "A", "B",
		map[string]float64{"price": 10.0},
		map[string]float64{"price": 12.0})

	assert.Empty(t, report.SignificantFields)
	assert.InDelta(t, 0.6, report.Score, 1e-9)
	assert.Equal(t, DirectiveUsePrimaryOnly, report.Directive)
}

func TestDefaultWeights_SumToOne(t *testing.T) {
	var sum float64
	for _, w := range DefaultWeights() {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}
