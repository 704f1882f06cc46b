package retrieval

import (
	"testing"

	"ledger-query-workers/internal/registry"

	"github.com/stretchr/testify/assert"
)

func TestCostEstimator_Estimate(t *testing.T) {
	months := func(n int) []string {
		ids := make([]string, n)
		for i := range ids {
			ids[i] = "P" + string(rune('A'+i))
		}
		return ids
	}
	fixtureStats := &registry.Stats{SourceRowCount: 242, PeriodSpanMonths: 22}

	tests := []struct {
		name         string
		params       FilterParams
		stats        *registry.Stats
		wantRows     int
		want         Complexity
		fullScan     bool
		wantWarnings bool
	}{
		{
			name:         "no filter falls back to historical size",
			params:       FilterParams{ExcludeTotals: true},
			wantRows:     defaultTotalRows,
			want:         ComplexityVeryHigh,
			fullScan:     true,
			wantWarnings: true,
		},
		{
			name:     "registry stats narrow a department and account query",
			params:   FilterParams{PeriodIDs: months(12), Departments: []string{"SDR"}, AccountPrefixes: []string{"53"}},
			stats:    fixtureStats,
			wantRows: 5,
			want:     ComplexityLow,
		},
		{
			name:     "one quarter on defaults",
			params:   FilterParams{PeriodIDs: months(3)},
			wantRows: 48000,
			want:     ComplexityHigh,
		},
		{
			name:         "a full year on defaults is large",
			params:       FilterParams{PeriodIDs: months(12)},
			wantRows:     192000,
			want:         ComplexityVeryHigh,
			wantWarnings: true,
		},
		{
			name:     "date range counts calendar months",
			params:   FilterParams{StartDate: "2025-02-01", EndDate: "2025-04-15"},
			stats:    fixtureStats,
			wantRows: 33,
			want:     ComplexityLow,
		},
		{
			name:     "empty stats use defaults",
			params:   FilterParams{PeriodIDs: months(1), Subsidiaries: []string{"UK"}},
			stats:    &registry.Stats{},
			wantRows: 8000,
			want:     ComplexityMedium,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := CostEstimator{}.Estimate(tt.params, tt.stats)
			assert.Equal(t, tt.wantRows, c.EstimatedRows)
			assert.Equal(t, tt.want, c.Complexity)
			assert.Equal(t, tt.fullScan, c.FullScan)
			assert.Equal(t, tt.wantWarnings, len(c.Warnings) > 0)
			assert.Positive(t, c.EstimatedLatencyMs)
		})
	}
}

func TestCostEstimator_SuggestsNarrowing(t *testing.T) {
	c := CostEstimator{}.Estimate(FilterParams{PeriodIDs: make([]string, 12)}, nil)
	assert.Contains(t, c.Suggestions, "narrow to a department")
	assert.NotContains(t, c.Suggestions, "add a time period")
}
