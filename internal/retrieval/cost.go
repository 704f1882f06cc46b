package retrieval

import (
	"fmt"
	"time"

	"ledger-query-workers/internal/registry"
)

// Historical defaults used before the registry has seen the source.
const (
	defaultTotalRows     = 200000
	defaultRowsPerMonth  = 16000
	secondsPer1000Rows   = 1.5
	baseLatencySeconds   = 2.0
	departmentFactor     = 0.15
	accountFactor        = 0.3
	transactionFactor    = 0.4
	subsidiaryFactor     = 0.5
	largeResultThreshold = 50000
)

type Complexity string

const (
	ComplexityLow      Complexity = "low"
	ComplexityMedium   Complexity = "medium"
	ComplexityHigh     Complexity = "high"
	ComplexityVeryHigh Complexity = "very_high"
)

// Cost is an estimate surfaced before fetching. It never blocks a query.
type Cost struct {
	EstimatedRows      int        `json:"estimatedRows"`
	EstimatedLatencyMs int64      `json:"estimatedLatencyMs"`
	Complexity         Complexity `json:"complexity"`
	FullScan           bool       `json:"fullScan"`
	Warnings           []string   `json:"warnings,omitempty"`
	Suggestions        []string   `json:"suggestions,omitempty"`
}

type CostEstimator struct{}

// Estimate sizes the result of p. stats may be nil or empty, in which case
// historical defaults apply.
func (CostEstimator) Estimate(p FilterParams, stats *registry.Stats) Cost {
	total := defaultTotalRows
	perMonth := float64(defaultRowsPerMonth)
	if stats != nil && stats.SourceRowCount > 0 {
		total = stats.SourceRowCount
		perMonth = float64(total)
		if stats.PeriodSpanMonths > 0 {
			perMonth = float64(total) / float64(stats.PeriodSpanMonths)
		}
	}

	rows := float64(total)
	if months := periodMonths(p); months > 0 {
		rows = perMonth * float64(months)
		if rows > float64(total) {
			rows = float64(total)
		}
	}
	if len(p.Departments) > 0 {
		rows *= minFloat(1, departmentFactor*float64(len(p.Departments)))
	}
	if len(p.AccountPrefixes) > 0 || len(p.AccountNames) > 0 {
		rows *= accountFactor
	}
	if len(p.TransactionTypes) > 0 {
		rows *= transactionFactor
	}
	if len(p.Subsidiaries) > 0 {
		rows *= subsidiaryFactor
	}

	c := Cost{
		EstimatedRows:      int(rows),
		EstimatedLatencyMs: int64((rows/1000*secondsPer1000Rows + baseLatencySeconds) * 1000),
		FullScan:           !p.HasPeriod() && !p.HasEntityFilter(),
	}
	switch {
	case c.EstimatedRows < 1000:
		c.Complexity = ComplexityLow
	case c.EstimatedRows < 10000:
		c.Complexity = ComplexityMedium
	case c.EstimatedRows < largeResultThreshold:
		c.Complexity = ComplexityHigh
	default:
		c.Complexity = ComplexityVeryHigh
	}

	if c.FullScan {
		c.Warnings = append(c.Warnings, "query has no period or entity filter and scans the full ledger")
		c.Suggestions = append(c.Suggestions, "add a time period such as \"this quarter\" or \"FY2025\"",
			"name a department or account family")
	} else if c.EstimatedRows >= largeResultThreshold {
		c.Warnings = append(c.Warnings, fmt.Sprintf("query is expected to match about %d rows", c.EstimatedRows))
		if !p.HasPeriod() {
			c.Suggestions = append(c.Suggestions, "add a time period")
		}
		if len(p.Departments) == 0 {
			c.Suggestions = append(c.Suggestions, "narrow to a department")
		}
	}
	return c
}

// periodMonths counts the months p spans, 0 when it has no period.
func periodMonths(p FilterParams) int {
	if len(p.PeriodIDs) > 0 {
		return len(p.PeriodIDs)
	}
	start, err1 := time.Parse(dateLayout, p.StartDate)
	end, err2 := time.Parse(dateLayout, p.EndDate)
	if err1 != nil || err2 != nil || end.Before(start) {
		return 0
	}
	return (end.Year()-start.Year())*12 + int(end.Month()-start.Month()) + 1
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
