// Package parser turns a free-text financial question into a ParsedQuery or,
// when any term could mean more than one thing, a Clarification.
package parser

import (
	"time"

	"ledger-query-workers/internal/fiscal"
)

type Intent string

const (
	IntentSummary    Intent = "summary"
	IntentTotal      Intent = "total"
	IntentTrend      Intent = "trend"
	IntentComparison Intent = "comparison"
	IntentVariance   Intent = "variance"
	IntentBreakdown  Intent = "breakdown"
	IntentTopN       Intent = "top_n"
	IntentDetail     Intent = "detail"
	IntentRatio      Intent = "ratio"
)

type ComparisonType string

const (
	CompareMonthOverMonth     ComparisonType = "mom"
	CompareYearOverYear       ComparisonType = "yoy"
	CompareQuarterOverQuarter ComparisonType = "qoq"
	CompareBudgetVsActual     ComparisonType = "bva"
	ComparePriorPeriod        ComparisonType = "prior"
)

// Comparison is a secondary period the answer is measured against. Period
// is nil for budget-vs-actual, where the comparison data lives outside the
// ledger.
type Comparison struct {
	Type   ComparisonType `json:"type"`
	Period *fiscal.Period `json:"period,omitempty"`
}

// Context carries state from earlier turns. Selections maps an ambiguous
// term, as the user wrote it, to the chosen option value or ID.
type Context struct {
	Selections map[string]string `json:"selections,omitempty"`
}

type Request struct {
	Text    string    `json:"question"`
	AsOf    time.Time `json:"asOf"`
	Context Context   `json:"context"`
}

// ResolvedTerm records where one filter value came from.
type ResolvedTerm struct {
	Text       string   `json:"text"`
	Source     string   `json:"source"`
	Category   string   `json:"category"`
	Values     []string `json:"values,omitempty"`
	Confidence float64  `json:"confidence"`
}

// ParsedQuery is a fully resolved question. It is never produced while any
// term is still ambiguous.
type ParsedQuery struct {
	OriginalText     string         `json:"originalText"`
	AsOf             string         `json:"asOf"`
	Intent           Intent         `json:"intent"`
	IntentConfidence float64        `json:"intentConfidence"`
	Period           *fiscal.Period `json:"period,omitempty"`
	Departments      []string       `json:"departments,omitempty"`
	AccountPrefixes  []string       `json:"accountPrefixes,omitempty"`
	AccountNames     []string       `json:"accountNames,omitempty"`
	TransactionTypes []string       `json:"transactionTypes,omitempty"`
	Subsidiaries     []string       `json:"subsidiaries,omitempty"`
	Consolidated     bool           `json:"consolidated"`
	Comparison       *Comparison    `json:"comparison,omitempty"`
	TopN             int            `json:"topN,omitempty"`
	SortAscending    bool           `json:"sortAscending,omitempty"`
	GroupBy          []string       `json:"groupBy,omitempty"`
	ResolvedTerms    []ResolvedTerm `json:"resolvedTerms,omitempty"`
	UnresolvedTerms  []string       `json:"unresolvedTerms,omitempty"`
	Warnings         []string       `json:"warnings,omitempty"`
	Confidence       float64        `json:"confidence"`
}

// HasEntityFilter reports whether anything narrows the rows beyond the
// period.
func (q *ParsedQuery) HasEntityFilter() bool {
	return len(q.Departments) > 0 || len(q.AccountPrefixes) > 0 || len(q.AccountNames) > 0 ||
		len(q.TransactionTypes) > 0 || len(q.Subsidiaries) > 0
}

// Option is one way to read an ambiguous term. Value is a selector the
// caller can send back in Context.Selections; ID is stable for the same
// term and value.
type Option struct {
	ID          string `json:"id"`
	Term        string `json:"term"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Value       string `json:"value"`
}

type Clarification struct {
	Message        string   `json:"message"`
	AmbiguousTerms []string `json:"ambiguousTerms"`
	Options        []Option `json:"options"`
}

type Status string

const (
	StatusParsed        Status = "parsed"
	StatusClarification Status = "clarification"
)

// Result holds exactly one of Query or Clarification.
type Result struct {
	Status        Status         `json:"status"`
	Query         *ParsedQuery   `json:"parsedQuery,omitempty"`
	Clarification *Clarification `json:"clarification,omitempty"`
}
