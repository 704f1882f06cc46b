// Package retrieval fetches ledger rows for a parsed query. Only the complete
// unfiltered snapshot is ever cached; every answer is derived from it (or
// from a verified server-filtered result) by the pure Filter function.
package retrieval

import (
	"net/url"
	"strings"

	"ledger-query-workers/internal/parser"
)

const dateLayout = "2006-01-02"

// FilterParams is the row filter derived from a ParsedQuery. All predicates
// are conjunctive; multiple values inside one predicate are a union.
type FilterParams struct {
	PeriodIDs        []string `json:"periodIds,omitempty"`
	StartDate        string   `json:"startDate,omitempty"`
	EndDate          string   `json:"endDate,omitempty"`
	Departments      []string `json:"departments,omitempty"`
	AccountPrefixes  []string `json:"accountPrefixes,omitempty"`
	AccountNames     []string `json:"accountNames,omitempty"`
	TransactionTypes []string `json:"transactionTypes,omitempty"`
	Subsidiaries     []string `json:"subsidiaries,omitempty"`
	ExcludeTotals    bool     `json:"excludeTotals"`
}

// BuildFilterParams maps q onto row predicates. A month-aligned period is
// expressed as accounting period IDs as well as a date range; any other
// period only as a date range.
func BuildFilterParams(q *parser.ParsedQuery) FilterParams {
	p := FilterParams{
		Departments:      clone(q.Departments),
		AccountPrefixes:  clone(q.AccountPrefixes),
		AccountNames:     clone(q.AccountNames),
		TransactionTypes: clone(q.TransactionTypes),
		ExcludeTotals:    true,
	}
	if !q.Consolidated {
		p.Subsidiaries = clone(q.Subsidiaries)
	}
	if q.Period != nil {
		p.PeriodIDs = q.Period.MonthPeriodIDs()
		p.StartDate = q.Period.Start.Format(dateLayout)
		p.EndDate = q.Period.End.Format(dateLayout)
	}
	return p
}

// HasPeriod reports whether any time predicate is set.
func (p FilterParams) HasPeriod() bool {
	return len(p.PeriodIDs) > 0 || p.StartDate != "" || p.EndDate != ""
}

// HasEntityFilter reports whether anything besides time narrows the rows.
func (p FilterParams) HasEntityFilter() bool {
	return len(p.Departments) > 0 || len(p.AccountPrefixes) > 0 || len(p.AccountNames) > 0 ||
		len(p.TransactionTypes) > 0 || len(p.Subsidiaries) > 0
}

// Query parameter names of the ledger service's filter contract.
const (
	qpPeriod          = "period"
	qpStartDate       = "startDate"
	qpEndDate         = "endDate"
	qpDepartment      = "department"
	qpAccountPrefix   = "accountPrefix"
	qpAccountName     = "accountName"
	qpTransactionType = "transactionType"
	qpSubsidiary      = "subsidiary"
	qpExcludeTotals   = "excludeTotals"
)

// QueryValues encodes p for a server-filtered page request.
func (p FilterParams) QueryValues() url.Values {
	v := url.Values{}
	for _, id := range p.PeriodIDs {
		v.Add(qpPeriod, id)
	}
	if len(p.PeriodIDs) == 0 {
		if p.StartDate != "" {
			v.Set(qpStartDate, p.StartDate)
		}
		if p.EndDate != "" {
			v.Set(qpEndDate, p.EndDate)
		}
	}
	add := func(key string, values []string) {
		for _, s := range values {
			v.Add(key, s)
		}
	}
	add(qpDepartment, p.Departments)
	add(qpAccountPrefix, p.AccountPrefixes)
	add(qpAccountName, p.AccountNames)
	add(qpTransactionType, p.TransactionTypes)
	add(qpSubsidiary, p.Subsidiaries)
	if p.ExcludeTotals {
		v.Set(qpExcludeTotals, "true")
	}
	return v
}

// ParseQueryValues is the inverse of QueryValues, for services and fakes
// that implement the filter contract.
func ParseQueryValues(v url.Values) FilterParams {
	return FilterParams{
		PeriodIDs:        v[qpPeriod],
		StartDate:        v.Get(qpStartDate),
		EndDate:          v.Get(qpEndDate),
		Departments:      v[qpDepartment],
		AccountPrefixes:  v[qpAccountPrefix],
		AccountNames:     v[qpAccountName],
		TransactionTypes: v[qpTransactionType],
		Subsidiaries:     v[qpSubsidiary],
		ExcludeTotals:    strings.EqualFold(v.Get(qpExcludeTotals), "true"),
	}
}

func clone(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return append([]string(nil), s...)
}
