package retrieval

import (
	"regexp"
	"sort"
	"strings"
	"time"

	apperrors "ledger-query-workers/internal/common/errors"
	"ledger-query-workers/internal/ledger"

	"github.com/shopspring/decimal"
)

var reTotalRow = regexp.MustCompile(`(?i)\btotals?\b`)

// matcher is FilterParams prepared for repeated row evaluation.
type matcher struct {
	cols       ledger.Columns
	periodIDs  map[string]struct{}
	start, end time.Time
	hasStart   bool
	hasEnd     bool
	depts      []string
	prefixes   []string
	names      []string
	types      map[string]struct{}
	subs       []string
	noTotals   bool
}

func newMatcher(p FilterParams, cols ledger.Columns) *matcher {
	m := &matcher{
		cols:     cols,
		depts:    lowerAll(p.Departments),
		prefixes: trimAll(p.AccountPrefixes),
		names:    lowerAll(p.AccountNames),
		subs:     lowerAll(p.Subsidiaries),
		noTotals: p.ExcludeTotals,
	}
	if len(p.PeriodIDs) > 0 {
		m.periodIDs = make(map[string]struct{}, len(p.PeriodIDs))
		for _, id := range p.PeriodIDs {
			m.periodIDs[strings.ToLower(strings.TrimSpace(id))] = struct{}{}
		}
	}
	if t, err := time.Parse(dateLayout, p.StartDate); err == nil {
		m.start, m.hasStart = t, true
	}
	if t, err := time.Parse(dateLayout, p.EndDate); err == nil {
		m.end, m.hasEnd = t, true
	}
	if len(p.TransactionTypes) > 0 {
		m.types = make(map[string]struct{}, len(p.TransactionTypes))
		for _, t := range p.TransactionTypes {
			m.types[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
		}
	}
	return m
}

func (m *matcher) match(row ledger.Row) bool {
	return m.matchPeriod(row) &&
		containsAny(row.String(m.cols.Department), m.depts) &&
		prefixAny(row.String(m.cols.AccountNumber), m.prefixes) &&
		containsAny(row.String(m.cols.AccountName), m.names) &&
		m.matchType(row) &&
		containsAny(row.String(m.cols.Subsidiary), m.subs) &&
		!(m.noTotals && reTotalRow.MatchString(row.String(m.cols.AccountName)))
}

// matchPeriod uses the period ID when the row has one and IDs were given,
// the date range otherwise.
func (m *matcher) matchPeriod(row ledger.Row) bool {
	if m.periodIDs != nil {
		if id := strings.ToLower(row.String(m.cols.Period)); id != "" {
			_, ok := m.periodIDs[id]
			return ok
		}
	}
	if !m.hasStart && !m.hasEnd {
		return m.periodIDs == nil
	}
	d, ok := row.Date(m.cols.Date)
	if !ok {
		return false
	}
	if m.hasStart && d.Before(m.start) {
		return false
	}
	if m.hasEnd && d.After(m.end) {
		return false
	}
	return true
}

func (m *matcher) matchType(row ledger.Row) bool {
	if m.types == nil {
		return true
	}
	_, ok := m.types[strings.ToLower(row.String(m.cols.TransactionType))]
	return ok
}

// Filter returns the rows of rows that satisfy p, in their original order.
// It never modifies rows and the result depends only on its arguments.
func Filter(rows []ledger.Row, p FilterParams, cols ledger.Columns) []ledger.Row {
	m := newMatcher(p, cols)
	out := make([]ledger.Row, 0, len(rows)/4)
	for _, row := range rows {
		if m.match(row) {
			out = append(out, row)
		}
	}
	return out
}

// Total sums the amount column exactly.
func Total(rows []ledger.Row, amountColumn string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, row := range rows {
		amt, err := row.Decimal(amountColumn)
		if err != nil {
			return decimal.Zero, apperrors.NewLedgerResponseInvalidError(err.Error())
		}
		total = total.Add(amt)
	}
	return total, nil
}

// RequiredColumns lists the source columns p needs, plus the row key and
// amount every answer needs.
func RequiredColumns(p FilterParams, cols ledger.Columns) []string {
	set := map[string]struct{}{cols.RowKey: {}, cols.Amount: {}}
	need := func(ok bool, col string) {
		if ok && col != "" {
			set[col] = struct{}{}
		}
	}
	need(len(p.PeriodIDs) > 0, cols.Period)
	need(p.StartDate != "" || p.EndDate != "", cols.Date)
	need(len(p.Departments) > 0, cols.Department)
	need(len(p.AccountPrefixes) > 0, cols.AccountNumber)
	need(len(p.AccountNames) > 0 || p.ExcludeTotals, cols.AccountName)
	need(len(p.TransactionTypes) > 0, cols.TransactionType)
	need(len(p.Subsidiaries) > 0, cols.Subsidiary)

	out := make([]string, 0, len(set))
	for c := range set {
		if c != "" {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// CheckSchema fails with SchemaDrift naming every required column the source
// no longer has.
func CheckSchema(columns, required []string) error {
	have := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		have[c] = struct{}{}
	}
	var missing []string
	for _, c := range required {
		if _, ok := have[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return apperrors.NewSchemaDriftError(missing)
	}
	return nil
}

func containsAny(value string, needles []string) bool {
	if len(needles) == 0 {
		return true
	}
	value = strings.ToLower(value)
	for _, n := range needles {
		if strings.Contains(value, n) {
			return true
		}
	}
	return false
}

func prefixAny(value string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(value, p) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
