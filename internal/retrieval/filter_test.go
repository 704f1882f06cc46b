package retrieval

import (
	"math/rand"
	"sort"
	"testing"
	"time"

	apperrors "ledger-query-workers/internal/common/errors"
	"ledger-query-workers/internal/fiscal"
	"ledger-query-workers/internal/ledger"
	"ledger-query-workers/internal/ledger/ledgertest"
	"ledger-query-workers/internal/parser"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cols = ledgertest.Columns

// sdrTotalFY is the fixture total for SDR, accounts 53xxx, Feb-Nov 2025.
var sdrTotalFY = decimal.RequireFromString("605137.50")

func febCalendar(t *testing.T) *fiscal.Calendar {
	t.Helper()
	cal, err := fiscal.NewCalendar(time.February)
	require.NoError(t, err)
	return cal
}

// sdrQuery is {department=SDR, account_prefix=53, period=current FY}.
func sdrQuery(t *testing.T) *parser.ParsedQuery {
	t.Helper()
	fy, err := febCalendar(t).ResolveRelativePeriod("this fiscal year", fiscal.Date(2025, time.November, 30))
	require.NoError(t, err)
	return &parser.ParsedQuery{
		OriginalText:    "total S&M expense for SDR for the current fiscal year",
		Intent:          parser.IntentTotal,
		Period:          &fy,
		Departments:     []string{"SDR"},
		AccountPrefixes: []string{"53"},
	}
}

func keys(rows []ledger.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.String(cols.RowKey)
	}
	sort.Strings(out)
	return out
}

func mustTotal(t *testing.T, rows []ledger.Row) decimal.Decimal {
	t.Helper()
	total, err := Total(rows, cols.Amount)
	require.NoError(t, err)
	return total
}

// ==========================
// BuildFilterParams
// ==========================

func TestBuildFilterParams_MonthAlignedPeriod(t *testing.T) {
	p := BuildFilterParams(sdrQuery(t))

	require.Len(t, p.PeriodIDs, 12)
	assert.Equal(t, "Feb 2025", p.PeriodIDs[0])
	assert.Equal(t, "Jan 2026", p.PeriodIDs[11])
	assert.Equal(t, "2025-02-01", p.StartDate)
	assert.Equal(t, "2026-01-31", p.EndDate)
	assert.Equal(t, []string{"SDR"}, p.Departments)
	assert.Equal(t, []string{"53"}, p.AccountPrefixes)
	assert.True(t, p.ExcludeTotals)
}

func TestBuildFilterParams_PartialMonthUsesDates(t *testing.T) {
	ytd, err := febCalendar(t).ResolveRelativePeriod("ytd", fiscal.Date(2025, time.November, 20))
	require.NoError(t, err)

	p := BuildFilterParams(&parser.ParsedQuery{Period: &ytd})
	assert.Empty(t, p.PeriodIDs)
	assert.Equal(t, "2025-02-01", p.StartDate)
	assert.Equal(t, "2025-11-20", p.EndDate)
}

func TestBuildFilterParams_ConsolidatedIgnoresSubsidiaries(t *testing.T) {
	p := BuildFilterParams(&parser.ParsedQuery{Subsidiaries: []string{"UK"}, Consolidated: true})
	assert.Empty(t, p.Subsidiaries)
	assert.False(t, p.HasEntityFilter())
}

// ==========================
// Filter
// ==========================

func TestFilter_SDRCurrentFiscalYear(t *testing.T) {
	rows := Filter(ledgertest.Rows(), BuildFilterParams(sdrQuery(t)), cols)

	assert.Len(t, rows, 20)
	total := mustTotal(t, rows)
	assert.True(t, sdrTotalFY.Equal(total), "total %s", total)
	for _, r := range rows {
		assert.Contains(t, r.String(cols.Department), "SDR")
		assert.Equal(t, "53", r.String(cols.AccountNumber)[:2])
	}
}

func TestFilter_OrderIndependent(t *testing.T) {
	params := BuildFilterParams(sdrQuery(t))
	rows := ledgertest.Rows()
	want := Filter(rows, params, cols)

	shuffled := append([]ledger.Row(nil), rows...)
	rand.New(rand.NewSource(7)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	got := Filter(shuffled, params, cols)

	assert.Equal(t, keys(want), keys(got))
	assert.True(t, mustTotal(t, want).Equal(mustTotal(t, got)))
}

func TestFilter_Idempotent(t *testing.T) {
	params := BuildFilterParams(sdrQuery(t))
	rows := ledgertest.Rows()

	once := Filter(rows, params, cols)
	twice := Filter(once, params, cols)
	assert.Equal(t, keys(once), keys(twice))
	assert.Len(t, rows, len(ledgertest.Rows()))
}

func TestFilter_DateRangeMatchesPeriodIDs(t *testing.T) {
	byID := BuildFilterParams(sdrQuery(t))
	byDate := byID
	byDate.PeriodIDs = nil

	rows := ledgertest.Rows()
	assert.Equal(t, keys(Filter(rows, byID, cols)), keys(Filter(rows, byDate, cols)))
}

func TestFilter_RowWithoutPeriodFallsBackToDate(t *testing.T) {
	params := BuildFilterParams(sdrQuery(t))
	row := ledger.Row{
		"line_id":         "X1",
		"department_name": "Sales & Marketing (Parent) : SDR",
		"account_number":  "53100",
		"account_name":    "Sales & Marketing : Advertising",
		"trandate":        "2025-06-03",
		"amount":          "10.00",
	}
	assert.Len(t, Filter([]ledger.Row{row}, params, cols), 1)

	row["trandate"] = "2024-06-03"
	assert.Empty(t, Filter([]ledger.Row{row}, params, cols))
}

func TestFilter_Predicates(t *testing.T) {
	rows := ledgertest.Rows()
	months := len(rows) / ledgertest.LinesPerMonth()

	tests := []struct {
		name   string
		params FilterParams
		want   int
	}{
		{"department contains parent path", FilterParams{Departments: []string{"sales & marketing"}}, 5 * months},
		{"department union", FilterParams{Departments: []string{"SDR", "Finance"}}, 4 * months},
		{"account prefix union", FilterParams{AccountPrefixes: []string{"51", "52"}}, 3 * months},
		{"account name contains", FilterParams{AccountNames: []string{"salaries"}}, 3 * months},
		{"transaction type", FilterParams{TransactionTypes: []string{"custinvc"}}, months},
		{"subsidiary contains", FilterParams{Subsidiaries: []string{"UK"}}, 2 * months},
		{"totals excluded", FilterParams{AccountPrefixes: []string{"59"}, ExcludeTotals: true}, 2 * months},
		{"totals kept", FilterParams{AccountPrefixes: []string{"59"}}, 3 * months},
		{"conjunction", FilterParams{Departments: []string{"SDR"}, TransactionTypes: []string{"Journal"}}, months},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, Filter(rows, tt.params, cols), tt.want)
		})
	}
}

func TestTotal_Exact(t *testing.T) {
	rows := []ledger.Row{
		{"amount": "0.10"},
		{"amount": "0.20"},
		{"amount": "-0.30"},
		{"amount": nil},
	}
	assert.True(t, decimal.Zero.Equal(mustTotal(t, rows)))

	_, err := Total([]ledger.Row{{"amount": "ten"}}, "amount")
	assert.Error(t, err)
}

// ==========================
// Schema
// ==========================

func TestCheckSchema_NamesEveryMissingColumn(t *testing.T) {
	required := RequiredColumns(BuildFilterParams(sdrQuery(t)), cols)
	assert.Equal(t, []string{
		"account_name", "account_number", "amount", "department_name", "line_id", "period_name", "trandate",
	}, required)

	err := CheckSchema([]string{"line_id", "amount", "account_number", "account_name"}, required)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeSchemaDrift))
	se, ok := apperrors.AsStandard(err)
	require.True(t, ok)
	assert.Equal(t, []string{"department_name", "period_name", "trandate"}, se.Metadata["missingColumns"])

	assert.NoError(t, CheckSchema(ledgertest.ColumnNames, required))
}

func TestQueryValues_RoundTripsThroughServiceContract(t *testing.T) {
	p := BuildFilterParams(sdrQuery(t))
	back := ParseQueryValues(p.QueryValues())

	assert.Equal(t, p.PeriodIDs, back.PeriodIDs)
	assert.Equal(t, p.Departments, back.Departments)
	assert.Equal(t, p.AccountPrefixes, back.AccountPrefixes)
	assert.True(t, back.ExcludeTotals)
	assert.Empty(t, back.StartDate)
}
