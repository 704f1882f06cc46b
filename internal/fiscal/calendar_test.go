package fiscal

import (
	"encoding/json"
	"testing"
	"time"

	apperrors "ledger-query-workers/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func febCalendar(t *testing.T, opts ...Option) *Calendar {
	t.Helper()
	c, err := NewCalendar(time.February, opts...)
	require.NoError(t, err)
	return c
}

func assertRange(t *testing.T, p Period, start, end string) {
	t.Helper()
	assert.Equal(t, start, p.Start.Format(dateLayout), "start of %s", p.Name)
	assert.Equal(t, end, p.End.Format(dateLayout), "end of %s", p.Name)
}

func TestNewCalendar_RejectsBadMonth(t *testing.T) {
	_, err := NewCalendar(0)
	assert.Error(t, err)
	_, err = NewCalendar(13)
	assert.Error(t, err)
}

func TestFiscalYearOf(t *testing.T) {
	c := febCalendar(t)
	tests := []struct {
		date      time.Time
		wantYear  int
		wantLabel string
	}{
		{Date(2025, time.January, 15), 2024, "FY2025"},
		{Date(2025, time.February, 1), 2025, "FY2026"},
		{Date(2025, time.December, 31), 2025, "FY2026"},
		{Date(2026, time.January, 31), 2025, "FY2026"},
	}
	for _, tt := range tests {
		t.Run(tt.date.Format(dateLayout), func(t *testing.T) {
			assert.Equal(t, tt.wantYear, c.FiscalYearOf(tt.date))
			assert.Equal(t, tt.wantLabel, c.FiscalYearLabel(tt.date))
		})
	}
}

func TestFiscalYearLabel_StartYearConvention(t *testing.T) {
	c := febCalendar(t, WithStartYearLabels())
	assert.Equal(t, "FY2025", c.FiscalYearLabel(Date(2025, time.November, 30)))

	jan, err := NewCalendar(time.January)
	require.NoError(t, err)
	assert.Equal(t, "FY2025", jan.FiscalYearLabel(Date(2025, time.November, 30)))
}

func TestYTD_FebruaryStart(t *testing.T) {
	c := febCalendar(t)
	p, err := c.ResolveRelativePeriod("YTD", Date(2025, time.November, 30))
	require.NoError(t, err)
	assertRange(t, p, "2025-02-01", "2025-11-30")
	assert.Equal(t, 2025, p.FiscalYear)
}

func TestYTD_AsOfBeforeStartMonth(t *testing.T) {
	c := febCalendar(t)
	p, err := c.ResolveRelativePeriod("ytd", Date(2026, time.January, 10))
	require.NoError(t, err)
	assertRange(t, p, "2025-02-01", "2026-01-10")
}

func TestResolveRelativePeriod(t *testing.T) {
	c := febCalendar(t)
	asOf := time.Date(2025, time.November, 30, 18, 45, 0, 0, time.FixedZone("PST", -8*3600))

	tests := []struct {
		keyword    string
		start, end string
	}{
		{"MTD", "2025-11-01", "2025-11-30"},
		{"QTD", "2025-11-01", "2025-11-30"},
		{"TTM", "2024-12-01", "2025-11-30"},
		{"trailing 3 months", "2025-09-01", "2025-11-30"},
		{"last 6 months", "2025-06-01", "2025-11-30"},
		{"trailing 2 quarters", "2025-06-01", "2025-11-30"},
		{"current month", "2025-11-01", "2025-11-30"},
		{"last month", "2025-10-01", "2025-10-31"},
		{"this quarter", "2025-11-01", "2026-01-31"},
		{"last quarter", "2025-08-01", "2025-10-31"},
		{"current fiscal year", "2025-02-01", "2026-01-31"},
		{"last year", "2024-02-01", "2025-01-31"},
		{"Year-to-Date", "2025-02-01", "2025-11-30"},
	}
	for _, tt := range tests {
		t.Run(tt.keyword, func(t *testing.T) {
			p, err := c.ResolveRelativePeriod(tt.keyword, asOf)
			require.NoError(t, err)
			assertRange(t, p, tt.start, tt.end)
			assert.False(t, p.End.Before(p.Start))
		})
	}
}

func TestResolveRelativePeriod_LastQuarterWrapsYear(t *testing.T) {
	c := febCalendar(t)
	p, err := c.ResolveRelativePeriod("last quarter", Date(2025, time.March, 3))
	require.NoError(t, err)
	assertRange(t, p, "2024-11-01", "2025-01-31")
	assert.Equal(t, 4, p.Quarter)
}

func TestResolveNamedPeriod(t *testing.T) {
	c := febCalendar(t)
	asOf := Date(2025, time.November, 30)

	tests := []struct {
		name       string
		start, end string
		label      string
	}{
		{"Q1", "2025-02-01", "2025-04-30", "FY2026 Q1"},
		{"q4", "2025-11-01", "2026-01-31", "FY2026 Q4"},
		{"Q3 FY26", "2025-08-01", "2025-10-31", "FY2026 Q3"},
		{"Q1 in FY 2025", "2024-02-01", "2024-04-30", "FY2025 Q1"},
		{"Q2 2026", "2025-05-01", "2025-07-31", "FY2026 Q2"},
		{"FY2025", "2024-02-01", "2025-01-31", "FY2025"},
		{"FY25", "2024-02-01", "2025-01-31", "FY2025"},
		{"2026 fiscal year", "2025-02-01", "2026-01-31", "FY2026"},
		{"Jan 2025", "2025-01-01", "2025-01-31", "Jan 2025"},
		{"February 2024", "2024-02-01", "2024-02-29", "Feb 2024"},
		{"Sept 2025", "2025-09-01", "2025-09-30", "Sep 2025"},
		{"Feb through Dec 2025", "2025-02-01", "2025-12-31", "Feb 2025 - Dec 2025"},
		{"Mar-Nov 2025", "2025-03-01", "2025-11-30", "Mar 2025 - Nov 2025"},
		{"Nov 2024 to Jan 2025", "2024-11-01", "2025-01-31", "Nov 2024 - Jan 2025"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := c.ResolveNamedPeriod(tt.name, asOf)
			require.NoError(t, err)
			assertRange(t, p, tt.start, tt.end)
			assert.Equal(t, tt.label, p.Name)
		})
	}
}

func TestMalformedPeriods(t *testing.T) {
	c := febCalendar(t)
	asOf := Date(2025, time.November, 30)

	tests := []string{
		"Q5",
		"Q0 FY26",
		"FY123",
		"Dec through Feb 2025",
		"Jan 1850",
		"trailing 0 months",
		"trailing 500 months",
		"trailing 40 quarters",
		"next fortnight",
	}
	for _, phrase := range tests {
		t.Run(phrase, func(t *testing.T) {
			_, err := c.Resolve(phrase, asOf)
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMalformedPeriod), "got %v", err)
		})
	}
}

func TestResolve_FallsThroughToRelative(t *testing.T) {
	c := febCalendar(t)
	p, err := c.Resolve("YTD", Date(2025, time.November, 30))
	require.NoError(t, err)
	assertRange(t, p, "2025-02-01", "2025-11-30")
}

func TestSamePeriodPriorYear(t *testing.T) {
	c := febCalendar(t)

	feb := c.MonthRange(2024, time.February)
	prior := c.SamePeriodPriorYear(feb)
	assertRange(t, prior, "2023-02-01", "2023-02-28")

	fy := c.FiscalYearRange(2025)
	priorFY := c.SamePeriodPriorYear(fy)
	assertRange(t, priorFY, "2024-02-01", "2025-01-31")
	assert.Equal(t, "FY2025", priorFY.FiscalYearLabel)

	prevMonth := c.Shift(c.MonthRange(2025, time.March), -1, "Prior Month")
	assertRange(t, prevMonth, "2025-02-01", "2025-02-28")
	assert.Equal(t, "Mar 2025 (Prior Month)", prevMonth.Name)
}

func TestMonthPeriodIDs(t *testing.T) {
	c := febCalendar(t)

	q, err := c.QuarterRange(2025, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"Nov 2025", "Dec 2025", "Jan 2026"}, q.MonthPeriodIDs())
	assert.Len(t, c.FiscalYearRange(2025).MonthPeriodIDs(), 12)

	ytd, err := c.ResolveRelativePeriod("YTD", Date(2025, time.November, 15))
	require.NoError(t, err)
	assert.Nil(t, ytd.MonthPeriodIDs())
}

func TestPeriod_ContainsAndJSON(t *testing.T) {
	c := febCalendar(t)
	p := c.FiscalYearRange(2025)

	assert.True(t, p.Contains(Date(2025, time.February, 1)))
	assert.True(t, p.Contains(time.Date(2026, time.January, 31, 23, 59, 0, 0, time.UTC)))
	assert.False(t, p.Contains(Date(2026, time.February, 1)))
	assert.Equal(t, 365, p.Days())

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"periodName":"FY2026","startDate":"2025-02-01","endDate":"2026-01-31","fiscalYear":2025,"fiscalYearLabel":"FY2026"}`, string(raw))

	var back Period
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, back.Start.Equal(p.Start))
	assert.True(t, back.End.Equal(p.End))

	assert.Error(t, json.Unmarshal([]byte(`{"startDate":"2025-03-01","endDate":"2025-02-01"}`), &back))
}
