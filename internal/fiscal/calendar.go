// Package fiscal resolves period phrases against a fiscal calendar whose year
// begins on the first day of a configurable month.
//
// All dates are civil dates carried as time.Time at UTC midnight. A fiscal
// year Y covers [Date(Y, start, 1), Date(Y+1, start, 1)); Y is the calendar
// year in which the fiscal year starts. Labels default to the calendar year
// in which the fiscal year ends (FY2026 = Feb 2025..Jan 2026 for a February
// start), which is how finance teams usually name them.
package fiscal

import (
	"fmt"
	"time"
)

// Calendar is immutable and safe for concurrent use.
type Calendar struct {
	startMonth       time.Month
	labelByStartYear bool
}

// Option configures a Calendar.
type Option func(*Calendar)

// WithStartYearLabels names fiscal years by the year they start in.
func WithStartYearLabels() Option {
	return func(c *Calendar) { c.labelByStartYear = true }
}

// NewCalendar returns a calendar whose fiscal year starts in startMonth.
func NewCalendar(startMonth time.Month, opts ...Option) (*Calendar, error) {
	if startMonth < time.January || startMonth > time.December {
		return nil, fmt.Errorf("fiscal start month out of range: %d", startMonth)
	}
	c := &Calendar{startMonth: startMonth}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// StartMonth returns the configured first month of the fiscal year.
func (c *Calendar) StartMonth() time.Month { return c.startMonth }

// Date builds a civil date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Truncate drops the clock part of t, keeping its calendar day.
func Truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return Date(y, m, d)
}

func daysIn(year int, month time.Month) int {
	return Date(year, month+1, 0).Day()
}

func monthEnd(year int, month time.Month) time.Time {
	return Date(year, month+1, 0)
}

func isMonthEnd(d time.Time) bool {
	return d.Day() == daysIn(d.Year(), d.Month())
}

// FiscalYearOf returns the start year Y of the fiscal year containing d.
func (c *Calendar) FiscalYearOf(d time.Time) int {
	if d.Month() >= c.startMonth {
		return d.Year()
	}
	return d.Year() - 1
}

// FiscalYearStart returns the first day of the fiscal year containing d.
func (c *Calendar) FiscalYearStart(d time.Time) time.Time {
	return Date(c.FiscalYearOf(d), c.startMonth, 1)
}

// Label renders fiscal year y as "FY2026".
func (c *Calendar) Label(y int) string {
	if c.labelByStartYear || c.startMonth == time.January {
		return fmt.Sprintf("FY%d", y)
	}
	return fmt.Sprintf("FY%d", y+1)
}

// FiscalYearLabel labels the fiscal year containing d.
func (c *Calendar) FiscalYearLabel(d time.Time) string {
	return c.Label(c.FiscalYearOf(Truncate(d)))
}

// YearFromLabel maps the number in a "FY<n>" label back to the start year.
func (c *Calendar) YearFromLabel(n int) int {
	if c.labelByStartYear || c.startMonth == time.January {
		return n
	}
	return n - 1
}

// FiscalMonth returns the 1-based position of d's month in its fiscal year.
func (c *Calendar) FiscalMonth(d time.Time) int {
	return (int(d.Month())-int(c.startMonth)+12)%12 + 1
}

// QuarterOf returns the fiscal quarter (1..4) containing d.
func (c *Calendar) QuarterOf(d time.Time) int {
	return (c.FiscalMonth(d)-1)/3 + 1
}

// FiscalYearRange returns the whole fiscal year y.
func (c *Calendar) FiscalYearRange(y int) Period {
	start := Date(y, c.startMonth, 1)
	return c.newPeriod(c.Label(y), start, start.AddDate(1, 0, -1))
}

// QuarterRange returns fiscal quarter q of fiscal year y.
func (c *Calendar) QuarterRange(y, q int) (Period, error) {
	if q < 1 || q > 4 {
		return Period{}, malformed(fmt.Sprintf("Q%d", q), "quarter must be 1-4")
	}
	start := Date(y, c.startMonth, 1).AddDate(0, 3*(q-1), 0)
	p := c.newPeriod(fmt.Sprintf("%s Q%d", c.Label(y), q), start, start.AddDate(0, 3, -1))
	p.Quarter = q
	return p, nil
}

// MonthRange returns a calendar month.
func (c *Calendar) MonthRange(year int, month time.Month) Period {
	start := Date(year, month, 1)
	return c.newPeriod(start.Format("Jan 2006"), start, monthEnd(year, month))
}

// TrailingMonths covers the n calendar months ending with asOf's month,
// clipped at asOf.
func (c *Calendar) TrailingMonths(n int, asOf time.Time) (Period, error) {
	if n < 1 || n > MaxTrailingMonths {
		return Period{}, malformed(fmt.Sprintf("trailing %d months", n),
			fmt.Sprintf("must be between 1 and %d", MaxTrailingMonths))
	}
	asOf = Truncate(asOf)
	start := Date(asOf.Year(), asOf.Month(), 1).AddDate(0, -(n - 1), 0)

	name := fmt.Sprintf("Trailing %d Months", n)
	if n == 12 {
		name = "Trailing 12 Months (TTM)"
	}
	return c.newPeriod(name, start, asOf), nil
}

// Shift moves p by months, keeping month-end alignment: a period that ends
// on the last day of a month still does after the shift.
func (c *Calendar) Shift(p Period, months int, suffix string) Period {
	start := shiftDate(p.Start, months)
	end := shiftDate(p.End, months)
	if isMonthEnd(p.End) {
		end = monthEnd(end.Year(), end.Month())
	}
	name := p.Name
	if suffix != "" {
		name = fmt.Sprintf("%s (%s)", p.Name, suffix)
	}
	out := c.newPeriod(name, start, end)
	out.Quarter = p.Quarter
	return out
}

// SamePeriodPriorYear is Shift by twelve months.
func (c *Calendar) SamePeriodPriorYear(p Period) Period {
	return c.Shift(p, -12, "Prior Year")
}

func shiftDate(d time.Time, months int) time.Time {
	first := Date(d.Year(), d.Month(), 1).AddDate(0, months, 0)
	day := d.Day()
	if max := daysIn(first.Year(), first.Month()); day > max {
		day = max
	}
	return Date(first.Year(), first.Month(), day)
}

func (c *Calendar) newPeriod(name string, start, end time.Time) Period {
	return Period{
		Name:            name,
		Start:           start,
		End:             end,
		FiscalYear:      c.FiscalYearOf(start),
		FiscalYearLabel: c.Label(c.FiscalYearOf(start)),
	}
}
