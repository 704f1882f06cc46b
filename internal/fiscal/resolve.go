package fiscal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	apperrors "ledger-query-workers/internal/common/errors"
)

// Bounds on relative windows and explicit years.
const (
	MaxTrailingMonths   = 60
	MaxTrailingQuarters = MaxTrailingMonths / 3
	minYear             = 1900
	maxYear             = 2199
)

// MonthPattern matches an English month name or abbreviation.
const MonthPattern = `jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?`

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

// ParseMonth maps "Sept", "january" and similar to a month.
func ParseMonth(s string) (time.Month, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 3 {
		return 0, false
	}
	m, ok := months[s[:3]]
	return m, ok
}

var (
	reQuarter        = regexp.MustCompile(`^q(\d+)$`)
	reQuarterFY      = regexp.MustCompile(`^q(\d+)\s*(?:of\s+|in\s+)?fy\s*'?(\d+)$`)
	reQuarterYear    = regexp.MustCompile(`^q(\d+)\s+(\d{4})$`)
	reFY             = regexp.MustCompile(`^fy\s*'?(\d+)$`)
	reFiscalYear     = regexp.MustCompile(`^(?:(\d{4})\s+fiscal\s+year|fiscal\s+year\s+(\d{4}))$`)
	reMonthYear      = regexp.MustCompile(`^(` + MonthPattern + `)\.?\s*,?\s*(\d{4})$`)
	reMonthRange     = regexp.MustCompile(`^(` + MonthPattern + `)\s*(?:through|thru|to|until|-|–)\s*(` + MonthPattern + `)\s*,?\s*(\d{4})$`)
	reMonthRangeFull = regexp.MustCompile(`^(` + MonthPattern + `)\s+(\d{4})\s*(?:through|thru|to|until|-|–)\s*(` + MonthPattern + `)\s+(\d{4})$`)
	reTrailingMonths = regexp.MustCompile(`^(?:trailing|last|past|rolling)\s+(\d+)\s+months?$`)
	reTrailingQtrs   = regexp.MustCompile(`^(?:trailing|last|past|rolling)\s+(\d+)\s+quarters?$`)
)

// ResolveNamedPeriod resolves an absolute period name: "Q1" (fiscal quarter
// of the fiscal year containing asOf), "Q3 FY26", "Q1 2026", "FY2025",
// "2025 fiscal year", "Jan 2025" and month ranges such as
// "Feb through Dec 2025".
func (c *Calendar) ResolveNamedPeriod(name string, asOf time.Time) (Period, error) {
	s := normalizePhrase(name)
	asOf = Truncate(asOf)

	if m := reQuarter.FindStringSubmatch(s); m != nil {
		q, _ := strconv.Atoi(m[1])
		return c.QuarterRange(c.FiscalYearOf(asOf), q)
	}
	if m := reQuarterFY.FindStringSubmatch(s); m != nil {
		q, _ := strconv.Atoi(m[1])
		y, err := c.parseFYNumber(m[2], name)
		if err != nil {
			return Period{}, err
		}
		return c.QuarterRange(y, q)
	}
	if m := reQuarterYear.FindStringSubmatch(s); m != nil {
		q, _ := strconv.Atoi(m[1])
		y, err := c.parseFYNumber(m[2], name)
		if err != nil {
			return Period{}, err
		}
		return c.QuarterRange(y, q)
	}
	if m := reFY.FindStringSubmatch(s); m != nil {
		y, err := c.parseFYNumber(m[1], name)
		if err != nil {
			return Period{}, err
		}
		return c.FiscalYearRange(y), nil
	}
	if m := reFiscalYear.FindStringSubmatch(s); m != nil {
		digits := m[1]
		if digits == "" {
			digits = m[2]
		}
		y, err := c.parseFYNumber(digits, name)
		if err != nil {
			return Period{}, err
		}
		return c.FiscalYearRange(y), nil
	}
	if m := reMonthYear.FindStringSubmatch(s); m != nil {
		month, _ := ParseMonth(m[1])
		year, err := parseYear(m[2], name)
		if err != nil {
			return Period{}, err
		}
		return c.MonthRange(year, month), nil
	}
	if m := reMonthRange.FindStringSubmatch(s); m != nil {
		from, _ := ParseMonth(m[1])
		to, _ := ParseMonth(m[2])
		year, err := parseYear(m[3], name)
		if err != nil {
			return Period{}, err
		}
		return c.monthSpan(name, year, from, year, to)
	}
	if m := reMonthRangeFull.FindStringSubmatch(s); m != nil {
		from, _ := ParseMonth(m[1])
		to, _ := ParseMonth(m[3])
		fromYear, err := parseYear(m[2], name)
		if err != nil {
			return Period{}, err
		}
		toYear, err := parseYear(m[4], name)
		if err != nil {
			return Period{}, err
		}
		return c.monthSpan(name, fromYear, from, toYear, to)
	}

	return Period{}, malformed(name, reasonUnrecognised)
}

// ResolveRelativePeriod resolves a period relative to asOf. YTD, QTD and
// MTD end on asOf; "this/last month|quarter|year" are whole periods.
func (c *Calendar) ResolveRelativePeriod(keyword string, asOf time.Time) (Period, error) {
	s := normalizePhrase(keyword)
	asOf = Truncate(asOf)
	fy := c.FiscalYearOf(asOf)

	switch s {
	case "ytd", "fytd", "year to date", "fiscal year to date", "fiscal ytd":
		return c.newPeriod(c.Label(fy)+" YTD", c.FiscalYearStart(asOf), asOf), nil

	case "mtd", "month to date":
		start := Date(asOf.Year(), asOf.Month(), 1)
		return c.newPeriod(start.Format("Jan 2006")+" MTD", start, asOf), nil

	case "qtd", "quarter to date":
		q, _ := c.QuarterRange(fy, c.QuarterOf(asOf))
		p := c.newPeriod(q.Name+" QTD", q.Start, asOf)
		p.Quarter = q.Quarter
		return p, nil

	case "ttm", "ltm", "t12m", "trailing twelve months", "last twelve months":
		return c.TrailingMonths(12, asOf)

	case "this month", "current month":
		return c.MonthRange(asOf.Year(), asOf.Month()), nil

	case "last month", "prior month", "previous month":
		prev := Date(asOf.Year(), asOf.Month(), 1).AddDate(0, -1, 0)
		return c.MonthRange(prev.Year(), prev.Month()), nil

	case "this quarter", "current quarter", "this fiscal quarter", "current fiscal quarter":
		return c.QuarterRange(fy, c.QuarterOf(asOf))

	case "last quarter", "prior quarter", "previous quarter":
		q := c.QuarterOf(asOf) - 1
		y := fy
		if q == 0 {
			q, y = 4, fy-1
		}
		return c.QuarterRange(y, q)

	case "this year", "current year", "this fiscal year", "current fiscal year", "this fy", "current fy":
		return c.FiscalYearRange(fy), nil

	case "last year", "prior year", "previous year", "last fiscal year", "prior fiscal year",
		"previous fiscal year", "last fy", "prior fy":
		return c.FiscalYearRange(fy - 1), nil
	}

	if m := reTrailingMonths.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return Period{}, malformed(keyword, "month count is not a number")
		}
		return c.TrailingMonths(n, asOf)
	}
	if m := reTrailingQtrs.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > MaxTrailingQuarters {
			return Period{}, malformed(keyword, fmt.Sprintf("quarter count must be between 1 and %d", MaxTrailingQuarters))
		}
		p, err := c.TrailingMonths(n*3, asOf)
		if err != nil {
			return Period{}, err
		}
		p.Name = fmt.Sprintf("Trailing %d Quarters", n)
		return p, nil
	}

	return Period{}, malformed(keyword, "not a recognised relative period")
}

// Resolve tries the absolute grammar, then the relative one.
func (c *Calendar) Resolve(phrase string, asOf time.Time) (Period, error) {
	if p, err := c.ResolveNamedPeriod(phrase, asOf); err == nil {
		return p, nil
	} else if !isUnrecognised(err) {
		return Period{}, err
	}
	return c.ResolveRelativePeriod(phrase, asOf)
}

func (c *Calendar) monthSpan(name string, fromYear int, from time.Month, toYear int, to time.Month) (Period, error) {
	start := Date(fromYear, from, 1)
	end := monthEnd(toYear, to)
	if end.Before(start) {
		return Period{}, malformed(name, "range ends before it starts")
	}
	label := fmt.Sprintf("%s - %s", start.Format("Jan 2006"), end.Format("Jan 2006"))
	return c.newPeriod(label, start, end), nil
}

// parseFYNumber turns the digits of "FY26"/"FY2026" into a start year.
func (c *Calendar) parseFYNumber(digits, phrase string) (int, error) {
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, malformed(phrase, "fiscal year is not a number")
	}
	switch len(digits) {
	case 2:
		n += 2000
	case 4:
	default:
		return 0, malformed(phrase, "fiscal year must have 2 or 4 digits")
	}
	if n < minYear || n > maxYear {
		return 0, malformed(phrase, "fiscal year out of range")
	}
	return c.YearFromLabel(n), nil
}

func parseYear(digits, phrase string) (int, error) {
	y, err := strconv.Atoi(digits)
	if err != nil || y < minYear || y > maxYear {
		return 0, malformed(phrase, "year out of range")
	}
	return y, nil
}

func normalizePhrase(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", " - ")
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, "year - to - date", "year to date")
	s = strings.ReplaceAll(s, "month - to - date", "month to date")
	s = strings.ReplaceAll(s, "quarter - to - date", "quarter to date")
	return s
}

const reasonUnrecognised = "not a recognised period name"

func malformed(phrase, reason string) error {
	return apperrors.NewMalformedPeriodError(phrase, reason)
}

func isUnrecognised(err error) bool {
	stdErr, ok := apperrors.AsStandard(err)
	return ok && strings.HasSuffix(stdErr.Details, reasonUnrecognised)
}
