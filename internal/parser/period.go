package parser

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"ledger-query-workers/internal/fiscal"
)

type span struct{ start, end int }

type spans []span

func (s spans) overlaps(start, end int) bool {
	for _, c := range s {
		if start < c.end && c.start < end {
			return true
		}
	}
	return false
}

const month = `(?:` + fiscal.MonthPattern + `)`

// periodPatterns locate period phrases in free text, most specific first.
// The matched text is handed to the fiscal calendar as is, so anything that
// matches here but does not resolve (Q5, FY123, a reversed range) is a
// malformed period rather than no period.
var periodPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b` + month + `\s+\d{4}\s*(?:through|thru|to|until|-|–)\s*` + month + `\s+\d{4}\b`),
	regexp.MustCompile(`(?i)\b` + month + `\s*(?:through|thru|to|until|-|–)\s*` + month + `\s*,?\s*\d{4}\b`),
	regexp.MustCompile(`(?i)\bq\d+\s*(?:of\s+|in\s+)?fy\s*'?\d+\b`),
	regexp.MustCompile(`(?i)\bq\d+\s+\d{4}\b`),
	regexp.MustCompile(`(?i)\bfy\s*'?\d+\b`),
	regexp.MustCompile(`(?i)\b(?:\d{4}\s+fiscal\s+year|fiscal\s+year\s+\d{4})\b`),
	regexp.MustCompile(`(?i)\b` + month + `\.?\s*,?\s*\d{4}\b`),
	regexp.MustCompile(`(?i)\b(?:trailing|last|past|rolling)\s+\d+\s+(?:months?|quarters?)\b`),
	relativePattern(),
	regexp.MustCompile(`(?i)\bq\d+\b`),
}

var relativeKeywords = []string{
	"fiscal year to date", "fiscal ytd", "year to date", "fytd", "ytd",
	"month to date", "mtd", "quarter to date", "qtd",
	"trailing twelve months", "last twelve months", "ttm", "ltm", "t12m",
	"this fiscal quarter", "current fiscal quarter",
	"this fiscal year", "current fiscal year",
	"last fiscal year", "prior fiscal year", "previous fiscal year",
	"this month", "current month", "last month", "prior month", "previous month",
	"this quarter", "current quarter", "last quarter", "prior quarter", "previous quarter",
	"this year", "current year", "last year", "prior year", "previous year",
	"this fy", "current fy", "last fy", "prior fy",
}

func relativePattern() *regexp.Regexp {
	kws := append([]string(nil), relativeKeywords...)
	sort.Slice(kws, func(i, j int) bool { return len(kws[i]) > len(kws[j]) })
	alts := make([]string, len(kws))
	for i, kw := range kws {
		alts[i] = strings.Join(strings.Fields(kw), `[\s-]+`)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)
}

// extractPeriod resolves the first period phrase not inside a claimed span.
func (p *Parser) extractPeriod(text string, asOf time.Time, claimed spans) (*fiscal.Period, *span, error) {
	for _, re := range periodPatterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			if claimed.overlaps(loc[0], loc[1]) {
				continue
			}
			period, err := p.calendar.Resolve(text[loc[0]:loc[1]], asOf)
			if err != nil {
				return nil, nil, err
			}
			return &period, &span{loc[0], loc[1]}, nil
		}
	}
	return nil, nil, nil
}

var comparisonPatterns = []struct {
	typ ComparisonType
	re  *regexp.Regexp
}{
	{CompareMonthOverMonth, regexp.MustCompile(`(?i)\b(?:mom|m/m|month[\s-]+over[\s-]+month|(?:vs\.?|versus|compared?\s+(?:to|with))\s+(?:the\s+)?(?:last|prior|previous)\s+month)\b`)},
	{CompareQuarterOverQuarter, regexp.MustCompile(`(?i)\b(?:qoq|q/q|quarter[\s-]+over[\s-]+quarter|(?:vs\.?|versus|compared?\s+(?:to|with))\s+(?:the\s+)?(?:last|prior|previous)\s+quarter)\b`)},
	{CompareYearOverYear, regexp.MustCompile(`(?i)\b(?:yoy|y/y|year[\s-]+over[\s-]+year|(?:vs\.?|versus|compared?\s+(?:to|with))\s+(?:the\s+)?(?:(?:last|prior|previous)|same\s+period\s+last)\s+year)\b`)},
	{CompareBudgetVsActual, regexp.MustCompile(`(?i)\b(?:budget\s+(?:vs\.?|versus)\s+actuals?|actuals?\s+(?:vs\.?|versus)\s+budget|variance\s+to\s+budget|against\s+(?:the\s+)?budget)\b`)},
	{ComparePriorPeriod, regexp.MustCompile(`(?i)\b(?:vs\.?|versus|compared?\s+(?:to|with))\s+(?:the\s+)?prior(?:\s+period)?\b`)},
}

// extractComparison finds a comparison phrase. Its span is claimed before
// period extraction so "vs last year" is not read as the primary period.
func extractComparison(text string) (ComparisonType, *span) {
	for _, cp := range comparisonPatterns {
		if loc := cp.re.FindStringIndex(text); loc != nil {
			return cp.typ, &span{loc[0], loc[1]}
		}
	}
	return "", nil
}

// comparisonPeriod derives the period being compared against. Without a
// primary period the current month, quarter or fiscal year is the base.
func (p *Parser) comparisonPeriod(typ ComparisonType, base *fiscal.Period, asOf time.Time) *fiscal.Period {
	cal := p.calendar
	current := func(keyword string) fiscal.Period {
		per, _ := cal.ResolveRelativePeriod(keyword, asOf)
		return per
	}
	var out fiscal.Period
	switch typ {
	case CompareMonthOverMonth:
		b := current("this month")
		if base != nil {
			b = *base
		}
		out = cal.Shift(b, -1, "Prior Month")
	case CompareQuarterOverQuarter:
		b := current("this quarter")
		if base != nil {
			b = *base
		}
		out = cal.Shift(b, -3, "Prior Quarter")
	case CompareYearOverYear, ComparePriorPeriod:
		b := current("this fiscal year")
		if base != nil {
			b = *base
		}
		out = cal.SamePeriodPriorYear(b)
	default:
		return nil
	}
	return &out
}
