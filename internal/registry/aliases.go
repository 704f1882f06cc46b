package registry

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"ledger-query-workers/internal/common/textnorm"
)

var (
	parentMarker = regexp.MustCompile(`(?i)\s*\(parent\)\s*`)
	segmentSeps  = []string{" : ", " - ", " / ", " – "}
)

// abbreviations pairs normalized long forms with the short forms finance
// teams use for them. Matching works in both directions.
var abbreviations = []struct {
	full    string
	abbrevs []string
}{
	{"general & administrative", []string{"g&a", "ga", "admin"}},
	{"research & development", []string{"r&d", "rd", "research"}},
	{"sales & marketing", []string{"s&m", "sm", "sales marketing"}},
	{"cost of goods sold", []string{"cogs", "cos"}},
	{"cost of sales", []string{"cos", "cogs"}},
	{"north america", []string{"na"}},
	{"information technology", []string{"it"}},
	{"human resources", []string{"hr"}},
	{"customer success", []string{"cs"}},
	{"sales development", []string{"sdr"}},
	{"product development", []string{"pd", "product dev"}},
	{"accounts payable", []string{"ap"}},
	{"accounts receivable", []string{"ar"}},
}

var transactionTypeNames = map[string][]string{
	"Journal":  {"journal", "journal entry", "journal entries", "je", "manual entry"},
	"VendBill": {"vendor bill", "vendor bills", "bill", "bills"},
	"VendCred": {"vendor credit", "vendor credits"},
	"VendPymt": {"vendor payment", "bill payment"},
	"CustInvc": {"invoice", "invoices", "customer invoice"},
	"CustCred": {"credit memo", "customer credit"},
	"CustPymt": {"customer payment"},
	"ExpRept":  {"expense report", "expense reports"},
	"Check":    {"check", "cheque"},
	"Deposit":  {"deposit", "bank deposit"},
}

// regionHints add region vocabulary to subsidiaries whose normalized name
// contains one of the words.
var regionHints = []struct {
	contains []string
	aliases  []string
}{
	{[]string{"north america", "na"}, []string{"na", "north america", "us", "usa"}},
	{[]string{"united states", "us", "usa"}, []string{"us", "usa", "united states", "america"}},
	{[]string{"emea", "europe"}, []string{"emea", "europe", "eu"}},
	{[]string{"apac", "asia"}, []string{"apac", "asia", "asia pacific"}},
	{[]string{"united kingdom", "uk"}, []string{"uk", "united kingdom", "gb"}},
	{[]string{"germany"}, []string{"germany", "de"}},
	{[]string{"netherlands"}, []string{"netherlands", "nl"}},
	{[]string{"japan"}, []string{"japan", "jp"}},
	{[]string{"india"}, []string{"india"}},
}

type aliasSet map[string]struct{}

func (a aliasSet) add(values ...string) {
	for _, v := range values {
		if f := textnorm.Fold(v); f != "" {
			a[f] = struct{}{}
		}
	}
}

func (a aliasSet) sorted() []string {
	out := make([]string, 0, len(a))
	for v := range a {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// stripParent removes "(Parent)" markers.
func stripParent(s string) string {
	return strings.TrimSpace(parentMarker.ReplaceAllString(s, " "))
}

// segments splits a hierarchical value on the first separator it contains.
func segments(value string) []string {
	for _, sep := range segmentSeps {
		if strings.Contains(value, sep) {
			var out []string
			for _, p := range strings.Split(value, sep) {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			return out
		}
	}
	return []string{strings.TrimSpace(value)}
}

// parentOf is the top segment of a hierarchical value, without markers.
func parentOf(value string) string {
	segs := segments(value)
	if len(segs) < 2 {
		return ""
	}
	return stripParent(segs[0])
}

func acronym(s string) string {
	toks := textnorm.Tokens(s)
	if len(toks) < 2 {
		return ""
	}
	var b strings.Builder
	for _, t := range toks {
		r := []rune(t)[0]
		if !unicode.IsLetter(r) {
			return ""
		}
		b.WriteRune(r)
	}
	if b.Len() < 2 || b.Len() > 6 {
		return ""
	}
	return b.String()
}

func ampersandVariants(s string) []string {
	if !strings.Contains(s, "&") {
		return nil
	}
	return []string{
		strings.ReplaceAll(s, "&", " and "),
		strings.ReplaceAll(s, "&", ""),
		strings.ReplaceAll(s, " & ", " "),
	}
}

// generateAliases derives the matchable forms of a raw value: the value
// itself, the value without "(Parent)", each path segment, the two-part
// join, acronyms of multi-word segments, '&' spellings and the standard
// finance abbreviations.
func generateAliases(value string) aliasSet {
	a := aliasSet{}
	value = strings.TrimSpace(value)
	if value == "" {
		return a
	}
	cleaned := stripParent(value)
	a.add(value, cleaned)
	a.add(ampersandVariants(cleaned)...)

	segs := segments(value)
	if len(segs) > 1 {
		for _, seg := range segs {
			seg = stripParent(seg)
			a.add(seg)
			a.add(ampersandVariants(seg)...)
			if ac := acronym(seg); ac != "" {
				a.add(ac)
			}
		}
		if len(segs) == 2 {
			a.add(stripParent(segs[0]) + " " + stripParent(segs[1]))
		}
	} else if ac := acronym(cleaned); ac != "" {
		a.add(ac)
	}

	norm := textnorm.Normalize(value)
	for _, ab := range abbreviations {
		if containsPhrase(norm, ab.full) {
			a.add(ab.abbrevs...)
		}
		for _, seg := range segs {
			segNorm := textnorm.Normalize(stripParent(seg))
			for _, short := range ab.abbrevs {
				if segNorm == textnorm.Normalize(short) {
					a.add(ab.full)
				}
			}
		}
	}
	return a
}

// containsPhrase matches whole words only.
func containsPhrase(haystack, phrase string) bool {
	return strings.Contains(" "+haystack+" ", " "+phrase+" ")
}

func departmentAliases(value string) aliasSet {
	a := generateAliases(value)
	if p := parentOf(value); p != "" {
		a.add(p)
	}
	return a
}

func accountAliases(name string, numbers []string) aliasSet {
	a := generateAliases(name)
	for _, n := range numbers {
		a.add(numberPrefixes(n)...)
	}
	return a
}

func accountNumberAliases(number string, names []string) aliasSet {
	a := aliasSet{}
	a.add(numberPrefixes(number)...)
	for _, name := range names {
		for _, seg := range segments(name) {
			if seg = stripParent(seg); len(seg) > 2 {
				a.add(seg)
			}
		}
	}
	return a
}

func numberPrefixes(n string) []string {
	n = strings.TrimSpace(n)
	out := []string{n}
	if len(n) >= 3 {
		out = append(out, n[:2], n[:3])
	}
	return out
}

func subsidiaryAliases(value string) aliasSet {
	a := generateAliases(value)
	norm := textnorm.Normalize(value)
	for _, h := range regionHints {
		for _, c := range h.contains {
			if containsPhrase(norm, c) {
				a.add(h.aliases...)
				break
			}
		}
	}
	return a
}

func transactionTypeAliases(value string) aliasSet {
	a := generateAliases(value)
	a.add(transactionTypeNames[value]...)
	return a
}
