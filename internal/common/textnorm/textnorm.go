// Package textnorm folds user text and ledger values into comparable forms.
//
// Fold produces the "exact" form used for alias equality: Unicode NFKC, case
// folding, width folding, format characters removed and whitespace collapsed.
// Normalize goes further for fuzzy comparison: punctuation other than '&'
// becomes a space, "(parent)" markers are dropped and "and"/"&" are unified.
package textnorm

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

var chainPool = sync.Pool{
	New: func() any {
		return transform.Chain(
			norm.NFKC,
			cases.Fold(),
			runes.Remove(runes.In(unicode.Cf)),
			width.Fold,
		)
	},
}

// Fold case-folds s and collapses whitespace.
func Fold(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ToValidUTF8(s, "")

	tr := chainPool.Get().(transform.Transformer)
	out, _, err := transform.String(tr, s)
	tr.Reset()
	chainPool.Put(tr)
	if err != nil {
		out = strings.ToLower(s)
	}
	return collapseSpaces(out)
}

// Normalize is Fold plus punctuation and connective unification.
func Normalize(s string) string {
	s = Fold(s)
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "(parent)", " ")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '&':
			b.WriteString(" & ")
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	words := strings.Fields(b.String())
	for i, w := range words {
		if w == "and" {
			words[i] = "&"
		}
	}
	return strings.Join(words, " ")
}

// Tokens splits the normalized form of s into words, dropping the
// connective '&'.
func Tokens(s string) []string {
	fields := strings.Fields(Normalize(s))
	out := fields[:0]
	for _, f := range fields {
		if f != "&" {
			out = append(out, f)
		}
	}
	return out
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
