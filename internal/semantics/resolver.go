package semantics

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"ledger-query-workers/internal/common/textnorm"
)

// Match is one term found in the text. Start and End are byte offsets into
// the text passed to Resolve.
type Match struct {
	Term  *Term  `json:"term"`
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Resolution is the outcome of scanning a question against the vocabulary.
type Resolution struct {
	Terms   []Match  `json:"terms"`
	Claimed [][2]int `json:"claimed"`
}

// Ambiguous returns the matches that need a user choice.
func (r Resolution) Ambiguous() []Match {
	var out []Match
	for _, m := range r.Terms {
		if m.Term.Ambiguous() {
			out = append(out, m)
		}
	}
	return out
}

// IsClaimed reports whether [start, end) overlaps a claimed range.
func (r Resolution) IsClaimed(start, end int) bool {
	for _, c := range r.Claimed {
		if start < c[1] && c[0] < end {
			return true
		}
	}
	return false
}

// Short codes that collide with ordinary English words only match when
// written in capitals ("US", not "us").
var upperOnly = map[string]bool{"us": true, "uk": true}

type pattern struct {
	term *Term
	re   *regexp.Regexp
}

// Vocabulary is an immutable phrase table with precompiled matchers.
type Vocabulary struct {
	terms    map[string]*Term
	patterns []pattern
}

var (
	defaultOnce  sync.Once
	defaultVocab *Vocabulary
)

// Default returns the built-in vocabulary.
func Default() *Vocabulary {
	defaultOnce.Do(func() {
		defaultVocab = NewVocabulary(buildTable())
	})
	return defaultVocab
}

// NewVocabulary compiles a phrase table. Keys are matched case-insensitively
// except for the short codes in upperOnly.
func NewVocabulary(table map[string]Term) *Vocabulary {
	v := &Vocabulary{terms: make(map[string]*Term, len(table))}
	for phrase, t := range table {
		t := t
		key := textnorm.Fold(phrase)
		t.Phrase = key
		v.terms[key] = &t
		v.patterns = append(v.patterns, pattern{term: &t, re: compilePhrase(key)})
	}
	// compound first, then longest; phrase breaks ties for a stable order
	sort.Slice(v.patterns, func(i, j int) bool {
		a, b := v.patterns[i].term, v.patterns[j].term
		ac, bc := a.Category == CategoryCompound, b.Category == CategoryCompound
		if ac != bc {
			return ac
		}
		if len(a.Phrase) != len(b.Phrase) {
			return len(a.Phrase) > len(b.Phrase)
		}
		return a.Phrase < b.Phrase
	})
	return v
}

func compilePhrase(phrase string) *regexp.Regexp {
	flags := `(?i)`
	if upperOnly[phrase] {
		flags = ""
		phrase = strings.ToUpper(phrase)
	}
	words := strings.Fields(phrase)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(flags + `\b` + strings.Join(words, `\s+`) + `\b`)
}

// Resolve finds every vocabulary phrase in text. Compound terms claim their
// span before any other category, then longer phrases before shorter ones;
// a phrase overlapping an already claimed span is dropped. Matches are
// returned in text order.
func (v *Vocabulary) Resolve(text string) Resolution {
	var res Resolution
	for _, p := range v.patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			if res.IsClaimed(loc[0], loc[1]) {
				continue
			}
			res.Claimed = append(res.Claimed, [2]int{loc[0], loc[1]})
			res.Terms = append(res.Terms, Match{
				Term:  p.term,
				Text:  text[loc[0]:loc[1]],
				Start: loc[0],
				End:   loc[1],
			})
		}
	}
	sort.Slice(res.Terms, func(i, j int) bool { return res.Terms[i].Start < res.Terms[j].Start })
	sort.Slice(res.Claimed, func(i, j int) bool { return res.Claimed[i][0] < res.Claimed[j][0] })
	return res
}

// Lookup finds a single phrase, falling back between plural and singular.
func (v *Vocabulary) Lookup(phrase string) (*Term, bool) {
	key := textnorm.Fold(phrase)
	if t, ok := v.terms[key]; ok {
		return t, true
	}
	if strings.HasSuffix(key, "s") {
		if t, ok := v.terms[strings.TrimSuffix(key, "s")]; ok {
			return t, true
		}
	} else if t, ok := v.terms[key+"s"]; ok {
		return t, true
	}
	return nil, false
}

// Len is the number of phrases in the vocabulary.
func (v *Vocabulary) Len() int {
	return len(v.terms)
}
