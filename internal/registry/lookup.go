package registry

import (
	"sort"

	"ledger-query-workers/internal/common/metrics"
	"ledger-query-workers/internal/common/textnorm"
)

// Match scores.
const (
	ScoreExact        = 1.0
	ScoreNormalized   = 0.95
	scorePartialBase  = 0.5
	scorePartialRange = 0.35
	MinConfidence     = 0.5

	DefaultAmbiguityBand = 0.1
)

// Candidate is one entry a term may refer to.
type Candidate struct {
	Entry      *Entry  `json:"entry"`
	Confidence float64 `json:"confidence"`
}

// Match is the result of looking a term up in one entity type. Candidates
// holds only the entries tied with the best score (within the ambiguity
// band); more than one distinct canonical name means Ambiguous.
type Match struct {
	Term       string      `json:"term"`
	Type       EntityType  `json:"type"`
	Candidates []Candidate `json:"candidates"`
	Ambiguous  bool        `json:"ambiguous"`
}

// Found reports whether anything scored at or above MinConfidence.
func (m Match) Found() bool { return len(m.Candidates) > 0 }

// Best is the top candidate.
func (m Match) Best() (Candidate, bool) {
	if len(m.Candidates) == 0 {
		return Candidate{}, false
	}
	return m.Candidates[0], true
}

// CanonicalNames of the candidates, in score order.
func (m Match) CanonicalNames() []string {
	out := make([]string, len(m.Candidates))
	for i, c := range m.Candidates {
		out[i] = c.Entry.CanonicalName
	}
	return out
}

// Lookup resolves term against one entity type with the default band.
func (s *State) Lookup(term string, t EntityType) Match {
	return s.LookupWithBand(term, t, DefaultAmbiguityBand)
}

// LookupWithBand scores every entry of type t: an alias equal after folding
// scores 1.0, equal after punctuation normalization 0.95, and an alias whose
// words contain every word of the term 0.5 plus up to 0.35 by coverage.
func (s *State) LookupWithBand(term string, t EntityType, band float64) Match {
	m := Match{Term: term, Type: t}
	if s == nil || s.index == nil {
		metrics.RegistryLookups.WithLabelValues("none").Inc()
		return m
	}
	idx := s.index[t]
	if idx == nil {
		metrics.RegistryLookups.WithLabelValues("none").Inc()
		return m
	}

	scores := map[*Entry]float64{}
	bump := func(e *Entry, score float64) {
		if score > scores[e] {
			scores[e] = score
		}
	}

	for _, e := range idx.exact[textnorm.Fold(term)] {
		bump(e, ScoreExact)
	}
	for _, e := range idx.normalized[textnorm.Normalize(term)] {
		bump(e, ScoreNormalized)
	}

	qt := textnorm.Tokens(term)
	if len(qt) > 0 {
		q := make(map[string]struct{}, len(qt))
		for _, tok := range qt {
			q[tok] = struct{}{}
		}
		for _, at := range idx.tokens {
			if !subset(q, at.tokens) {
				continue
			}
			denom := at.n
			if len(q) > denom {
				denom = len(q)
			}
			bump(at.entry, scorePartialBase+scorePartialRange*float64(len(q))/float64(denom))
		}
	}

	cands := make([]Candidate, 0, len(scores))
	for e, sc := range scores {
		if sc >= MinConfidence {
			cands = append(cands, Candidate{Entry: e, Confidence: sc})
		}
	}
	if len(cands) == 0 {
		metrics.RegistryLookups.WithLabelValues("none").Inc()
		return m
	}
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Entry.RowCount != b.Entry.RowCount {
			return a.Entry.RowCount > b.Entry.RowCount
		}
		return a.Entry.CanonicalName < b.Entry.CanonicalName
	})

	top := cands[0].Confidence
	tied := cands[:0]
	for _, c := range cands {
		if top-c.Confidence <= band+1e-9 {
			tied = append(tied, c)
		}
	}
	m.Candidates = tied
	m.Ambiguous = len(tied) > 1

	switch {
	case m.Ambiguous:
		metrics.RegistryLookups.WithLabelValues("ambiguous").Inc()
	case top >= ScoreExact:
		metrics.RegistryLookups.WithLabelValues("exact").Inc()
	case top >= ScoreNormalized:
		metrics.RegistryLookups.WithLabelValues("normalized").Inc()
	default:
		metrics.RegistryLookups.WithLabelValues("partial").Inc()
	}
	return m
}

func subset(q, of map[string]struct{}) bool {
	if len(q) > len(of) {
		return false
	}
	for tok := range q {
		if _, ok := of[tok]; !ok {
			return false
		}
	}
	return true
}
