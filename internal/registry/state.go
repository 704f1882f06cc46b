// Package registry learns department, account, subsidiary and transaction
// type names from the full ledger snapshot and resolves user terms against
// them.
package registry

import (
	"encoding/json"
	"sort"
	"time"

	"ledger-query-workers/internal/common/textnorm"
)

// EntityType is the kind of value an Entry names.
type EntityType string

const (
	EntityDepartment      EntityType = "department"
	EntityAccount         EntityType = "account"
	EntityAccountNumber   EntityType = "account_number"
	EntitySubsidiary      EntityType = "subsidiary"
	EntityTransactionType EntityType = "transaction_type"
)

// EntityTypes in lookup order.
var EntityTypes = []EntityType{
	EntityDepartment, EntityAccount, EntityAccountNumber, EntitySubsidiary, EntityTransactionType,
}

// Entry is one distinct value seen in the source.
type Entry struct {
	Type          EntityType `json:"type"`
	CanonicalName string     `json:"canonicalName"`
	Aliases       []string   `json:"aliases"`
	Parent        string     `json:"parent,omitempty"`
	RowCount      int        `json:"rowCount"`
	BuiltAt       time.Time  `json:"builtAt"`
}

// State is an immutable registry generation. A new build produces a new
// State; nothing mutates a published one.
type State struct {
	SchemaVersion    int                     `json:"schemaVersion"`
	Entries          map[EntityType][]*Entry `json:"entries"`
	BuiltAt          time.Time               `json:"builtAt"`
	SourceRowCount   int                     `json:"sourceRowCount"`
	TTL              time.Duration           `json:"ttl"`
	Degraded         bool                    `json:"degraded"`
	FailedRows       int                     `json:"failedRows"`
	PeriodSpanMonths int                     `json:"periodSpanMonths"`
	index            map[EntityType]*typeIndex
}

type typeIndex struct {
	exact      map[string][]*Entry
	normalized map[string][]*Entry
	tokens     []aliasTokens
}

type aliasTokens struct {
	entry  *Entry
	tokens map[string]struct{}
	n      int
}

// NewEmptyState is the state of a process that has never built.
func NewEmptyState(schemaVersion int, ttl time.Duration) *State {
	s := &State{
		SchemaVersion: schemaVersion,
		Entries:       map[EntityType][]*Entry{},
		TTL:           ttl,
	}
	s.reindex()
	return s
}

// IsEmpty reports whether the state holds no entries at all.
func (s *State) IsEmpty() bool {
	if s == nil {
		return true
	}
	for _, es := range s.Entries {
		if len(es) > 0 {
			return false
		}
	}
	return true
}

// NeedsRefresh is true when the state is empty or older than its TTL.
func (s *State) NeedsRefresh(now time.Time) bool {
	if s.IsEmpty() {
		return true
	}
	return s.TTL > 0 && now.Sub(s.BuiltAt) > s.TTL
}

// Get returns the entry for a canonical name.
func (s *State) Get(t EntityType, canonical string) (*Entry, bool) {
	for _, e := range s.Entries[t] {
		if e.CanonicalName == canonical {
			return e, true
		}
	}
	return nil, false
}

// CanonicalNames lists every value of a type, sorted.
func (s *State) CanonicalNames(t EntityType) []string {
	out := make([]string, 0, len(s.Entries[t]))
	for _, e := range s.Entries[t] {
		out = append(out, e.CanonicalName)
	}
	sort.Strings(out)
	return out
}

// Stats summarises a state for the admin surface and the cost estimator.
type Stats struct {
	Counts           map[EntityType]int `json:"counts"`
	BuiltAt          time.Time          `json:"builtAt"`
	Stale            bool               `json:"stale"`
	Degraded         bool               `json:"degraded"`
	FailedRows       int                `json:"failedRows"`
	SourceRowCount   int                `json:"sourceRowCount"`
	PeriodSpanMonths int                `json:"periodSpanMonths"`
	SchemaVersion    int                `json:"schemaVersion"`
}

func (s *State) Stats(now time.Time) Stats {
	st := Stats{Counts: map[EntityType]int{}}
	if s == nil {
		st.Stale = true
		return st
	}
	for _, t := range EntityTypes {
		st.Counts[t] = len(s.Entries[t])
	}
	st.BuiltAt = s.BuiltAt
	st.Stale = s.NeedsRefresh(now)
	st.Degraded = s.Degraded
	st.FailedRows = s.FailedRows
	st.SourceRowCount = s.SourceRowCount
	st.PeriodSpanMonths = s.PeriodSpanMonths
	st.SchemaVersion = s.SchemaVersion
	return st
}

func (s *State) reindex() {
	s.index = make(map[EntityType]*typeIndex, len(s.Entries))
	for t, entries := range s.Entries {
		idx := &typeIndex{
			exact:      map[string][]*Entry{},
			normalized: map[string][]*Entry{},
		}
		for _, e := range entries {
			seenExact := map[string]bool{}
			seenNorm := map[string]bool{}
			for _, a := range e.Aliases {
				folded := textnorm.Fold(a)
				if folded != "" && !seenExact[folded] {
					seenExact[folded] = true
					idx.exact[folded] = append(idx.exact[folded], e)
				}
				norm := textnorm.Normalize(a)
				if norm != "" && !seenNorm[norm] {
					seenNorm[norm] = true
					idx.normalized[norm] = append(idx.normalized[norm], e)
				}
				toks := textnorm.Tokens(a)
				if len(toks) == 0 {
					continue
				}
				set := make(map[string]struct{}, len(toks))
				for _, tok := range toks {
					set[tok] = struct{}{}
				}
				idx.tokens = append(idx.tokens, aliasTokens{entry: e, tokens: set, n: len(set)})
			}
		}
		s.index[t] = idx
	}
}

// UnmarshalJSON restores the lookup index along with the data.
func (s *State) UnmarshalJSON(data []byte) error {
	type plain State
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = State(p)
	if s.Entries == nil {
		s.Entries = map[EntityType][]*Entry{}
	}
	s.reindex()
	return nil
}
