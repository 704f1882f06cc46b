package parser

import (
	"fmt"
	"sort"
	"strings"

	"ledger-query-workers/internal/common/textnorm"
	"ledger-query-workers/internal/registry"
	"ledger-query-workers/internal/semantics"

	"github.com/google/uuid"
)

// Selector kinds. A selector is one or more "kind:value" clauses joined by
// ";". Multiple values of one kind are joined by "||"; the "_all" suffix
// marks an explicit all-matching choice.
const (
	selAccountPrefix   = "account_prefix"
	selAccountName     = "account_name"
	selDepartment      = "department"
	selSubsidiary      = "subsidiary"
	selTransactionType = "transaction_type"

	selAllSuffix   = "_all"
	selClauseSep   = ";"
	selValueSep    = "||"
	selKindValueOp = ":"
)

var optionNamespace = uuid.MustParse("5b0e0a4e-2f4a-4d8e-9d1c-7f3a1c6b9e21")

// optionID is deterministic so an ID sent back on the next turn maps to the
// same option without server-side state.
func optionID(term, value string) string {
	return uuid.NewSHA1(optionNamespace, []byte(textnorm.Fold(term)+"\x00"+value)).String()
}

func encodeFilter(f semantics.Filter) string {
	var clauses []string
	add := func(kind string, values []string) {
		if len(values) > 0 {
			clauses = append(clauses, kind+selKindValueOp+strings.Join(values, selValueSep))
		}
	}
	add(selAccountPrefix, f.AccountPrefixes)
	add(selAccountName, f.AccountNames)
	add(selDepartment, f.Departments)
	add(selSubsidiary, f.Subsidiaries)
	add(selTransactionType, f.TransactionTypes)
	return strings.Join(clauses, selClauseSep)
}

// decodeSelector parses a selector value back into a filter.
func decodeSelector(value string) (semantics.Filter, error) {
	var f semantics.Filter
	if strings.TrimSpace(value) == "" {
		return f, fmt.Errorf("empty selection")
	}
	for _, clause := range strings.Split(value, selClauseSep) {
		kind, raw, ok := strings.Cut(clause, selKindValueOp)
		if !ok {
			return f, fmt.Errorf("selection clause %q has no kind", clause)
		}
		kind = strings.TrimSuffix(strings.TrimSpace(kind), selAllSuffix)
		var values []string
		for _, v := range strings.Split(raw, selValueSep) {
			if v = strings.TrimSpace(v); v != "" {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			return f, fmt.Errorf("selection clause %q has no value", clause)
		}
		switch kind {
		case selAccountPrefix:
			f.AccountPrefixes = append(f.AccountPrefixes, values...)
		case selAccountName:
			f.AccountNames = append(f.AccountNames, values...)
		case selDepartment:
			f.Departments = append(f.Departments, values...)
		case selSubsidiary:
			f.Subsidiaries = append(f.Subsidiaries, values...)
		case selTransactionType:
			f.TransactionTypes = append(f.TransactionTypes, values...)
		default:
			return f, fmt.Errorf("unknown selection kind %q", kind)
		}
	}
	return f, nil
}

func staticOptions(term string, t *semantics.Term) []Option {
	out := make([]Option, 0, len(t.Options))
	for _, o := range t.Options {
		value := encodeFilter(o.Filter)
		out = append(out, Option{
			ID:          optionID(term, value),
			Term:        term,
			Label:       o.Label,
			Description: o.Description,
			Value:       value,
		})
	}
	return out
}

var entityKinds = map[registry.EntityType]struct {
	selector string
	noun     string
	plural   string
}{
	registry.EntityDepartment:      {selDepartment, "department", "departments"},
	registry.EntityAccount:         {selAccountName, "account", "accounts"},
	registry.EntityAccountNumber:   {selAccountPrefix, "account number", "account numbers"},
	registry.EntitySubsidiary:      {selSubsidiary, "subsidiary", "subsidiaries"},
	registry.EntityTransactionType: {selTransactionType, "transaction type", "transaction types"},
}

// registryOptions offers each tied candidate plus an explicit "all
// matching" choice, which is never applied by default.
func registryOptions(term string, m registry.Match) []Option {
	kind := entityKinds[m.Type]
	names := m.CanonicalNames()
	out := make([]Option, 0, len(names)+1)
	for _, c := range m.Candidates {
		out = append(out, candidateOption(term, m.Type, c))
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	value := kind.selector + selAllSuffix + selKindValueOp + strings.Join(sorted, selValueSep)
	out = append(out, Option{
		ID:          optionID(term, value),
		Term:        term,
		Label:       fmt.Sprintf("All %d matching %s", len(names), kind.plural),
		Description: fmt.Sprintf("Combine %s", strings.Join(sorted, ", ")),
		Value:       value,
	})
	return out
}

func candidateOption(term string, t registry.EntityType, c registry.Candidate) Option {
	kind := entityKinds[t]
	value := kind.selector + selKindValueOp + c.Entry.CanonicalName
	return Option{
		ID:          optionID(term, value),
		Term:        term,
		Label:       c.Entry.CanonicalName,
		Description: fmt.Sprintf("%s seen on %d ledger rows", kind.noun, c.Entry.RowCount),
		Value:       value,
	}
}

// entityOptions offers every reading of term across the matching types. A
// type with a single reading contributes just that entry.
func entityOptions(term string, matches []registry.Match) []Option {
	if len(matches) == 1 {
		return registryOptions(term, matches[0])
	}
	var out []Option
	for _, m := range matches {
		if m.Ambiguous {
			out = append(out, registryOptions(term, m)...)
			continue
		}
		best, _ := m.Best()
		out = append(out, candidateOption(term, m.Type, best))
	}
	return out
}

// selectionFor finds the user's choice for term, matching keys by folded
// text.
func selectionFor(selections map[string]string, term string) (string, bool) {
	if len(selections) == 0 {
		return "", false
	}
	if v, ok := selections[term]; ok {
		return v, true
	}
	want := textnorm.Fold(term)
	for k, v := range selections {
		if textnorm.Fold(k) == want {
			return v, true
		}
	}
	return "", false
}

// applySelection resolves a selection against the options offered for the
// term. The selection may be an option ID, an option value, or (for static
// terms) an option key.
func applySelection(selection string, options []Option, t *semantics.Term) (semantics.Filter, bool) {
	selection = strings.TrimSpace(selection)
	for _, o := range options {
		if selection == o.ID || selection == o.Value {
			f, err := decodeSelector(o.Value)
			return f, err == nil
		}
	}
	if t != nil {
		if o, ok := t.OptionByKey(selection); ok {
			return o.Filter, true
		}
	}
	return semantics.Filter{}, false
}

func clarificationMessage(terms []string, options []Option) string {
	var b strings.Builder
	for _, term := range terms {
		fmt.Fprintf(&b, "%q could mean several things:\n", term)
		n := 0
		for _, o := range options {
			if o.Term != term {
				continue
			}
			n++
			fmt.Fprintf(&b, "  %d. %s\n", n, o.Label)
		}
		b.WriteString("\n")
	}
	b.WriteString("Which one did you mean?")
	return b.String()
}
