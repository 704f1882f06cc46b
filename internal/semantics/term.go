// Package semantics holds the curated vocabulary of accounting phrases that
// never change with the org structure (account families, transaction types,
// regions) and resolves them in free text.
package semantics

// Category classifies a static term.
type Category string

const (
	CategoryAccount         Category = "account"
	CategoryAccountName     Category = "account_name"
	CategoryCompound        Category = "compound_account"
	CategoryDepartment      Category = "department"
	CategoryTransactionType Category = "transaction_type"
	CategorySubsidiary      Category = "subsidiary"
	CategoryAmbiguous       Category = "ambiguous"
)

// Filter is what a resolved term contributes to a query.
type Filter struct {
	AccountPrefixes  []string `json:"accountPrefixes,omitempty"`
	AccountNames     []string `json:"accountNames,omitempty"`
	Departments      []string `json:"departments,omitempty"`
	TransactionTypes []string `json:"transactionTypes,omitempty"`
	Subsidiaries     []string `json:"subsidiaries,omitempty"`
	Consolidated     bool     `json:"consolidated,omitempty"`
}

// IsEmpty reports whether f narrows nothing.
func (f Filter) IsEmpty() bool {
	return len(f.AccountPrefixes) == 0 && len(f.AccountNames) == 0 && len(f.Departments) == 0 &&
		len(f.TransactionTypes) == 0 && len(f.Subsidiaries) == 0 && !f.Consolidated
}

// Option is one interpretation of an ambiguous term.
type Option struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Filter      Filter `json:"filter"`
}

// Term is an immutable vocabulary entry.
type Term struct {
	Phrase      string   `json:"phrase"`
	Category    Category `json:"category"`
	Filter      Filter   `json:"filter"`
	Confidence  float64  `json:"confidence"`
	Description string   `json:"description,omitempty"`
	Options     []Option `json:"options,omitempty"`
}

// Ambiguous reports whether the term must never be applied without a choice.
func (t *Term) Ambiguous() bool {
	return t.Category == CategoryAmbiguous
}

// OptionByKey returns the interpretation with the given key.
func (t *Term) OptionByKey(key string) (Option, bool) {
	for _, o := range t.Options {
		if o.Key == key {
			return o, true
		}
	}
	return Option{}, false
}
