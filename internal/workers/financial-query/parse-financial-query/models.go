package parsefinancialquery

import "ledger-query-workers/internal/parser"

type Input struct {
	Question string       `json:"question"`
	AsOf     string       `json:"asOf,omitempty"`
	Context  InputContext `json:"context,omitempty"`
}

// InputContext carries the user's picks from an earlier clarification,
// keyed by the ambiguous term.
type InputContext struct {
	Selections map[string]string `json:"selections,omitempty"`
}

// Output holds exactly one of ParsedQuery or Clarification.
type Output struct {
	Status        parser.Status         `json:"status"`
	ParsedQuery   *parser.ParsedQuery   `json:"parsedQuery,omitempty"`
	Clarification *parser.Clarification `json:"clarification,omitempty"`
}
