package retrieveledgerrows

import (
	"ledger-query-workers/internal/ledger"
	"ledger-query-workers/internal/parser"
	"ledger-query-workers/internal/retrieval"

	"github.com/shopspring/decimal"
)

type Input struct {
	ParsedQuery *parser.ParsedQuery `json:"parsedQuery"`
}

// Output is what the calculation engine consumes. Total always covers every
// matched row, even when Rows is truncated or omitted.
type Output struct {
	Rows       []ledger.Row         `json:"rows,omitempty"`
	RowCount   int                  `json:"rowCount"`
	Total      decimal.Decimal      `json:"total"`
	Truncated  bool                 `json:"truncated"`
	Provenance retrieval.Provenance `json:"provenance"`
	Warnings   []string             `json:"warnings,omitempty"`
	Cost       retrieval.Cost       `json:"cost"`
}

func newOutput(res *retrieval.Result, includeRows bool) *Output {
	out := &Output{
		RowCount:   res.RowCount,
		Total:      res.Total,
		Truncated:  res.Truncated,
		Provenance: res.Provenance,
		Warnings:   res.Warnings,
		Cost:       res.Cost,
	}
	if includeRows {
		out.Rows = res.Rows
	}
	return out
}
