// Package ledger is the client side of the ledger service's paginated row
// contract and the row/snapshot types shared by the registry and retrieval
// layers.
package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Row is one ledger line as returned by the service. Numbers are kept as
// json.Number so amounts never pass through float64.
type Row map[string]interface{}

// Scalar renders a scalar cell as text. ok is false when the cell holds an
// object or array. A missing or null cell is ("", true).
func (r Row) Scalar(col string) (string, bool) {
	switch v := r[col].(type) {
	case nil:
		return "", true
	case string:
		return strings.TrimSpace(v), true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	default:
		return "", false
	}
}

// String is Scalar without the shape check.
func (r Row) String(col string) string {
	s, _ := r.Scalar(col)
	return s
}

// Decimal parses a numeric cell. Empty cells are zero.
func (r Row) Decimal(col string) (decimal.Decimal, error) {
	switch v := r[col].(type) {
	case nil:
		return decimal.Zero, nil
	case json.Number:
		return decimal.NewFromString(v.String())
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(v), ",", "")
		if s == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(s)
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	default:
		return decimal.Zero, fmt.Errorf("column %s: unsupported amount type %T", col, v)
	}
}

// Date parses a date cell in YYYY-MM-DD or M/D/YYYY form.
func (r Row) Date(col string) (time.Time, bool) {
	s := r.String(col)
	if s == "" {
		return time.Time{}, false
	}
	if len(s) > 10 && s[4] == '-' {
		s = s[:10]
	}
	for _, layout := range []string{"2006-01-02", "1/2/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Columns maps logical fields to the service's column names.
type Columns struct {
	RowKey          string `json:"rowKey"`
	Department      string `json:"department"`
	AccountNumber   string `json:"accountNumber"`
	AccountName     string `json:"accountName"`
	Subsidiary      string `json:"subsidiary"`
	TransactionType string `json:"transactionType"`
	Date            string `json:"date"`
	Period          string `json:"period"`
	Amount          string `json:"amount"`
}

// Page is one response of the paginated row endpoint.
type Page struct {
	Rows           []Row    `json:"rows"`
	TotalCount     int      `json:"total_count"`
	TotalPages     int      `json:"total_pages"`
	ColumnNames    []string `json:"column_names"`
	FilterWarnings []string `json:"filter_warnings,omitempty"`
}

// Snapshot is the complete, unfiltered row set of one source. It is replaced
// as a whole and never filtered in place.
type Snapshot struct {
	SourceIdentity string    `json:"sourceIdentity"`
	SchemaVersion  int       `json:"schemaVersion"`
	FetchedAt      time.Time `json:"fetchedAt"`
	RowCount       int       `json:"rowCount"`
	SourceTotal    int       `json:"sourceTotal"`
	Columns        []string  `json:"columns"`
	Rows           []Row     `json:"rows"`
}

// Complete reports whether the snapshot holds every row the source
// advertised.
func (s *Snapshot) Complete() bool {
	return s != nil && s.RowCount == len(s.Rows) && s.RowCount >= s.SourceTotal
}

// Age is how long ago the snapshot was fetched.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}
