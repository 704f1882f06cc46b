package ledgertest

import (
	"encoding/json"
	"fmt"
	"time"

	"ledger-query-workers/internal/ledger"
)

// Columns matches the default column configuration.
var Columns = ledger.Columns{
	RowKey:          "line_id",
	Department:      "department_name",
	AccountNumber:   "account_number",
	AccountName:     "account_name",
	Subsidiary:      "subsidiary",
	TransactionType: "type",
	Date:            "trandate",
	Period:          "period_name",
	Amount:          "amount",
}

// ColumnNames is what the fake service advertises.
var ColumnNames = []string{
	"line_id", "department_name", "account_number", "account_name",
	"subsidiary", "type", "trandate", "period_name", "amount",
}

type line struct {
	dept, number, account, subsidiary, txnType string
	cents                                       int64
}

var monthlyLines = []line{
	{"Sales & Marketing (Parent) : SDR", "53100", "Sales & Marketing : Advertising", "Acme Inc. (US)", "VendBill", 1250075},
	{"Sales & Marketing (Parent) : SDR", "53200", "Sales & Marketing : Salaries", "Acme Inc. (US)", "Journal", 4800000},
	{"Sales & Marketing (Parent) : Marketing", "53100", "Sales & Marketing : Advertising", "Acme Ltd (UK)", "VendBill", 910050},
	{"Sales & Marketing (Parent) : Marketing", "53200", "Sales & Marketing : Salaries", "Acme Inc. (US)", "Journal", 3100000},
	{"G&A (Parent) : Finance", "59100", "General & Administrative : Rent", "Acme Inc. (US)", "VendBill", 1500000},
	{"G&A (Parent) : IT", "59200", "General & Administrative : Software", "Acme Inc. (US)", "VendBill", 720033},
	{"R&D (Parent) : Engineering", "52100", "Product Development : Salaries", "Acme Inc. (US)", "Journal", 9100000},
	{"R&D (Parent) : Security, Privacy & Compliance", "52300", "Product Development : Software", "Acme Ltd (UK)", "VendBill", 260010},
	{"Cost of Sales (Parent) : Customer Support", "51000", "Cost of Sales : Hosting", "Acme Inc. (US)", "VendBill", 2200000},
	{"Sales & Marketing (Parent) : SDR", "41000", "Revenue : Subscription Revenue", "Acme Inc. (US)", "CustInvc", -25000000},
	{"", "59999", "Total Operating Expenses", "Acme Inc. (US)", "Journal", 99999999},
}

// FirstMonth and LastMonth bound the fixture data.
var (
	FirstMonth = time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	LastMonth  = time.Date(2025, time.November, 1, 0, 0, 0, 0, time.UTC)
)

// Rows builds the fixture ledger: every line of monthlyLines booked on the
// 15th of each month from FirstMonth to LastMonth, with amounts varied by
// month so totals over different windows differ.
func Rows() []ledger.Row {
	var rows []ledger.Row
	id := 0
	for m := FirstMonth; !m.After(LastMonth); m = m.AddDate(0, 1, 0) {
		bump := int64(m.Month()) * 100
		for _, l := range monthlyLines {
			id++
			cents := l.cents
			if cents > 0 && cents != 99999999 {
				cents += bump
			}
			rows = append(rows, ledger.Row{
				"line_id":         fmt.Sprintf("L%05d", id),
				"department_name": l.dept,
				"account_number":  l.number,
				"account_name":    l.account,
				"subsidiary":      l.subsidiary,
				"type":            l.txnType,
				"trandate":        m.AddDate(0, 0, 14).Format("2006-01-02"),
				"period_name":     m.Format("Jan 2006"),
				"amount":          json.Number(centsString(cents)),
			})
		}
	}
	return rows
}

// LinesPerMonth is the number of fixture rows booked each month.
func LinesPerMonth() int { return len(monthlyLines) }

func centsString(c int64) string {
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}

// Snapshot wraps rows as a complete snapshot.
func Snapshot(source string, rows []ledger.Row) *ledger.Snapshot {
	return &ledger.Snapshot{
		SourceIdentity: source,
		SchemaVersion:  1,
		FetchedAt:      time.Now().UTC(),
		RowCount:       len(rows),
		SourceTotal:    len(rows),
		Columns:        ColumnNames,
		Rows:           rows,
	}
}
