package fiscal

import (
	"encoding/json"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Period is a closed civil date range.
type Period struct {
	Name            string
	Start           time.Time
	End             time.Time
	FiscalYear      int
	FiscalYearLabel string
	Quarter         int
}

// Contains reports whether d falls inside the closed range.
func (p Period) Contains(d time.Time) bool {
	d = Truncate(d)
	return !d.Before(p.Start) && !d.After(p.End)
}

// Days is the inclusive length of the range.
func (p Period) Days() int {
	return int(p.End.Sub(p.Start).Hours()/24) + 1
}

// Months counts the calendar months the range touches.
func (p Period) Months() int {
	return (p.End.Year()-p.Start.Year())*12 + int(p.End.Month()) - int(p.Start.Month()) + 1
}

// MonthAligned reports whether the range starts on a first and ends on a
// month end.
func (p Period) MonthAligned() bool {
	return p.Start.Day() == 1 && isMonthEnd(p.End)
}

// MonthPeriodIDs lists the accounting period names ("Jan 2025") covering p.
// Returns nil when p is not month aligned, since a partial month cannot be
// expressed as a set of period IDs.
func (p Period) MonthPeriodIDs() []string {
	if !p.MonthAligned() {
		return nil
	}
	ids := make([]string, 0, p.Months())
	for m := p.Start; !m.After(p.End); m = m.AddDate(0, 1, 0) {
		ids = append(ids, m.Format("Jan 2006"))
	}
	return ids
}

func (p Period) String() string {
	return fmt.Sprintf("%s [%s, %s]", p.Name, p.Start.Format(dateLayout), p.End.Format(dateLayout))
}

type periodJSON struct {
	Name            string `json:"periodName"`
	StartDate       string `json:"startDate"`
	EndDate         string `json:"endDate"`
	FiscalYear      int    `json:"fiscalYear"`
	FiscalYearLabel string `json:"fiscalYearLabel"`
	Quarter         int    `json:"fiscalQuarter,omitempty"`
}

func (p Period) MarshalJSON() ([]byte, error) {
	return json.Marshal(periodJSON{
		Name:            p.Name,
		StartDate:       p.Start.Format(dateLayout),
		EndDate:         p.End.Format(dateLayout),
		FiscalYear:      p.FiscalYear,
		FiscalYearLabel: p.FiscalYearLabel,
		Quarter:         p.Quarter,
	})
}

func (p *Period) UnmarshalJSON(data []byte) error {
	var raw periodJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	start, err := time.Parse(dateLayout, raw.StartDate)
	if err != nil {
		return fmt.Errorf("startDate: %w", err)
	}
	end, err := time.Parse(dateLayout, raw.EndDate)
	if err != nil {
		return fmt.Errorf("endDate: %w", err)
	}
	if end.Before(start) {
		return fmt.Errorf("period %q ends before it starts", raw.Name)
	}
	*p = Period{
		Name:            raw.Name,
		Start:           start,
		End:             end,
		FiscalYear:      raw.FiscalYear,
		FiscalYearLabel: raw.FiscalYearLabel,
		Quarter:         raw.Quarter,
	}
	return nil
}
