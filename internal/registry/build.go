package registry

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "ledger-query-workers/internal/common/errors"
	"ledger-query-workers/internal/ledger"
)

// BuildOptions control a registry build.
type BuildOptions struct {
	Columns             ledger.Columns
	SchemaVersion       int
	TTL                 time.Duration
	MaxDegradedFraction float64
	MinSourceRatio      float64
	// Previous is the state being replaced, used for the collapse check.
	Previous *State
	Now      time.Time
}

type valueAgg struct {
	count   int
	related map[string]struct{}
}

func (v *valueAgg) relate(s string) {
	if s == "" {
		return
	}
	if v.related == nil {
		v.related = map[string]struct{}{}
	}
	v.related[s] = struct{}{}
}

func (v *valueAgg) relatedList() []string {
	out := make([]string, 0, len(v.related))
	for s := range v.related {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Build derives a new State from the complete unfiltered snapshot. It
// refuses anything that is not the whole source, fails with SCHEMA_DRIFT
// when a mapped entity column is gone, and fails with
// REGISTRY_BUILD_DEGRADED when more than MaxDegradedFraction of rows could
// not be read.
func Build(snap *ledger.Snapshot, opts BuildOptions) (*State, error) {
	if err := checkSource(snap, opts); err != nil {
		return nil, err
	}
	if err := checkEntityColumns(snap, opts.Columns); err != nil {
		return nil, err
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	cols := opts.Columns

	extracted := map[EntityType]map[string]*valueAgg{}
	for _, t := range EntityTypes {
		extracted[t] = map[string]*valueAgg{}
	}
	see := func(t EntityType, value string) *valueAgg {
		agg := extracted[t][value]
		if agg == nil {
			agg = &valueAgg{}
			extracted[t][value] = agg
		}
		agg.count++
		return agg
	}

	var (
		failed             int
		minMonth, maxMonth time.Time
	)
	for _, row := range snap.Rows {
		vals, ok := readEntityColumns(row, cols)
		if !ok {
			failed++
			continue
		}
		if v := vals[EntityDepartment]; v != "" {
			see(EntityDepartment, v)
		}
		name, number := vals[EntityAccount], vals[EntityAccountNumber]
		if name != "" {
			see(EntityAccount, name).relate(number)
		}
		if number != "" {
			see(EntityAccountNumber, number).relate(name)
		}
		if v := vals[EntitySubsidiary]; v != "" {
			see(EntitySubsidiary, v)
		}
		if v := vals[EntityTransactionType]; v != "" {
			see(EntityTransactionType, v)
		}

		if m, ok := rowMonth(row, cols); ok {
			if minMonth.IsZero() || m.Before(minMonth) {
				minMonth = m
			}
			if m.After(maxMonth) {
				maxMonth = m
			}
		}
	}

	total := len(snap.Rows)
	degraded := false
	if failed > 0 {
		frac := float64(failed) / float64(total)
		if frac > opts.MaxDegradedFraction {
			return nil, apperrors.NewRegistryBuildDegradedError(failed, total, opts.MaxDegradedFraction)
		}
		degraded = true
	}

	st := &State{
		SchemaVersion:  opts.SchemaVersion,
		Entries:        map[EntityType][]*Entry{},
		BuiltAt:        now,
		SourceRowCount: snap.RowCount,
		TTL:            opts.TTL,
		Degraded:       degraded,
		FailedRows:     failed,
	}
	if !minMonth.IsZero() {
		st.PeriodSpanMonths = (maxMonth.Year()-minMonth.Year())*12 + int(maxMonth.Month()) - int(minMonth.Month()) + 1
	}

	for t, values := range extracted {
		entries := make([]*Entry, 0, len(values))
		for value, agg := range values {
			var aliases aliasSet
			parent := ""
			switch t {
			case EntityDepartment:
				aliases = departmentAliases(value)
				parent = parentOf(value)
			case EntityAccount:
				aliases = accountAliases(value, agg.relatedList())
				parent = parentOf(value)
			case EntityAccountNumber:
				aliases = accountNumberAliases(value, agg.relatedList())
			case EntitySubsidiary:
				aliases = subsidiaryAliases(value)
				parent = parentOf(value)
			case EntityTransactionType:
				aliases = transactionTypeAliases(value)
			}
			entries = append(entries, &Entry{
				Type:          t,
				CanonicalName: value,
				Aliases:       aliases.sorted(),
				Parent:        parent,
				RowCount:      agg.count,
				BuiltAt:       now,
			})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].CanonicalName < entries[j].CanonicalName })
		if len(entries) > 0 {
			st.Entries[t] = entries
		}
	}
	st.reindex()
	return st, nil
}

func checkSource(snap *ledger.Snapshot, opts BuildOptions) error {
	if snap == nil {
		return apperrors.NewRegistrySourceInvalidError("no snapshot")
	}
	if len(snap.Rows) == 0 {
		return apperrors.NewRegistrySourceInvalidError("snapshot has no rows")
	}
	if snap.RowCount != len(snap.Rows) {
		return apperrors.NewRegistrySourceInvalidError(
			fmt.Sprintf("snapshot row count %d does not match %d rows held", snap.RowCount, len(snap.Rows)))
	}
	if snap.RowCount < snap.SourceTotal {
		return apperrors.NewRegistrySourceInvalidError(
			fmt.Sprintf("snapshot holds %d of %d source rows", snap.RowCount, snap.SourceTotal))
	}
	if prev := opts.Previous; prev != nil && prev.SourceRowCount > 0 && opts.MinSourceRatio > 0 {
		floor := float64(prev.SourceRowCount) * opts.MinSourceRatio
		if float64(snap.RowCount) < floor {
			return apperrors.NewRegistrySourceInvalidError(
				fmt.Sprintf("snapshot has %d rows, below %.0f%% of the previous build's %d",
					snap.RowCount, opts.MinSourceRatio*100, prev.SourceRowCount))
		}
	}
	return nil
}

type entityColumn struct {
	t   EntityType
	col string
}

func entityColumns(cols ledger.Columns) []entityColumn {
	return []entityColumn{
		{EntityDepartment, cols.Department},
		{EntityAccount, cols.AccountName},
		{EntityAccountNumber, cols.AccountNumber},
		{EntitySubsidiary, cols.Subsidiary},
		{EntityTransactionType, cols.TransactionType},
	}
}

// checkEntityColumns fails when a mapped entity column is missing from the
// advertised columns or from every row. A missing column would otherwise
// read as blank and empty that entity type.
func checkEntityColumns(snap *ledger.Snapshot, cols ledger.Columns) error {
	advertised := make(map[string]struct{}, len(snap.Columns))
	for _, c := range snap.Columns {
		advertised[c] = struct{}{}
	}
	var missing []string
	for _, m := range entityColumns(cols) {
		if m.col == "" {
			continue
		}
		if len(advertised) > 0 {
			if _, ok := advertised[m.col]; !ok {
				missing = append(missing, m.col)
				continue
			}
		}
		if !anyRowHas(snap.Rows, m.col) {
			missing = append(missing, m.col)
		}
	}
	if len(missing) > 0 {
		return apperrors.NewSchemaDriftError(missing)
	}
	return nil
}

func anyRowHas(rows []ledger.Row, col string) bool {
	for _, row := range rows {
		if _, ok := row[col]; ok {
			return true
		}
	}
	return false
}

// readEntityColumns returns false when any mapped entity column holds a
// non-scalar or non-UTF-8 value.
func readEntityColumns(row ledger.Row, cols ledger.Columns) (map[EntityType]string, bool) {
	mapping := entityColumns(cols)
	out := make(map[EntityType]string, len(mapping))
	for _, m := range mapping {
		if m.col == "" {
			continue
		}
		v, ok := row.Scalar(m.col)
		if !ok || !utf8.ValidString(v) {
			return nil, false
		}
		out[m.t] = strings.TrimSpace(v)
	}
	return out, true
}

func rowMonth(row ledger.Row, cols ledger.Columns) (time.Time, bool) {
	if cols.Date != "" {
		if d, ok := row.Date(cols.Date); ok {
			return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC), true
		}
	}
	if cols.Period != "" {
		if p := row.String(cols.Period); p != "" {
			if t, err := time.Parse("Jan 2006", p); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}
