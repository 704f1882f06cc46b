package retrieval

import (
	"context"
	"fmt"
	"maps"
	"time"

	"ledger-query-workers/internal/alerts"
	apperrors "ledger-query-workers/internal/common/errors"
	"ledger-query-workers/internal/common/logger"
	"ledger-query-workers/internal/common/metrics"
	"ledger-query-workers/internal/ledger"
	"ledger-query-workers/internal/parser"
	"ledger-query-workers/internal/registry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

type Mode string

const (
	ModeSnapshot       Mode = "snapshot"
	ModeServerAssisted Mode = "server_assisted"
)

const defaultFetchTimeout = 10 * time.Minute

// Provenance records how a result was produced.
type Provenance struct {
	Mode                Mode         `json:"mode"`
	SourceIdentity      string       `json:"sourceIdentity"`
	SchemaVersion       int          `json:"schemaVersion"`
	SnapshotFetchedAt   *time.Time   `json:"snapshotFetchedAt,omitempty"`
	CacheHit            bool         `json:"cacheHit"`
	RemoteAttempted     bool         `json:"remoteAttempted"`
	RemoteAccepted      bool         `json:"remoteAccepted"`
	FallbackReason      string       `json:"fallbackReason,omitempty"`
	SpotCheckSampleRows int          `json:"spotCheckSampleRows,omitempty"`
	FilterParams        FilterParams `json:"filterParams"`
	RetrievedAt         time.Time    `json:"retrievedAt"`
	RequestID           string       `json:"requestId"`
}

type Result struct {
	Query      *parser.ParsedQuery `json:"parsedQuery"`
	Rows       []ledger.Row        `json:"rows"`
	RowCount   int                 `json:"rowCount"`
	Total      decimal.Decimal     `json:"total"`
	Truncated  bool                `json:"truncated,omitempty"`
	Provenance Provenance          `json:"provenance"`
	Warnings   []string            `json:"warnings,omitempty"`
	Cost       Cost                `json:"cost"`
}

// StatsProvider supplies registry statistics for cost estimation.
type StatsProvider interface {
	Current() *registry.State
}

type Options struct {
	SourceIdentity     string
	SchemaVersion      int
	Columns            ledger.Columns
	RemoteFiltering    bool
	SpotCheckPages     int
	SpotCheckTolerance float64
	FetchTimeout       time.Duration
	MaxOutputRows      int
}

// Coordinator answers queries from the cached unfiltered snapshot, or from a
// server-filtered result that passed the spot check.
type Coordinator struct {
	opts      Options
	fetcher   *PagedFetcher
	cache     *SnapshotCache
	estimator CostEstimator
	stats     StatsProvider
	alerter   alerts.Publisher
	logger    logger.Logger
	now       func() time.Time

	group singleflight.Group
}

func NewCoordinator(opts Options, fetcher *PagedFetcher, cache *SnapshotCache, stats StatsProvider, alerter alerts.Publisher, log logger.Logger) *Coordinator {
	if opts.SpotCheckPages <= 0 {
		opts.SpotCheckPages = 2
	}
	if opts.SpotCheckTolerance < 0 {
		opts.SpotCheckTolerance = 0
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if alerter == nil {
		alerter = alerts.Nop{}
	}
	return &Coordinator{
		opts:    opts,
		fetcher: fetcher,
		cache:   cache,
		stats:   stats,
		alerter: alerter,
		logger: log.With(map[string]interface{}{
			"component": "retrieval-coordinator",
			"source":    opts.SourceIdentity,
		}),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// FullSnapshot returns the complete unfiltered snapshot, from cache or from
// one shared fetch. The fetch runs detached from ctx: a caller giving up
// leaves it running for the others and for the cache.
func (c *Coordinator) FullSnapshot(ctx context.Context) (*ledger.Snapshot, error) {
	if snap, ok := c.cache.Get(ctx, c.opts.SourceIdentity, c.opts.SchemaVersion); ok {
		return snap, nil
	}
	return c.sharedFetch(ctx)
}

// FreshSnapshot fetches the snapshot from the ledger without consulting the
// cache and replaces the cached copy with it. It joins an in-flight fetch
// for the same source instead of starting a second one.
func (c *Coordinator) FreshSnapshot(ctx context.Context) (*ledger.Snapshot, error) {
	return c.fetchShared(ctx, true)
}

// Invalidate drops the cached snapshot so the next request refetches.
func (c *Coordinator) Invalidate(ctx context.Context) {
	c.cache.Invalidate(ctx, c.opts.SourceIdentity, c.opts.SchemaVersion)
}

func (c *Coordinator) sharedFetch(ctx context.Context) (*ledger.Snapshot, error) {
	return c.fetchShared(ctx, false)
}

func (c *Coordinator) fetchShared(ctx context.Context, bypassCache bool) (*ledger.Snapshot, error) {
	ch := c.group.DoChan(c.opts.SourceIdentity, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.FetchTimeout)
		defer cancel()
		// a flight that just finished may have filled the cache
		if !bypassCache {
			if snap, ok := c.cache.Get(fetchCtx, c.opts.SourceIdentity, c.opts.SchemaVersion); ok {
				return snap, nil
			}
		}
		return c.fetchSnapshot(fetchCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ledger.Snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) fetchSnapshot(ctx context.Context) (*ledger.Snapshot, error) {
	start := c.now()
	res, err := c.fetcher.FetchAll(ctx, nil)
	if err != nil {
		metrics.SnapshotFetches.WithLabelValues(c.opts.SourceIdentity, "failed").Inc()
		c.logger.Error("snapshot fetch failed", map[string]interface{}{"error": err})
		return nil, apperrors.NewSnapshotFetchFailedError(c.opts.SourceIdentity, err)
	}
	snap := &ledger.Snapshot{
		SourceIdentity: c.opts.SourceIdentity,
		SchemaVersion:  c.opts.SchemaVersion,
		FetchedAt:      c.now(),
		RowCount:       len(res.Rows),
		SourceTotal:    res.TotalCount,
		Columns:        res.Columns,
		Rows:           res.Rows,
	}
	if !snap.Complete() {
		metrics.SnapshotFetches.WithLabelValues(c.opts.SourceIdentity, "incomplete").Inc()
		return nil, apperrors.NewSnapshotFetchFailedError(c.opts.SourceIdentity,
			fmt.Errorf("got %d of %d rows", len(res.Rows), res.TotalCount))
	}
	c.cache.Put(ctx, snap)
	metrics.SnapshotFetches.WithLabelValues(c.opts.SourceIdentity, "ok").Inc()
	c.logger.Info("snapshot fetched", map[string]interface{}{
		"rows":       snap.RowCount,
		"pages":      res.TotalPages,
		"durationMs": c.now().Sub(start).Milliseconds(),
	})
	return snap, nil
}

// Retrieve returns the rows and exact total for q. The answer is the same
// whether it came from cache, a fresh fetch or a verified remote filter.
func (c *Coordinator) Retrieve(ctx context.Context, q *parser.ParsedQuery) (*Result, error) {
	if q == nil {
		return nil, apperrors.NewInvalidJobInputError("parsed query is required")
	}
	params := BuildFilterParams(q)
	prov := Provenance{
		SourceIdentity: c.opts.SourceIdentity,
		SchemaVersion:  c.opts.SchemaVersion,
		FilterParams:   params,
		RequestID:      uuid.NewString(),
	}
	cost := c.estimator.Estimate(params, c.registryStats())
	warnings := append([]string(nil), cost.Warnings...)

	if snap, ok := c.cache.Get(ctx, c.opts.SourceIdentity, c.opts.SchemaVersion); ok {
		prov.Mode = ModeSnapshot
		prov.CacheHit = true
		return c.fromSnapshot(ctx, q, snap, params, prov, warnings, cost)
	}

	if c.opts.RemoteFiltering && (params.HasPeriod() || params.HasEntityFilter()) {
		prov.RemoteAttempted = true
		rows, columns, sampleRows, reason, err := c.tryRemote(ctx, params)
		if err != nil {
			return nil, err
		}
		prov.SpotCheckSampleRows = sampleRows
		if reason == "" {
			if err := CheckSchema(columns, RequiredColumns(params, c.opts.Columns)); err != nil {
				c.alertSchemaDrift(ctx, err)
				return nil, err
			}
			prov.Mode = ModeServerAssisted
			prov.RemoteAccepted = true
			return c.finish(q, Filter(rows, params, c.opts.Columns), prov, warnings, cost)
		}
		prov.FallbackReason = reason
		warnings = append(warnings, "server-side filtering was not used ("+reason+"); the answer was computed from the full ledger")
	}

	snap, err := c.sharedFetch(ctx)
	if err != nil {
		return nil, err
	}
	prov.Mode = ModeSnapshot
	return c.fromSnapshot(ctx, q, snap, params, prov, warnings, cost)
}

func (c *Coordinator) fromSnapshot(ctx context.Context, q *parser.ParsedQuery, snap *ledger.Snapshot, params FilterParams, prov Provenance, warnings []string, cost Cost) (*Result, error) {
	if err := CheckSchema(snap.Columns, RequiredColumns(params, c.opts.Columns)); err != nil {
		c.alertSchemaDrift(ctx, err)
		return nil, err
	}
	fetched := snap.FetchedAt
	prov.SnapshotFetchedAt = &fetched
	return c.finish(q, Filter(snap.Rows, params, c.opts.Columns), prov, warnings, cost)
}

func (c *Coordinator) finish(q *parser.ParsedQuery, rows []ledger.Row, prov Provenance, warnings []string, cost Cost) (*Result, error) {
	total, err := Total(rows, c.opts.Columns.Amount)
	if err != nil {
		return nil, err
	}
	prov.RetrievedAt = c.now()
	res := &Result{
		Query:      q,
		Rows:       rows,
		RowCount:   len(rows),
		Total:      total,
		Provenance: prov,
		Warnings:   warnings,
		Cost:       cost,
	}
	if c.opts.MaxOutputRows > 0 && len(rows) > c.opts.MaxOutputRows {
		res.Rows = rows[:c.opts.MaxOutputRows]
		res.Truncated = true
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"%d rows matched; only the first %d are included, the total covers all of them", len(rows), c.opts.MaxOutputRows))
	}
	res.Rows = copyRows(res.Rows)
	c.logger.Info("rows retrieved", map[string]interface{}{
		"requestId": prov.RequestID,
		"mode":      prov.Mode,
		"cacheHit":  prov.CacheHit,
		"rows":      res.RowCount,
		"total":     total.String(),
		"fallback":  prov.FallbackReason,
	})
	return res, nil
}

// copyRows detaches output rows from the cached snapshot they were
// filtered from.
func copyRows(rows []ledger.Row) []ledger.Row {
	if rows == nil {
		return nil
	}
	out := make([]ledger.Row, len(rows))
	for i, r := range rows {
		out[i] = maps.Clone(r)
	}
	return out
}

func (c *Coordinator) registryStats() *registry.Stats {
	if c.stats == nil {
		return nil
	}
	st := c.stats.Current()
	if st == nil || st.IsEmpty() {
		return nil
	}
	s := st.Stats(c.now())
	return &s
}

func (c *Coordinator) alertSchemaDrift(ctx context.Context, err error) {
	c.logger.Error("source schema drift", map[string]interface{}{"error": err})
	details := err.Error()
	if se, ok := apperrors.AsStandard(err); ok {
		details = se.Details
	}
	a := alerts.Newf(alerts.KindSchemaDrift, "Ledger source columns missing", "source %s: %s", c.opts.SourceIdentity, details)
	if perr := c.alerter.Publish(ctx, a); perr != nil {
		c.logger.Warn("alert not delivered", map[string]interface{}{"kind": string(a.Kind), "error": perr})
	}
}
