package retrieval

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"testing"
	"time"

	"ledger-query-workers/internal/alerts"
	apperrors "ledger-query-workers/internal/common/errors"
	"ledger-query-workers/internal/common/logger"
	"ledger-query-workers/internal/ledger"
	"ledger-query-workers/internal/ledger/ledgertest"
	"ledger-query-workers/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func honestFilter(rows []ledger.Row, q url.Values) ([]ledger.Row, []string) {
	return Filter(rows, ParseQueryValues(q), cols), nil
}

// narrowingFilter reproduces the incident: the service silently returns
// only part of the matching rows, with no warning.
func narrowingFilter(rows []ledger.Row, q url.Values) ([]ledger.Row, []string) {
	out, _ := honestFilter(rows, q)
	if len(out) > 2 {
		out = out[:2]
	}
	return out, nil
}

func warningFilter(rows []ledger.Row, q url.Values) ([]ledger.Row, []string) {
	out, _ := honestFilter(rows, q)
	return out, []string{"department filter applied to leaf names only"}
}

type coordinatorFixture struct {
	srv    *ledgertest.Server
	coord  *Coordinator
	alerts *alerts.Recorder
}

func newCoordinator(t *testing.T, remote bool, log logger.Logger) *coordinatorFixture {
	t.Helper()
	srv := newFixtureServer(t)
	rec := &alerts.Recorder{}
	coord := NewCoordinator(Options{
		SourceIdentity:     "gl",
		SchemaVersion:      1,
		Columns:            cols,
		RemoteFiltering:    remote,
		SpotCheckPages:     2,
		SpotCheckTolerance: 0.001,
	}, newFetcher(srv, log), NewSnapshotCache(time.Hour, nil, log), nil, rec, log)
	return &coordinatorFixture{srv: srv, coord: coord, alerts: rec}
}

func assertSDRAnswer(t *testing.T, res *Result) {
	t.Helper()
	assert.Equal(t, 20, res.RowCount)
	assert.True(t, sdrTotalFY.Equal(res.Total), "total %s", res.Total)
}

// ==========================
// Correctness invariant
// ==========================

func TestRetrieve_FallbackEquivalence(t *testing.T) {
	ctx := context.Background()

	local := newCoordinator(t, false, logger.NewTestLogger(t))
	fromSnapshot, err := local.coord.Retrieve(ctx, sdrQuery(t))
	require.NoError(t, err)
	assertSDRAnswer(t, fromSnapshot)
	assert.Equal(t, ModeSnapshot, fromSnapshot.Provenance.Mode)
	assert.False(t, fromSnapshot.Provenance.RemoteAttempted)

	assisted := newCoordinator(t, true, logger.NewTestLogger(t))
	assisted.srv.SetFilter(honestFilter)
	fromServer, err := assisted.coord.Retrieve(ctx, sdrQuery(t))
	require.NoError(t, err)
	assertSDRAnswer(t, fromServer)
	assert.Equal(t, ModeServerAssisted, fromServer.Provenance.Mode)
	assert.True(t, fromServer.Provenance.RemoteAccepted)
	assert.Positive(t, fromServer.Provenance.SpotCheckSampleRows)

	unsupported := newCoordinator(t, true, logger.NewTestLogger(t))
	fallback, err := unsupported.coord.Retrieve(ctx, sdrQuery(t))
	require.NoError(t, err)
	assertSDRAnswer(t, fallback)
	assert.True(t, fallback.Provenance.RemoteAttempted)
	assert.False(t, fallback.Provenance.RemoteAccepted)
	assert.Equal(t, reasonUnsupported, fallback.Provenance.FallbackReason)
	assert.NotEmpty(t, fallback.Warnings)

	assert.Equal(t, keys(fromSnapshot.Rows), keys(fromServer.Rows))
	assert.Equal(t, keys(fromSnapshot.Rows), keys(fallback.Rows))
}

func TestRetrieve_NarrowingServerIsDetected(t *testing.T) {
	f := newCoordinator(t, true, logger.NewTestLogger(t))
	f.srv.SetFilter(narrowingFilter)

	res, err := f.coord.Retrieve(context.Background(), sdrQuery(t))
	require.NoError(t, err)

	assertSDRAnswer(t, res)
	assert.Equal(t, ModeSnapshot, res.Provenance.Mode)
	assert.False(t, res.Provenance.RemoteAccepted)
	assert.Equal(t, reasonMismatch, res.Provenance.FallbackReason)
	assert.Contains(t, f.alerts.Kinds(), alerts.KindFilterMismatch)
}

func TestRetrieve_FilterWarningsDiscardRemoteResult(t *testing.T) {
	f := newCoordinator(t, true, logger.NewTestLogger(t))
	f.srv.SetFilter(warningFilter)

	res, err := f.coord.Retrieve(context.Background(), sdrQuery(t))
	require.NoError(t, err)

	assertSDRAnswer(t, res)
	assert.False(t, res.Provenance.RemoteAccepted)
	assert.Contains(t, res.Provenance.FallbackReason, reasonFilterWarnings)
}

func TestRetrieve_IdempotentAndCached(t *testing.T) {
	ctx := context.Background()
	f := newCoordinator(t, false, logger.NewTestLogger(t))

	first, err := f.coord.Retrieve(ctx, sdrQuery(t))
	require.NoError(t, err)
	second, err := f.coord.Retrieve(ctx, sdrQuery(t))
	require.NoError(t, err)

	assertSDRAnswer(t, first)
	assertSDRAnswer(t, second)
	assert.Equal(t, keys(first.Rows), keys(second.Rows))
	assert.False(t, first.Provenance.CacheHit)
	assert.True(t, second.Provenance.CacheHit)
	assert.NotEqual(t, first.Provenance.RequestID, second.Provenance.RequestID)

	unfiltered, _ := f.srv.Requests()
	assert.Equal(t, 5, unfiltered)
}

func TestRetrieve_ConcurrentCallersShareOneFetch(t *testing.T) {
	f := newCoordinator(t, false, logger.NewNoOpLogger())
	f.srv.SetDelay(20 * time.Millisecond)

	const callers = 10
	results := make([]*Result, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.coord.Retrieve(context.Background(), sdrQuery(t))
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assertSDRAnswer(t, results[i])
	}
	unfiltered, _ := f.srv.Requests()
	assert.Equal(t, 5, unfiltered)
}

func TestRetrieve_CallerLeavingDoesNotCancelSharedFetch(t *testing.T) {
	f := newCoordinator(t, false, logger.NewNoOpLogger())
	f.srv.SetDelay(30 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.coord.Retrieve(ctx, sdrQuery(t))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	snap, err := f.coord.FullSnapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Rows, len(ledgertest.Rows()))

	unfiltered, _ := f.srv.Requests()
	assert.Equal(t, 5, unfiltered)
}

func TestRetrieve_SnapshotIsolationUnderSwap(t *testing.T) {
	ctx := context.Background()
	f := newCoordinator(t, false, logger.NewNoOpLogger())
	params := BuildFilterParams(sdrQuery(t))

	old, err := f.coord.FullSnapshot(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap, err := f.coord.FullSnapshot(ctx)
				if err != nil {
					continue
				}
				assert.Equal(t, snap.RowCount, len(snap.Rows))
				Filter(snap.Rows, params, cols)
			}
		}()
	}

	f.srv.SetRows(ledgertest.Rows()[:121])
	f.coord.Invalidate(ctx)
	fresh, err := f.coord.FullSnapshot(ctx)
	close(stop)
	wg.Wait()
	require.NoError(t, err)

	assert.Len(t, fresh.Rows, 121)
	assert.Len(t, old.Rows, len(ledgertest.Rows()))
	assert.Equal(t, len(ledgertest.Rows()), old.RowCount)
	assert.Len(t, Filter(old.Rows, params, cols), 20)
}

// ==========================
// Fresh snapshots
// ==========================

func partnershipsRow() ledger.Row {
	return ledger.Row{
		"line_id":         "L99999",
		"department_name": "Sales & Marketing (Parent) : Partnerships",
		"account_number":  "53100",
		"account_name":    "Sales & Marketing : Advertising",
		"subsidiary":      "Acme Inc. (US)",
		"type":            "VendBill",
		"trandate":        "2025-11-15",
		"period_name":     "Nov 2025",
		"amount":          json.Number("1000.00"),
	}
}

func TestFreshSnapshot_ReplacesCachedSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newCoordinator(t, false, logger.NewNoOpLogger())

	_, err := f.coord.FullSnapshot(ctx)
	require.NoError(t, err)

	rows := append(ledgertest.Rows(), partnershipsRow())
	f.srv.SetRows(rows)

	cached, err := f.coord.FullSnapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, cached.Rows, len(ledgertest.Rows()))

	fresh, err := f.coord.FreshSnapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, fresh.Rows, len(rows))

	after, err := f.coord.FullSnapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, after.Rows, len(rows))
	assert.Equal(t, len(rows), after.RowCount)
}

func TestRetrieve_OutputRowsDoNotAliasSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newCoordinator(t, false, logger.NewNoOpLogger())

	first, err := f.coord.Retrieve(ctx, sdrQuery(t))
	require.NoError(t, err)
	require.NotEmpty(t, first.Rows)
	for _, r := range first.Rows {
		r["amount"] = json.Number("0")
		r["department_name"] = "changed"
	}

	second, err := f.coord.Retrieve(ctx, sdrQuery(t))
	require.NoError(t, err)
	assert.True(t, second.Provenance.CacheHit)
	assertSDRAnswer(t, second)
	for _, r := range second.Rows {
		assert.NotEqual(t, "changed", r["department_name"])
	}
}

func TestRegistryRefresh_PicksUpNewLedgerValues(t *testing.T) {
	ctx := context.Background()
	f := newCoordinator(t, false, logger.NewNoOpLogger())
	m := registry.NewManager(registry.ManagerOptions{
		Columns:             cols,
		SchemaVersion:       2,
		TTL:                 time.Hour,
		MaxDegradedFraction: 0.1,
		MinSourceRatio:      0.5,
	}, f.coord, nil, nil, logger.NewNoOpLogger())
	defer m.Close()

	_, err := m.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, m.Lookup("Partnerships", registry.EntityDepartment).Found())

	rows := append(ledgertest.Rows(), partnershipsRow())
	f.srv.SetRows(rows)

	stats, err := m.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(rows), stats.SourceRowCount)
	assert.True(t, m.Lookup("Partnerships", registry.EntityDepartment).Found())

	// retrieval sees the same replaced snapshot
	snap, err := f.coord.FullSnapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Rows, len(rows))
}

// ==========================
// Failures and limits
// ==========================

func TestRetrieve_SchemaDrift(t *testing.T) {
	f := newCoordinator(t, false, logger.NewTestLogger(t))
	f.srv.SetColumns([]string{"line_id", "account_number", "account_name", "trandate", "amount"})

	_, err := f.coord.Retrieve(context.Background(), sdrQuery(t))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeSchemaDrift))
	se, _ := apperrors.AsStandard(err)
	assert.Equal(t, []string{"department_name", "period_name"}, se.Metadata["missingColumns"])
	assert.Contains(t, f.alerts.Kinds(), alerts.KindSchemaDrift)
}

func TestRetrieve_TruncatesRowsButNotTotal(t *testing.T) {
	f := newCoordinator(t, false, logger.NewTestLogger(t))
	f.coord.opts.MaxOutputRows = 5

	res, err := f.coord.Retrieve(context.Background(), sdrQuery(t))
	require.NoError(t, err)

	assertSDRAnswer(t, res)
	assert.Len(t, res.Rows, 5)
	assert.True(t, res.Truncated)
}

func TestRetrieve_SnapshotFetchFailure(t *testing.T) {
	f := newCoordinator(t, false, logger.NewTestLogger(t))
	f.srv.FailPage(1, 10)

	_, err := f.coord.Retrieve(context.Background(), sdrQuery(t))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeSnapshotFetchFailed))
	assert.True(t, apperrors.IsRetryable(err))
}

type stateProvider struct{ st *registry.State }

func (p stateProvider) Current() *registry.State { return p.st }

func TestRetrieve_CostUsesRegistryStats(t *testing.T) {
	st, err := registry.Build(ledgertest.Snapshot("gl", ledgertest.Rows()), registry.BuildOptions{
		Columns:             cols,
		SchemaVersion:       1,
		TTL:                 time.Hour,
		MaxDegradedFraction: 0.1,
		MinSourceRatio:      0.5,
		Now:                 time.Now().UTC(),
	})
	require.NoError(t, err)

	f := newCoordinator(t, false, logger.NewTestLogger(t))
	f.coord.stats = stateProvider{st}

	res, err := f.coord.Retrieve(context.Background(), sdrQuery(t))
	require.NoError(t, err)
	assert.Equal(t, ComplexityLow, res.Cost.Complexity)
	assert.False(t, res.Cost.FullScan)
	assert.Empty(t, res.Cost.Warnings)
}
