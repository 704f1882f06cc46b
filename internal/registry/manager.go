package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ledger-query-workers/internal/alerts"
	apperrors "ledger-query-workers/internal/common/errors"
	"ledger-query-workers/internal/common/logger"
	"ledger-query-workers/internal/common/metrics"
	"ledger-query-workers/internal/ledger"

	"golang.org/x/sync/singleflight"
)

const (
	rebuildKey      = "rebuild"
	freshRebuildKey = "rebuild-fresh"
)

// SnapshotSource supplies the complete unfiltered snapshot. FullSnapshot may
// answer from a cache; FreshSnapshot always reads the ledger.
type SnapshotSource interface {
	FullSnapshot(ctx context.Context) (*ledger.Snapshot, error)
	FreshSnapshot(ctx context.Context) (*ledger.Snapshot, error)
}

type ManagerOptions struct {
	Columns             ledger.Columns
	SchemaVersion       int
	TTL                 time.Duration
	MaxDegradedFraction float64
	MinSourceRatio      float64
	AmbiguityBand       float64
	BuildTimeout        time.Duration
}

// Manager owns the process-wide registry state. Readers get an immutable
// *State; rebuilds are single-flighted and swap the pointer when done.
type Manager struct {
	opts    ManagerOptions
	source  SnapshotSource
	store   Store
	alerter alerts.Publisher
	logger  logger.Logger
	now     func() time.Time

	mu    sync.RWMutex
	state *State

	group      singleflight.Group
	buildMu    sync.Mutex
	refreshing atomic.Bool
	wg         sync.WaitGroup
	closed     atomic.Bool
}

func NewManager(opts ManagerOptions, source SnapshotSource, store Store, alerter alerts.Publisher, log logger.Logger) *Manager {
	if opts.AmbiguityBand <= 0 {
		opts.AmbiguityBand = DefaultAmbiguityBand
	}
	if opts.BuildTimeout <= 0 {
		opts.BuildTimeout = 10 * time.Minute
	}
	if store == nil {
		store = NewMemoryStore(opts.SchemaVersion, opts.TTL)
	}
	if alerter == nil {
		alerter = alerts.Nop{}
	}
	return &Manager{
		opts:    opts,
		source:  source,
		store:   store,
		alerter: alerter,
		logger:  log.With(map[string]interface{}{"component": "entity-registry"}),
		now:     func() time.Time { return time.Now().UTC() },
		state:   NewEmptyState(opts.SchemaVersion, opts.TTL),
	}
}

// SetSource replaces the snapshot source. It must be called before Start
// when the source itself depends on the manager.
func (m *Manager) SetSource(source SnapshotSource) {
	m.source = source
}

// Start loads persisted state. A load failure is logged and the manager
// starts empty; the first Ensure then builds.
func (m *Manager) Start(ctx context.Context) error {
	st, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Warn("registry state load failed, starting empty", map[string]interface{}{"error": err})
		return nil
	}
	m.swap(st)
	m.logger.Info("registry state loaded", map[string]interface{}{
		"empty":   st.IsEmpty(),
		"builtAt": st.BuiltAt,
		"stale":   st.NeedsRefresh(m.now()),
	})
	return nil
}

// Close waits for background rebuilds.
func (m *Manager) Close() {
	m.closed.Store(true)
	m.wg.Wait()
}

// Current returns the live state.
func (m *Manager) Current() *State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// AmbiguityBand is the score gap within which readings count as tied.
func (m *Manager) AmbiguityBand() float64 {
	return m.opts.AmbiguityBand
}

// Lookup resolves term against the live state using the configured band.
func (m *Manager) Lookup(term string, t EntityType) Match {
	return m.Current().LookupWithBand(term, t, m.opts.AmbiguityBand)
}

// Ensure returns a usable state. An empty registry blocks on a rebuild; a
// stale one is returned as is while a rebuild runs in the background.
func (m *Manager) Ensure(ctx context.Context) (*State, error) {
	st := m.Current()
	if st.IsEmpty() {
		if _, err := m.rebuildAndWait(ctx, false); err != nil {
			if cur := m.Current(); !cur.IsEmpty() {
				return cur, nil
			}
			return nil, apperrors.NewRegistryUnavailableError(err)
		}
		return m.Current(), nil
	}
	if st.NeedsRefresh(m.now()) {
		m.refreshInBackground()
	}
	return st, nil
}

// Refresh forces a rebuild from a fresh snapshot. Concurrent calls share
// one build.
func (m *Manager) Refresh(ctx context.Context) (Stats, error) {
	st, err := m.rebuildAndWait(ctx, true)
	if err != nil {
		return m.Current().Stats(m.now()), err
	}
	return st.Stats(m.now()), nil
}

func (m *Manager) refreshInBackground() {
	if m.closed.Load() || !m.refreshing.CompareAndSwap(false, true) {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.refreshing.Store(false)
		if _, err := m.rebuildAndWait(context.Background(), true); err != nil {
			m.logger.Warn("background registry refresh failed, serving stale state", map[string]interface{}{"error": err})
		}
	}()
}

// rebuildAndWait joins the in-flight rebuild of the same kind or starts one.
// The build runs detached from ctx so a caller giving up never cancels it
// for the others. A fresh rebuild never joins a cached one, so a forced
// refresh always reads the ledger.
func (m *Manager) rebuildAndWait(ctx context.Context, fresh bool) (*State, error) {
	key := rebuildKey
	if fresh {
		key = freshRebuildKey
	}
	ch := m.group.DoChan(key, func() (interface{}, error) {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.BuildTimeout)
		defer cancel()
		return m.rebuild(buildCtx, fresh)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*State), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// rebuild builds and swaps in a new state. Builds are serialized so the
// last one to finish is built from the newest snapshot.
func (m *Manager) rebuild(ctx context.Context, fresh bool) (*State, error) {
	m.buildMu.Lock()
	defer m.buildMu.Unlock()

	start := m.now()
	prev := m.Current()

	fetch := m.source.FullSnapshot
	if fresh {
		fetch = m.source.FreshSnapshot
	}
	snap, err := fetch(ctx)
	if err != nil {
		metrics.RegistryRebuilds.WithLabelValues("failed").Inc()
		m.logger.Error("registry rebuild: snapshot fetch failed", map[string]interface{}{"error": err})
		return nil, err
	}

	st, err := Build(snap, BuildOptions{
		Columns:             m.opts.Columns,
		SchemaVersion:       m.opts.SchemaVersion,
		TTL:                 m.opts.TTL,
		MaxDegradedFraction: m.opts.MaxDegradedFraction,
		MinSourceRatio:      m.opts.MinSourceRatio,
		Previous:            prev,
		Now:                 m.now(),
	})
	if err != nil {
		outcome := "failed"
		kind := alerts.KindRegistryRejected
		switch {
		case apperrors.IsCode(err, apperrors.ErrCodeRegistryBuildDegraded):
			outcome = "degraded"
			kind = alerts.KindRegistryDegraded
		case apperrors.IsCode(err, apperrors.ErrCodeRegistrySourceInvalid):
			outcome = "rejected"
		case apperrors.IsCode(err, apperrors.ErrCodeSchemaDrift):
			outcome = "rejected"
			kind = alerts.KindSchemaDrift
		}
		metrics.RegistryRebuilds.WithLabelValues(outcome).Inc()
		m.logger.Error("registry rebuild rejected, keeping previous state", map[string]interface{}{
			"error":      err,
			"sourceRows": snap.RowCount,
		})
		m.alert(ctx, alerts.Newf(kind, "Entity registry rebuild rejected", "source %s: %v", snap.SourceIdentity, err))
		return nil, err
	}

	if st.Degraded {
		metrics.RegistryRebuilds.WithLabelValues("degraded").Inc()
		m.logger.Warn("registry built with extraction failures", map[string]interface{}{
			"failedRows": st.FailedRows,
			"totalRows":  snap.RowCount,
		})
		m.alert(ctx, alerts.Newf(alerts.KindRegistryDegraded, "Entity registry built degraded",
			"source %s: %d of %d rows could not be read", snap.SourceIdentity, st.FailedRows, snap.RowCount))
	} else {
		metrics.RegistryRebuilds.WithLabelValues("ok").Inc()
	}

	m.swap(st)

	if err := m.store.Save(ctx, st); err != nil {
		m.logger.Warn("registry state not persisted", map[string]interface{}{"error": err})
	}

	stats := st.Stats(m.now())
	for t, n := range stats.Counts {
		metrics.RegistryEntries.WithLabelValues(string(t)).Set(float64(n))
	}
	m.logger.Info("registry rebuilt", map[string]interface{}{
		"counts":     stats.Counts,
		"sourceRows": st.SourceRowCount,
		"degraded":   st.Degraded,
		"durationMs": m.now().Sub(start).Milliseconds(),
	})
	return st, nil
}

func (m *Manager) swap(st *State) {
	m.mu.Lock()
	m.state = st
	m.mu.Unlock()
}

func (m *Manager) alert(ctx context.Context, a alerts.Alert) {
	if err := m.alerter.Publish(ctx, a); err != nil {
		m.logger.Warn("alert not delivered", map[string]interface{}{"kind": string(a.Kind), "error": err})
	}
}
