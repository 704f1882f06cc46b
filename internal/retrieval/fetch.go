package retrieval

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	apperrors "ledger-query-workers/internal/common/errors"
	"ledger-query-workers/internal/common/logger"
	"ledger-query-workers/internal/common/metrics"
	"ledger-query-workers/internal/ledger"

	"golang.org/x/sync/errgroup"
)

// PageClient is the part of *ledger.Client the fetcher uses.
type PageClient interface {
	Source() string
	PageSize() int
	FetchPage(ctx context.Context, page int, filters url.Values) (*ledger.Page, error)
}

type FetchOptions struct {
	Parallelism int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// FetchResult is every row of one (filtered or unfiltered) page stream.
type FetchResult struct {
	Rows       []ledger.Row
	TotalCount int
	TotalPages int
	Columns    []string
	Warnings   []string
}

// PagedFetcher reads a page stream with bounded parallelism. A page is a
// pure function of (source, page, pageSize, filters), so retrying one is
// always safe.
type PagedFetcher struct {
	client PageClient
	opts   FetchOptions
	logger logger.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewPagedFetcher(client PageClient, opts FetchOptions, log logger.Logger) *PagedFetcher {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 200 * time.Millisecond
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 5 * time.Second
	}
	return &PagedFetcher{
		client: client,
		opts:   opts,
		logger: log.With(map[string]interface{}{"component": "paged-fetcher", "source": client.Source()}),
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FetchAll reads every page. filters nil means the unfiltered stream.
func (f *PagedFetcher) FetchAll(ctx context.Context, filters url.Values) (*FetchResult, error) {
	first, err := f.fetchWithRetry(ctx, 0, filters)
	if err != nil {
		return nil, err
	}
	pages := make([]int, 0, first.TotalPages)
	for i := 1; i < first.TotalPages; i++ {
		pages = append(pages, i)
	}
	res, err := f.collect(ctx, first, pages, filters)
	if err != nil {
		return nil, err
	}
	if len(res.Rows) != first.TotalCount {
		return nil, apperrors.NewLedgerResponseInvalidError(fmt.Sprintf(
			"source %s returned %d rows but reported %d", f.client.Source(), len(res.Rows), first.TotalCount))
	}
	return res, nil
}

// FetchSample reads up to n pages of a stream, spread evenly from the first
// page to the last, so a time-ordered source is sampled across its whole
// range.
func (f *PagedFetcher) FetchSample(ctx context.Context, filters url.Values, n int) (*FetchResult, error) {
	first, err := f.fetchWithRetry(ctx, 0, filters)
	if err != nil {
		return nil, err
	}
	return f.collect(ctx, first, samplePages(first.TotalPages, n), filters)
}

// samplePages picks n distinct page indexes in [1, total) spread evenly and
// always including the last page; page 0 is already fetched.
func samplePages(total, n int) []int {
	if total <= 1 || n <= 1 {
		return nil
	}
	if n >= total {
		out := make([]int, 0, total-1)
		for i := 1; i < total; i++ {
			out = append(out, i)
		}
		return out
	}
	seen := map[int]bool{0: true}
	var out []int
	for i := 1; i < n; i++ {
		p := i * (total - 1) / (n - 1)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func (f *PagedFetcher) collect(ctx context.Context, first *ledger.Page, pages []int, filters url.Values) (*FetchResult, error) {
	results := make([]*ledger.Page, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Parallelism)
	for i, page := range pages {
		i, page := i, page
		g.Go(func() error {
			p, err := f.fetchWithRetry(gctx, page, filters)
			if err != nil {
				return err
			}
			results[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &FetchResult{
		TotalCount: first.TotalCount,
		TotalPages: first.TotalPages,
		Columns:    first.ColumnNames,
	}
	warnings := newWarningSet()
	res.Rows = append(res.Rows, first.Rows...)
	warnings.add(first.FilterWarnings...)
	for i, p := range results {
		if p.TotalCount != first.TotalCount {
			return nil, apperrors.NewLedgerResponseInvalidError(fmt.Sprintf(
				"page %d reported %d rows, page 0 reported %d", pages[i], p.TotalCount, first.TotalCount))
		}
		res.Rows = append(res.Rows, p.Rows...)
		warnings.add(p.FilterWarnings...)
	}
	res.Warnings = warnings.list()
	return res, nil
}

func (f *PagedFetcher) fetchWithRetry(ctx context.Context, page int, filters url.Values) (*ledger.Page, error) {
	var lastErr error
	for attempt := 1; attempt <= f.opts.MaxAttempts; attempt++ {
		p, err := f.client.FetchPage(ctx, page, filters)
		if err == nil {
			return p, nil
		}
		lastErr = err
		if !ledger.IsTransient(err) || attempt == f.opts.MaxAttempts {
			break
		}
		metrics.PageRetries.WithLabelValues(f.client.Source()).Inc()
		delay := f.backoff(attempt)
		f.logger.Warn("page fetch failed, retrying", map[string]interface{}{
			"page":    page,
			"attempt": attempt,
			"delayMs": delay.Milliseconds(),
			"error":   err,
		})
		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (f *PagedFetcher) backoff(attempt int) time.Duration {
	d := f.opts.BackoffBase << (attempt - 1)
	if d <= 0 || d > f.opts.BackoffMax {
		return f.opts.BackoffMax
	}
	return d
}

type warningSet struct {
	mu   sync.Mutex
	seen map[string]bool
	out  []string
}

func newWarningSet() *warningSet { return &warningSet{seen: map[string]bool{}} }

func (w *warningSet) add(msgs ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range msgs {
		if m != "" && !w.seen[m] {
			w.seen[m] = true
			w.out = append(w.out, m)
		}
	}
}

func (w *warningSet) list() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.out...)
}
