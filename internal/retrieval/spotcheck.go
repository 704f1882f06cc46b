package retrieval

import (
	"context"
	"fmt"
	"strings"

	"ledger-query-workers/internal/alerts"
	apperrors "ledger-query-workers/internal/common/errors"
	"ledger-query-workers/internal/common/metrics"
	"ledger-query-workers/internal/ledger"

	"github.com/shopspring/decimal"
)

// Fallback reasons.
const (
	reasonUnsupported    = "filter unsupported by the ledger service"
	reasonRemoteError    = "filtered request failed"
	reasonFilterWarnings = "ledger service reported filter warnings"
	reasonSampleError    = "spot-check sample unavailable"
	reasonMismatch       = "filtered result failed the spot check"
)

// tryRemote asks the service to filter, then checks the answer against a
// locally filtered sample of the unfiltered stream. A non-empty reason means
// the remote result was discarded. err is returned only for caller
// cancellation.
func (c *Coordinator) tryRemote(ctx context.Context, params FilterParams) (rows []ledger.Row, columns []string, sampleRows int, reason string, err error) {
	remote, err := c.fetcher.FetchAll(ctx, params.QueryValues())
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, 0, "", ctx.Err()
		}
		if apperrors.IsCode(err, apperrors.ErrCodeFilterUnsupported) {
			metrics.RemoteFilterOutcomes.WithLabelValues("unsupported").Inc()
			c.logger.Info("remote filtering unsupported, using snapshot", map[string]interface{}{"error": err})
			return nil, nil, 0, reasonUnsupported, nil
		}
		metrics.RemoteFilterOutcomes.WithLabelValues("error").Inc()
		c.logger.Warn("remote filtering failed, using snapshot", map[string]interface{}{"error": err})
		return nil, nil, 0, reasonRemoteError, nil
	}
	if len(remote.Warnings) > 0 {
		metrics.RemoteFilterOutcomes.WithLabelValues("mismatch").Inc()
		c.logger.Warn("remote filter returned warnings, using snapshot", map[string]interface{}{"warnings": remote.Warnings})
		return nil, nil, 0, reasonFilterWarnings + ": " + strings.Join(remote.Warnings, "; "), nil
	}

	sample, err := c.fetcher.FetchSample(ctx, nil, c.opts.SpotCheckPages)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, 0, "", ctx.Err()
		}
		metrics.RemoteFilterOutcomes.WithLabelValues("error").Inc()
		c.logger.Warn("spot-check sample fetch failed, using snapshot", map[string]interface{}{"error": err})
		return nil, nil, 0, reasonSampleError, nil
	}

	if err := c.spotCheck(remote.Rows, sample, params); err != nil {
		metrics.RemoteFilterOutcomes.WithLabelValues("mismatch").Inc()
		c.logger.Error("remote filter result diverges from local filter", map[string]interface{}{
			"error":      err,
			"remoteRows": len(remote.Rows),
			"sampleRows": len(sample.Rows),
		})
		a := alerts.Newf(alerts.KindFilterMismatch, "Ledger server-side filter mismatch",
			"source %s: %v", c.opts.SourceIdentity, err)
		if perr := c.alerter.Publish(ctx, a); perr != nil {
			c.logger.Warn("alert not delivered", map[string]interface{}{"kind": string(a.Kind), "error": perr})
		}
		return nil, nil, len(sample.Rows), reasonMismatch, nil
	}

	metrics.RemoteFilterOutcomes.WithLabelValues("accepted").Inc()
	return remote.Rows, remote.Columns, len(sample.Rows), "", nil
}

// spotCheck verifies that every sampled row the local filter keeps is in
// the remote result with the same amount, within tolerance on the sum. When
// the sample is the whole stream the row counts must also agree.
func (c *Coordinator) spotCheck(remote []ledger.Row, sample *FetchResult, params FilterParams) error {
	cols := c.opts.Columns
	byKey := make(map[string]ledger.Row, len(remote))
	for _, r := range remote {
		if k := r.String(cols.RowKey); k != "" {
			byKey[k] = r
		}
	}

	expected := Filter(sample.Rows, params, cols)
	var matched []ledger.Row
	missing := 0
	for _, e := range expected {
		k := e.String(cols.RowKey)
		if k == "" {
			return apperrors.NewFilterMismatchError(fmt.Sprintf("sampled row has no %s", cols.RowKey))
		}
		r, ok := byKey[k]
		if !ok {
			missing++
			continue
		}
		matched = append(matched, r)
	}
	if missing > 0 {
		return apperrors.NewFilterMismatchError(fmt.Sprintf(
			"%d of %d sampled matching rows missing from the filtered result", missing, len(expected)))
	}

	want, err := Total(expected, cols.Amount)
	if err != nil {
		return err
	}
	got, err := Total(matched, cols.Amount)
	if err != nil {
		return err
	}
	if diverges(want, got, c.opts.SpotCheckTolerance) {
		return apperrors.NewFilterMismatchError(fmt.Sprintf("sampled total %s, filtered result %s", want, got))
	}

	if len(sample.Rows) == sample.TotalCount {
		if n := len(Filter(remote, params, cols)); n != len(expected) {
			return apperrors.NewFilterMismatchError(fmt.Sprintf(
				"filtered result has %d matching rows, full local filter has %d", n, len(expected)))
		}
	}
	return nil
}

// diverges compares relative to the larger magnitude, with a floor of one
// unit so tiny totals are not judged by rounding noise.
func diverges(want, got decimal.Decimal, tolerance float64) bool {
	diff := want.Sub(got).Abs()
	if diff.IsZero() {
		return false
	}
	scale := decimal.Max(want.Abs(), got.Abs(), decimal.NewFromInt(1))
	return diff.Div(scale).GreaterThan(decimal.NewFromFloat(tolerance))
}
