package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "ledger-query-workers/internal/common/errors"
	commonhttp "ledger-query-workers/internal/common/http"
	"ledger-query-workers/internal/common/logger"
	"ledger-query-workers/internal/common/validation"

	"golang.org/x/time/rate"
)

const maxErrorBody = 2048

var pageSchema = validation.MustCompileJSON("ledger-page", `{
	"type": "object",
	"required": ["rows", "total_count", "total_pages", "column_names"],
	"properties": {
		"rows": {"type": "array", "items": {"type": "object"}},
		"total_count": {"type": "integer", "minimum": 0},
		"total_pages": {"type": "integer", "minimum": 0},
		"column_names": {"type": "array", "items": {"type": "string"}},
		"filter_warnings": {"type": "array", "items": {"type": "string"}}
	}
}`)

type Config struct {
	BaseURL           string
	APIKey            string
	Source            string
	PageSize          int
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Client fetches pages of one ledger source.
type Client struct {
	cfg     Config
	http    *commonhttp.Client
	limiter *rate.Limiter
	logger  logger.Logger
}

func NewClient(cfg Config, log logger.Logger) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	hc := commonhttp.NewClient(cfg.Timeout).
		WithHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		hc.WithHeader("Authorization", "Bearer "+cfg.APIKey)
	}

	return &Client{
		cfg:     cfg,
		http:    hc,
		limiter: rate.NewLimiter(limit, burst),
		logger: log.With(map[string]interface{}{
			"component": "ledger-client",
			"source":    cfg.Source,
		}),
	}
}

func (c *Client) Source() string { return c.cfg.Source }

func (c *Client) PageSize() int { return c.cfg.PageSize }

// FetchPage requests one page. filters may be nil for the unfiltered stream.
func (c *Client) FetchPage(ctx context.Context, page int, filters url.Values) (*Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := c.pageURL(page, filters)
	start := time.Now()
	resp, err := c.http.Get(ctx, endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.NewTransientServiceError("ledger", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.NewTransientServiceError("ledger", fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp.StatusCode, body, len(filters) > 0)
	}

	if res := pageSchema.ValidateBytes(body); !res.Valid {
		return nil, apperrors.NewLedgerResponseInvalidError(strings.Join(res.GetErrorMessages(), "; "))
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var p Page
	if err := dec.Decode(&p); err != nil {
		return nil, apperrors.NewLedgerResponseInvalidError(err.Error())
	}

	c.logger.Debug("ledger page fetched", map[string]interface{}{
		"page":       page,
		"rows":       len(p.Rows),
		"totalPages": p.TotalPages,
		"filtered":   len(filters) > 0,
		"durationMs": time.Since(start).Milliseconds(),
	})
	return &p, nil
}

func (c *Client) pageURL(page int, filters url.Values) string {
	q := url.Values{}
	for k, vs := range filters {
		q[k] = append([]string(nil), vs...)
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(c.cfg.PageSize))
	return fmt.Sprintf("%s/sources/%s/rows?%s",
		strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(c.cfg.Source), q.Encode())
}

func (c *Client) statusError(status int, body []byte, filtered bool) error {
	text := string(body)
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}

	switch {
	case status == http.StatusNotImplemented && filtered,
		status == http.StatusBadRequest && filtered && strings.Contains(text, "filter_unsupported"):
		return apperrors.NewFilterUnsupportedError(fmt.Sprintf("status %d: %s", status, text))
	case status == http.StatusTooManyRequests, status >= 500:
		return apperrors.NewTransientServiceError("ledger", fmt.Errorf("status %d: %s", status, text))
	default:
		return apperrors.NewLedgerRequestRejectedError(status, text)
	}
}

// IsTransient reports whether err is worth retrying at the page level. A
// truncated or garbled page counts. Caller cancellation is returned
// unwrapped and never does.
func IsTransient(err error) bool {
	return apperrors.IsCode(err, apperrors.ErrCodeTransientService) ||
		apperrors.IsCode(err, apperrors.ErrCodeLedgerResponseInvalid)
}
