// Package pipeline runs a question through the parser and the retrieval
// coordinator, keeping the entity registry warm and recording an audit trail.
package pipeline

import (
	"context"
	"time"

	"ledger-query-workers/internal/audit"
	apperrors "ledger-query-workers/internal/common/errors"
	"ledger-query-workers/internal/common/logger"
	"ledger-query-workers/internal/common/observability"
	"ledger-query-workers/internal/parser"
	"ledger-query-workers/internal/registry"
	"ledger-query-workers/internal/retrieval"

	"github.com/google/uuid"
)

const auditTimeout = 5 * time.Second

// Audit record statuses.
const (
	StatusAnswered      = "answered"
	StatusClarification = "clarification"
	StatusFailed        = "failed"
)

type QueryParser interface {
	Parse(ctx context.Context, req parser.Request) (*parser.Result, error)
}

// Registry is the part of *registry.Manager the pipeline needs.
type Registry interface {
	Ensure(ctx context.Context) (*registry.State, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, q *parser.ParsedQuery) (*retrieval.Result, error)
}

// Answer is either a retrieval result or a clarification, never both.
type Answer struct {
	Status        parser.Status         `json:"status"`
	Clarification *parser.Clarification `json:"clarification,omitempty"`
	Result        *retrieval.Result     `json:"result,omitempty"`
}

type Service struct {
	parser    QueryParser
	registry  Registry
	retriever Retriever
	audit     audit.Sink
	obs       *observability.Observability
	logger    logger.Logger
}

func NewService(p QueryParser, reg Registry, r Retriever, sink audit.Sink, obs *observability.Observability, log logger.Logger) *Service {
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Service{
		parser:    p,
		registry:  reg,
		retriever: r,
		audit:     sink,
		obs:       obs,
		logger:    log.With(map[string]interface{}{"component": "pipeline"}),
	}
}

// Parse makes sure the registry is usable, then parses the question. A cold
// registry blocks until its first build; a stale one is used as is.
func (s *Service) Parse(ctx context.Context, req parser.Request) (*parser.Result, error) {
	start := time.Now()
	if s.registry != nil {
		if _, err := s.registry.Ensure(ctx); err != nil {
			s.obs.RecordStage(ctx, "parse", "registry_unavailable", time.Since(start))
			return nil, err
		}
	}

	res, err := s.parser.Parse(ctx, req)
	if err != nil {
		s.obs.RecordStage(ctx, "parse", outcome(err), time.Since(start))
		return nil, err
	}
	s.obs.RecordStage(ctx, "parse", string(res.Status), time.Since(start))

	if res.Status == parser.StatusClarification {
		s.record(ctx, audit.Record{
			RequestID:  uuid.NewString(),
			Question:   req.Text,
			AsOf:       asOfString(req.AsOf),
			Status:     StatusClarification,
			DurationMs: time.Since(start).Milliseconds(),
			Warnings:   []string{res.Clarification.Message},
		})
	}
	return res, nil
}

// Retrieve fetches the rows and total for an already parsed query.
func (s *Service) Retrieve(ctx context.Context, q *parser.ParsedQuery) (*retrieval.Result, error) {
	start := time.Now()
	res, err := s.retriever.Retrieve(ctx, q)
	elapsed := time.Since(start)

	rec := audit.Record{DurationMs: elapsed.Milliseconds()}
	if q != nil {
		rec.Question = q.OriginalText
		rec.AsOf = q.AsOf
		rec.Intent = string(q.Intent)
	}
	if err != nil {
		s.obs.RecordStage(ctx, "retrieve", outcome(err), elapsed)
		rec.RequestID = uuid.NewString()
		rec.Status = StatusFailed
		if se, ok := apperrors.AsStandard(err); ok {
			rec.ErrorCode = string(se.Code)
		}
		s.record(ctx, rec)
		return nil, err
	}

	s.obs.RecordStage(ctx, "retrieve", string(res.Provenance.Mode), elapsed)
	s.obs.RecordRetrieval(ctx, string(res.Provenance.Mode), res.RowCount)

	prov := res.Provenance
	rec.RequestID = prov.RequestID
	rec.Status = StatusAnswered
	rec.RowCount = res.RowCount
	rec.Total = res.Total.String()
	rec.Warnings = res.Warnings
	rec.Provenance = &prov
	s.record(ctx, rec)
	return res, nil
}

// Answer parses and, unless a clarification is needed, retrieves.
func (s *Service) Answer(ctx context.Context, req parser.Request) (*Answer, error) {
	parsed, err := s.Parse(ctx, req)
	if err != nil {
		return nil, err
	}
	if parsed.Status == parser.StatusClarification {
		return &Answer{Status: parsed.Status, Clarification: parsed.Clarification}, nil
	}
	res, err := s.Retrieve(ctx, parsed.Query)
	if err != nil {
		return nil, err
	}
	return &Answer{Status: parsed.Status, Result: res}, nil
}

// record never fails the request; the trail is best effort.
func (s *Service) record(ctx context.Context, rec audit.Record) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := s.audit.Record(actx, rec); err != nil {
		s.logger.Warn("audit record not written", map[string]interface{}{
			"requestId": rec.RequestID,
			"error":     err,
		})
	}
}

func outcome(err error) string {
	if se, ok := apperrors.AsStandard(err); ok {
		return string(se.Code)
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return "cancelled"
	}
	return "error"
}

func asOfString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
