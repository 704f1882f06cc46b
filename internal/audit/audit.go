// Package audit keeps a searchable trail of how each answer was produced.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"ledger-query-workers/internal/common/database"
	apperrors "ledger-query-workers/internal/common/errors"
	"ledger-query-workers/internal/common/logger"
	"ledger-query-workers/internal/retrieval"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const DefaultIndex = "ledger-query-provenance"

// filterParams is stored but not indexed.
const indexMapping = `{
  "mappings": {
    "properties": {
      "requestId":   {"type": "keyword"},
      "question":    {"type": "text"},
      "asOf":        {"type": "date", "format": "yyyy-MM-dd"},
      "status":      {"type": "keyword"},
      "intent":      {"type": "keyword"},
      "errorCode":   {"type": "keyword"},
      "rowCount":    {"type": "integer"},
      "total":       {"type": "keyword"},
      "durationMs":  {"type": "long"},
      "warnings":    {"type": "text"},
      "recordedAt":  {"type": "date"},
      "provenance": {
        "properties": {
          "mode":            {"type": "keyword"},
          "sourceIdentity":  {"type": "keyword"},
          "schemaVersion":   {"type": "integer"},
          "cacheHit":        {"type": "boolean"},
          "remoteAttempted": {"type": "boolean"},
          "remoteAccepted":  {"type": "boolean"},
          "fallbackReason":  {"type": "keyword"},
          "filterParams":    {"type": "object", "enabled": false}
        }
      }
    }
  }
}`

// Record is one audited pipeline run.
type Record struct {
	RequestID  string                `json:"requestId"`
	Question   string                `json:"question"`
	AsOf       string                `json:"asOf,omitempty"`
	Status     string                `json:"status"`
	Intent     string                `json:"intent,omitempty"`
	ErrorCode  string                `json:"errorCode,omitempty"`
	RowCount   int                   `json:"rowCount"`
	Total      string                `json:"total,omitempty"`
	DurationMs int64                 `json:"durationMs"`
	Warnings   []string              `json:"warnings,omitempty"`
	Provenance *retrieval.Provenance `json:"provenance,omitempty"`
	RecordedAt time.Time             `json:"recordedAt"`
}

type Sink interface {
	Record(ctx context.Context, rec Record) error
}

// Nop discards records.
type Nop struct{}

func (Nop) Record(context.Context, Record) error { return nil }

// ElasticsearchSink indexes records, one document per request ID.
type ElasticsearchSink struct {
	es     *database.ElasticsearchClient
	index  string
	logger logger.Logger
}

func NewElasticsearchSink(es *database.ElasticsearchClient, index string, log logger.Logger) *ElasticsearchSink {
	if index == "" {
		index = DefaultIndex
	}
	return &ElasticsearchSink{
		es:     es,
		index:  index,
		logger: log.With(map[string]interface{}{"component": "audit", "index": index}),
	}
}

// EnsureIndex creates the index with its mapping if it is missing.
func (s *ElasticsearchSink) EnsureIndex(ctx context.Context) error {
	return s.es.EnsureIndex(ctx, s.index, indexMapping)
}

func (s *ElasticsearchSink) Record(ctx context.Context, rec Record) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	client := s.es.Client
	opts := []func(*esapi.IndexRequest){
		client.Index.WithContext(ctx),
	}
	if rec.RequestID != "" {
		opts = append(opts, client.Index.WithDocumentID(rec.RequestID))
	}
	res, err := client.Index(s.index, bytes.NewReader(body), opts...)
	if err != nil {
		return apperrors.NewAuditIndexFailedError(s.index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return apperrors.NewAuditIndexFailedError(s.index,
			fmt.Errorf("%s: %s", res.Status(), bytes.TrimSpace(msg)))
	}
	s.logger.Debug("audit record indexed", map[string]interface{}{"requestId": rec.RequestID, "status": rec.Status})
	return nil
}
