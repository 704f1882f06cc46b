package audit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"ledger-query-workers/internal/common/config"
	"ledger-query-workers/internal/common/database"
	apperrors "ledger-query-workers/internal/common/errors"
	"ledger-query-workers/internal/common/logger"
	"ledger-query-workers/internal/retrieval"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeES struct {
	mu      sync.Mutex
	docs    map[string]map[string]interface{}
	creates int
	fail    bool
}

func newFakeES(t *testing.T) (*fakeES, *database.ElasticsearchClient) {
	t.Helper()
	f := &fakeES{docs: map[string]map[string]interface{}{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")

		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case r.Method == http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPut && !strings.Contains(r.URL.Path, "/_doc"):
			f.creates++
			_, _ = w.Write([]byte(`{"acknowledged":true}`))
		case strings.Contains(r.URL.Path, "/_doc"):
			if f.fail {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"error":"cluster_block_exception"}`))
				return
			}
			body, _ := io.ReadAll(r.Body)
			var doc map[string]interface{}
			_ = json.Unmarshal(body, &doc)
			id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
			f.docs[id] = doc
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"result":"created"}`))
		default:
			_, _ = w.Write([]byte(`{"version":{"number":"8.11.0"}}`))
		}
	}))
	t.Cleanup(srv.Close)

	client, err := database.NewElasticsearch(config.ElasticsearchConfig{URL: srv.URL})
	require.NoError(t, err)
	return f, client
}

func TestElasticsearchSink_EnsureIndex(t *testing.T) {
	f, es := newFakeES(t)
	sink := NewElasticsearchSink(es, "", logger.NewTestLogger(t))

	require.NoError(t, sink.EnsureIndex(context.Background()))
	assert.Equal(t, 1, f.creates)
	assert.Equal(t, DefaultIndex, sink.index)
}

func TestElasticsearchSink_Record(t *testing.T) {
	f, es := newFakeES(t)
	sink := NewElasticsearchSink(es, "prov", logger.NewTestLogger(t))

	err := sink.Record(context.Background(), Record{
		RequestID: "req-1",
		Question:  "total S&M expense for SDR for the current fiscal year",
		Status:    "answered",
		RowCount:  20,
		Total:     "605137.5",
		Provenance: &retrieval.Provenance{
			Mode:            retrieval.ModeSnapshot,
			SourceIdentity:  "gl",
			RemoteAttempted: true,
			FallbackReason:  "filtered result failed the spot check",
		},
	})
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs["req-1"]
	require.True(t, ok)
	assert.Equal(t, "answered", doc["status"])
	assert.EqualValues(t, 20, doc["rowCount"])
	assert.NotEmpty(t, doc["recordedAt"])
	prov := doc["provenance"].(map[string]interface{})
	assert.Equal(t, "snapshot", prov["mode"])
	assert.Equal(t, true, prov["remoteAttempted"])
}

func TestElasticsearchSink_RecordFailure(t *testing.T) {
	f, es := newFakeES(t)
	f.fail = true
	sink := NewElasticsearchSink(es, "prov", logger.NewTestLogger(t))

	err := sink.Record(context.Background(), Record{RequestID: "req-2", Status: "failed"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeAuditIndexFailed))
	se, ok := apperrors.AsStandard(err)
	require.True(t, ok)
	assert.Contains(t, se.Details, "503")
}
