package retrieveledgerrows

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	apperrors "ledger-query-workers/internal/common/errors"
	"ledger-query-workers/internal/common/logger"
	"ledger-query-workers/internal/fiscal"
	"ledger-query-workers/internal/ledger"
	"ledger-query-workers/internal/ledger/ledgertest"
	"ledger-query-workers/internal/parser"
	"ledger-query-workers/internal/retrieval"
	catalog "ledger-query-workers/pkg/registry"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helpers
// ==========================

func createMockJob(key int64, variables map[string]interface{}) entities.Job {
	variablesJSON, _ := json.Marshal(variables)

	activatedJob := &pb.ActivatedJob{
		Key:                      key,
		Type:                     TaskType,
		ProcessInstanceKey:       key * 10,
		BpmnProcessId:            "financial-question",
		ProcessDefinitionVersion: 1,
		ProcessDefinitionKey:     1,
		ElementId:                "Activity_RetrieveLedgerRows",
		ElementInstanceKey:       1,
		CustomHeaders:            "{}",
		Worker:                   "test-worker",
		Retries:                  3,
		Deadline:                 0,
		Variables:                string(variablesJSON),
	}

	return entities.Job{ActivatedJob: activatedJob}
}

// sdrQuery is "total S&M expense for SDR for the current fiscal year" as of
// 2025-11-30 with a February fiscal year start.
func sdrQuery(t *testing.T) *parser.ParsedQuery {
	t.Helper()
	cal, err := fiscal.NewCalendar(time.February)
	require.NoError(t, err)
	asOf := fiscal.Date(2025, time.November, 30)
	fy := cal.FiscalYearRange(cal.FiscalYearOf(asOf))
	return &parser.ParsedQuery{
		OriginalText:    "total S&M expense for SDR for the current fiscal year",
		AsOf:            "2025-11-30",
		Intent:          parser.IntentTotal,
		Period:          &fy,
		Departments:     []string{"Sales & Marketing (Parent) : SDR"},
		AccountPrefixes: []string{"53"},
		AccountNames:    []string{"Sales & Marketing"},
	}
}

type fixture struct {
	srv     *ledgertest.Server
	handler *Handler
}

func newFixture(t *testing.T, cfg *Config) *fixture {
	t.Helper()
	log := logger.NewNoOpLogger()
	srv := ledgertest.NewServer("gl", ledgertest.ColumnNames, ledgertest.Rows())
	t.Cleanup(srv.Close)

	fetcher := retrieval.NewPagedFetcher(ledger.NewClient(srv.Config(50), log), retrieval.FetchOptions{
		Parallelism: 2,
		MaxAttempts: 2,
		BackoffBase: time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
	}, log)
	coord := retrieval.NewCoordinator(retrieval.Options{
		SourceIdentity: "gl",
		SchemaVersion:  1,
		Columns:        ledgertest.Columns,
	}, fetcher, retrieval.NewSnapshotCache(time.Hour, nil, log), nil, nil, log)

	reg, err := catalog.Default()
	require.NoError(t, err)
	schema, err := reg.InputSchema(TaskType)
	require.NoError(t, err)

	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &fixture{srv: srv, handler: NewHandler(cfg, coord, schema, logger.NewTestLogger(t))}
}

func toVariables(t *testing.T, v interface{}) map[string]interface{} {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

// ==========================
// Input Parsing Tests
// ==========================

func TestHandler_ParseInput(t *testing.T) {
	f := newFixture(t, nil)
	q := sdrQuery(t)

	tests := []struct {
		name      string
		variables map[string]interface{}
		wantErr   bool
	}{
		{
			name:      "parsed query from the parse worker",
			variables: map[string]interface{}{"parsedQuery": toVariables(t, q), "status": "parsed"},
		},
		{
			name:      "missing parsedQuery",
			variables: map[string]interface{}{"status": "parsed"},
			wantErr:   true,
		},
		{
			name:      "parsedQuery without originalText",
			variables: map[string]interface{}{"parsedQuery": map[string]interface{}{"departments": []string{"SDR"}}},
			wantErr:   true,
		},
		{
			name: "non-numeric account prefix",
			variables: map[string]interface{}{"parsedQuery": map[string]interface{}{
				"originalText":    "x",
				"accountPrefixes": []string{"5x"},
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input, err := f.handler.parseInput(createMockJob(777, tt.variables))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidJobInput), "got %v", err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, input.ParsedQuery.Period)
			assert.True(t, q.Period.Start.Equal(input.ParsedQuery.Period.Start))
			assert.True(t, q.Period.End.Equal(input.ParsedQuery.Period.End))
			assert.Equal(t, q.Departments, input.ParsedQuery.Departments)
		})
	}
}

// ==========================
// Execute Tests
// ==========================

func TestHandler_Execute_SDRFiscalYear(t *testing.T) {
	f := newFixture(t, nil)

	out, err := f.handler.Execute(context.Background(), &Input{ParsedQuery: sdrQuery(t)})
	require.NoError(t, err)
	assert.Equal(t, 20, out.RowCount)
	assert.Len(t, out.Rows, 20)
	assert.True(t, decimal.RequireFromString("605137.50").Equal(out.Total), "total %s", out.Total)
	assert.Equal(t, retrieval.ModeSnapshot, out.Provenance.Mode)
	assert.NotEmpty(t, out.Provenance.RequestID)

	vars := toVariables(t, out)
	assert.Equal(t, "605137.5", vars["total"])
	assert.Contains(t, vars, "provenance")
}

func TestHandler_Execute_WithoutRows(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IncludeRows = false
	f := newFixture(t, cfg)

	out, err := f.handler.Execute(context.Background(), &Input{ParsedQuery: sdrQuery(t)})
	require.NoError(t, err)
	assert.Nil(t, out.Rows)
	assert.Equal(t, 20, out.RowCount)
	assert.NotContains(t, toVariables(t, out), "rows")
}

func TestHandler_Execute_FailureDecisions(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(srv *ledgertest.Server)
		wantCode  apperrors.ErrorCode
		wantRetry bool
	}{
		{
			name:      "schema drift is thrown",
			setup:     func(srv *ledgertest.Server) { srv.SetColumns([]string{"line_id", "amount"}) },
			wantCode:  apperrors.ErrCodeSchemaDrift,
			wantRetry: false,
		},
		{
			name:      "ledger outage is retried",
			setup:     func(srv *ledgertest.Server) { srv.FailPage(1, 10) },
			wantCode:  apperrors.ErrCodeSnapshotFetchFailed,
			wantRetry: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			tt.setup(f.srv)

			_, err := f.handler.Execute(context.Background(), &Input{ParsedQuery: sdrQuery(t)})
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, tt.wantCode), "got %v", err)

			d := f.handler.errors.Decide(createMockJob(1, nil), err)
			assert.Equal(t, tt.wantRetry, d.Retry)
			if tt.wantRetry {
				assert.Equal(t, "LEDGER_UNAVAILABLE", d.BPMN.Code)
			}
		})
	}
}

type deadlineRetriever struct{}

func (deadlineRetriever) Retrieve(context.Context, *parser.ParsedQuery) (*retrieval.Result, error) {
	return nil, context.DeadlineExceeded
}

func TestHandler_Execute_DeadlineIsTransient(t *testing.T) {
	h := NewHandler(DefaultConfig(), deadlineRetriever{}, nil, logger.NewTestLogger(t))

	_, err := h.Execute(context.Background(), &Input{ParsedQuery: &parser.ParsedQuery{OriginalText: "x"}})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeTransientService))
	assert.True(t, apperrors.IsRetryable(err))
}
