package refreshentityregistry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"ledger-query-workers/internal/common/config"
	apperrors "ledger-query-workers/internal/common/errors"
	"ledger-query-workers/internal/common/logger"
	"ledger-query-workers/internal/ledger"
	"ledger-query-workers/internal/ledger/ledgertest"
	"ledger-query-workers/internal/registry"
	catalog "ledger-query-workers/pkg/registry"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helpers
// ==========================

type snapshotFunc func(ctx context.Context) (*ledger.Snapshot, error)

func (f snapshotFunc) FullSnapshot(ctx context.Context) (*ledger.Snapshot, error) { return f(ctx) }
func (f snapshotFunc) FreshSnapshot(ctx context.Context) (*ledger.Snapshot, error) { return f(ctx) }

func createMockJob(key int64, variables map[string]interface{}) entities.Job {
	variablesJSON, _ := json.Marshal(variables)

	activatedJob := &pb.ActivatedJob{
		Key:                      key,
		Type:                     TaskType,
		ProcessInstanceKey:       key * 10,
		BpmnProcessId:            "registry-maintenance",
		ProcessDefinitionVersion: 1,
		ProcessDefinitionKey:     1,
		ElementId:                "Activity_RefreshEntityRegistry",
		ElementInstanceKey:       1,
		CustomHeaders:            "{}",
		Worker:                   "test-worker",
		Retries:                  2,
		Deadline:                 0,
		Variables:                string(variablesJSON),
	}

	return entities.Job{ActivatedJob: activatedJob}
}

func newTestHandler(t *testing.T, snap *ledger.Snapshot) (*Handler, *registry.Manager) {
	t.Helper()
	m := registry.NewManager(registry.ManagerOptions{
		Columns:             ledgertest.Columns,
		SchemaVersion:       2,
		TTL:                 time.Hour,
		MaxDegradedFraction: 0.1,
		MinSourceRatio:      0.5,
	}, snapshotFunc(func(context.Context) (*ledger.Snapshot, error) { return snap, nil }),
		nil, nil, logger.NewNoOpLogger())
	t.Cleanup(m.Close)

	reg, err := catalog.Default()
	require.NoError(t, err)
	schema, err := reg.InputSchema(TaskType)
	require.NoError(t, err)
	return NewHandler(DefaultConfig(), m, schema, logger.NewTestLogger(t)), m
}

// ==========================
// Tests
// ==========================

func TestHandler_ParseInput(t *testing.T) {
	h, _ := newTestHandler(t, ledgertest.Snapshot("gl", ledgertest.Rows()))

	input, err := h.parseInput(createMockJob(1, map[string]interface{}{"reason": "chart of accounts changed"}))
	require.NoError(t, err)
	assert.Equal(t, "chart of accounts changed", input.Reason)

	input, err = h.parseInput(createMockJob(2, map[string]interface{}{}))
	require.NoError(t, err)
	assert.Empty(t, input.Reason)

	_, err = h.parseInput(createMockJob(3, map[string]interface{}{"reason": 42}))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidJobInput))
}

func TestHandler_Execute_Refreshes(t *testing.T) {
	h, m := newTestHandler(t, ledgertest.Snapshot("gl", ledgertest.Rows()))
	require.True(t, m.Current().IsEmpty())

	out, err := h.Execute(context.Background(), &Input{Reason: "nightly"})
	require.NoError(t, err)
	assert.True(t, out.Refreshed)
	assert.Equal(t, "nightly", out.Reason)
	assert.False(t, out.Stats.Degraded)
	assert.Equal(t, 7, out.Stats.Counts[registry.EntityDepartment])
	assert.False(t, m.Current().IsEmpty())
}

func TestHandler_Execute_DegradedWithinBoundCompletes(t *testing.T) {
	rows := ledgertest.Rows()
	for i := 0; i < 4; i++ {
		rows[i]["subsidiary"] = map[string]interface{}{"id": 1}
	}
	h, _ := newTestHandler(t, ledgertest.Snapshot("gl", rows))

	out, err := h.Execute(context.Background(), &Input{})
	require.NoError(t, err)
	assert.True(t, out.Stats.Degraded)
	assert.Equal(t, 4, out.Stats.FailedRows)
}

func TestHandler_Execute_RejectedBuildFails(t *testing.T) {
	rows := ledgertest.Rows()
	for i := 0; i < 60; i++ {
		rows[i]["account_name"] = []interface{}{"x"}
	}
	h, m := newTestHandler(t, ledgertest.Snapshot("gl", rows))

	_, err := h.Execute(context.Background(), &Input{})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRegistryBuildDegraded))
	assert.True(t, m.Current().IsEmpty())

	d := h.errors.Decide(createMockJob(9, nil), err)
	assert.False(t, d.Retry)
	assert.Equal(t, "REGISTRY_BUILD_DEGRADED", d.BPMN.Code)
}

func TestLoadConfig(t *testing.T) {
	cfg := LoadConfig(&config.Config{Workers: map[string]config.WorkerConfig{
		TaskType: {Enabled: true, Timeout: 60000},
	}})
	assert.True(t, cfg.Enabled)
	assert.Equal(t, time.Minute, cfg.Timeout)
	assert.Equal(t, DefaultConfig().MaxJobsActive, cfg.MaxJobsActive)
	assert.NoError(t, cfg.Validate())
}
