package observability

import (
	"context"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservability_RecordsThroughRegistry(t *testing.T) {
	reg := prom.NewRegistry()
	obs, err := NewWithRegisterer("test", reg)
	require.NoError(t, err)
	defer func() { _ = obs.Shutdown(context.Background()) }()

	obs.RecordStage(context.Background(), "parse", "parsed", 12*time.Millisecond)
	obs.RecordRetrieval(context.Background(), "snapshot", 42)

	families, err := reg.Gather()
	require.NoError(t, err)

	var processed, duration bool
	for _, f := range families {
		processed = processed || strings.HasPrefix(f.GetName(), "financial_queries_processed")
		duration = duration || strings.HasPrefix(f.GetName(), "financial_queries_duration")
	}
	assert.True(t, processed)
	assert.True(t, duration)
}

func TestObservability_NilSafe(t *testing.T) {
	var obs *Observability
	assert.NotPanics(t, func() {
		obs.RecordStage(context.Background(), "parse", "parsed", time.Millisecond)
		obs.RecordRetrieval(context.Background(), "snapshot", 1)
		_ = obs.Shutdown(context.Background())
	})
}
