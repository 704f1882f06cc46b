package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_CatalogIsValid(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	for _, taskType := range []string{"parse-financial-query", "retrieve-ledger-rows", "refresh-entity-registry"} {
		a, ok := reg.Find(taskType)
		require.True(t, ok, taskType)
		assert.Equal(t, "implemented", a.ImplementationStatus)
		d, err := a.TimeoutDuration()
		require.NoError(t, err)
		assert.Positive(t, d)
	}
}

func TestInputSchema(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	schema, err := reg.InputSchema("parse-financial-query")
	require.NoError(t, err)

	assert.True(t, schema.Validate(map[string]interface{}{"question": "SDR spend"}).Valid)
	res := schema.Validate(map[string]interface{}{"asOf": "2025-11-30"})
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.GetErrorMessages())

	_, err = reg.InputSchema("no-such-task")
	assert.Error(t, err)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{`},
		{"bad id", `{"activities":[{"id":"Parse","taskType":"a","inputSchema":{},"outputSchema":{}}]}`},
		{"missing task type", `{"activities":[{"id":"a.b.c","inputSchema":{},"outputSchema":{}}]}`},
		{"duplicate task type", `{"activities":[
			{"id":"a.b.c","taskType":"t","inputSchema":{},"outputSchema":{}},
			{"id":"a.b.d","taskType":"t","inputSchema":{},"outputSchema":{}}]}`},
		{"bad timeout", `{"activities":[{"id":"a.b.c","taskType":"t","timeout":"soon","inputSchema":{},"outputSchema":{}}]}`},
		{"bad schema", `{"activities":[{"id":"a.b.c","taskType":"t","inputSchema":{"type":7},"outputSchema":{}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activities.json")
	doc := `{"version":"2","activities":[{"id":"a.b.c","taskType":"t","timeout":"90s","inputSchema":{"type":"object"},"outputSchema":{"type":"object"}}]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	a, ok := reg.Find("t")
	require.True(t, ok)
	d, err := a.TimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = LoadRegistry(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
