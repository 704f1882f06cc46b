package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestZapWrapper_FieldsAndErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewZapAdapter(zap.New(core)).With(map[string]interface{}{"taskType": "parse-financial-query"})

	log.Info("parsed", map[string]interface{}{"intent": "total"})
	log.WithError(errors.New("boom")).Error("failed", nil)
	log.Warn("fallback", map[string]interface{}{"cause": errors.New("mismatch")})

	entries := logs.All()
	assert.Len(t, entries, 3)
	assert.Equal(t, "parse-financial-query", entries[0].ContextMap()["taskType"])
	assert.Equal(t, "total", entries[0].ContextMap()["intent"])
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
	assert.Equal(t, "mismatch", entries[2].ContextMap()["cause"])
}

func TestNewStructured_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		l := NewStructured("debug", "json", "stdout")
		l.Debug("hello", nil)
	})
	assert.NotPanics(t, func() {
		NewNoOpLogger().Info("quiet", map[string]interface{}{"k": 1})
	})
}
