package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithMergesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := FromZap(zap.New(core))

	l := With(With(base, map[string]any{"order": "A1", "chain": "eth"}), map[string]any{"chain": "matic"})
	l.Info("quote computed", map[string]any{"amount": "54.347826"})
	l.Error("notify failed", map[string]any{"error": errors.New("boom")})

	require.Equal(t, 2, logs.Len())
	first := logs.All()[0].ContextMap()
	assert.Equal(t, "A1", first["order"])
	assert.Equal(t, "matic", first["chain"])
	assert.Equal(t, "54.347826", first["amount"])

	second := logs.All()[1]
	assert.Equal(t, zapcore.ErrorLevel, second.Level)
	assert.Equal(t, "boom", second.ContextMap()["error"])
}

func TestWithNil(t *testing.T) {
	l := With(nil, map[string]any{"k": "v"})
	assert.NotPanics(t, func() { l.Warn("x", nil) })
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}
