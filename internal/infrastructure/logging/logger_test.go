package logging

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewWithLevelFallsBack(t *testing.T) {
	logger := NewWithLevel("loud", false)
	require.NotNil(t, logger)
	assert.Equal(t, zapcore.InfoLevel, logger.Level())
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
}

func TestDevelopmentLevel(t *testing.T) {
	logger := NewWithLevel("debug", true)
	assert.Equal(t, zapcore.DebugLevel, logger.Level())
	assert.True(t, logger.Named("bridge").Core().Enabled(zap.DebugLevel))
}

func TestFieldHelpers(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	zap.New(core).Named("sandbox").Info("log",
		Instance("wgt_1"),
		Canvas("cnv_1"),
		WidgetText("text", strings.Repeat("x", MaxWidgetTextLength+10)),
	)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "sandbox", entries[0].LoggerName)
	fields := entries[0].ContextMap()
	assert.Equal(t, "wgt_1", fields["instance_id"])
	assert.Equal(t, "cnv_1", fields["canvas_id"])
	assert.Len(t, fields["text"], MaxWidgetTextLength+len("…"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))

	long := strings.Repeat("é", 10) // 2 bytes per rune
	out := Truncate(long, 5)
	assert.True(t, strings.HasSuffix(out, "…"))
	assert.Equal(t, "éé…", out)
}
