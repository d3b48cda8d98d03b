package testutil

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferedSlogHandler(t *testing.T) {
	logger, h := NewLogger(nil)

	logger.With(slog.String("component", "engine")).
		WithGroup("license").
		Warn("activation failed", slog.String("state", "expired"))
	logger.Info("started")

	records := h.GetRecords()
	assert.Len(t, records, 2)
	assert.True(t, h.ContainsMessage("activation"))
	assert.True(t, h.ContainsAttr("component", "engine"))
	assert.True(t, h.ContainsAttr("license.state", "expired"))
	assert.Len(t, h.GetRecordsByLevel(slog.LevelWarn), 1)

	h.AssertNeverLogged(t, "BOOT-2024-ABCD-1234")
}

func TestBufferedSlogHandlerGroupsOnlyLaterAttrs(t *testing.T) {
	logger, h := NewLogger(nil)

	logger.With(slog.String("component", "engine")).
		WithGroup("license").
		With(slog.String("action", "validate")).
		WithGroup("remote").
		Info("call", slog.Int("attempt", 2))

	records := h.GetRecords()
	assert.Len(t, records, 1)
	assert.Equal(t, map[string]any{
		"component":              "engine",
		"license.action":         "validate",
		"license.remote.attempt": int64(2),
	}, records[0].Attrs)
}
