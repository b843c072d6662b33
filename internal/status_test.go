package internal

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusWriter_WriteOnce(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.StatusPath = filepath.Join(t.TempDir(), "relay-status.json")

	stats := NewStatsService(newTestFactory(t).StatsRepository())
	require.NoError(t, stats.RecordCopied(ctx, "route_1", time.Now().UTC()))

	state := NewSourceState("src_1")
	state.TouchEvent(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	states := map[string]*SourceState{"src_1": state}

	writer := NewStatusWriter(cfg, stats, states, noopTelemetry())
	require.NoError(t, writer.WriteOnce(ctx))

	raw, err := os.ReadFile(cfg.StatusPath)
	require.NoError(t, err)

	var doc StatusDocument
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.False(t, doc.GeneratedAt.IsZero())
	require.Len(t, doc.Routes, 1)
	assert.Equal(t, "route_1", doc.Routes[0].Route.ID)
	assert.Equal(t, 1, doc.Routes[0].Stats.TradesCopied)
	require.NotNil(t, doc.Routes[0].LastEventAt)

	// Reescritura atómica: sin archivo temporal residual
	_, err = os.Stat(cfg.StatusPath + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
