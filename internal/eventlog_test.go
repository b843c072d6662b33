package internal

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLog_AppendIsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	log, err := NewEventLog(path)
	require.NoError(t, err)

	require.NoError(t, log.Append(&LogRecord{
		Event:         LogEventDetected,
		RouteID:       "route_1",
		SourceTradeID: "45817113",
		Symbol:        "XAUUSD",
		SourceVolume:  0.01,
	}))
	require.NoError(t, log.Append(&LogRecord{
		Event:         LogEventRejected,
		RouteID:       "route_1",
		SourceTradeID: "45817113",
		Symbol:        "XAUUSD",
		SourceVolume:  0.01,
		Reasons:       []string{"Max open positions reached"},
	}))
	require.NoError(t, log.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace(raw), []byte("\n"))
	require.Len(t, lines, 2)

	var first LogRecord
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, LogEventDetected, first.Event)
	assert.Greater(t, first.TS, int64(0))

	var second LogRecord
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.Equal(t, []string{"Max open positions reached"}, second.Reasons)
}

func TestEventLog_ReopenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	log, err := NewEventLog(path)
	require.NoError(t, err)
	require.NoError(t, log.Append(&LogRecord{Event: LogEventCopied, SourceTradeID: "1", Symbol: "EURUSD"}))
	require.NoError(t, log.Close())

	log, err = NewEventLog(path)
	require.NoError(t, err)
	require.NoError(t, log.Append(&LogRecord{Event: LogEventClosed, SourceTradeID: "1", Symbol: "EURUSD"}))
	require.NoError(t, log.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, bytes.Split(bytes.TrimSpace(raw), []byte("\n")), 2)
}
