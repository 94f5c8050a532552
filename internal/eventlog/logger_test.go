package eventlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l, err := NewLogger(filepath.Join(t.TempDir(), "logs", "events.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLoggerWritesEvents(t *testing.T) {
	l := newTestLogger(t)
	at := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, l.LogSession(SessionStarted, "s1", "monitoring started", &SessionDetails{Input: "default", ThresholdDB: -15}))
	require.NoError(t, l.LogAlert("s1", "a1", "⚠ Noise too high! (-12 dBFS)", -12.3, -15, at))
	require.NoError(t, l.LogClip("s1", &ClipDetails{AlertID: "a1", Filename: "2025-05-01_10-00-00.wav"}))
	require.NoError(t, l.LogClip("s1", &ClipDetails{AlertID: "a1", Error: "disk full"}))
	require.NoError(t, l.LogSession(SessionStopped, "s1", "", &SessionDetails{DurationMs: 1000, Alerts: 1}))

	events, more, err := ReadLast(l.Path(), 10, 0, FilterAll)
	require.NoError(t, err)
	assert.False(t, more)
	require.Len(t, events, 5)

	assert.Equal(t, SessionStopped, events[0].Type)
	assert.Equal(t, ClipFailed, events[1].Type)
	assert.Equal(t, ClipSaved, events[2].Type)
	assert.Equal(t, AlertRaised, events[3].Type)
	assert.True(t, events[3].Timestamp.Equal(at))
	assert.Equal(t, "s1", events[3].SessionID)
	assert.Equal(t, SessionStarted, events[4].Type)
	assert.False(t, events[4].Timestamp.IsZero())
}

func TestReadLastFiltersAndPages(t *testing.T) {
	l := newTestLogger(t)
	for i := range 5 {
		require.NoError(t, l.LogSession(SessionStarted, "s", "", &SessionDetails{}))
		require.NoError(t, l.LogAlert("s", string(rune('a'+i)), "", -10, -15, time.Now()))
	}

	alerts, more, err := ReadLast(l.Path(), 2, 0, FilterAlert)
	require.NoError(t, err)
	assert.True(t, more)
	require.Len(t, alerts, 2)
	assert.Equal(t, "e", alerts[0].Details.(map[string]any)["alert_id"])

	alerts, more, err = ReadLast(l.Path(), 2, 4, FilterAlert)
	require.NoError(t, err)
	assert.False(t, more)
	require.Len(t, alerts, 1)
	assert.Equal(t, "a", alerts[0].Details.(map[string]any)["alert_id"])

	sessions, _, err := ReadLast(l.Path(), 100, 0, FilterSession)
	require.NoError(t, err)
	assert.Len(t, sessions, 5)

	clips, more, err := ReadLast(l.Path(), 10, 0, FilterClip)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Empty(t, clips)
}

func TestReadLastEdgeCases(t *testing.T) {
	events, more, err := ReadLast(filepath.Join(t.TempDir(), "missing.jsonl"), 10, 0, FilterAll)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Empty(t, events)

	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("not json\n{\"type\":\"alert_raised\"}\n"), 0o644))
	events, _, err = ReadLast(path, 10, 0, FilterAll)
	require.NoError(t, err)
	assert.Len(t, events, 1, "malformed lines are skipped")

	events, _, err = ReadLast(path, 0, 0, FilterAll)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestTypeFilter(t *testing.T) {
	assert.True(t, FilterAll.Matches(ClipSaved))
	assert.True(t, FilterSession.Matches(CaptureError))
	assert.False(t, FilterSession.Matches(AlertRaised))
	assert.True(t, FilterClip.Matches(ClipFailed))
	assert.False(t, TypeFilter("bogus").Matches(AlertRaised))
}

func TestDefaultLogPath(t *testing.T) {
	assert.Contains(t, DefaultLogPath(8080), "8080")
}
