package util

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError("write", nil))

	base := errors.New("disk full")
	err := WrapError("write clip", base)
	assert.EqualError(t, err, "failed to write clip: disk full")
	assert.ErrorIs(t, err, base)
}

func TestExtractLastError(t *testing.T) {
	assert.Equal(t, "", ExtractLastError("  \n\n"))
	assert.Equal(t, "device busy", ExtractLastError("warming up\ndevice busy\n\n"))

	long := strings.Repeat("x", 300)
	got := ExtractLastError(long)
	assert.Len(t, got, maxErrorLineLength+3)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", FormatDuration(45_000))
	assert.Equal(t, "2m 34s", FormatDuration(154_000))
	assert.Equal(t, "1h 23m", FormatDuration(4_980_000))
}

func TestExtractDateFromFilename(t *testing.T) {
	date, ok := ExtractDateFromFilename("2025-01-15_14-32-05.wav")
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), date)

	_, ok = ExtractDateFromFilename("clip.wav")
	assert.False(t, ok)
}

func TestValidatePath(t *testing.T) {
	assert.Error(t, ValidatePath("log", ""))
	assert.Error(t, ValidatePath("log", "/var/log/../etc/passwd"))
	assert.NoError(t, ValidatePath("log", "/var/log/noisemeter/alerts.jsonl"))
}

func TestIsConfigured(t *testing.T) {
	assert.True(t, IsConfigured("a", "b"))
	assert.False(t, IsConfigured("a", ""))
	assert.True(t, IsConfigured())
}

func TestDarkenColor(t *testing.T) {
	assert.Equal(t, "#000000", DarkenColor("#FFFFFF", 100))
	assert.Equal(t, "#E5E5E5", DarkenColor("#FFFFFF", 10))
	assert.Equal(t, "not-a-color", DarkenColor("not-a-color", 10))
}

func TestBackoff(t *testing.T) {
	b := NewBackoff(time.Second, 3*time.Second)
	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, 2*time.Second, b.Next())
	assert.Equal(t, 3*time.Second, b.Next())
	assert.Equal(t, 3*time.Second, b.Next())
	assert.Equal(t, 4, b.Attempts())
	b.Reset()
	assert.Zero(t, b.Attempts())
	assert.Equal(t, time.Second, b.Next())
}

func TestBackoffWait(t *testing.T) {
	b := NewBackoff(time.Millisecond, time.Millisecond)
	assert.NoError(t, b.Wait(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.ErrorIs(t, NewBackoff(time.Hour, time.Hour).Wait(ctx, 0), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
