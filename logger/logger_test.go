package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestLogger_DerivedLoggersShareCapture(t *testing.T) {
	root := NewTestLogger()
	scoped := root.WithField("session_id", "abc").WithFields(map[string]interface{}{"phase": "executing"})

	scoped.Info(context.Background(), "action finished", map[string]interface{}{"action_index": 2})
	root.Warn(context.Background(), "root entry", nil)

	entries := root.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "info", entries[0].Level)
	assert.Equal(t, "abc", entries[0].Fields["session_id"])
	assert.Equal(t, "executing", entries[0].Fields["phase"])
	assert.Equal(t, 2, entries[0].Fields["action_index"])
	assert.NotContains(t, entries[1].Fields, "session_id")
}

func TestTestLogger_EntriesWithLevelAndReset(t *testing.T) {
	l := NewTestLogger()
	l.Error(context.Background(), "boom", nil)
	l.Debug(context.Background(), "noise", nil)

	assert.Len(t, l.EntriesWithLevel("error"), 1)
	l.Reset()
	assert.Empty(t, l.Entries())
}

func TestLogrusLogger_WritesJSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := newLogrusLoggerWithWriter("debug", &buf)

	l.WithField("session_id", "s-1").Info(context.Background(), "session started", map[string]interface{}{
		"target_url": "https://example.com",
	})

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "session started", decoded["msg"])
	assert.Equal(t, "s-1", decoded["session_id"])
	assert.Equal(t, "https://example.com", decoded["target_url"])
	assert.Equal(t, "info", decoded["level"])
}

func TestLogrusLogger_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := newLogrusLoggerWithWriter("shouting", &buf)

	l.Debug(context.Background(), "hidden", nil)
	assert.Zero(t, buf.Len())

	l.Info(context.Background(), "visible", nil)
	assert.NotZero(t, buf.Len())
}

func TestLogrusLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runner.log")
	l := NewLogrusLoggerWithOptions(Options{Level: "info", File: path, MaxSizeMB: 1})
	l.Info(context.Background(), "to file", nil)
	require.NoError(t, l.Close())
	assert.FileExists(t, path)
}

func TestDiscard(t *testing.T) {
	l := Discard().WithField("k", "v")
	assert.NotPanics(t, func() {
		l.Error(context.Background(), "ignored", nil)
	})
}
