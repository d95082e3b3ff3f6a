package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_LogsUnderDataDir(t *testing.T) {
	cfg := DefaultConfig("/data/ygrep")

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, filepath.Join("/data/ygrep", "logs", FileName), cfg.Path())
	assert.False(t, cfg.WriteToStderr)
}

func TestDebugConfig_MirrorsToStderr(t *testing.T) {
	cfg := DebugConfig("/data")

	assert.Equal(t, "debug", cfg.Level)
	assert.True(t, cfg.WriteToStderr)
}

func TestSetup_WritesJSONRecords(t *testing.T) {
	// Given: a config pointing at a temp dir
	cfg := DefaultConfig(t.TempDir())

	// When: logging a record
	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	logger.Info("build_complete", slog.Int("docs", 3))
	cleanup()

	// Then: the file holds one JSON line with our attributes
	data, err := os.ReadFile(cfg.Path())
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &rec))
	assert.Equal(t, "build_complete", rec["msg"])
	assert.Equal(t, float64(3), rec["docs"])
}

func TestSetup_RespectsLevel(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.Level = "warn"

	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	logger.Info("dropped")
	logger.Warn("kept")
	cleanup()

	data, err := os.ReadFile(cfg.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept")
}

func TestSetup_NoDirDiscards(t *testing.T) {
	logger, cleanup, err := Setup(Config{Level: "info"})
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, logger)
	logger.Info("nowhere")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestRotatingWriter_Rotation(t *testing.T) {
	// Given: a 1MB writer
	path := filepath.Join(t.TempDir(), FileName)
	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	chunk := bytes.Repeat([]byte("x"), 600*1024)

	// When: writing past the limit three times
	for i := 0; i < 4; i++ {
		_, err := w.Write(chunk)
		require.NoError(t, err)
	}

	// Then: backups exist up to maxFiles and no further
	assert.FileExists(t, path)
	assert.FileExists(t, path+".1")
	assert.FileExists(t, path+".2")
	assert.NoFileExists(t, path+".3")
}

func TestRotatingWriter_AppendsToExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	w, err := NewRotatingWriter(path, 1, 1)
	require.NoError(t, err)
	_, err = w.Write([]byte("new\n"))
	require.NoError(t, err)
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old\nnew\n", string(data))
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	w, err := NewRotatingWriter(filepath.Join(t.TempDir(), FileName), 1, 1)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrClosed)
}
