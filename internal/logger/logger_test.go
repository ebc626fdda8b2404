package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { SetLevel("info") })

	for lvl, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
		"":      slog.LevelInfo,
	} {
		SetLevel(lvl)
		require.Equal(t, want, Level(), "level %q", lvl)
	}
}

func TestSetOutput(t *testing.T) {
	t.Cleanup(func() { SetOutput(os.Stdout) })

	var buf bytes.Buffer
	SetOutput(&buf)
	L.Info("relay started", "address", "localhost:8080")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "relay started", entry["msg"])
	require.Equal(t, "localhost:8080", entry["address"])
}
