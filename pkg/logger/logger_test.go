package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"DEBUG":   zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
		"bogus":   zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestComponentTagsEntries(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	l := Component("procmgr")
	l.Info().Str("id", "p1").Msg("started")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "procmgr", entry["component"])
	assert.Equal(t, "p1", entry["id"])
	assert.Equal(t, "started", entry["message"])
}

func TestInitWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	require.NoError(t, Init(LogConfig{Level: "info", Format: "json", File: path}))
	t.Cleanup(func() { _ = Close() })

	Infof("hello %s", "file")
	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
}

func TestInitBadFile(t *testing.T) {
	err := Init(LogConfig{File: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}
