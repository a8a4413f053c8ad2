package logger

import (
	"bytes"
	"testing"

	"flowlog-indexer/internal/config"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{" warn ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"info", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, ParseLevel(tt.input), "ParseLevel(%q)", tt.input)
	}
}

func TestNew_CommonFields(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "")
	var buf bytes.Buffer
	l := New(config.Config{ServiceName: "flowlog-indexer", InstanceID: "i-1", LogLevel: "info"}, &buf)

	l.Info().Str("key", "vpc/flow.log.gz").Msg("run indexed")

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "flowlog-indexer", m["service"])
	assert.Equal(t, "i-1", m["instance"])
	assert.Equal(t, "vpc/flow.log.gz", m["key"])
	assert.Equal(t, "run indexed", m["message"])
	assert.NotContains(t, m, "function")
}

func TestNew_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(config.Config{LogLevel: "warn"}, &buf)

	l.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	l.Warn().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestNew_LeavesGlobalLevelAlone(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	_ = New(config.Config{LogLevel: "error"}, &bytes.Buffer{})
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}
