package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWithFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewJSON(&buf, "debug").With(String("comp", "relay"))
	log.Warn("push failed", Int("status", 503), Err(errors.New("boom")))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "warn", m["level"])
	assert.Equal(t, "push failed", m["message"])
	assert.Equal(t, "relay", m["comp"])
	assert.EqualValues(t, 503, m["status"])
	assert.Equal(t, "boom", m["err"])
	assert.Contains(t, m["caller"], "logger_test.go:")
}

func TestLoggerLevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewJSON(&buf, "warn")
	log.Info("dropped")
	assert.Zero(t, buf.Len())
	assert.False(t, log.Enabled(LevelInfo))
	assert.True(t, log.Enabled(LevelError))
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var log Logger
	assert.True(t, log.IsZero())
	log.Error("nothing happens")
	Nop().Info("still nothing")
}

func TestValidLevel(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "debug", "WARN", "warning", " info "} {
		assert.True(t, ValidLevel(s), s)
	}
	assert.False(t, ValidLevel("loud"))
}

func TestSetStdoutRedirectsConsole(t *testing.T) {
	var buf bytes.Buffer
	SetStdout(&buf)
	t.Cleanup(func() { SetStdout(nil) })

	svc, log := New(Config{Level: "info", Console: true, Format: "json"})
	defer svc.Close()
	log.Info("redirected")
	assert.Contains(t, buf.String(), `"message":"redirected"`)
}
