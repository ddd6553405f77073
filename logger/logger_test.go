package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/teranos/recwake/sym"
)

func TestInitializeJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitializeWithWriter(&buf, true, VerbosityInfo))
	t.Cleanup(func() { _ = InitializeWithWriter(&bytes.Buffer{}, false, VerbosityUser) })

	PulseInfow("Session started", FieldJobID, "abc")
	Cleanup()

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Session started", line["msg"])
	assert.Equal(t, sym.Pulse, line[FieldSymbol])
	assert.Equal(t, "abc", line[FieldJobID])
	assert.True(t, JSONOutput)
}

func TestVerbosityFiltersInfo(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitializeWithWriter(&buf, true, VerbosityUser))

	Infow("hidden")
	assert.Empty(t, buf.String())

	SetVerbosity(VerbosityInfo)
	Infow("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestVerbosityToLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(0))
	assert.Equal(t, zapcore.InfoLevel, VerbosityToLevel(1))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(2))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(7))
	assert.Equal(t, "Trace (-vvv)", LevelName(5))
}

func TestShouldOutput(t *testing.T) {
	assert.True(t, ShouldOutput(0, OutputResults))
	assert.False(t, ShouldOutput(0, OutputProgress))
	assert.True(t, ShouldOutput(1, OutputProgress))
	assert.False(t, ShouldOutput(2, OutputSQLQueries))
	assert.True(t, ShouldOutput(3, OutputCapture))
}

func TestMinimalEncoderConsoleLine(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitializeWithWriter(&buf, false, VerbosityInfo))

	log := AddRecSymbol(ComponentLogger("pulse.session"))
	log.Infow("Recording", FieldJobID, "0123456789abcdef", FieldDurationSec, 30, "ignored", "x")

	out := buf.String()
	assert.Contains(t, out, sym.Rec)
	assert.Contains(t, out, "p.session")
	assert.Contains(t, out, "Recording")
	assert.Contains(t, out, "01234567")
	assert.NotContains(t, out, "0123456789abcdef")
	assert.NotContains(t, out, "ignored")
}

func TestFieldsFromContext(t *testing.T) {
	ctx := WithJobID(context.Background(), "job-1")
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithComponent(ctx, "server")

	fields := FieldsFromContext(ctx)
	assert.Equal(t, []interface{}{FieldJobID, "job-1", FieldRequestID, "req-1", FieldComponent, "server"}, fields)
	assert.Empty(t, FieldsFromContext(context.Background()))
}

func TestAbbreviateName(t *testing.T) {
	assert.Equal(t, "p.session", abbreviateName("pulse.session"))
	assert.Equal(t, "server", abbreviateName("server"))
}
