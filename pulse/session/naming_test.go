package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/recwake/pulse/capture"
)

func TestOutputName(t *testing.T) {
	at := time.Date(2026, 3, 7, 6, 5, 4, 0, time.Local)
	assert.Equal(t, "recording_20260307_060504.wav", OutputName(at))
}

func TestOutputPathAvoidsCollisions(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 3, 7, 6, 5, 4, 0, time.Local)

	first := OutputPath(dir, at)
	assert.Equal(t, filepath.Join(dir, "recording_20260307_060504.wav"), first)
	require.NoError(t, os.WriteFile(first, nil, 0o644))

	second := OutputPath(dir, at)
	assert.Equal(t, filepath.Join(dir, "recording_20260307_060504_2.wav"), second)
	require.NoError(t, os.WriteFile(capture.SpoolPath(second), nil, 0o644))

	assert.Equal(t, filepath.Join(dir, "recording_20260307_060504_3.wav"), OutputPath(dir, at))
}

func TestPolicyNormalized(t *testing.T) {
	p := Policy{AcquireAttempts: 0, MinDurationSeconds: 0, MaxDurationSeconds: -1}.normalized()
	assert.Equal(t, 1, p.AcquireAttempts)
	assert.Equal(t, 1, p.MinDurationSeconds)
	assert.Equal(t, 1, p.MaxDurationSeconds)

	d := DefaultPolicy()
	assert.Equal(t, 10800, d.MaxDurationSeconds)
	assert.Equal(t, 3, d.AcquireAttempts)
}
