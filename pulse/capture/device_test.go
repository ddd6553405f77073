package capture

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/recwake/errors"
)

func TestExecDeviceExpandsTemplate(t *testing.T) {
	d, err := NewExecDevice(ExecDeviceConfig{
		Command: DefaultCaptureCommand,
		Device:  "hw:1,0",
		Format:  Format{SampleRate: 48000, Channels: 2, BitsPerSample: 16},
	})
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"arecord", "-q", "-D", "hw:1,0", "-f", "S16_LE", "-r", "48000", "-c", "2", "-t", "raw"},
		d.Argv())
	assert.Equal(t, "arecord:hw:1,0", d.Name())
}

func TestExecDeviceBadCommand(t *testing.T) {
	_, err := NewExecDevice(ExecDeviceConfig{Command: `arecord "unterminated`})
	assert.Error(t, err)
	_, err = NewExecDevice(ExecDeviceConfig{Command: "  "})
	assert.Error(t, err)
}

func TestExecDeviceMissingBinaryIsUnavailable(t *testing.T) {
	d, err := NewExecDevice(ExecDeviceConfig{Command: "/nonexistent/recwake-capture-tool"})
	require.NoError(t, err)

	_, err = d.Open(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.NotEmpty(t, errors.GetAllHints(err))
}

func TestExecDeviceBusyExit(t *testing.T) {
	d, err := NewExecDevice(ExecDeviceConfig{
		Command:      `sh -c "echo 'audio open error: Device or resource busy' >&2; exit 1"`,
		StartupProbe: 2 * time.Second,
	})
	require.NoError(t, err)

	_, err = d.Open(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBusy))
}

func TestExecDeviceOtherExitIsUnavailable(t *testing.T) {
	d, err := NewExecDevice(ExecDeviceConfig{
		Command:      `sh -c "echo 'no such card' >&2; exit 1"`,
		StartupProbe: 2 * time.Second,
	})
	require.NoError(t, err)

	_, err = d.Open(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Contains(t, errors.FlattenDetails(err), "no such card")
}

func TestExecDeviceStreamsStdout(t *testing.T) {
	d, err := NewExecDevice(ExecDeviceConfig{
		Command:      `sh -c "sleep 0.3; printf abcd; sleep 0.2"`,
		StartupProbe: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	s, err := d.Open(context.Background())
	require.NoError(t, err)
	defer s.Close()

	var got []byte
	for {
		b, err := s.ReadChunk()
		got = append(got, b...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, "abcd", string(got))
}

func TestExecDeviceCloseStopsRecorder(t *testing.T) {
	d, err := NewExecDevice(ExecDeviceConfig{Command: "sleep 30", StartupProbe: 50 * time.Millisecond})
	require.NoError(t, err)

	s, err := d.Open(context.Background())
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, s.Close())
	assert.Less(t, time.Since(start), 5*time.Second)

	_, err = s.ReadChunk()
	assert.Equal(t, io.EOF, err)
	require.NoError(t, s.Close())
}

func TestToneDevice(t *testing.T) {
	d := NewToneDevice(Format{})
	d.Chunk = 10 * time.Millisecond

	s, err := d.Open(context.Background())
	require.NoError(t, err)

	b, err := s.ReadChunk()
	require.NoError(t, err)
	assert.Len(t, b, 441*2)

	require.NoError(t, s.Close())
	_, err = s.ReadChunk()
	assert.Equal(t, io.EOF, err)
}

func TestNewDevice(t *testing.T) {
	d, err := NewDevice(BackendTone, ExecDeviceConfig{})
	require.NoError(t, err)
	assert.Equal(t, "tone", d.Name())

	d, err = NewDevice(BackendExec, ExecDeviceConfig{Command: DefaultCaptureCommand})
	require.NoError(t, err)
	assert.IsType(t, &ExecDevice{}, d)

	_, err = NewDevice("pulseaudio", ExecDeviceConfig{})
	assert.Error(t, err)
}
