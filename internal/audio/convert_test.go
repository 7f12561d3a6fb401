package audio

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/fmueller/voxserve/internal/audio/audiotest"
	"github.com/stretchr/testify/require"
)

func TestMono16kPassesThroughTargetRate(t *testing.T) {
	t.Parallel()

	samples := make([]int16, 1600)
	for i := range samples {
		samples[i] = int16(i * 10)
	}

	path := filepath.Join(t.TempDir(), "mono.wav")
	require.NoError(t, os.WriteFile(path, audiotest.PCM16WAV(samples, TargetSampleRate, 1), 0o644))

	out, err := Converter{FFmpeg: "/nonexistent/ffmpeg"}.Mono16k(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, out, len(samples))
	require.InDelta(t, float64(samples[100])/32768.0, float64(out[100]), 1e-3)
}

func TestMono16kDownmixesAndResamples(t *testing.T) {
	t.Parallel()

	samples := make([]int16, 8000*2)
	path := filepath.Join(t.TempDir(), "stereo8k.wav")
	require.NoError(t, os.WriteFile(path, audiotest.PCM16WAV(samples, 8000, 2), 0o644))

	out, err := Converter{FFmpeg: "/nonexistent/ffmpeg"}.Mono16k(context.Background(), path)
	require.NoError(t, err)
	require.InDelta(t, TargetSampleRate, len(out), 200)
}

func TestMono16kWithoutFFmpegRejectsContainer(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "clip.webm")
	require.NoError(t, os.WriteFile(path, []byte("not really webm"), 0o644))

	_, err := Converter{FFmpeg: "/nonexistent/ffmpeg"}.Mono16k(context.Background(), path)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestToWAVWithoutFFmpeg(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	err := Converter{FFmpeg: "/nonexistent/ffmpeg"}.ToWAV(context.Background(), filepath.Join(dir, "in.webm"), filepath.Join(dir, "out.wav"))
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	require.Contains(t, err.Error(), ".webm")
}

func TestTrimTrailingSilence(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 12)
	binary.LittleEndian.PutUint16(buf[0:], 5)
	binary.LittleEndian.PutUint16(buf[4:], uint16(0xFFFF))

	require.Equal(t, []int16{5, 0, -1}, trimTrailingSilence(buf))
	require.Empty(t, trimTrailingSilence(make([]byte, 8)))
}

func TestDownmixInt16(t *testing.T) {
	t.Parallel()

	require.Equal(t, []int16{15, -5}, downmixInt16([]int16{10, 20, -10, 0}, 2))
}
