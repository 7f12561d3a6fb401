//go:build whispercpp

package whisper

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const nativeModelEnv = "VOXSERVE_TEST_MODEL_PATH"

func TestNativeEngineTranscribesSilence(t *testing.T) {
	modelPath := strings.TrimSpace(os.Getenv(nativeModelEnv))
	if modelPath == "" {
		t.Skip("set VOXSERVE_TEST_MODEL_PATH to a ggml model to run native engine tests")
	}

	engine, err := NewNativeEngine(modelPath, NativeOptions{Threads: 2}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, engine.Close()) })

	audioPath := filepath.Join(t.TempDir(), "silent.wav")
	require.NoError(t, os.WriteFile(audioPath, silentWAV(16000*3), 0o644))

	result, err := engine.Transcribe(context.Background(), TranscriptionRequest{AudioPath: audioPath, Language: "en"})
	require.NoError(t, err)
	for _, chunk := range result.Chunks {
		require.NotNil(t, chunk.Timestamp)
		require.GreaterOrEqual(t, chunk.Timestamp.End, chunk.Timestamp.Start)
	}
}

func TestNativeEngineRequiresModelPath(t *testing.T) {
	t.Parallel()

	_, err := NewNativeEngine("", NativeOptions{}, nil)
	require.ErrorContains(t, err, "model path is required")
}

func silentWAV(samples int) []byte {
	dataSize := samples * 2
	out := make([]byte, 44+dataSize)
	copy(out[0:], "RIFF")
	putUint32(out[4:], uint32(36+dataSize))
	copy(out[8:], "WAVEfmt ")
	putUint32(out[16:], 16)
	putUint16(out[20:], 1)
	putUint16(out[22:], 1)
	putUint32(out[24:], 16000)
	putUint32(out[28:], 32000)
	putUint16(out[32:], 2)
	putUint16(out[34:], 16)
	copy(out[36:], "data")
	putUint32(out[40:], uint32(dataSize))
	return out
}

func putUint16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
