//go:build e2e

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fmueller/voxserve/internal/asr"
	"github.com/fmueller/voxserve/internal/audio/audiotest"
	"github.com/fmueller/voxserve/internal/whisper"
	"github.com/stretchr/testify/require"
)

const (
	e2eWhisperPathEnv = "VOXSERVE_E2E_WHISPER_PATH"
	e2eModelDirEnv    = "VOXSERVE_E2E_MODEL_DIR"
	e2eSpeechFileEnv  = "VOXSERVE_E2E_SPEECH_FILE"
)

// prepareE2E points the engine lookup at the configured whisper-cli and
// installs the tiny model. It returns the model directory.
func prepareE2E(t *testing.T) string {
	t.Helper()

	whisperPath := strings.TrimSpace(os.Getenv(e2eWhisperPathEnv))
	if whisperPath == "" {
		t.Skip("set " + e2eWhisperPathEnv + " to run e2e test")
	}

	modelDir := strings.TrimSpace(os.Getenv(e2eModelDirEnv))
	if modelDir == "" {
		modelDir = t.TempDir()
	}

	t.Setenv(whisper.WhisperPathEnv, whisperPath)

	_, setupStderr, err := runRootCommand(context.Background(), []string{
		"setup",
		"--model", "tiny",
		"--model-dir", modelDir,
		"--no-progress",
	})
	require.NoErrorf(t, err, "setup command failed: %s", setupStderr)
	return modelDir
}

func runRootCommand(ctx context.Context, args []string) (stdout string, stderr string, err error) {
	cmd := NewRootCmd()
	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetContext(ctx)
	cmd.SetArgs(args)

	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

func decodeResult(t *testing.T, stdout string) asr.Result {
	t.Helper()

	var result asr.Result
	require.NoErrorf(t, json.Unmarshal([]byte(stdout), &result), "stdout: %s", stdout)
	require.NotNil(t, result.Timestamps)
	require.GreaterOrEqual(t, result.ElapsedSeconds, 0.0)
	return result
}

func TestTranscribeBlankAudioEndToEnd(t *testing.T) {
	modelDir := prepareE2E(t)

	silentWAV := filepath.Join(t.TempDir(), "silent.wav")
	require.NoError(t, os.WriteFile(silentWAV, audiotest.PCM16WAV(make([]int16, 16000), 16000, 1), 0o644))

	stdout, stderr, err := runRootCommand(context.Background(), []string{
		"transcribe",
		"--model", "tiny",
		"--model-dir", modelDir,
		"--no-progress",
		silentWAV,
	})
	require.NoErrorf(t, err, "transcribe command failed: %s", stderr)

	result := decodeResult(t, stdout)
	require.Equal(t, "", result.Text)
}

func TestTranscribeSilenceGateEndToEnd(t *testing.T) {
	modelDir := prepareE2E(t)

	silentWAV := filepath.Join(t.TempDir(), "silent.wav")
	require.NoError(t, os.WriteFile(silentWAV, audiotest.PCM16WAV(make([]int16, 16000), 16000, 1), 0o644))

	stdout, stderr, err := runRootCommand(context.Background(), []string{
		"transcribe",
		"--model", "tiny",
		"--model-dir", modelDir,
		"--silence-gate",
		"--no-progress",
		silentWAV,
	})
	require.NoErrorf(t, err, "transcribe command failed: %s", stderr)

	result := decodeResult(t, stdout)
	require.Equal(t, "", result.Text)
	require.Empty(t, result.Timestamps)
	require.Equal(t, 0.0, result.ElapsedSeconds)
}

func TestTranscribeSpeechEndToEnd(t *testing.T) {
	modelDir := prepareE2E(t)

	audioPath := strings.TrimSpace(os.Getenv(e2eSpeechFileEnv))
	if audioPath == "" {
		t.Skip("set " + e2eSpeechFileEnv + " to a short speech recording")
	}

	tests := []struct {
		name     string
		language string
	}{
		{name: "explicit english", language: "en"},
		{name: "auto detect", language: "auto"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr, err := runRootCommand(context.Background(), []string{
				"transcribe",
				"--model", "tiny",
				"--model-dir", modelDir,
				"--language", tt.language,
				"--no-progress",
				audioPath,
			})
			require.NoErrorf(t, err, "transcribe command failed: %s", stderr)

			result := decodeResult(t, stdout)
			require.NotEmptyf(t, result.Text, "empty transcript with --language %s", tt.language)
			require.NotEmpty(t, result.Timestamps)
			for _, segment := range result.Timestamps {
				require.LessOrEqual(t, segment.Start, segment.End)
			}
		})
	}
}
