package whisper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEngineUnknownKind(t *testing.T) {
	t.Parallel()

	_, err := NewEngine(Options{Kind: "tensorrt"})
	require.ErrorContains(t, err, `unknown engine "tensorrt"`)
}

func TestNewEngineCLIUsesOverride(t *testing.T) {
	exe := filepath.Join(t.TempDir(), "whisper-cli")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755))
	t.Setenv(WhisperPathEnv, exe)

	engine, err := NewEngine(Options{Kind: EngineCLI, Threads: 2, TempDir: "/var/tmp"})
	require.NoError(t, err)

	bundled, ok := engine.(*BundledEngine)
	require.True(t, ok)
	require.Equal(t, exe, bundled.Executable)
	require.Equal(t, 2, bundled.Threads)
	require.Equal(t, "/var/tmp", bundled.TempDir)
	require.Equal(t, "whisper-cli", engine.Name())
}

func TestNewEngineCLIRejectsNonExecutableOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whisper-cli")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))
	t.Setenv(WhisperPathEnv, path)

	_, err := NewEngine(Options{Kind: EngineCLI})
	require.ErrorContains(t, err, WhisperPathEnv)
}

func TestNewEngineNativeWithoutBuildTag(t *testing.T) {
	t.Parallel()
	if NativeAvailable {
		t.Skip("built with whispercpp tag")
	}

	_, err := NewEngine(Options{Kind: EngineNative, ModelPath: "model.bin"})
	require.ErrorIs(t, err, ErrNativeUnavailable)
}
