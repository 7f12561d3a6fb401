package whisper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveModelDefaultNamedModel(t *testing.T) {
	t.Parallel()

	modelDir := t.TempDir()
	resolved, err := ResolveModel("", modelDir)
	require.NoError(t, err)
	require.Equal(t, DefaultModel, resolved.Name)
	require.Equal(t, filepath.Join(modelDir, "ggml-large-v3-turbo.bin"), resolved.Path)
	require.True(t, resolved.NeedsDownload)
	require.False(t, resolved.IsCustomPath)
	require.Equal(t, "openai/whisper-large-v3-turbo", resolved.ID())
}

func TestResolveModelExistingNamedModel(t *testing.T) {
	t.Parallel()

	modelDir := t.TempDir()
	modelPath := filepath.Join(modelDir, "ggml-tiny.bin")
	require.NoError(t, os.WriteFile(modelPath, []byte("ok"), 0o644))

	resolved, err := ResolveModel("tiny", modelDir)
	require.NoError(t, err)
	require.Equal(t, "tiny", resolved.Name)
	require.Equal(t, modelPath, resolved.Path)
	require.False(t, resolved.NeedsDownload)
}

func TestResolveModelCustomPath(t *testing.T) {
	t.Parallel()

	custom := filepath.Join(t.TempDir(), "custom.bin")
	require.NoError(t, os.WriteFile(custom, []byte("x"), 0o644))

	resolved, err := ResolveModel(custom, t.TempDir())
	require.NoError(t, err)
	require.True(t, resolved.IsCustomPath)
	require.Equal(t, custom, resolved.Path)
	require.Equal(t, "custom", resolved.ID())
}

func TestResolveModelUnknownModel(t *testing.T) {
	t.Parallel()

	_, err := ResolveModel("super-huge", t.TempDir())
	require.Error(t, err)
}

func TestRegistryPinsEveryChecksum(t *testing.T) {
	t.Parallel()

	for _, name := range ModelNames() {
		model, ok := LookupModel(name)
		require.True(t, ok)
		require.NotEmptyf(t, model.Upstream, "model %s should name its upstream", name)
		require.Regexpf(t, "^[a-f0-9]{64}$", model.SHA256, "model %s needs a pinned sha256", name)
	}

	resolved, err := ResolveModel("", t.TempDir())
	require.NoError(t, err)
	require.Equal(t, DefaultModel, resolved.Name)
	require.NotEmpty(t, resolved.SHA256)
}

func TestModelID(t *testing.T) {
	t.Parallel()

	require.Equal(t, "openai/whisper-large-v3-turbo", ModelID(""))
	require.Equal(t, "openai/whisper-small", ModelID("small"))
	require.Equal(t, "my-model", ModelID("/models/my-model.bin"))
}
