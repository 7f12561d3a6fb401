package asr

import (
	"context"
	"fmt"
	"os"

	"github.com/fmueller/voxserve/internal/download"
	"github.com/fmueller/voxserve/internal/platform"
	"github.com/fmueller/voxserve/internal/whisper"
	"go.uber.org/zap"
)

// ModelSource locates the model weights and downloads missing named models
// when AutoDownload is set.
type ModelSource struct {
	Ref          string
	Dir          string
	AutoDownload bool
	NoProgress   bool
	Logger       *zap.Logger

	// Download defaults to download.DownloadFile.
	Download func(ctx context.Context, opts download.Options) error
}

// StorageDir resolves the model directory and makes sure it exists.
func (m ModelSource) StorageDir() (string, error) {
	dir, err := platform.ResolveModelDir(m.Dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model directory %s: %w", dir, err)
	}
	return dir, nil
}

// Ensure resolves the model and downloads it if needed.
func (m ModelSource) Ensure(ctx context.Context) (whisper.ResolvedModel, error) {
	modelDir, err := m.StorageDir()
	if err != nil {
		return whisper.ResolvedModel{}, err
	}

	resolved, err := whisper.ResolveModel(m.Ref, modelDir)
	if err != nil {
		return whisper.ResolvedModel{}, err
	}

	if !resolved.NeedsDownload {
		return resolved, nil
	}

	if !m.AutoDownload {
		return whisper.ResolvedModel{}, fmt.Errorf("model %q is missing at %s; run `voxserve setup --model %s` or use --auto-download=true", resolved.Name, resolved.Path, resolved.Name)
	}

	fetch := m.Download
	if fetch == nil {
		fetch = download.DownloadFile
	}

	m.log().Info("model not found, downloading", zap.String("model", resolved.Name), zap.String("destination", resolved.Path))
	if err := fetch(ctx, download.Options{
		URL:            resolved.URL,
		Destination:    resolved.Path,
		ExpectedSHA256: resolved.SHA256,
		ChecksumURL:    resolved.SHA256URL,
		Label:          resolved.Name + " (" + resolved.ID() + ")",
		NoProgress:     m.NoProgress,
		Logger:         m.log(),
	}); err != nil {
		return whisper.ResolvedModel{}, fmt.Errorf("download model %q: %w", resolved.Name, err)
	}

	resolved.NeedsDownload = false
	return resolved, nil
}

func (m ModelSource) log() *zap.Logger {
	if m.Logger == nil {
		return zap.NewNop()
	}
	return m.Logger
}
