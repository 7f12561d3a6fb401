//go:build whispercpp

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fmueller/voxserve/internal/audio"
	whispercpp "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"go.uber.org/zap"
)

// NativeAvailable reports whether this build links whisper.cpp.
const NativeAvailable = true

// NativeEngine keeps one whisper.cpp model in memory for the life of the
// process. Contexts created from it share model state, so calls are
// serialized.
type NativeEngine struct {
	model     whispercpp.Model
	modelPath string
	threads   uint
	converter audio.Converter
	logger    *zap.Logger

	mu sync.Mutex
}

func NewNativeEngine(modelPath string, opts NativeOptions, logger *zap.Logger) (Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(modelPath) == "" {
		return nil, errors.New("model path is required")
	}

	logger.Info("loading whisper.cpp model", zap.String("path", modelPath))
	model, err := whispercpp.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}
	logger.Info("whisper.cpp model loaded", zap.Bool("multilingual", model.IsMultilingual()))

	threads := uint(0)
	if opts.Threads > 0 {
		threads = uint(opts.Threads)
	}

	return &NativeEngine{
		model:     model,
		modelPath: modelPath,
		threads:   threads,
		converter: audio.Converter{FFmpeg: opts.FFmpeg, Logger: logger},
		logger:    logger,
	}, nil
}

func (e *NativeEngine) Name() string {
	return "whisper.cpp"
}

func (e *NativeEngine) Transcribe(ctx context.Context, req TranscriptionRequest) (Transcription, error) {
	if strings.TrimSpace(req.AudioPath) == "" {
		return Transcription{}, errors.New("audio path is required")
	}

	samples, err := e.converter.Mono16k(ctx, req.AudioPath)
	if err != nil {
		return Transcription{}, fmt.Errorf("convert audio: %w", err)
	}
	e.logger.Debug("audio converted", zap.Int("samples", len(samples)), zap.Float64("duration_sec", float64(len(samples))/audio.TargetSampleRate))

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Transcription{}, err
	}

	wctx, err := e.model.NewContext()
	if err != nil {
		return Transcription{}, fmt.Errorf("create whisper context: %w", err)
	}

	lang := strings.TrimSpace(req.Language)
	if lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			e.logger.Warn("failed to set language", zap.String("language", lang), zap.Error(err))
		}
	}
	if e.threads > 0 {
		wctx.SetThreads(e.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return Transcription{}, fmt.Errorf("whisper process: %w", err)
	}

	result := Transcription{Language: lang}
	var text strings.Builder
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Transcription{}, fmt.Errorf("read segment: %w", err)
		}

		text.WriteString(segment.Text)
		result.Chunks = append(result.Chunks, Chunk{
			Text:      segment.Text,
			Timestamp: &Span{Start: segment.Start.Seconds(), End: segment.End.Seconds()},
		})
	}
	result.Text = text.String()

	return result, nil
}

func (e *NativeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logger.Debug("closing whisper.cpp model", zap.String("path", e.modelPath))
	return e.model.Close()
}
