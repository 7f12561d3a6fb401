package whisper

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	EngineCLI    = "cli"
	EngineNative = "native"
)

var ErrNativeUnavailable = errors.New("native whisper.cpp engine not compiled in; rebuild with -tags whispercpp or use the cli engine")

// NativeOptions tunes the in-process engine.
type NativeOptions struct {
	Threads int
	FFmpeg  string
}

// Options selects and configures an engine.
type Options struct {
	Kind      string
	ModelPath string
	Threads   int
	TempDir   string
	FFmpeg    string
	Logger    *zap.Logger
}

func EngineKinds() []string {
	return []string{EngineCLI, EngineNative}
}

// NewEngine builds the engine named by opts.Kind. The native engine loads
// the model immediately; the cli engine only verifies the executable.
func NewEngine(opts Options) (Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	switch strings.ToLower(strings.TrimSpace(opts.Kind)) {
	case "", EngineCLI:
		engine, err := NewBundledEngine(logger)
		if err != nil {
			return nil, err
		}
		engine.Threads = opts.Threads
		engine.TempDir = opts.TempDir
		engine.Converter.FFmpeg = opts.FFmpeg
		return engine, nil
	case EngineNative:
		return NewNativeEngine(opts.ModelPath, NativeOptions{Threads: opts.Threads, FFmpeg: opts.FFmpeg}, logger)
	default:
		return nil, fmt.Errorf("unknown engine %q (known engines: %s)", opts.Kind, strings.Join(EngineKinds(), ", "))
	}
}
