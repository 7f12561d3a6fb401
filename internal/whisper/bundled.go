package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/fmueller/voxserve/internal/audio"
	"github.com/fmueller/voxserve/internal/platform"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WhisperPathEnv overrides the whisper-cli executable lookup.
const WhisperPathEnv = "VOXSERVE_WHISPER_PATH"

// Extensions whisper-cli decodes on its own; anything else is converted to
// WAV first. whisper-cli reads Ogg/Vorbis but not Ogg/Opus, so .ogg files
// are checked with needsConversion.
var cliNativeFormats = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".flac": true,
	".ogg":  true,
}

// BundledEngine runs the whisper-cli executable once per request.
type BundledEngine struct {
	Executable string
	Threads    int
	TempDir    string
	Converter  audio.Converter
	Logger     *zap.Logger
}

func NewBundledEngine(logger *zap.Logger) (*BundledEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := &BundledEngine{
		Logger:    logger,
		Converter: audio.Converter{Logger: logger},
	}

	if override := strings.TrimSpace(os.Getenv(WhisperPathEnv)); override != "" {
		if err := ensureExecutable(override); err != nil {
			return nil, fmt.Errorf("%s is not executable: %w", WhisperPathEnv, err)
		}
		engine.Executable = override
		return engine, nil
	}

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve voxserve executable path: %w", err)
	}

	whisperExe, err := ResolveBundledEnginePath(self)
	if err != nil {
		if onPath, lookErr := exec.LookPath(engineBinaryName()); lookErr == nil {
			logger.Debug("using whisper engine from PATH", zap.String("engine", onPath))
			engine.Executable = onPath
			return engine, nil
		}
		return nil, err
	}

	engine.Executable = whisperExe
	return engine, nil
}

func ResolveBundledEnginePath(selfExecutable string) (string, error) {
	for _, candidate := range EnginePathCandidates(selfExecutable) {
		if err := ensureExecutable(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("whisper engine not found near %s; install whisper-cli at ../libexec/whisper/%s, put it on PATH, or set %s", selfExecutable, engineBinaryName(), WhisperPathEnv)
}

func EnginePathCandidates(selfExecutable string) []string {
	binDir := filepath.Dir(selfExecutable)
	engineName := engineBinaryName()
	host := platform.CurrentRuntime()
	hostTarget := host.OS + "_" + host.Arch

	return []string{
		filepath.Join(binDir, "..", "libexec", "whisper", engineName),
		filepath.Join(binDir, "libexec", "whisper", engineName),
		filepath.Join(binDir, "packaging", "whisper", hostTarget, engineName),
		filepath.Join(binDir, engineName),
	}
}

func (b *BundledEngine) Name() string {
	return "whisper-cli"
}

func (b *BundledEngine) Close() error {
	return nil
}

func (b *BundledEngine) Transcribe(ctx context.Context, req TranscriptionRequest) (Transcription, error) {
	if strings.TrimSpace(req.AudioPath) == "" {
		return Transcription{}, errors.New("audio path is required")
	}
	if strings.TrimSpace(req.ModelPath) == "" {
		return Transcription{}, errors.New("model path is required")
	}

	if err := ensureExecutable(b.Executable); err != nil {
		return Transcription{}, fmt.Errorf("whisper engine missing or not executable: %w", err)
	}

	outBase := filepath.Join(b.tempDir(), "voxserve-"+uuid.NewString())
	jsonOut := outBase + ".json"

	audioPath := req.AudioPath
	if b.needsConversion(audioPath) {
		converted := outBase + ".wav"
		defer os.Remove(converted)
		if err := b.Converter.ToWAV(ctx, audioPath, converted); err != nil {
			return Transcription{}, fmt.Errorf("prepare audio for whisper-cli: %w", err)
		}
		audioPath = converted
	}

	args := b.buildArgs(req, audioPath, outBase)

	cmd := exec.CommandContext(ctx, b.Executable, args...)
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	b.log().Debug("running whisper engine", zap.String("engine", b.Executable), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		errText := strings.TrimSpace(stderr.String())
		if isMissingSharedLibraryError(errText) {
			return Transcription{}, fmt.Errorf("whisper engine at %s is missing required shared libraries (%s); rebuild whisper-cli with BUILD_SHARED_LIBS=OFF", b.Executable, errText)
		}
		if isIllegalInstructionError(errText) || isIllegalInstructionError(err.Error()) {
			return Transcription{}, fmt.Errorf("whisper engine crashed with an illegal CPU instruction; " +
				"your CPU may lack required instruction set extensions; " +
				"set " + WhisperPathEnv + " to a whisper-cli binary built for your CPU")
		}
		return Transcription{}, fmt.Errorf("whisper transcribe failed: %w (%s)", err, errText)
	}

	defer os.Remove(jsonOut)
	content, err := os.ReadFile(jsonOut)
	if err != nil {
		return Transcription{}, fmt.Errorf("read whisper output: %w", err)
	}

	return ParseCLIOutput(content)
}

func (b *BundledEngine) needsConversion(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if !cliNativeFormats[ext] {
		return true
	}
	if ext != ".ogg" {
		return false
	}

	opus, err := audio.IsOggOpus(path)
	if err != nil {
		b.log().Debug("could not inspect ogg stream; converting", zap.String("audio", path), zap.Error(err))
		return true
	}
	return opus
}

func (b *BundledEngine) buildArgs(req TranscriptionRequest, audioPath, outBase string) []string {
	// -ng keeps inference on the CPU.
	args := []string{"-m", req.ModelPath, "-f", audioPath, "-oj", "-of", outBase, "-np", "-ng"}
	lang := strings.TrimSpace(req.Language)
	if lang != "" {
		args = append(args, "-l", lang)
	}
	if b.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(b.Threads))
	}
	return args
}

func (b *BundledEngine) tempDir() string {
	if b.TempDir != "" {
		return b.TempDir
	}
	return os.TempDir()
}

func (b *BundledEngine) log() *zap.Logger {
	if b.Logger == nil {
		return zap.NewNop()
	}
	return b.Logger
}

func engineBinaryName() string {
	if runtime.GOOS == "windows" {
		return "whisper-cli.exe"
	}
	return "whisper-cli"
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

func isMissingSharedLibraryError(stderr string) bool {
	value := strings.ToLower(strings.TrimSpace(stderr))
	if value == "" {
		return false
	}

	patterns := []string{
		"error while loading shared libraries",
		"cannot open shared object file",
		"dyld: library not loaded",
		"image not found",
	}

	for _, pattern := range patterns {
		if strings.Contains(value, pattern) {
			return true
		}
	}

	return false
}

func isIllegalInstructionError(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "illegal instruction")
}
