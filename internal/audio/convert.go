package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zeozeozeo/gomplerate"
	"go.uber.org/zap"
)

// TargetSampleRate is the rate whisper models expect.
const TargetSampleRate = 16000

var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Converter turns arbitrary uploads into audio whisper can consume.
type Converter struct {
	// FFmpeg overrides the ffmpeg executable; empty means look it up on PATH.
	FFmpeg string
	Logger *zap.Logger
}

// Mono16k decodes path into 16 kHz mono float32 samples. WAV and OGG/Opus
// are decoded in-process; everything else goes through ffmpeg.
func (c Converter) Mono16k(ctx context.Context, path string) ([]float32, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		pcm, err := ReadWAV(path)
		if err == nil {
			return pcmToMono16k(pcm, c.log()), nil
		}
		if !errors.Is(err, ErrUnsupportedWAV) {
			return nil, err
		}
		c.log().Debug("wav encoding not handled natively, falling back to ffmpeg", zap.String("audio", path))
	case ".ogg", ".opus", ".oga":
		if _, ok := c.ffmpegPath(); !ok {
			return decodeOggOpusSafe(path, c.log())
		}
	}

	return c.decodeWithFFmpeg(ctx, path)
}

// ToWAV converts in to a 16 kHz mono 16-bit WAV file at out using ffmpeg.
func (c Converter) ToWAV(ctx context.Context, in, out string) error {
	ffmpeg, ok := c.ffmpegPath()
	if !ok {
		if opus, _ := IsOggOpus(in); opus {
			return c.oggOpusToWAV(in, out)
		}
		return fmt.Errorf("%w %s (install ffmpeg to convert it)", ErrUnsupportedFormat, filepath.Ext(in))
	}

	cmd := exec.CommandContext(ctx, ffmpeg,
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-i", in,
		"-ar", strconv.Itoa(TargetSampleRate),
		"-ac", "1",
		"-c:a", "pcm_s16le",
		"-y", out,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	c.log().Debug("converting audio with ffmpeg", zap.String("input", in), zap.String("output", out))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg conversion failed: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (c Converter) oggOpusToWAV(in, out string) error {
	samples, err := decodeOggOpusSafe(in, c.log())
	if err != nil {
		return fmt.Errorf("decode ogg/opus: %w", err)
	}
	c.log().Debug("decoded ogg/opus in-process", zap.String("input", in), zap.Int("samples", len(samples)))
	return WriteMono16kWAV(out, samples)
}

func (c Converter) decodeWithFFmpeg(ctx context.Context, path string) ([]float32, error) {
	ffmpeg, ok := c.ffmpegPath()
	if !ok {
		return nil, fmt.Errorf("%w %s (install ffmpeg to decode it)", ErrUnsupportedFormat, filepath.Ext(path))
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, ffmpeg,
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-i", path,
		"-ar", strconv.Itoa(TargetSampleRate),
		"-ac", "1",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-",
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.log().Debug("decoding audio with ffmpeg", zap.String("audio", path))
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg decode failed: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}

	raw := stdout.Bytes()
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return int16ToFloat32(samples), nil
}

func (c Converter) ffmpegPath() (string, bool) {
	name := strings.TrimSpace(c.FFmpeg)
	if name == "" {
		name = "ffmpeg"
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", false
	}
	return path, true
}

func (c Converter) log() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func pcmToMono16k(pcm PCM, logger *zap.Logger) []float32 {
	channels := max(pcm.Channels, 1)
	mono := make([]int16, pcm.Frames())
	for i := range mono {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			sum += pcm.Samples[i*channels+ch]
		}
		mono[i] = floatToInt16(sum / float64(channels))
	}

	return int16ToFloat32(resampleInt16(mono, pcm.SampleRate, TargetSampleRate, logger))
}

func downmixInt16(samples []int16, channels int) []int16 {
	mono := make([]int16, len(samples)/channels)
	for i := range mono {
		var sum int32
		for ch := 0; ch < channels; ch++ {
			sum += int32(samples[i*channels+ch])
		}
		mono[i] = int16(sum / int32(channels))
	}
	return mono
}

func resampleInt16(samples []int16, fromRate, toRate int, logger *zap.Logger) []int16 {
	if fromRate == toRate || fromRate <= 0 || len(samples) == 0 {
		return samples
	}

	resampler, err := gomplerate.NewResampler(1, fromRate, toRate)
	if err != nil {
		logger.Warn("resampler creation failed, keeping original rate", zap.Int("from", fromRate), zap.Int("to", toRate), zap.Error(err))
		return samples
	}
	return resampler.ResampleInt16(samples)
}

func floatToInt16(v float64) int16 {
	v = math.Max(-1, math.Min(1, v))
	return int16(math.Round(v * 32767))
}

func int16ToFloat32(samples []int16) []float32 {
	result := make([]float32, len(samples))
	for i, s := range samples {
		result[i] = float32(s) / 32768.0
	}
	return result
}
