package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pion/opus"
	"github.com/pion/opus/pkg/oggreader"
	"go.uber.org/zap"
)

// Max Opus frame: 120ms at 48kHz.
const maxOpusFrameSize = 5760

const (
	oggPageHeaderLen = 27
	opusHeadMagic    = "OpusHead"
)

// IsOggOpus reports whether the file at path is an Ogg stream whose first
// packet is an Opus identification header. Ogg/Vorbis and non-Ogg files
// report false.
func IsOggOpus(path string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()

	page := make([]byte, oggPageHeaderLen)
	if _, err := io.ReadFull(file, page); err != nil {
		return false, ignoreShortRead(err)
	}
	if string(page[:4]) != "OggS" {
		return false, nil
	}

	// Skip the lacing table to reach the first packet.
	if _, err := file.Seek(int64(page[26]), io.SeekCurrent); err != nil {
		return false, err
	}
	magic := make([]byte, len(opusHeadMagic))
	if _, err := io.ReadFull(file, magic); err != nil {
		return false, ignoreShortRead(err)
	}
	return string(magic) == opusHeadMagic, nil
}

func ignoreShortRead(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil
	}
	return err
}

// pion/opus panics on some streams, so decoding is guarded.
func decodeOggOpusSafe(path string, logger *zap.Logger) (samples []float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("opus decoder panicked, recovered", zap.Any("panic", r))
			samples = nil
			err = fmt.Errorf("opus decoder panic: %v", r)
		}
	}()
	return decodeOggOpus(path, logger)
}

func decodeOggOpus(path string, logger *zap.Logger) ([]float32, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer file.Close()

	ogg, header, err := oggreader.NewWith(file)
	if err != nil {
		return nil, fmt.Errorf("parse ogg container: %w", err)
	}

	sampleRate := int(header.SampleRate)
	channels := max(int(header.Channels), 1)
	decoder := opus.NewDecoder()
	out := make([]byte, maxOpusFrameSize*channels*2)

	var all []int16
	for {
		segments, _, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse ogg page: %w", err)
		}

		for _, segment := range segments {
			if len(segment) == 0 {
				continue
			}
			clear(out)
			if _, _, err := decoder.Decode(segment, out); err != nil {
				logger.Debug("skipping opus packet", zap.Int("len", len(segment)), zap.Error(err))
				continue
			}
			all = append(all, trimTrailingSilence(out)...)
		}
	}

	if len(all) == 0 {
		return nil, fmt.Errorf("no audio samples decoded from %s", filepath.Base(path))
	}

	if channels > 1 {
		all = downmixInt16(all, channels)
	}
	return int16ToFloat32(resampleInt16(all, sampleRate, TargetSampleRate, logger)), nil
}

// trimTrailingSilence reads little-endian int16 samples from buf, dropping
// the zeroed tail the decoder did not write to.
func trimTrailingSilence(buf []byte) []int16 {
	end := len(buf) / 2
	for end > 0 && binary.LittleEndian.Uint16(buf[(end-1)*2:]) == 0 {
		end--
	}

	samples := make([]int16, end)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	return samples
}
