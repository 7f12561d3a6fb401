package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

var (
	ErrUnsupportedWAV = errors.New("unsupported wav format")
	ErrInvalidWAV     = errors.New("invalid wav file")
)

// PCM holds decoded, interleaved samples normalized to [-1, 1].
type PCM struct {
	SampleRate int
	Channels   int
	Samples    []float64
}

// Frames returns the number of sample frames, i.e. samples per channel.
func (p PCM) Frames() int {
	if p.Channels <= 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

func ReadWAV(path string) (PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return PCM{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	return decodeWAV(f)
}

// streamingDataSize is written by encoders that do not know the length up
// front. Such a data chunk runs to the end of the file.
const streamingDataSize = 0xFFFFFFFF

func decodeWAV(r io.ReadSeeker) (PCM, error) {
	fileSize, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return PCM{}, fmt.Errorf("seek wav end: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return PCM{}, fmt.Errorf("seek wav start: %w", err)
	}

	header := make([]byte, 12)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return PCM{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
		}
		return PCM{}, fmt.Errorf("read wav header: %w", err)
	}

	if string(header[:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return PCM{}, ErrInvalidWAV
	}

	var (
		format     wavFormat
		dataOffset int64
		dataSize   int64
		hasFmt     bool
		hasData    bool
	)

	for {
		chunkHeader := make([]byte, 8)
		if _, err := io.ReadFull(r, chunkHeader); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return PCM{}, fmt.Errorf("read wav chunk header: %w", err)
		}

		chunkID := string(chunkHeader[:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		chunkStart, err := r.Seek(0, io.SeekCurrent)
		if err != nil {
			return PCM{}, fmt.Errorf("seek wav chunk start: %w", err)
		}

		// Chunk sizes come from the file and must not drive allocations
		// past what the file actually holds.
		remaining := fileSize - chunkStart
		size := int64(chunkSize)
		if size > remaining {
			if chunkID != "data" || chunkSize != streamingDataSize {
				return PCM{}, fmt.Errorf("%w: %q chunk declares %d bytes, %d left", ErrInvalidWAV, chunkID, size, remaining)
			}
			size = remaining
		}

		skip := size
		if size%2 != 0 {
			skip++
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return PCM{}, ErrInvalidWAV
			}

			buf := make([]byte, chunkSize)
			if _, err := io.ReadFull(r, buf); err != nil {
				return PCM{}, fmt.Errorf("read wav fmt chunk: %w", err)
			}

			format = wavFormat{
				audioFormat:   binary.LittleEndian.Uint16(buf[0:2]),
				channels:      binary.LittleEndian.Uint16(buf[2:4]),
				sampleRate:    binary.LittleEndian.Uint32(buf[4:8]),
				bitsPerSample: binary.LittleEndian.Uint16(buf[14:16]),
			}
			hasFmt = true

			if chunkSize%2 != 0 {
				if _, err := r.Seek(1, io.SeekCurrent); err != nil {
					return PCM{}, fmt.Errorf("seek wav fmt padding: %w", err)
				}
			}
		case "data":
			dataOffset = chunkStart
			dataSize = size
			hasData = true
			if _, err := r.Seek(skip, io.SeekCurrent); err != nil {
				return PCM{}, fmt.Errorf("seek wav data chunk: %w", err)
			}
		default:
			if _, err := r.Seek(skip, io.SeekCurrent); err != nil {
				return PCM{}, fmt.Errorf("seek wav chunk %s: %w", chunkID, err)
			}
		}
	}

	if !hasFmt || !hasData {
		return PCM{}, ErrInvalidWAV
	}

	if err := format.validate(); err != nil {
		return PCM{}, err
	}

	if _, err := r.Seek(dataOffset, io.SeekStart); err != nil {
		return PCM{}, fmt.Errorf("seek wav data offset: %w", err)
	}

	data := make([]byte, dataSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return PCM{}, fmt.Errorf("read wav data: %w", err)
	}

	samples, err := format.decode(data)
	if err != nil {
		return PCM{}, err
	}

	return PCM{
		SampleRate: int(format.sampleRate),
		Channels:   int(format.channels),
		Samples:    samples,
	}, nil
}

type wavFormat struct {
	audioFormat   uint16
	channels      uint16
	sampleRate    uint32
	bitsPerSample uint16
}

func (f wavFormat) validate() error {
	if f.channels == 0 || f.sampleRate == 0 {
		return ErrInvalidWAV
	}

	switch f.audioFormat {
	case 1:
		switch f.bitsPerSample {
		case 8, 16, 24, 32:
			return nil
		}
	case 3:
		switch f.bitsPerSample {
		case 32, 64:
			return nil
		}
	}

	return ErrUnsupportedWAV
}

func (f wavFormat) decode(data []byte) ([]float64, error) {
	bytesPerSample := int(f.bitsPerSample / 8)
	if bytesPerSample <= 0 {
		return nil, ErrUnsupportedWAV
	}

	samples := make([]float64, 0, len(data)/bytesPerSample)
	for i := 0; i+bytesPerSample <= len(data); i += bytesPerSample {
		value, err := decodeSample(data[i:i+bytesPerSample], f.audioFormat, f.bitsPerSample)
		if err != nil {
			return nil, err
		}
		samples = append(samples, value)
	}

	return samples, nil
}

func decodeSample(sample []byte, audioFormat, bitsPerSample uint16) (float64, error) {
	if audioFormat == 3 {
		switch bitsPerSample {
		case 32:
			bits := binary.LittleEndian.Uint32(sample)
			return float64(math.Float32frombits(bits)), nil
		case 64:
			bits := binary.LittleEndian.Uint64(sample)
			return math.Float64frombits(bits), nil
		default:
			return 0, ErrUnsupportedWAV
		}
	}

	switch bitsPerSample {
	case 8:
		u := float64(sample[0])
		return (u - 128.0) / 128.0, nil
	case 16:
		v := int16(binary.LittleEndian.Uint16(sample))
		return float64(v) / 32768.0, nil
	case 24:
		v := int32(sample[0]) | int32(sample[1])<<8 | int32(sample[2])<<16
		if v&0x800000 != 0 {
			v |= ^0xFFFFFF
		}
		return float64(v) / 8388608.0, nil
	case 32:
		v := int32(binary.LittleEndian.Uint32(sample))
		return float64(v) / 2147483648.0, nil
	default:
		return 0, ErrUnsupportedWAV
	}
}

// WriteMono16kWAV writes samples in [-1, 1] as a 16 kHz mono 16-bit PCM WAV
// file at path.
func WriteMono16kWAV(path string, samples []float32) (err error) {
	const (
		bitsPerSample = 16
		blockAlign    = bitsPerSample / 8
	)
	dataSize := len(samples) * blockAlign

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("close wav: %w", closeErr)
		}
	}()

	header := make([]byte, 44)
	copy(header[0:], "RIFF")
	binary.LittleEndian.PutUint32(header[4:], uint32(36+dataSize))
	copy(header[8:], "WAVE")
	copy(header[12:], "fmt ")
	binary.LittleEndian.PutUint32(header[16:], 16)
	binary.LittleEndian.PutUint16(header[20:], 1)
	binary.LittleEndian.PutUint16(header[22:], 1)
	binary.LittleEndian.PutUint32(header[24:], TargetSampleRate)
	binary.LittleEndian.PutUint32(header[28:], TargetSampleRate*blockAlign)
	binary.LittleEndian.PutUint16(header[32:], blockAlign)
	binary.LittleEndian.PutUint16(header[34:], bitsPerSample)
	copy(header[36:], "data")
	binary.LittleEndian.PutUint32(header[40:], uint32(dataSize))

	body := make([]byte, dataSize)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(body[i*blockAlign:], uint16(floatToInt16(float64(s))))
	}

	if _, err := file.Write(header); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}
	if _, err := file.Write(body); err != nil {
		return fmt.Errorf("write wav data: %w", err)
	}
	return nil
}
