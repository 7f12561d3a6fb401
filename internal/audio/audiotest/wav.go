// Package audiotest builds audio fixtures for tests.
package audiotest

import (
	"bytes"
	"encoding/binary"
)

// PCM16WAV encodes interleaved 16-bit samples as a canonical RIFF/WAVE file.
func PCM16WAV(samples []int16, sampleRate, channels int) []byte {
	const bytesPerSample = 2
	dataSize := len(samples) * bytesPerSample

	var buf bytes.Buffer
	buf.Grow(44 + dataSize)
	put := func(v any) { _ = binary.Write(&buf, binary.LittleEndian, v) }

	buf.WriteString("RIFF")
	put(uint32(36 + dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	put(uint32(16))
	put(uint16(1))
	put(uint16(channels))
	put(uint32(sampleRate))
	put(uint32(sampleRate * channels * bytesPerSample))
	put(uint16(channels * bytesPerSample))
	put(uint16(16))

	buf.WriteString("data")
	put(uint32(dataSize))
	put(samples)

	return buf.Bytes()
}
