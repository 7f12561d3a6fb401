package audiotest

import (
	"bytes"
	"encoding/binary"
)

// OggStream lays out each packet on its own Ogg page, the first one marked
// as beginning of stream. Packets must be shorter than 255 bytes. Page
// checksums are valid.
func OggStream(packets ...[]byte) []byte {
	var buf bytes.Buffer
	for i, packet := range packets {
		headerType := byte(0)
		if i == 0 {
			headerType = 0x02
		}
		buf.Write(oggPage(headerType, uint32(i), packet))
	}
	return buf.Bytes()
}

// OggOpus builds an Ogg/Opus stream: the OpusHead and OpusTags headers
// followed by one page per audio packet.
func OggOpus(sampleRate uint32, channels uint8, packets ...[]byte) []byte {
	head := make([]byte, 19)
	copy(head, "OpusHead")
	head[8] = 1
	head[9] = channels
	binary.LittleEndian.PutUint16(head[10:], 312)
	binary.LittleEndian.PutUint32(head[12:], sampleRate)

	tags := append([]byte("OpusTags"), make([]byte, 8)...)

	return OggStream(append([][]byte{head, tags}, packets...)...)
}

func oggPage(headerType byte, sequence uint32, packet []byte) []byte {
	page := make([]byte, 27, 28+len(packet))
	copy(page, "OggS")
	page[5] = headerType
	binary.LittleEndian.PutUint32(page[14:], 1)
	binary.LittleEndian.PutUint32(page[18:], sequence)
	page[26] = 1
	page = append(page, byte(len(packet)))
	page = append(page, packet...)

	binary.LittleEndian.PutUint32(page[22:], oggChecksum(page))
	return page
}

// oggChecksum is the CRC-32 of RFC 3533: polynomial 0x04c11db7, no
// reflection, zero init, computed with the checksum field zeroed.
func oggChecksum(page []byte) uint32 {
	var crc uint32
	for _, b := range page {
		crc ^= uint32(b) << 24
		for i := 0; i < 8; i++ {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ 0x04c11db7
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
