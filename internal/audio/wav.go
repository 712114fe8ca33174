package audio

import (
	"bytes"
	"encoding/binary"
)

// NewWavBuffer wraps raw PCM16LE mono samples in a minimal RIFF/WAVE
// container, the shape REST-only batch transcription vendors expect as a
// multipart file upload.
func NewWavBuffer(pcm []byte, sampleRateHz int) []byte {
	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRateHz))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRateHz*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
