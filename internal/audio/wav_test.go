package audio

import (
	"encoding/binary"
	"testing"
)

func TestNewWavBuffer_HeaderShape(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6}
	wav := NewWavBuffer(pcm, 16000)

	if string(wav[0:4]) != "RIFF" {
		t.Fatalf("missing RIFF chunk id, got %q", wav[0:4])
	}
	if string(wav[8:12]) != "WAVE" {
		t.Fatalf("missing WAVE format, got %q", wav[8:12])
	}
	if string(wav[12:16]) != "fmt " {
		t.Fatalf("missing fmt chunk, got %q", wav[12:16])
	}
	if string(wav[36:40]) != "data" {
		t.Fatalf("missing data chunk, got %q", wav[36:40])
	}

	riffSize := binary.LittleEndian.Uint32(wav[4:8])
	if int(riffSize) != 36+len(pcm) {
		t.Errorf("riff size = %d, want %d", riffSize, 36+len(pcm))
	}

	sampleRate := binary.LittleEndian.Uint32(wav[24:28])
	if sampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", sampleRate)
	}

	channels := binary.LittleEndian.Uint16(wav[22:24])
	if channels != 1 {
		t.Errorf("channels = %d, want 1 (mono)", channels)
	}

	bitsPerSample := binary.LittleEndian.Uint16(wav[34:36])
	if bitsPerSample != 16 {
		t.Errorf("bits per sample = %d, want 16", bitsPerSample)
	}

	dataSize := binary.LittleEndian.Uint32(wav[40:44])
	if int(dataSize) != len(pcm) {
		t.Errorf("data size = %d, want %d", dataSize, len(pcm))
	}

	gotPCM := wav[44:]
	if len(gotPCM) != len(pcm) {
		t.Fatalf("data payload length = %d, want %d", len(gotPCM), len(pcm))
	}
	for i := range pcm {
		if gotPCM[i] != pcm[i] {
			t.Fatalf("data payload mismatch at %d: got %d want %d", i, gotPCM[i], pcm[i])
		}
	}
}
