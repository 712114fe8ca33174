package audio

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRate is returned when a sample rate is non-positive.
var ErrInvalidRate = errors.New("audio: sample rate must be > 0")

// MixdownToMono averages interleaved multi-channel samples down to mono.
// channels == 1 is a passthrough (a copy is still returned).
func MixdownToMono(samples []float32, channels int) ([]float32, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("audio: channels must be > 0, got %d", channels)
	}
	if channels == 1 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}
	if len(samples)%channels != 0 {
		return nil, fmt.Errorf("audio: sample count %d not divisible by %d channels", len(samples), channels)
	}

	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out, nil
}

// ResampleLinear resamples mono f32 samples from fromRateHz to toRateHz using
// linear interpolation. dst_len = floor(src_len * to/from), at least 1
// sample. Identity when the rates match.
func ResampleLinear(samples []float32, fromRateHz, toRateHz int) ([]float32, error) {
	if fromRateHz <= 0 || toRateHz <= 0 {
		return nil, ErrInvalidRate
	}
	if fromRateHz == toRateHz {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}
	if len(samples) == 0 {
		return []float32{}, nil
	}

	srcLen := len(samples)
	dstLen := int(math.Floor(float64(srcLen) * float64(toRateHz) / float64(fromRateHz)))
	if dstLen < 1 {
		dstLen = 1
	}

	out := make([]float32, dstLen)
	if dstLen == 1 {
		out[0] = samples[0]
		return out, nil
	}

	step := float64(srcLen-1) / float64(dstLen-1)
	for i := 0; i < dstLen; i++ {
		pos := step * float64(i)
		lo := int(math.Floor(pos))
		if lo >= srcLen-1 {
			out[i] = samples[srcLen-1]
			continue
		}
		frac := pos - float64(lo)
		out[i] = float32(float64(samples[lo])*(1-frac) + float64(samples[lo+1])*frac)
	}
	return out, nil
}

// NormalizeAudio fuses MixdownToMono and ResampleLinear into the path the
// VAD pipeline consumes.
func NormalizeAudio(raw []float32, channels, inRateHz, targetRateHz int) ([]float32, int, error) {
	mono, err := MixdownToMono(raw, channels)
	if err != nil {
		return nil, 0, err
	}
	resampled, err := ResampleLinear(mono, inRateHz, targetRateHz)
	if err != nil {
		return nil, 0, err
	}
	return resampled, targetRateHz, nil
}

// Float32ToPCM16LE clips to [-1, 1] and encodes as little-endian signed
// 16-bit PCM.
func Float32ToPCM16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * 32767))
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}

// PCM16LEToFloat32 decodes little-endian signed 16-bit PCM into f32.
func PCM16LEToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		out[i] = float32(v) / 32768.0
	}
	return out
}
