// Package audio converts the raw PCM captured from the engine into forms
// consumers want: 8-to-16-bit widening, sample-rate conversion, and WAV
// encoding/decoding for file export.
package audio

import (
	"fmt"

	"github.com/tgeczy/softvoice-wrapper/internal/waveout"
)

// Convert8to16 widens 8-bit unsigned PCM (silence at 128) into 16-bit
// signed little-endian PCM.
func Convert8to16(in []byte) []byte {
	out := make([]byte, len(in)*2)
	for i, b := range in {
		v := int16(int(b)-128) << 8
		out[2*i] = byte(uint16(v))
		out[2*i+1] = byte(uint16(v) >> 8)
	}
	return out
}

// Samples converts raw PCM bytes into float32 samples in [-1, 1].
// Supported layouts are 8-bit unsigned and 16-bit signed little-endian.
func Samples(data []byte, f waveout.Format) ([]float32, error) {
	switch f.BitsPerSample {
	case 8:
		out := make([]float32, len(data))
		for i, b := range data {
			out[i] = float32(int(b)-128) / 128
		}
		return out, nil
	case 16:
		n := len(data) / 2
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			v := int16(uint16(data[2*i]) | uint16(data[2*i+1])<<8)
			out[i] = float32(v) / 32768
		}
		return out, nil
	default:
		return nil, fmt.Errorf("audio: unsupported bit depth %d", f.BitsPerSample)
	}
}

// ResampleLinear converts mono samples from one rate to another by linear
// interpolation. Quality is adequate for speech; the engine's output is
// band-limited well below any target rate in practice.
func ResampleLinear(in []float32, fromRate, toRate int) []float32 {
	if fromRate <= 0 || toRate <= 0 || len(in) == 0 || fromRate == toRate {
		return in
	}
	outLen := int(int64(len(in)) * int64(toRate) / int64(fromRate))
	if outLen == 0 {
		return nil
	}
	out := make([]float32, outLen)
	ratio := float64(fromRate) / float64(toRate)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}
