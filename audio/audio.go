// Package audio holds PCM helpers shared by capture, synthesis, playback and
// the UI bridge: WAV framing, G.711 telephony codecs, energy measurement and
// channel conversion. All PCM here is 16-bit little-endian.
package audio

import (
	"errors"
	"math"

	"github.com/zaf/g711"
)

// PCM constants
const (
	pcmMax = 32767  // Max 16-bit PCM value
	pcmMin = -32768 // Min 16-bit PCM value
)

// PCMToULaw converts a 16-bit PCM sample to 8-bit µ-law using ITU-T G.711 standard
func PCMToULaw(sample int16) byte {
	return g711.EncodeUlawFrame(sample)
}

// ULawToPCM converts an 8-bit µ-law byte to 16-bit PCM using ITU-T G.711 standard
func ULawToPCM(u byte) int16 {
	return g711.DecodeUlawFrame(u)
}

// PCMBytesToULaw converts PCM bytes to µ-law
func PCMBytesToULaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, errors.New("PCM byte slice length must be even (16-bit samples)")
	}
	return g711.EncodeUlaw(pcm), nil
}

// ULawBytesToPCM converts µ-law bytes to PCM bytes
func ULawBytesToPCM(uBytes []byte) []byte {
	return g711.DecodeUlaw(uBytes)
}

// PCMToALaw converts a 16-bit PCM sample to 8-bit A-law using ITU-T G.711 standard
func PCMToALaw(sample int16) byte {
	return g711.EncodeAlawFrame(sample)
}

// ALawToPCM converts an 8-bit A-law byte to 16-bit PCM using ITU-T G.711 standard
func ALawToPCM(a byte) int16 {
	return g711.DecodeAlawFrame(a)
}

// PCMBytesToALaw converts PCM bytes to A-law
func PCMBytesToALaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, errors.New("PCM byte slice length must be even (16-bit samples)")
	}
	return g711.EncodeAlaw(pcm), nil
}

// ALawBytesToPCM converts A-law bytes to PCM bytes
func ALawBytesToPCM(aBytes []byte) []byte {
	return g711.DecodeAlaw(aBytes)
}

// ValidatePCMData checks that pcm is non-empty and sample-aligned for the
// given channel count.
func ValidatePCMData(pcm []byte, numChannels int) error {
	if len(pcm) == 0 {
		return errors.New("PCM data is empty")
	}
	if numChannels <= 0 || numChannels > 2 {
		return errors.New("only mono (1) or stereo (2) channels supported")
	}
	if len(pcm)%(2*numChannels) != 0 {
		return errors.New("PCM data length doesn't match channel count")
	}
	return nil
}

// GetPCMSampleCount returns the number of 16-bit samples in pcm.
func GetPCMSampleCount(pcm []byte) int {
	return len(pcm) / 2
}

// GetPCMDurationSeconds returns the playback duration of pcm.
func GetPCMDurationSeconds(pcm []byte, numChannels, sampleRate int) (float64, error) {
	if err := ValidatePCMData(pcm, numChannels); err != nil {
		return 0, err
	}
	if sampleRate <= 0 {
		return 0, errors.New("sample rate must be positive")
	}
	frames := len(pcm) / (2 * numChannels)
	return float64(frames) / float64(sampleRate), nil
}

// RMS computes the root-mean-square level of 16-bit little-endian PCM,
// normalized to [0, 1]. Odd trailing bytes are ignored.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		f := float64(s) / float64(pcmMax)
		sum += f * f
	}
	return math.Sqrt(sum / float64(n))
}

// RMSToDb converts a normalized RMS level to dBFS. Silence (rms == 0) maps to
// -96 dB, the quantization floor of 16-bit audio.
func RMSToDb(rms float64) float64 {
	if rms <= 0 {
		return -96.0
	}
	db := 20 * math.Log10(rms)
	if db < -96.0 {
		return -96.0
	}
	return db
}

// LevelDb measures the loudness of a PCM chunk in dBFS.
func LevelDb(pcm []byte) float64 {
	return RMSToDb(RMS(pcm))
}

// PCM8To16 widens unsigned 8-bit PCM (the WAV convention) to signed 16-bit
// little-endian.
func PCM8To16(pcm []byte) []byte {
	out := make([]byte, len(pcm)*2)
	for i, b := range pcm {
		s := (int16(b) - 128) << 8
		out[2*i] = byte(uint16(s))
		out[2*i+1] = byte(uint16(s) >> 8)
	}
	return out
}

// ResamplePCM16 converts 16-bit mono PCM from one sample rate to another by
// linear interpolation. Good enough for speech; not intended for music.
func ResamplePCM16(pcm []byte, fromRate, toRate int) []byte {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(pcm) < 4 {
		return pcm
	}
	in := len(pcm) / 2
	out := int(int64(in) * int64(toRate) / int64(fromRate))
	result := make([]byte, out*2)
	for i := 0; i < out; i++ {
		pos := float64(i) * float64(fromRate) / float64(toRate)
		j := int(pos)
		frac := pos - float64(j)
		if j >= in-1 {
			j = in - 2
			frac = 1
		}
		a := int16(uint16(pcm[2*j]) | uint16(pcm[2*j+1])<<8)
		b := int16(uint16(pcm[2*j+2]) | uint16(pcm[2*j+3])<<8)
		s := int16(float64(a) + (float64(b)-float64(a))*frac)
		result[2*i] = byte(uint16(s))
		result[2*i+1] = byte(uint16(s) >> 8)
	}
	return result
}

// MonoToStereo duplicates each mono sample into two channels.
func MonoToStereo(monoPCM []byte) []byte {
	out := make([]byte, 0, len(monoPCM)*2)
	for i := 0; i+1 < len(monoPCM); i += 2 {
		out = append(out, monoPCM[i], monoPCM[i+1], monoPCM[i], monoPCM[i+1])
	}
	return out
}

// StereoToMono averages each left/right sample pair into one channel.
func StereoToMono(stereoPCM []byte) []byte {
	out := make([]byte, 0, len(stereoPCM)/2)
	for i := 0; i+3 < len(stereoPCM); i += 4 {
		l := int16(uint16(stereoPCM[i]) | uint16(stereoPCM[i+1])<<8)
		r := int16(uint16(stereoPCM[i+2]) | uint16(stereoPCM[i+3])<<8)
		m := (int32(l) + int32(r)) / 2
		out = append(out, byte(uint16(m)), byte(uint16(m)>>8))
	}
	return out
}
