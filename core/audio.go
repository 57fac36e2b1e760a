package core

// Capture and synthesis defaults used across the pipeline. The providers
// return 24 kHz mono 16-bit PCM and the microphone is opened to match.
const (
	DefaultSampleRate    = 24000
	DefaultChannels      = 1
	DefaultBitsPerSample = 16
)

type AudioEncodingFormat int

const (
	PCM  AudioEncodingFormat = iota // Pulse-code modulation format.
	ULAW                            // µ-law encoding format.
	ALAW                            // A-law encoding format.
)

// AudioChunk is a slice of raw audio with its format description.
type AudioChunk struct {
	Data       []byte              // Raw audio data.
	SampleRate int                 // Sample rate of the audio data.
	Channels   int                 // Number of audio channels.
	Format     AudioEncodingFormat // Encoding format of the audio data.
}

func (ac *AudioChunk) DurationSeconds() float64 {
	if ac.SampleRate == 0 || ac.Channels == 0 {
		return 0.0
	}
	bytesPerSample := 2 // 16-bit audio
	if ac.Format == ULAW || ac.Format == ALAW {
		bytesPerSample = 1
	}
	totalSamples := len(ac.Data) / (bytesPerSample * ac.Channels)
	return float64(totalSamples) / float64(ac.SampleRate)
}

// AudioContainer holds synthesized speech as raw PCM plus the standard
// self-describing WAV framing, so playback needs no side-channel format info.
type AudioContainer struct {
	PCM           []byte // Raw little-endian PCM samples, no header.
	WAV           []byte // 44-byte RIFF/WAVE header followed by PCM.
	SampleRate    int
	BitsPerSample int
	Channels      int
}
