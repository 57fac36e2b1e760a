package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"lumivoice/audio"
	"lumivoice/core"
	"lumivoice/services/gemini"
)

// speakPrefix steers the model toward conversational delivery rather than
// reading the text flatly.
const speakPrefix = "Speak naturally, in a warm conversational tone: "

// Voices are the prebuilt voice names the provider accepts. Invalid names
// are rejected by the provider, not validated here.
var Voices = []string{"Zephyr", "Puck", "Charon", "Kore", "Fenrir", "Aoede"}

// DefaultVoice is used when no voice is requested.
const DefaultVoice = "Zephyr"

// GeminiTTSConfig holds configuration for the Gemini text-to-speech service.
type GeminiTTSConfig struct {
	APIKey  string        `json:"api_key"`
	BaseURL string        `json:"base_url"`
	Model   string        `json:"model"`
	Voice   string        `json:"voice"`
	Timeout time.Duration `json:"timeout"`
}

// GeminiTTS synthesizes reply text into a playable audio container.
type GeminiTTS struct {
	config GeminiTTSConfig
	client *gemini.Client
	logger *core.Logger
}

// NewGeminiTTS creates a new Gemini TTS service with the provided config.
func NewGeminiTTS(config GeminiTTSConfig, logger *core.Logger) *GeminiTTS {
	if config.Model == "" {
		config.Model = "gemini-2.5-flash-preview-tts"
	}
	if config.Voice == "" {
		config.Voice = DefaultVoice
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &GeminiTTS{
		config: config,
		client: gemini.NewClient(config.APIKey, config.BaseURL, config.Timeout, logger),
		logger: logger,
	}
}

// Synthesize requests spoken audio for text with the named prebuilt voice
// (empty voice falls back to the configured one) and returns the decoded
// samples wrapped in a WAV container.
func (t *GeminiTTS) Synthesize(ctx context.Context, text, voice string) (core.AudioContainer, error) {
	if t.config.APIKey == "" {
		return core.AudioContainer{}, fmt.Errorf("%w: Gemini API key is required", core.ErrServiceUnauthenticated)
	}
	if strings.TrimSpace(text) == "" {
		return core.AudioContainer{}, errors.New("text cannot be empty")
	}
	if voice == "" {
		voice = t.config.Voice
	}

	req := &gemini.GenerateContentRequest{
		Contents: []gemini.Content{
			{Role: "user", Parts: []gemini.Part{{Text: speakPrefix + text}}},
		},
		GenerationConfig: &gemini.GenerationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &gemini.SpeechConfig{
				VoiceConfig: &gemini.VoiceConfig{
					PrebuiltVoiceConfig: &gemini.PrebuiltVoiceConfig{VoiceName: voice},
				},
			},
		},
	}

	resp, err := t.client.GenerateContent(ctx, t.config.Model, req)
	if err != nil {
		return core.AudioContainer{}, err
	}

	blob := resp.FirstInlineData()
	if blob == nil || blob.Data == "" {
		return core.AudioContainer{}, core.ErrNoAudioInResponse
	}

	pcm, err := base64.StdEncoding.DecodeString(blob.Data)
	if err != nil {
		return core.AudioContainer{}, fmt.Errorf("%w: %v", core.ErrDecode, err)
	}

	bits, rate := ParsePCMMime(blob.MIMEType)
	wav, err := audio.PCMBytesToWavBytes(pcm, audio.WAVFormat{
		SampleRate:    rate,
		BitsPerSample: bits,
		Channels:      core.DefaultChannels,
	})
	if err != nil {
		return core.AudioContainer{}, fmt.Errorf("%w: %v", core.ErrDecode, err)
	}

	t.logger.Info("synthesis complete",
		"voice", voice,
		"sample_rate", rate,
		"bits", bits,
		"pcm_bytes", len(pcm))

	return core.AudioContainer{
		PCM:           pcm,
		WAV:           wav,
		SampleRate:    rate,
		BitsPerSample: bits,
		Channels:      core.DefaultChannels,
	}, nil
}

// ParsePCMMime extracts bit depth and sample rate from a declared subtype of
// the form "audio/L<bits>;rate=<hz>". Missing or unparseable pieces default
// to 16-bit, 24 kHz.
func ParsePCMMime(mime string) (bits, rate int) {
	bits = core.DefaultBitsPerSample
	rate = core.DefaultSampleRate

	mime = strings.TrimSpace(mime)
	if mime == "" {
		return bits, rate
	}

	fields := strings.Split(mime, ";")
	if subtype, ok := strings.CutPrefix(strings.TrimSpace(fields[0]), "audio/L"); ok {
		if v, err := strconv.Atoi(subtype); err == nil && v > 0 {
			bits = v
		}
	}
	for _, param := range fields[1:] {
		if v, ok := strings.CutPrefix(strings.TrimSpace(param), "rate="); ok {
			if hz, err := strconv.Atoi(v); err == nil && hz > 0 {
				rate = hz
			}
		}
	}
	return bits, rate
}
