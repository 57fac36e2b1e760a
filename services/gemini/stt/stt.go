package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"lumivoice/core"
	"lumivoice/services/gemini"
)

// Literal transcription is primed with a fixed instruction turn and a model
// acknowledgement before the audio turn. Low temperature keeps the model
// from paraphrasing.
const (
	transcribeInstruction = "Transcribe the audio in the next message exactly as spoken. Reply with only the transcript text, nothing else."
	transcribeAck         = "Understood. I will reply with only the transcript."
	transcribeTemperature = 0.1
)

// GeminiSTTConfig holds configuration for the Gemini speech-to-text service.
type GeminiSTTConfig struct {
	APIKey  string        `json:"api_key"`
	BaseURL string        `json:"base_url"`
	Model   string        `json:"model"`
	Timeout time.Duration `json:"timeout"`
}

// GeminiSTT transcribes recorded utterances with a generateContent call.
type GeminiSTT struct {
	config GeminiSTTConfig
	client *gemini.Client
	logger *core.Logger
}

// NewGeminiSTT creates a new Gemini STT service with the provided config.
func NewGeminiSTT(config GeminiSTTConfig, logger *core.Logger) *GeminiSTT {
	if config.Model == "" {
		config.Model = "gemini-2.0-flash"
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &GeminiSTT{
		config: config,
		client: gemini.NewClient(config.APIKey, config.BaseURL, config.Timeout, logger),
		logger: logger,
	}
}

// Transcribe sends container's WAV bytes inline and returns the trimmed
// transcript. A response with no usable text is ErrEmptyResult.
func (s *GeminiSTT) Transcribe(ctx context.Context, container core.AudioContainer) (string, error) {
	if s.config.APIKey == "" {
		return "", fmt.Errorf("%w: Gemini API key is required", core.ErrServiceUnauthenticated)
	}
	if len(container.WAV) == 0 {
		return "", errors.New("no audio to transcribe")
	}

	req := &gemini.GenerateContentRequest{
		Contents: []gemini.Content{
			{Role: "user", Parts: []gemini.Part{{Text: transcribeInstruction}}},
			{Role: "model", Parts: []gemini.Part{{Text: transcribeAck}}},
			{Role: "user", Parts: []gemini.Part{{
				InlineData: &gemini.Blob{
					MIMEType: "audio/wav",
					Data:     base64.StdEncoding.EncodeToString(container.WAV),
				},
			}}},
		},
		GenerationConfig: &gemini.GenerationConfig{
			Temperature: gemini.Float64(transcribeTemperature),
		},
	}

	resp, err := s.client.GenerateContent(ctx, s.config.Model, req)
	if err != nil {
		return "", err
	}

	transcript := strings.TrimSpace(resp.FirstText())
	if transcript == "" {
		return "", core.ErrEmptyResult
	}

	s.logger.Info("transcription complete", "chars", len(transcript))
	return transcript, nil
}
