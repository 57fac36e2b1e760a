// Package config assembles the explicit configuration object passed into
// every pipeline component. There is no ambient global state: main builds one
// Settings value at process start and threads it through constructors.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// APIKeys holds provider credentials, loaded from the environment.
type APIKeys struct {
	Gemini string
	OpenAI string
}

// LoadAPIKeysFromEnv reads provider keys from the environment. Missing keys
// are not an error here; the affected client fails with an
// unauthenticated error on first use.
func LoadAPIKeysFromEnv() APIKeys {
	return APIKeys{
		Gemini: os.Getenv("GEMINI_API_KEY"),
		OpenAI: os.Getenv("OPENAI_API_KEY"),
	}
}

// Settings is the top-level configuration, loaded from settings.json with
// per-field defaulting.
type Settings struct {
	// LLMBackend selects the reply generator: "gemini" (default) or "openai".
	LLMBackend string `json:"llm_backend,omitempty"`

	// Models per pipeline stage.
	STTModel string `json:"stt_model,omitempty"`
	LLMModel string `json:"llm_model,omitempty"`
	TTSModel string `json:"tts_model,omitempty"`

	// VoiceName is one of the provider's prebuilt voices. Invalid names are
	// rejected by the provider, not validated locally.
	VoiceName string `json:"voice_name,omitempty"`

	// ContextInstruction seeds the conversation persona. Empty means the
	// built-in companion persona.
	ContextInstruction string `json:"context_instruction,omitempty"`

	// UserName personalizes the persona instruction.
	UserName string `json:"user_name,omitempty"`

	// Continuous enables hands-free re-arming of capture after each turn.
	Continuous bool `json:"continuous,omitempty"`

	// Endpointing tunables.
	PollIntervalMs     int     `json:"poll_interval_ms,omitempty"`
	SilenceThresholdDb float64 `json:"silence_threshold_db,omitempty"`
	SilenceSustainMs   int     `json:"silence_sustain_ms,omitempty"`

	// SettleDelayMs is the pause between playback completion and capture
	// re-arm in continuous mode, to avoid recording the playback tail.
	SettleDelayMs int `json:"settle_delay_ms,omitempty"`

	// ProviderTimeoutSeconds bounds each provider HTTP call. Expiry is
	// surfaced as a service error.
	ProviderTimeoutSeconds int `json:"provider_timeout_seconds,omitempty"`

	// HistoryMaxMessages bounds conversation history growth; oldest
	// user/model pairs are trimmed past this, keeping the seeded context.
	HistoryMaxMessages int `json:"history_max_messages,omitempty"`

	// BridgeAddr is the listen address for the WebSocket UI bridge. Empty
	// disables the bridge.
	BridgeAddr string `json:"bridge_addr,omitempty"`
}

// DefaultSettings returns a Settings pre-filled with the pipeline defaults.
func DefaultSettings() Settings {
	return Settings{
		LLMBackend:             "gemini",
		STTModel:               "gemini-2.0-flash",
		LLMModel:               "gemini-2.0-flash",
		TTSModel:               "gemini-2.5-flash-preview-tts",
		VoiceName:              "Zephyr",
		PollIntervalMs:         500,
		SilenceThresholdDb:     -40.0,
		SilenceSustainMs:       2000,
		SettleDelayMs:          1000,
		ProviderTimeoutSeconds: 20,
		HistoryMaxMessages:     50,
		BridgeAddr:             ":8787",
	}
}

// SettingsFromJSON parses a JSON blob into Settings, filling unset fields
// with defaults.
func SettingsFromJSON(data []byte) (Settings, error) {
	s := DefaultSettings()
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("settings: %w", err)
	}
	return s.withDefaults(), nil
}

// LoadSettingsFile reads settings.json from path. A missing file yields the
// defaults; a malformed file is an error.
func LoadSettingsFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultSettings(), nil
		}
		return Settings{}, fmt.Errorf("settings: read %s: %w", path, err)
	}
	return SettingsFromJSON(data)
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.LLMBackend == "" {
		s.LLMBackend = def.LLMBackend
	}
	if s.STTModel == "" {
		s.STTModel = def.STTModel
	}
	if s.LLMModel == "" {
		s.LLMModel = def.LLMModel
	}
	if s.TTSModel == "" {
		s.TTSModel = def.TTSModel
	}
	if s.VoiceName == "" {
		s.VoiceName = def.VoiceName
	}
	if s.PollIntervalMs <= 0 {
		s.PollIntervalMs = def.PollIntervalMs
	}
	if s.SilenceThresholdDb == 0 {
		s.SilenceThresholdDb = def.SilenceThresholdDb
	}
	if s.SilenceSustainMs <= 0 {
		s.SilenceSustainMs = def.SilenceSustainMs
	}
	if s.SettleDelayMs <= 0 {
		s.SettleDelayMs = def.SettleDelayMs
	}
	if s.ProviderTimeoutSeconds <= 0 {
		s.ProviderTimeoutSeconds = def.ProviderTimeoutSeconds
	}
	if s.HistoryMaxMessages <= 0 {
		s.HistoryMaxMessages = def.HistoryMaxMessages
	}
	return s
}

// PollInterval returns the endpointer cadence as a duration.
func (s Settings) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

// SilenceSustain returns the end-of-utterance sustain as a duration.
func (s Settings) SilenceSustain() time.Duration {
	return time.Duration(s.SilenceSustainMs) * time.Millisecond
}

// SettleDelay returns the post-playback settle window as a duration.
func (s Settings) SettleDelay() time.Duration {
	return time.Duration(s.SettleDelayMs) * time.Millisecond
}

// ProviderTimeout returns the per-call HTTP timeout as a duration.
func (s Settings) ProviderTimeout() time.Duration {
	return time.Duration(s.ProviderTimeoutSeconds) * time.Second
}
