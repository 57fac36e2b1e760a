package gemini

import (
	"context"
	"sync"
	"time"

	"lumivoice/core"
	"lumivoice/services/gemini"
)

// contextAck is the model turn seeded after a context instruction.
const contextAck = "Understood."

// GeminiLLMConfig holds configuration for the Gemini language-model service.
type GeminiLLMConfig struct {
	APIKey  string        `json:"api_key"`
	BaseURL string        `json:"base_url"`
	Model   string        `json:"model"`
	Timeout time.Duration `json:"timeout"`

	// MaxHistoryMessages caps the rolling window sent to the provider. The
	// seeded context pair never falls out of the window. Zero means the
	// default of 50.
	MaxHistoryMessages int `json:"max_history_messages"`
}

// GeminiLLM generates conversational replies. It is the sole owner of the
// conversation history.
type GeminiLLM struct {
	config GeminiLLMConfig
	client *gemini.Client
	logger *core.Logger

	mu      sync.Mutex
	history []core.Message
	// seeded is true while history begins with a context instruction pair.
	seeded bool
}

// NewGeminiLLM creates a new Gemini LLM service with the provided config.
func NewGeminiLLM(config GeminiLLMConfig, logger *core.Logger) *GeminiLLM {
	if config.Model == "" {
		config.Model = "gemini-2.0-flash"
	}
	if config.MaxHistoryMessages <= 0 {
		config.MaxHistoryMessages = 50
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &GeminiLLM{
		config: config,
		client: gemini.NewClient(config.APIKey, config.BaseURL, config.Timeout, logger),
		logger: logger,
	}
}

// ConfigureContext resets history to the pair [instruction, acknowledgement].
func (l *GeminiLLM) ConfigureContext(instruction string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.history = []core.Message{
		{Role: core.MessageRoleUser, Text: instruction},
		{Role: core.MessageRoleModel, Text: contextAck},
	}
	l.seeded = true
	l.logger.Info("conversation context configured")
}

// Respond appends userText as a user turn, sends the whole history to the
// provider, records the reply as a model turn and returns it. Provider
// failures are absorbed: the fallback apology is recorded and returned
// instead, never an error.
func (l *GeminiLLM) Respond(ctx context.Context, userText string) string {
	l.mu.Lock()
	l.history = append(l.history, core.Message{Role: core.MessageRoleUser, Text: userText})
	l.trimLocked()
	contents := l.contentsLocked()
	l.mu.Unlock()

	reply := l.generate(ctx, contents)

	l.mu.Lock()
	l.history = append(l.history, core.Message{Role: core.MessageRoleModel, Text: reply})
	l.trimLocked()
	l.mu.Unlock()

	return reply
}

func (l *GeminiLLM) generate(ctx context.Context, contents []gemini.Content) string {
	resp, err := l.client.GenerateContent(ctx, l.config.Model, &gemini.GenerateContentRequest{
		Contents: contents,
	})
	if err != nil {
		l.logger.Error("generation failed, substituting fallback reply", "error", err)
		return core.FallbackReply
	}
	text := resp.FirstText()
	if text == "" {
		l.logger.Error("generation returned no text, substituting fallback reply")
		return core.FallbackReply
	}
	return text
}

// Clear empties the history. Callers wanting a persona back must call
// ConfigureContext again.
func (l *GeminiLLM) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = nil
	l.seeded = false
	l.logger.Info("conversation history cleared")
}

// History returns a copy of the current history.
func (l *GeminiLLM) History() []core.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]core.Message, len(l.history))
	copy(out, l.history)
	return out
}

// trimLocked enforces the rolling window, preserving the seeded context pair
// at the front when present.
func (l *GeminiLLM) trimLocked() {
	max := l.config.MaxHistoryMessages
	if len(l.history) <= max {
		return
	}
	if l.seeded {
		keep := max - 2
		tail := l.history[len(l.history)-keep:]
		trimmed := make([]core.Message, 0, max)
		trimmed = append(trimmed, l.history[0], l.history[1])
		l.history = append(trimmed, tail...)
		return
	}
	l.history = l.history[len(l.history)-max:]
}

func (l *GeminiLLM) contentsLocked() []gemini.Content {
	contents := make([]gemini.Content, 0, len(l.history))
	for _, msg := range l.history {
		contents = append(contents, gemini.Content{
			Role:  string(msg.Role),
			Parts: []gemini.Part{{Text: msg.Text}},
		})
	}
	return contents
}
