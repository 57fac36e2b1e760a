// Package llm provides an OpenAI-backed response generator, selectable as an
// alternative to the Gemini one. It keeps the same history contract: a
// seeded context pair, full-history requests, and an absorbed fallback on
// provider failure.
package llm

import (
	"context"
	"sync"

	"lumivoice/core"

	"github.com/sashabaranov/go-openai"
)

const contextAck = "Understood."

// Config holds the configuration for the OpenAI responder.
type Config struct {
	APIKey      string
	BaseURL     string // override for self-hosted gateways
	Model       string
	MaxTokens   int
	Temperature float32

	// MaxHistoryMessages caps the rolling window. Zero means 50.
	MaxHistoryMessages int
}

// OpenAILLM generates conversational replies via chat completions.
type OpenAILLM struct {
	config Config
	client *openai.Client
	logger *core.Logger

	mu      sync.Mutex
	history []core.Message
	seeded  bool
}

// NewOpenAILLM creates a new OpenAI responder with the provided config.
func NewOpenAILLM(config Config, logger *core.Logger) *OpenAILLM {
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}
	if config.MaxHistoryMessages <= 0 {
		config.MaxHistoryMessages = 50
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	return &OpenAILLM{
		config: config,
		client: openai.NewClientWithConfig(clientConfig),
		logger: logger,
	}
}

// ConfigureContext resets history to the pair [instruction, acknowledgement].
func (s *OpenAILLM) ConfigureContext(instruction string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = []core.Message{
		{Role: core.MessageRoleUser, Text: instruction},
		{Role: core.MessageRoleModel, Text: contextAck},
	}
	s.seeded = true
	s.logger.Info("conversation context configured")
}

// Respond appends userText, runs a completion over the whole history,
// records the reply as a model turn and returns it. Provider failures are
// absorbed into the fixed fallback reply.
func (s *OpenAILLM) Respond(ctx context.Context, userText string) string {
	s.mu.Lock()
	s.history = append(s.history, core.Message{Role: core.MessageRoleUser, Text: userText})
	s.trimLocked()
	messages := s.chatMessagesLocked()
	s.mu.Unlock()

	reply := s.complete(ctx, messages)

	s.mu.Lock()
	s.history = append(s.history, core.Message{Role: core.MessageRoleModel, Text: reply})
	s.trimLocked()
	s.mu.Unlock()

	return reply
}

func (s *OpenAILLM) complete(ctx context.Context, messages []openai.ChatCompletionMessage) string {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.config.Model,
		Messages:    messages,
		MaxTokens:   s.config.MaxTokens,
		Temperature: s.config.Temperature,
	})
	if err != nil {
		s.logger.Error("completion failed, substituting fallback reply", "error", err)
		return core.FallbackReply
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		s.logger.Error("completion returned no text, substituting fallback reply")
		return core.FallbackReply
	}
	return resp.Choices[0].Message.Content
}

// Clear empties the history.
func (s *OpenAILLM) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.seeded = false
	s.logger.Info("conversation history cleared")
}

// History returns a copy of the current history.
func (s *OpenAILLM) History() []core.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Message, len(s.history))
	copy(out, s.history)
	return out
}

func (s *OpenAILLM) trimLocked() {
	max := s.config.MaxHistoryMessages
	if len(s.history) <= max {
		return
	}
	if s.seeded {
		keep := max - 2
		tail := s.history[len(s.history)-keep:]
		trimmed := make([]core.Message, 0, max)
		trimmed = append(trimmed, s.history[0], s.history[1])
		s.history = append(trimmed, tail...)
		return
	}
	s.history = s.history[len(s.history)-max:]
}

// chatMessagesLocked converts the history to chat-completion form. The
// seeded context pair becomes a single system message.
func (s *OpenAILLM) chatMessagesLocked() []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(s.history))
	rest := s.history
	if s.seeded && len(rest) >= 2 {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: rest[0].Text,
		})
		rest = rest[2:]
	}
	for _, msg := range rest {
		role := openai.ChatMessageRoleUser
		if msg.Role == core.MessageRoleModel {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Text})
	}
	return messages
}
