// Package protocol defines the JSON envelope exchanged between the pipeline
// and UI clients over the WebSocket bridge.
package protocol

import (
	"encoding/json"

	"lumivoice/core"
)

// MessageType enumerates all bridge message types.
type MessageType string

const (
	// UI -> pipeline
	MsgStartListening    MessageType = "start_listening"
	MsgStopListening     MessageType = "stop_listening"
	MsgSetContinuous     MessageType = "set_continuous"
	MsgSpeak             MessageType = "speak"
	MsgClearConversation MessageType = "clear_conversation"
	MsgConfigureContext  MessageType = "configure_context"
	MsgGetHistory        MessageType = "get_history"
	MsgSetAudioFormat    MessageType = "set_audio_format"

	// pipeline -> UI
	MsgEvent   MessageType = "event"
	MsgState   MessageType = "state"
	MsgHistory MessageType = "history"
	MsgError   MessageType = "error"
	MsgAck     MessageType = "ack"
)

// Envelope is the outer JSON wrapper for all bridge messages.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// --- UI -> pipeline payloads ---

// SetContinuousPayload toggles continuous-conversation mode.
type SetContinuousPayload struct {
	Enabled bool `json:"enabled"`
}

// SpeakPayload asks the pipeline to speak text out loud. Empty text
// re-speaks the last reply.
type SpeakPayload struct {
	Text string `json:"text"`
}

// ConfigureContextPayload seeds the conversation with a context instruction.
type ConfigureContextPayload struct {
	Instruction string `json:"instruction"`
}

// Audio encodings accepted on binary frames. Remote clients submit one
// complete utterance per frame.
const (
	AudioFormatPCM16 = "pcm16" // 24 kHz mono 16-bit little-endian
	AudioFormatULaw8 = "ulaw8" // 8 kHz G.711 µ-law, telephony sources
)

// SetAudioFormatPayload declares the encoding of subsequent binary frames on
// this connection. The default is pcm16.
type SetAudioFormatPayload struct {
	Encoding string `json:"encoding"`
}

// --- pipeline -> UI payloads ---

// EventPayload relays one pipeline event to the client.
type EventPayload struct {
	EventID string          `json:"event_id"`
	Emitter string          `json:"emitter"`
	Uid     string          `json:"uid"`
	Data    json.RawMessage `json:"data"`
}

// StatePayload announces the pipeline state, sent on connect and embedded in
// state-change events.
type StatePayload struct {
	State string `json:"state"`
}

// HistoryPayload carries the conversation history.
type HistoryPayload struct {
	Messages []core.Message `json:"messages"`
}

// ErrorPayload reports a rejected or failed control request.
type ErrorPayload struct {
	Of      MessageType `json:"of"`
	Message string      `json:"message"`
}

// AckPayload confirms a control request was applied.
type AckPayload struct {
	Of MessageType `json:"of"`
}
