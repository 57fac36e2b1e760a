package core

// FallbackReply is spoken in place of a model answer when generation fails.
// Responders record it as the model turn so the conversation never stalls on
// a provider outage.
const FallbackReply = "Desculpe, ocorreu um erro ao processar sua mensagem."

// MessageRole tags a conversation turn. The Gemini wire format knows only
// "user" and "model"; system context is expressed as a seeded user/model pair.
type MessageRole string

const (
	MessageRoleUser  MessageRole = "user"
	MessageRoleModel MessageRole = "model"
)

// Message is one role-tagged entry in the conversation history.
type Message struct {
	Role MessageRole `json:"role"`
	Text string      `json:"text"`
}

// Turn accumulates the artifacts of one capture→transcribe→generate→speak
// cycle. Fields fill in as stages complete.
type Turn struct {
	Id        string // uuid assigned at turn start
	UserAudio []byte
	UserText  string
	ReplyText string
	TTSAudio  *AudioContainer
}
