package llm

// ReplyEvent carries the assistant's full reply text for one turn.
type ReplyEvent struct {
	Text string `json:"text"`
}

func (e *ReplyEvent) EventId() string {
	return "llm.reply"
}

// HistoryClearedEvent is published after an explicit clear action resets the
// conversation history.
type HistoryClearedEvent struct{}

func (e *HistoryClearedEvent) EventId() string {
	return "llm.history_cleared"
}
