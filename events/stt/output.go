package stt

// TranscriptEvent carries the final recognized text for one utterance.
type TranscriptEvent struct {
	Text string `json:"text"`
}

func (e *TranscriptEvent) EventId() string {
	return "stt.transcript"
}
