package tts

// started and ended events
type SpeakingStartedEvent struct{}

func (e *SpeakingStartedEvent) EventId() string {
	return "tts.speaking_started"
}

type SpeakingEndedEvent struct{}

func (e *SpeakingEndedEvent) EventId() string {
	return "tts.speaking_ended"
}
