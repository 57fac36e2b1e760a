package pipeline

import "lumivoice/core"

type StateChangedEvent struct {
	From core.PipelineState `json:"from"`
	To   core.PipelineState `json:"to"`
}

func (e *StateChangedEvent) EventId() string {
	return "pipeline.state_changed"
}

type TurnStartedEvent struct {
	TurnId string `json:"turn_id"`
}

func (e *TurnStartedEvent) EventId() string {
	return "pipeline.turn_started"
}

type TurnCompletedEvent struct {
	TurnId string `json:"turn_id"`
}

func (e *TurnCompletedEvent) EventId() string {
	return "pipeline.turn_completed"
}

// NoticeEvent surfaces a user-visible transient error notice. The pipeline
// keeps running; the UI decides how to render it.
type NoticeEvent struct {
	Stage   string `json:"stage"` // "capture", "transcription", "synthesis", "playback"
	Message string `json:"message"`
}

func (e *NoticeEvent) EventId() string {
	return "pipeline.notice"
}
