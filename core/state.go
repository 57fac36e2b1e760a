package core

// PipelineState is the orchestrator's current phase. Exactly one instance
// exists, owned and mutated only by the orchestrator.
type PipelineState int

const (
	StateIdle PipelineState = iota
	StateListening
	StateTranscribing
	StateGenerating
	StateSpeaking
)

func (s PipelineState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateTranscribing:
		return "transcribing"
	case StateGenerating:
		return "generating"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}
