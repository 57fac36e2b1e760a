package capture

// AmplitudeEvent carries one loudness reading in dBFS. Published on the
// amplitude feed for UI waveform animation, independently of endpointing.
type AmplitudeEvent struct {
	Db float64 `json:"db"`
}

func (e *AmplitudeEvent) EventId() string {
	return "capture.amplitude"
}
