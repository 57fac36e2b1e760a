package core

import (
	"errors"
	"fmt"
)

// Error kinds for the pipeline. Capture and transcription failures abort the
// turn; generation failures never surface (the responder substitutes a fixed
// fallback reply); synthesis and playback failures abort after text exists.
var (
	// Capture.
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("no audio input device available")

	// Network stages.
	ErrServiceUnauthenticated = errors.New("service credentials missing or rejected")
	ErrEmptyResult            = errors.New("provider returned no usable text")
	ErrDecode                 = errors.New("failed to decode provider audio")
	ErrNoAudioInResponse      = errors.New("provider response contained no audio part")

	// Orchestrator.
	ErrAlreadyProcessing = errors.New("a turn is already in flight")
)

// ServiceError reports a non-success HTTP status from a provider. Transport
// timeouts are mapped to a ServiceError with code 0.
type ServiceError struct {
	Code    int
	Message string
}

func (e *ServiceError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("provider call failed: %s", e.Message)
	}
	return fmt.Sprintf("provider returned status %d: %s", e.Code, e.Message)
}

// IsServiceError reports whether err is (or wraps) a ServiceError.
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}
