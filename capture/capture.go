// Package capture records microphone audio through miniaudio (malgo) at the
// pipeline's native format: 24 kHz, mono, 16-bit little-endian PCM.
package capture

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"lumivoice/audio"
	"lumivoice/core"
	capevents "lumivoice/events/capture"
)

// amplitudeWindowBytes is how much trailing audio feeds one loudness
// reading: 100 ms at 24 kHz mono 16-bit.
const amplitudeWindowBytes = core.DefaultSampleRate / 10 * 2

// Recorder owns the default input device for the duration of a recording.
// One Start/Stop cycle produces one utterance buffer.
type Recorder struct {
	logger *core.Logger
	feed   *core.EventFeed // amplitude fan-out for UI animation; may be nil

	mu        sync.Mutex
	ctx       *malgo.AllocatedContext
	device    *malgo.Device
	recording bool
	buf       []byte
	window    []byte // trailing samples for Amplitude()
}

func NewRecorder(feed *core.EventFeed, logger *core.Logger) *Recorder {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Recorder{
		logger: logger.With(map[string]interface{}{"component": "capture"}),
		feed:   feed,
	}
}

// Start acquires the default input device and begins buffering PCM. It fails
// with core.ErrDeviceUnavailable or core.ErrPermissionDenied when the device
// cannot be opened.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return fmt.Errorf("capture: already recording")
	}

	malgoConfig := malgo.ContextConfig{}
	malgoConfig.ThreadPriority = malgo.ThreadPriorityRealtime
	ctx, err := malgo.InitContext(nil, malgoConfig, nil)
	if err != nil {
		return fmt.Errorf("capture: init context: %w: %w", core.ErrDeviceUnavailable, err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(core.DefaultChannels)
	deviceConfig.SampleRate = uint32(core.DefaultSampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			r.onFrames(input)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("capture: init device: %w: %w", mapDeviceError(err), err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("capture: start device: %w: %w", mapDeviceError(err), err)
	}

	r.ctx = ctx
	r.device = device
	r.recording = true
	r.buf = r.buf[:0]
	r.window = r.window[:0]
	r.logger.Info("recording started",
		"sample_rate", core.DefaultSampleRate, "channels", core.DefaultChannels)
	return nil
}

func (r *Recorder) onFrames(input []byte) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return
	}
	r.buf = append(r.buf, input...)
	r.window = append(r.window, input...)
	if len(r.window) > amplitudeWindowBytes {
		r.window = r.window[len(r.window)-amplitudeWindowBytes:]
	}
	var level float64
	feed := r.feed
	if feed != nil {
		level = audio.LevelDb(r.window)
	}
	r.mu.Unlock()

	if feed != nil {
		feed.Publish(core.NewEventPacket(&capevents.AmplitudeEvent{Db: level}, "capture"))
	}
}

// Stop releases the device and returns the captured bytes.
func (r *Recorder) Stop() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return nil, fmt.Errorf("capture: not recording")
	}
	r.recording = false

	r.device.Uninit()
	_ = r.ctx.Uninit()
	r.ctx.Free()
	r.device = nil
	r.ctx = nil

	out := make([]byte, len(r.buf))
	copy(out, r.buf)
	r.buf = r.buf[:0]
	r.window = r.window[:0]
	r.logger.Info("recording stopped", "bytes", len(out))
	return out, nil
}

// Amplitude returns the loudness of the most recent capture window in dBFS.
func (r *Recorder) Amplitude() (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return 0, fmt.Errorf("capture: not recording")
	}
	if len(r.window) == 0 {
		// Device started but no frames delivered yet; report the floor.
		return -96.0, nil
	}
	return audio.LevelDb(r.window), nil
}

// Recording reports whether the input device is currently held.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// mapDeviceError distinguishes denied microphone access from a missing
// device. miniaudio reports both as opaque strings, so this is a best-effort
// match on the access-denied result name.
func mapDeviceError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "access denied") || strings.Contains(msg, "permission") {
		return core.ErrPermissionDenied
	}
	return core.ErrDeviceUnavailable
}
