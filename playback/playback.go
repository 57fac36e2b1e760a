// Package playback plays synthesized audio containers through the system
// speaker and reports completion with a one-shot signal.
package playback

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"lumivoice/audio"
	"lumivoice/core"

	"github.com/ebitengine/oto/v3"
)

// enginePlayer is one device-level playback run.
type enginePlayer interface {
	Play()
	IsPlaying() bool
	Close() error
}

// engine creates device players. The production engine wraps an oto context;
// tests substitute a fake.
type engine interface {
	NewPlayer(r io.Reader) enginePlayer
	SampleRate() int
}

type otoEngine struct {
	ctx  *oto.Context
	rate int
}

func (e *otoEngine) NewPlayer(r io.Reader) enginePlayer { return e.ctx.NewPlayer(r) }
func (e *otoEngine) SampleRate() int                    { return e.rate }

func newOtoEngine(sampleRate int) (engine, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: core.DefaultChannels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   4800, // ~100ms at 24kHz mono 16-bit
	})
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready
	return &otoEngine{ctx: ctx, rate: sampleRate}, nil
}

// session is one container being played. done is closed exactly once,
// whether playback ends naturally or is stopped.
type session struct {
	player enginePlayer
	done   chan struct{}
	once   sync.Once
	stop   chan struct{}
}

func (s *session) finish() {
	s.once.Do(func() { close(s.done) })
}

// Player plays audio containers. The speaker context is created on first use
// and pinned to that sample rate; later containers at other rates are
// resampled.
type Player struct {
	logger *core.Logger

	mu        sync.Mutex
	engine    engine
	newEngine func(sampleRate int) (engine, error)
	current   *session
}

// NewPlayer builds a player. The audio device is not touched until Play.
func NewPlayer(logger *core.Logger) *Player {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Player{
		logger:    logger.With(map[string]interface{}{"component": "playback"}),
		newEngine: newOtoEngine,
	}
}

// Play begins asynchronous playback of container and returns once playback
// is initiated. An already-active session is stopped first.
func (p *Player) Play(container core.AudioContainer) error {
	pcm := container.PCM
	if len(pcm) == 0 {
		return errors.New("container has no samples")
	}
	if container.BitsPerSample == 8 {
		pcm = audio.PCM8To16(pcm)
	} else if container.BitsPerSample != 16 {
		return fmt.Errorf("unsupported bits per sample: %d", container.BitsPerSample)
	}
	if container.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}

	p.mu.Lock()
	if p.engine == nil {
		eng, err := p.newEngine(container.SampleRate)
		if err != nil {
			p.mu.Unlock()
			return err
		}
		p.engine = eng
	}
	if container.SampleRate != p.engine.SampleRate() {
		pcm = audio.ResamplePCM16(pcm, container.SampleRate, p.engine.SampleRate())
	}

	if p.current != nil {
		p.stopLocked()
	}

	sess := &session{
		player: p.engine.NewPlayer(bytes.NewReader(pcm)),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	p.current = sess
	p.mu.Unlock()

	p.logger.Info("playback started",
		"bytes", len(pcm),
		"sample_rate", container.SampleRate)

	sess.player.Play()
	go p.monitor(sess)
	return nil
}

// monitor waits for the device to drain, then resolves the completion
// signal.
func (p *Player) monitor(sess *session) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-sess.stop:
			return
		case <-ticker.C:
			if !sess.player.IsPlaying() {
				sess.player.Close()
				sess.finish()
				p.mu.Lock()
				if p.current == sess {
					p.current = nil
				}
				p.mu.Unlock()
				p.logger.Debug("playback complete")
				return
			}
		}
	}
}

// IsPlaying reports whether a session is active.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

// Wait blocks until the current session finishes or is stopped. Returns
// immediately when nothing is playing.
func (p *Player) Wait() {
	p.mu.Lock()
	sess := p.current
	p.mu.Unlock()
	if sess == nil {
		return
	}
	<-sess.done
}

// Stop halts playback immediately. Safe to call when idle, and safe against
// a race with natural completion: the completion signal still fires exactly
// once.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Player) stopLocked() {
	sess := p.current
	if sess == nil {
		return
	}
	p.current = nil
	close(sess.stop)
	sess.player.Close()
	sess.finish()
	p.logger.Info("playback stopped")
}
