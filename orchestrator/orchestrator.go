// Package orchestrator drives one conversational turn at a time through
// capture, endpointing, transcription, generation, synthesis and playback.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"lumivoice/audio"
	"lumivoice/core"
	"lumivoice/events/llm"
	"lumivoice/events/pipeline"
	"lumivoice/events/stt"
	"lumivoice/events/tts"
	"lumivoice/persona"
	"lumivoice/vad"

	"github.com/google/uuid"
)

const emitter = "orchestrator"

// Recorder captures microphone audio. Stop returns the accumulated PCM.
type Recorder interface {
	Start() error
	Stop() ([]byte, error)
	Recording() bool
}

// Endpointer yields a fresh endpointing sequence per Watch call.
type Endpointer interface {
	Watch(ctx context.Context) <-chan vad.Event
}

// Transcriber turns a recorded utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, container core.AudioContainer) (string, error)
}

// Responder owns the conversation history and never fails externally.
type Responder interface {
	ConfigureContext(instruction string)
	Respond(ctx context.Context, userText string) string
	Clear()
	History() []core.Message
}

// Synthesizer renders reply text as playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (core.AudioContainer, error)
}

// Player plays containers and resolves completion exactly once per session.
type Player interface {
	Play(container core.AudioContainer) error
	IsPlaying() bool
	Wait()
	Stop()
}

// Config holds the orchestrator tunables.
type Config struct {
	// Continuous re-arms capture after each spoken reply.
	Continuous bool
	// SettleDelay is the pause between playback completion and capture
	// restart in continuous mode, to avoid recording the playback tail.
	// Zero means 1000 ms.
	SettleDelay time.Duration
	// Voice is passed through to the synthesizer.
	Voice string
}

// TurnOrchestrator is the pipeline state machine. At most one turn is in
// flight at any time, enforced with a busy flag checked synchronously
// before each stage.
type TurnOrchestrator struct {
	recorder    Recorder
	endpointer  Endpointer
	transcriber Transcriber
	responder   Responder
	synthesizer Synthesizer
	player      Player
	feed        *core.EventFeed
	logger      *core.Logger

	// screen, when set, checks each transcript before generation and
	// substitutes a fixed escalation reply for flagged ones.
	screen func(string) persona.ScreenResult

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        core.PipelineState
	busy         bool
	continuous   bool
	settle       time.Duration
	voice        string
	instruction  string
	lastReply    string
	listenCancel context.CancelFunc
	rearmCancel  chan struct{}
}

// NewTurnOrchestrator wires the pipeline stages together. feed may be nil
// when no subscriber cares about events.
func NewTurnOrchestrator(
	recorder Recorder,
	endpointer Endpointer,
	transcriber Transcriber,
	responder Responder,
	synthesizer Synthesizer,
	player Player,
	feed *core.EventFeed,
	config Config,
	logger *core.Logger,
) *TurnOrchestrator {
	if config.SettleDelay <= 0 {
		config.SettleDelay = time.Second
	}
	if feed == nil {
		feed = core.NewEventFeed()
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TurnOrchestrator{
		recorder:    recorder,
		endpointer:  endpointer,
		transcriber: transcriber,
		responder:   responder,
		synthesizer: synthesizer,
		player:      player,
		feed:        feed,
		logger:      logger.With(map[string]interface{}{"component": "orchestrator"}),
		screen:      persona.Screen,
		ctx:         ctx,
		cancel:      cancel,
		state:       core.StateIdle,
		continuous:  config.Continuous,
		settle:      config.SettleDelay,
		voice:       config.Voice,
	}
}

// Feed exposes the event feed for subscribers.
func (o *TurnOrchestrator) Feed() *core.EventFeed { return o.feed }

// State returns the current pipeline state.
func (o *TurnOrchestrator) State() core.PipelineState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// LastReply returns the most recent reply text, for manual re-speaking.
func (o *TurnOrchestrator) LastReply() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastReply
}

// SetContinuous toggles continuous-conversation mode. Takes effect at the
// end of the current turn.
func (o *TurnOrchestrator) SetContinuous(on bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.continuous = on
}

// ConfigureContext seeds the responder's history with a context pair. The
// instruction is remembered so a later clear can re-seed it.
func (o *TurnOrchestrator) ConfigureContext(instruction string) {
	o.mu.Lock()
	o.instruction = instruction
	o.mu.Unlock()
	o.responder.ConfigureContext(instruction)
}

// ClearConversation empties the responder's history and re-seeds the
// configured context pair, so a cleared conversation keeps its persona.
func (o *TurnOrchestrator) ClearConversation() {
	o.responder.Clear()
	o.mu.Lock()
	instruction := o.instruction
	o.mu.Unlock()
	if instruction != "" {
		o.responder.ConfigureContext(instruction)
	}
	o.publish(&llm.HistoryClearedEvent{})
}

// History returns a copy of the conversation history.
func (o *TurnOrchestrator) History() []core.Message {
	return o.responder.History()
}

// StartListening opens the microphone and arms the endpointer. Rejected
// with ErrAlreadyProcessing unless the pipeline is Idle.
func (o *TurnOrchestrator) StartListening() error {
	return o.startListening(core.StateIdle)
}

func (o *TurnOrchestrator) startListening(from core.PipelineState) error {
	o.mu.Lock()
	if o.busy || o.state != from {
		o.mu.Unlock()
		return core.ErrAlreadyProcessing
	}
	if err := o.recorder.Start(); err != nil {
		o.mu.Unlock()
		o.notice("capture", err)
		o.setState(core.StateIdle)
		return err
	}
	listenCtx, cancel := context.WithCancel(o.ctx)
	o.listenCancel = cancel
	o.setStateLocked(core.StateListening)
	o.mu.Unlock()

	go o.listen(listenCtx)
	return nil
}

// listen consumes one endpointing sequence and runs a turn when the
// utterance ends. Cancellation ends the sequence without a turn. A sequence
// that ends any other way (an amplitude read failure) releases the device
// and returns the pipeline to Idle with a notice, so a fresh listen can be
// started.
func (o *TurnOrchestrator) listen(ctx context.Context) {
	for ev := range o.endpointer.Watch(ctx) {
		if ev.Kind == vad.EndOfUtterance {
			o.runTurn()
			return
		}
	}
	if ctx.Err() != nil {
		return
	}

	o.mu.Lock()
	if o.busy || o.state != core.StateListening {
		o.mu.Unlock()
		return
	}
	o.listenCancel = nil
	o.setStateLocked(core.StateIdle)
	o.mu.Unlock()

	if _, err := o.recorder.Stop(); err != nil {
		o.logger.Warn("recorder stop failed", "error", err)
	}
	o.notice("capture", errors.New("listening ended unexpectedly"))
}

// StopListening cancels capture and discards any partial recording. Also
// cancels a pending continuous-mode re-arm.
func (o *TurnOrchestrator) StopListening() error {
	o.mu.Lock()
	if o.rearmCancel != nil {
		close(o.rearmCancel)
		o.rearmCancel = nil
		o.setStateLocked(core.StateIdle)
		o.mu.Unlock()
		return nil
	}
	if o.state != core.StateListening {
		o.mu.Unlock()
		return nil
	}
	if o.listenCancel != nil {
		o.listenCancel()
		o.listenCancel = nil
	}
	o.setStateLocked(core.StateIdle)
	o.mu.Unlock()

	if _, err := o.recorder.Stop(); err != nil {
		o.logger.Warn("recorder stop failed", "error", err)
	}
	return nil
}

// runTurn finishes local capture and executes a turn with the recording.
// Claiming the turn and leaving Listening happen in one critical section, so
// a concurrent StopListening either wins outright or sees the turn has
// already begun.
func (o *TurnOrchestrator) runTurn() {
	o.mu.Lock()
	if o.busy || o.state != core.StateListening {
		o.mu.Unlock()
		return
	}
	o.busy = true
	o.listenCancel = nil
	o.setStateLocked(core.StateTranscribing)
	o.mu.Unlock()

	pcm, err := o.recorder.Stop()
	if err != nil {
		o.abortTurn("capture", err)
		return
	}
	o.processTurn(pcm)
}

// ProcessUtterance runs a full turn over externally captured PCM (24 kHz
// mono 16-bit), as submitted by a remote bridge client. Rejected while a
// turn is in flight or the microphone is armed.
func (o *TurnOrchestrator) ProcessUtterance(pcm []byte) error {
	o.mu.Lock()
	if o.busy || o.state != core.StateIdle {
		o.mu.Unlock()
		return core.ErrAlreadyProcessing
	}
	o.busy = true
	o.mu.Unlock()

	go o.processTurn(pcm)
	return nil
}

// processTurn executes one Transcribing→Generating→Speaking pass. The busy
// flag is already held.
func (o *TurnOrchestrator) processTurn(pcm []byte) {
	turn := core.Turn{Id: uuid.New().String()}
	o.publish(&pipeline.TurnStartedEvent{TurnId: turn.Id})

	if len(pcm) == 0 {
		o.abortTurn("capture", errors.New("no audio captured"))
		return
	}
	turn.UserAudio = pcm

	o.setState(core.StateTranscribing)
	container, err := wrapCapture(pcm)
	if err != nil {
		o.abortTurn("capture", err)
		return
	}
	text, err := o.transcriber.Transcribe(o.ctx, container)
	if err != nil {
		o.abortTurn("transcription", err)
		return
	}
	turn.UserText = text
	o.publish(&stt.TranscriptEvent{Text: text})

	o.setState(core.StateGenerating)
	reply := o.generateReply(text)
	turn.ReplyText = reply
	o.publish(&llm.ReplyEvent{Text: reply})
	o.mu.Lock()
	o.lastReply = reply
	o.mu.Unlock()

	if stage, err := o.speak(reply); err != nil {
		// The generated text survives in lastReply for a manual retry.
		o.abortTurn(stage, err)
		return
	}

	o.publish(&pipeline.TurnCompletedEvent{TurnId: turn.Id})
	o.finishTurn()
}

// generateReply screens the transcript and either escalates with the fixed
// crisis response or asks the responder. The responder absorbs its own
// failures, so this never errors.
func (o *TurnOrchestrator) generateReply(text string) string {
	if o.screen != nil {
		if result := o.screen(text); !result.Safe {
			o.logger.Warn("crisis phrase detected, escalating", "phrase", result.Matched)
			return result.Response
		}
	}
	return o.responder.Respond(o.ctx, text)
}

// speak synthesizes text and plays it to completion. The returned stage
// names which half failed: "synthesis" or "playback".
func (o *TurnOrchestrator) speak(text string) (string, error) {
	o.setState(core.StateSpeaking)
	o.publish(&tts.SpeakingStartedEvent{})

	container, err := o.synthesizer.Synthesize(o.ctx, text, o.voice)
	if err != nil {
		o.publish(&tts.SpeakingEndedEvent{})
		return "synthesis", err
	}
	if err := o.player.Play(container); err != nil {
		o.publish(&tts.SpeakingEndedEvent{})
		return "playback", err
	}
	o.player.Wait()
	o.publish(&tts.SpeakingEndedEvent{})
	return "", nil
}

// finishTurn releases the busy flag and either re-arms capture after the
// settle delay (continuous mode) or returns to Idle.
func (o *TurnOrchestrator) finishTurn() {
	o.mu.Lock()
	o.busy = false
	if !o.continuous {
		o.setStateLocked(core.StateIdle)
		o.mu.Unlock()
		return
	}
	cancelCh := make(chan struct{})
	o.rearmCancel = cancelCh
	settle := o.settle
	o.mu.Unlock()

	select {
	case <-cancelCh:
		return
	case <-o.ctx.Done():
		return
	case <-time.After(settle):
	}

	o.mu.Lock()
	if o.rearmCancel != cancelCh {
		o.mu.Unlock()
		return
	}
	o.rearmCancel = nil
	o.mu.Unlock()

	if err := o.startListening(core.StateSpeaking); err != nil {
		o.logger.Warn("continuous re-arm failed", "error", err)
		o.setState(core.StateIdle)
	}
}

// SpeakText synthesizes and plays arbitrary text, bypassing listening and
// transcription. Empty text re-speaks the last reply. Active capture is
// stopped first; a turn already in flight is rejected.
func (o *TurnOrchestrator) SpeakText(text string) error {
	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		return core.ErrAlreadyProcessing
	}
	if text == "" {
		text = o.lastReply
	}
	if text == "" {
		o.mu.Unlock()
		return errors.New("nothing to speak")
	}
	wasListening := o.state == core.StateListening
	if wasListening && o.listenCancel != nil {
		o.listenCancel()
		o.listenCancel = nil
	}
	if o.rearmCancel != nil {
		close(o.rearmCancel)
		o.rearmCancel = nil
	}
	o.busy = true
	o.mu.Unlock()

	if wasListening {
		if _, err := o.recorder.Stop(); err != nil {
			o.logger.Warn("recorder stop failed", "error", err)
		}
	}

	stage, err := o.speak(text)

	o.mu.Lock()
	o.busy = false
	o.mu.Unlock()
	o.setState(core.StateIdle)

	if err != nil {
		o.notice(stage, err)
	}
	return err
}

// Close tears the orchestrator down: cancels listening, stops playback.
func (o *TurnOrchestrator) Close() {
	o.cancel()
	o.StopListening()
	o.player.Stop()
}

// abortTurn surfaces a notice and returns the pipeline to Idle.
func (o *TurnOrchestrator) abortTurn(stage string, err error) {
	o.notice(stage, err)
	o.mu.Lock()
	o.busy = false
	o.setStateLocked(core.StateIdle)
	o.mu.Unlock()
}

func (o *TurnOrchestrator) notice(stage string, err error) {
	o.logger.Error("stage failed", "stage", stage, "error", err)
	o.publish(&pipeline.NoticeEvent{Stage: stage, Message: err.Error()})
}

func (o *TurnOrchestrator) setState(to core.PipelineState) {
	o.mu.Lock()
	o.setStateLocked(to)
	o.mu.Unlock()
}

func (o *TurnOrchestrator) setStateLocked(to core.PipelineState) {
	if o.state == to {
		return
	}
	from := o.state
	o.state = to
	o.feed.Publish(core.NewEventPacket(&pipeline.StateChangedEvent{From: from, To: to}, emitter))
	o.logger.Debug("state changed", "from", from.String(), "to", to.String())
}

func (o *TurnOrchestrator) publish(ev core.Event) {
	o.feed.Publish(core.NewEventPacket(ev, emitter))
}

// wrapCapture frames raw microphone PCM as a WAV container for the
// transcription request.
func wrapCapture(pcm []byte) (core.AudioContainer, error) {
	wav, err := audio.PCMBytesToWavBytes(pcm, audio.WAVFormat{
		SampleRate:    core.DefaultSampleRate,
		BitsPerSample: core.DefaultBitsPerSample,
		Channels:      core.DefaultChannels,
	})
	if err != nil {
		return core.AudioContainer{}, err
	}
	return core.AudioContainer{
		PCM:           pcm,
		WAV:           wav,
		SampleRate:    core.DefaultSampleRate,
		BitsPerSample: core.DefaultBitsPerSample,
		Channels:      core.DefaultChannels,
	}, nil
}
