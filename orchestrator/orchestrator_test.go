package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lumivoice/core"
	"lumivoice/events/pipeline"
	"lumivoice/persona"
	"lumivoice/vad"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	mu        sync.Mutex
	recording bool
	starts    int
	startAt   []time.Time
	pcm       []byte
	startErr  error
}

func (f *fakeRecorder) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.recording = true
	f.starts++
	f.startAt = append(f.startAt, time.Now())
	return nil
}

func (f *fakeRecorder) Stop() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recording = false
	return f.pcm, nil
}

func (f *fakeRecorder) Recording() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recording
}

func (f *fakeRecorder) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

// fakeEndpointer fires end-of-utterance when poked.
type fakeEndpointer struct {
	mu    sync.Mutex
	fires []chan struct{}
}

func (f *fakeEndpointer) Watch(ctx context.Context) <-chan vad.Event {
	fire := make(chan struct{}, 1)
	f.mu.Lock()
	f.fires = append(f.fires, fire)
	f.mu.Unlock()

	out := make(chan vad.Event, 1)
	go func() {
		defer close(out)
		select {
		case <-ctx.Done():
		case <-fire:
			out <- vad.Event{Kind: vad.EndOfUtterance}
		}
	}()
	return out
}

func (f *fakeEndpointer) endUtterance(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.fires) > 0
	}, time.Second, time.Millisecond, "no active watch to fire")
	f.mu.Lock()
	fire := f.fires[len(f.fires)-1]
	f.fires = f.fires[:len(f.fires)-1]
	f.mu.Unlock()
	fire <- struct{}{}
}

type fakeTranscriber struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, c core.AudioContainer) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.text, f.err
}

type fakeResponder struct {
	mu      sync.Mutex
	reply   string
	inputs  []string
	history []core.Message
}

func (f *fakeResponder) ConfigureContext(instruction string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = []core.Message{
		{Role: core.MessageRoleUser, Text: instruction},
		{Role: core.MessageRoleModel, Text: "Understood."},
	}
}

func (f *fakeResponder) Respond(ctx context.Context, userText string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, userText)
	return f.reply
}

func (f *fakeResponder) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = nil
}

func (f *fakeResponder) History() []core.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history
}

func (f *fakeResponder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

type fakeSynthesizer struct {
	mu    sync.Mutex
	err   error
	texts []string
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, text, voice string) (core.AudioContainer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return core.AudioContainer{}, f.err
	}
	f.texts = append(f.texts, text)
	return core.AudioContainer{PCM: []byte{0, 0}, SampleRate: 24000, BitsPerSample: 16, Channels: 1}, nil
}

type fakePlayer struct {
	mu       sync.Mutex
	playing  bool
	plays    int
	playedAt []time.Time
	playErr  error
}

func (f *fakePlayer) Play(c core.AudioContainer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playErr != nil {
		return f.playErr
	}
	f.plays++
	f.playedAt = append(f.playedAt, time.Now())
	return nil
}

func (f *fakePlayer) IsPlaying() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func (f *fakePlayer) Wait() {}
func (f *fakePlayer) Stop() {}

func (f *fakePlayer) playCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plays
}

type fixture struct {
	orch        *TurnOrchestrator
	recorder    *fakeRecorder
	endpointer  *fakeEndpointer
	transcriber *fakeTranscriber
	responder   *fakeResponder
	synthesizer *fakeSynthesizer
	player      *fakePlayer
}

func newFixture(config Config) *fixture {
	f := &fixture{
		recorder:    &fakeRecorder{pcm: make([]byte, 480)},
		endpointer:  &fakeEndpointer{},
		transcriber: &fakeTranscriber{text: "hello there"},
		responder:   &fakeResponder{reply: "hi, how are you?"},
		synthesizer: &fakeSynthesizer{},
		player:      &fakePlayer{},
	}
	f.orch = NewTurnOrchestrator(
		f.recorder, f.endpointer, f.transcriber, f.responder,
		f.synthesizer, f.player, core.NewEventFeed(), config, nil,
	)
	return f
}

func waitForState(t *testing.T, o *TurnOrchestrator, want core.PipelineState) {
	t.Helper()
	require.Eventually(t, func() bool { return o.State() == want },
		2*time.Second, time.Millisecond, "state never reached %s", want)
}

func TestFullTurnReachesIdle(t *testing.T) {
	f := newFixture(Config{Voice: "Zephyr"})
	defer f.orch.Close()

	require.NoError(t, f.orch.StartListening())
	assert.Equal(t, core.StateListening, f.orch.State())
	assert.True(t, f.recorder.Recording())

	f.endpointer.endUtterance(t)
	waitForState(t, f.orch, core.StateIdle)

	assert.Equal(t, 1, f.transcriber.calls)
	assert.Equal(t, []string{"hello there"}, f.responder.inputs)
	assert.Equal(t, []string{"hi, how are you?"}, f.synthesizer.texts)
	assert.Equal(t, 1, f.player.plays)
	assert.Equal(t, "hi, how are you?", f.orch.LastReply())
	assert.False(t, f.recorder.Recording())
}

func TestStartListeningWhileActiveIsRejected(t *testing.T) {
	f := newFixture(Config{})
	defer f.orch.Close()

	require.NoError(t, f.orch.StartListening())
	assert.ErrorIs(t, f.orch.StartListening(), core.ErrAlreadyProcessing)
}

func TestSpeakTextDuringTurnIsRejected(t *testing.T) {
	f := newFixture(Config{})
	defer f.orch.Close()

	// Slow transcription keeps the turn in flight.
	started := make(chan struct{})
	release := make(chan struct{})
	f.transcriber.err = nil
	slowTranscriber := &blockingTranscriber{started: started, release: release, text: "hi"}
	f.orch.transcriber = slowTranscriber

	require.NoError(t, f.orch.StartListening())
	f.endpointer.endUtterance(t)
	<-started

	assert.ErrorIs(t, f.orch.SpeakText("now"), core.ErrAlreadyProcessing)
	close(release)
	waitForState(t, f.orch, core.StateIdle)
}

type blockingTranscriber struct {
	started chan struct{}
	release chan struct{}
	text    string
}

func (b *blockingTranscriber) Transcribe(ctx context.Context, c core.AudioContainer) (string, error) {
	close(b.started)
	<-b.release
	return b.text, nil
}

func TestTranscriptionFailureAbortsToIdle(t *testing.T) {
	f := newFixture(Config{})
	defer f.orch.Close()
	f.transcriber.err = core.ErrEmptyResult

	events, unsub := f.orch.Feed().Subscribe()
	defer unsub()

	require.NoError(t, f.orch.StartListening())
	f.endpointer.endUtterance(t)
	waitForState(t, f.orch, core.StateIdle)

	assert.Equal(t, 0, f.responder.callCount(), "responder must not run without a transcript")
	assert.Equal(t, 0, f.player.plays)

	deadline := time.After(time.Second)
	for {
		select {
		case pkt := <-events:
			if pkt.Event.EventId() == "pipeline.notice" {
				return
			}
		case <-deadline:
			t.Fatal("no notice event published")
		}
	}
}

func TestSynthesisFailurePreservesReplyForRetry(t *testing.T) {
	f := newFixture(Config{})
	defer f.orch.Close()
	f.synthesizer.err = core.ErrNoAudioInResponse

	require.NoError(t, f.orch.StartListening())
	f.endpointer.endUtterance(t)
	waitForState(t, f.orch, core.StateIdle)

	assert.Equal(t, "hi, how are you?", f.orch.LastReply())
	assert.Equal(t, 0, f.player.plays)

	// Manual retry succeeds once the provider recovers.
	f.synthesizer.mu.Lock()
	f.synthesizer.err = nil
	f.synthesizer.mu.Unlock()
	require.NoError(t, f.orch.SpeakText(""))
	assert.Equal(t, []string{"hi, how are you?"}, f.synthesizer.texts)
	assert.Equal(t, 1, f.player.plays)
}

func TestContinuousModeReArmsAfterSettleDelay(t *testing.T) {
	settle := 60 * time.Millisecond
	f := newFixture(Config{Continuous: true, SettleDelay: settle})
	defer f.orch.Close()

	require.NoError(t, f.orch.StartListening())
	f.endpointer.endUtterance(t)

	require.Eventually(t, func() bool { return f.recorder.startCount() == 2 },
		2*time.Second, time.Millisecond, "capture never restarted")
	assert.Equal(t, core.StateListening, f.orch.State())

	f.player.mu.Lock()
	played := f.player.playedAt[0]
	f.player.mu.Unlock()
	f.recorder.mu.Lock()
	restarted := f.recorder.startAt[1]
	f.recorder.mu.Unlock()

	gap := restarted.Sub(played)
	assert.GreaterOrEqual(t, gap, settle)
	assert.Less(t, gap, settle+50*time.Millisecond)
}

func TestStopDuringSettleCancelsReArm(t *testing.T) {
	f := newFixture(Config{Continuous: true, SettleDelay: 80 * time.Millisecond})
	defer f.orch.Close()

	require.NoError(t, f.orch.StartListening())
	f.endpointer.endUtterance(t)

	// Wait until the turn is done but the settle delay has not elapsed.
	require.Eventually(t, func() bool { return f.player.playCount() == 1 },
		time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, f.orch.StopListening())

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, f.recorder.startCount(), "re-arm should be cancelled")
	assert.Equal(t, core.StateIdle, f.orch.State())
}

func TestCrisisTranscriptShortCircuitsResponder(t *testing.T) {
	f := newFixture(Config{})
	defer f.orch.Close()
	f.transcriber.text = "I fell and I can't get up"

	require.NoError(t, f.orch.StartListening())
	f.endpointer.endUtterance(t)
	waitForState(t, f.orch, core.StateIdle)

	assert.Equal(t, 0, f.responder.callCount())
	assert.Equal(t, []string{persona.CrisisResponse}, f.synthesizer.texts)
	assert.Equal(t, persona.CrisisResponse, f.orch.LastReply())
}

func TestSpeakTextFromIdle(t *testing.T) {
	f := newFixture(Config{Voice: "Kore"})
	defer f.orch.Close()

	require.NoError(t, f.orch.SpeakText("good evening"))
	assert.Equal(t, []string{"good evening"}, f.synthesizer.texts)
	assert.Equal(t, core.StateIdle, f.orch.State())
}

func TestSpeakTextStopsActiveCapture(t *testing.T) {
	f := newFixture(Config{})
	defer f.orch.Close()

	require.NoError(t, f.orch.StartListening())
	require.NoError(t, f.orch.SpeakText("interrupting"))
	assert.False(t, f.recorder.Recording())
	assert.Equal(t, core.StateIdle, f.orch.State())
}

func TestSpeakTextWithNothingToSay(t *testing.T) {
	f := newFixture(Config{})
	defer f.orch.Close()
	assert.Error(t, f.orch.SpeakText(""))
}

func TestClearConversation(t *testing.T) {
	f := newFixture(Config{})
	defer f.orch.Close()

	f.orch.ConfigureContext("be kind")
	require.NotEmpty(t, f.orch.History())

	// A clear wipes accumulated turns but re-seeds the configured context
	// pair so the persona survives.
	f.orch.ClearConversation()
	history := f.orch.History()
	require.Len(t, history, 2)
	assert.Equal(t, "be kind", history[0].Text)
}

// deadEndpointer's sequence ends immediately without end-of-utterance, the
// way the real endpointer's does when amplitude reads start failing.
type deadEndpointer struct{}

func (deadEndpointer) Watch(ctx context.Context) <-chan vad.Event {
	out := make(chan vad.Event)
	close(out)
	return out
}

func TestEndpointerDeathReleasesCaptureToIdle(t *testing.T) {
	f := newFixture(Config{})
	defer f.orch.Close()
	f.orch.endpointer = deadEndpointer{}

	events, unsub := f.orch.Feed().Subscribe()
	defer unsub()

	require.NoError(t, f.orch.StartListening())
	waitForState(t, f.orch, core.StateIdle)

	require.Eventually(t, func() bool { return !f.recorder.Recording() },
		time.Second, time.Millisecond, "device must be released")
	assert.Equal(t, 0, f.transcriber.calls, "no turn must run without an utterance")

	deadline := time.After(time.Second)
	for {
		select {
		case pkt := <-events:
			if notice, ok := pkt.Event.(*pipeline.NoticeEvent); ok {
				assert.Equal(t, "capture", notice.Stage)
				// The pipeline accepts a fresh listen afterwards.
				require.NoError(t, f.orch.StartListening())
				return
			}
		case <-deadline:
			t.Fatal("no notice event published")
		}
	}
}

func TestPlaybackFailureIsReportedAsPlayback(t *testing.T) {
	f := newFixture(Config{})
	defer f.orch.Close()
	f.player.playErr = errors.New("output device lost")

	events, unsub := f.orch.Feed().Subscribe()
	defer unsub()

	require.NoError(t, f.orch.StartListening())
	f.endpointer.endUtterance(t)
	waitForState(t, f.orch, core.StateIdle)

	deadline := time.After(time.Second)
	for {
		select {
		case pkt := <-events:
			if notice, ok := pkt.Event.(*pipeline.NoticeEvent); ok {
				assert.Equal(t, "playback", notice.Stage)
				assert.Equal(t, "hi, how are you?", f.orch.LastReply(),
					"reply text survives a playback failure")
				return
			}
		case <-deadline:
			t.Fatal("no notice event published")
		}
	}
}

func TestStopListeningAfterTurnClaimedDoesNotInterrupt(t *testing.T) {
	f := newFixture(Config{})
	defer f.orch.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	f.orch.transcriber = &blockingTranscriber{started: started, release: release, text: "still here"}

	require.NoError(t, f.orch.StartListening())
	f.endpointer.endUtterance(t)
	<-started

	// The turn already left Listening, so a late stop is a no-op and the
	// turn runs to completion.
	require.NoError(t, f.orch.StopListening())
	assert.Equal(t, core.StateTranscribing, f.orch.State())

	close(release)
	waitForState(t, f.orch, core.StateIdle)
	assert.Equal(t, []string{"still here"}, f.responder.inputs)
	assert.Equal(t, 1, f.player.playCount())
}
