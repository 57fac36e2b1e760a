package bridge

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"lumivoice/core"
	"lumivoice/events/stt"
	"lumivoice/protocol"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	mu         sync.Mutex
	feed       *core.EventFeed
	state      core.PipelineState
	continuous bool
	startErr   error
	starts     int
	spoken     []string
	utterances [][]byte
	history    []core.Message
}

func newFakeController() *fakeController {
	return &fakeController{
		feed:    core.NewEventFeed(),
		history: []core.Message{{Role: core.MessageRoleUser, Text: "be kind"}},
	}
}

func (f *fakeController) StartListening() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	return nil
}

func (f *fakeController) StopListening() error { return nil }

func (f *fakeController) SetContinuous(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.continuous = on
}

func (f *fakeController) SpeakText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, text)
	return nil
}

func (f *fakeController) ClearConversation() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = nil
}

func (f *fakeController) ConfigureContext(instruction string) {}

func (f *fakeController) ProcessUtterance(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.utterances = append(f.utterances, pcm)
	return nil
}

func (f *fakeController) State() core.PipelineState { return f.state }

func (f *fakeController) History() []core.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history
}

func (f *fakeController) Feed() *core.EventFeed { return f.feed }

func dial(t *testing.T, controller Controller) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(NewServer(":0", controller, nil).Handler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return ws, func() {
		ws.Close()
		srv.Close()
	}
}

func readEnvelope(t *testing.T, ws *websocket.Conn) (protocol.MessageType, []byte) {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	msgType, raw, err := protocol.Unmarshal(msg)
	require.NoError(t, err)
	return msgType, raw
}

// readUntil skips messages until one of the wanted type arrives.
func readUntil(t *testing.T, ws *websocket.Conn, want protocol.MessageType) []byte {
	t.Helper()
	for i := 0; i < 20; i++ {
		msgType, raw := readEnvelope(t, ws)
		if msgType == want {
			return raw
		}
	}
	t.Fatalf("never received %q", want)
	return nil
}

func TestConnectSendsSnapshot(t *testing.T) {
	controller := newFakeController()
	controller.state = core.StateListening
	ws, cleanup := dial(t, controller)
	defer cleanup()

	msgType, raw := readEnvelope(t, ws)
	require.Equal(t, protocol.MsgState, msgType)
	state, err := protocol.UnmarshalPayload[protocol.StatePayload](raw)
	require.NoError(t, err)
	assert.Equal(t, "listening", state.State)

	msgType, raw = readEnvelope(t, ws)
	require.Equal(t, protocol.MsgHistory, msgType)
	history, err := protocol.UnmarshalPayload[protocol.HistoryPayload](raw)
	require.NoError(t, err)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "be kind", history.Messages[0].Text)
}

func TestControlMessagesAreAcked(t *testing.T) {
	controller := newFakeController()
	ws, cleanup := dial(t, controller)
	defer cleanup()

	data, err := protocol.Marshal(protocol.MsgStartListening, nil)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))

	raw := readUntil(t, ws, protocol.MsgAck)
	ack, err := protocol.UnmarshalPayload[protocol.AckPayload](raw)
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgStartListening, ack.Of)

	controller.mu.Lock()
	assert.Equal(t, 1, controller.starts)
	controller.mu.Unlock()
}

func TestRejectedControlReturnsError(t *testing.T) {
	controller := newFakeController()
	controller.startErr = core.ErrAlreadyProcessing
	ws, cleanup := dial(t, controller)
	defer cleanup()

	data, _ := protocol.Marshal(protocol.MsgStartListening, nil)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))

	raw := readUntil(t, ws, protocol.MsgError)
	errPayload, err := protocol.UnmarshalPayload[protocol.ErrorPayload](raw)
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgStartListening, errPayload.Of)
	assert.Contains(t, errPayload.Message, "already in flight")
}

func TestSetContinuous(t *testing.T) {
	controller := newFakeController()
	ws, cleanup := dial(t, controller)
	defer cleanup()

	data, _ := protocol.Marshal(protocol.MsgSetContinuous, protocol.SetContinuousPayload{Enabled: true})
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
	readUntil(t, ws, protocol.MsgAck)

	controller.mu.Lock()
	assert.True(t, controller.continuous)
	controller.mu.Unlock()
}

func TestBinaryFrameRunsRemoteUtterance(t *testing.T) {
	controller := newFakeController()
	ws, cleanup := dial(t, controller)
	defer cleanup()

	pcm := make([]byte, 480)
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, pcm))

	require.Eventually(t, func() bool {
		controller.mu.Lock()
		defer controller.mu.Unlock()
		return len(controller.utterances) == 1
	}, time.Second, 5*time.Millisecond)

	controller.mu.Lock()
	assert.Len(t, controller.utterances[0], 480)
	controller.mu.Unlock()
}

func TestULawFramesAreDecodedAndUpsampled(t *testing.T) {
	controller := newFakeController()
	ws, cleanup := dial(t, controller)
	defer cleanup()

	data, _ := protocol.Marshal(protocol.MsgSetAudioFormat, protocol.SetAudioFormatPayload{Encoding: protocol.AudioFormatULaw8})
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
	readUntil(t, ws, protocol.MsgAck)

	// 800 µ-law bytes = 100ms at 8kHz; decoded and upsampled to 24kHz that
	// is 2400 samples = 4800 bytes.
	frame := make([]byte, 800)
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, frame))

	require.Eventually(t, func() bool {
		controller.mu.Lock()
		defer controller.mu.Unlock()
		return len(controller.utterances) == 1
	}, time.Second, 5*time.Millisecond)

	controller.mu.Lock()
	assert.Equal(t, 4800, len(controller.utterances[0]))
	controller.mu.Unlock()
}

func TestEventsAreRelayed(t *testing.T) {
	controller := newFakeController()
	ws, cleanup := dial(t, controller)
	defer cleanup()

	readEnvelope(t, ws) // state snapshot
	readEnvelope(t, ws) // history snapshot

	// A round trip through the read loop guarantees the event subscription
	// is in place before publishing.
	data, _ := protocol.Marshal(protocol.MsgGetHistory, nil)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
	readUntil(t, ws, protocol.MsgHistory)

	controller.feed.Publish(core.NewEventPacket(&stt.TranscriptEvent{Text: "good morning"}, "test"))

	raw := readUntil(t, ws, protocol.MsgEvent)
	ev, err := protocol.UnmarshalPayload[protocol.EventPayload](raw)
	require.NoError(t, err)
	assert.Equal(t, "stt.transcript", ev.EventID)
	assert.Contains(t, string(ev.Data), "good morning")
}

func TestUnknownMessageTypeErrors(t *testing.T) {
	controller := newFakeController()
	ws, cleanup := dial(t, controller)
	defer cleanup()

	data, _ := protocol.Marshal(protocol.MessageType("bogus"), nil)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
	raw := readUntil(t, ws, protocol.MsgError)
	errPayload, err := protocol.UnmarshalPayload[protocol.ErrorPayload](raw)
	require.NoError(t, err)
	assert.Contains(t, errPayload.Message, "unknown message type")
}
