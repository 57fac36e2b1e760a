// Package bridge serves the pipeline to UI clients over WebSocket: control
// messages in, pipeline events out, and binary utterance audio from remote
// microphones.
package bridge

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"lumivoice/audio"
	"lumivoice/core"
	"lumivoice/protocol"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// Controller is the pipeline surface the bridge drives. Implemented by the
// orchestrator.
type Controller interface {
	StartListening() error
	StopListening() error
	SetContinuous(on bool)
	SpeakText(text string) error
	ClearConversation()
	ConfigureContext(instruction string)
	ProcessUtterance(pcm []byte) error
	State() core.PipelineState
	History() []core.Message
	Feed() *core.EventFeed
}

// Server accepts WebSocket clients on /ws.
type Server struct {
	addr       string
	controller Controller
	logger     *core.Logger
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// NewServer builds a bridge bound to addr.
func NewServer(addr string, controller Controller, logger *core.Logger) *Server {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Server{
		addr:       addr,
		controller: controller,
		logger:     logger.With(map[string]interface{}{"component": "bridge"}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Local companion UI; same-host pages are fine.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler serving /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Start serves until Shutdown. Blocking.
func (s *Server) Start() error {
	s.httpServer = &http.Server{Addr: s.addr, Handler: s.Handler()}
	s.logger.Info("bridge listening", "addr", s.addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting clients and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// conn is one connected client.
type conn struct {
	ws         *websocket.Conn
	writeMu    sync.Mutex
	audioCodec string
}

func (c *conn) send(msgType protocol.MessageType, payload interface{}) error {
	data, err := protocol.Marshal(msgType, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &conn{ws: ws, audioCodec: protocol.AudioFormatPCM16}
	defer ws.Close()

	s.logger.Info("client connected", "remote", ws.RemoteAddr().String())

	// Snapshot so a reconnecting UI can redraw without waiting for events.
	c.send(protocol.MsgState, protocol.StatePayload{State: s.controller.State().String()})
	c.send(protocol.MsgHistory, protocol.HistoryPayload{Messages: s.controller.History()})

	events, unsubscribe := s.controller.Feed().Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go s.relayEvents(c, events, done)
	defer close(done)

	for {
		messageType, msg, err := ws.ReadMessage()
		if err != nil {
			s.logger.Info("client disconnected", "remote", ws.RemoteAddr().String())
			return
		}
		switch messageType {
		case websocket.TextMessage:
			s.dispatch(c, msg)
		case websocket.BinaryMessage:
			s.handleAudio(c, msg)
		}
	}
}

// relayEvents forwards pipeline events to the client until the connection
// ends.
func (s *Server) relayEvents(c *conn, events <-chan *core.EventPacket, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case pkt, ok := <-events:
			if !ok {
				return
			}
			data, err := sonic.Marshal(pkt.Event)
			if err != nil {
				continue
			}
			c.send(protocol.MsgEvent, protocol.EventPayload{
				EventID: pkt.Event.EventId(),
				Emitter: pkt.Emitter,
				Uid:     pkt.Uid,
				Data:    data,
			})
		}
	}
}

func (s *Server) dispatch(c *conn, msg []byte) {
	msgType, raw, err := protocol.Unmarshal(msg)
	if err != nil {
		c.send(protocol.MsgError, protocol.ErrorPayload{Message: err.Error()})
		return
	}

	var actErr error
	switch msgType {
	case protocol.MsgStartListening:
		actErr = s.controller.StartListening()
	case protocol.MsgStopListening:
		actErr = s.controller.StopListening()
	case protocol.MsgSetContinuous:
		payload, err := protocol.UnmarshalPayload[protocol.SetContinuousPayload](raw)
		if err != nil {
			actErr = err
			break
		}
		s.controller.SetContinuous(payload.Enabled)
	case protocol.MsgSpeak:
		payload, err := protocol.UnmarshalPayload[protocol.SpeakPayload](raw)
		if err != nil {
			actErr = err
			break
		}
		// Speaking blocks through playback; keep the read loop responsive.
		go func() {
			if err := s.controller.SpeakText(payload.Text); err != nil {
				c.send(protocol.MsgError, protocol.ErrorPayload{Of: protocol.MsgSpeak, Message: err.Error()})
			}
		}()
	case protocol.MsgClearConversation:
		s.controller.ClearConversation()
	case protocol.MsgConfigureContext:
		payload, err := protocol.UnmarshalPayload[protocol.ConfigureContextPayload](raw)
		if err != nil {
			actErr = err
			break
		}
		s.controller.ConfigureContext(payload.Instruction)
	case protocol.MsgGetHistory:
		c.send(protocol.MsgHistory, protocol.HistoryPayload{Messages: s.controller.History()})
		return
	case protocol.MsgSetAudioFormat:
		payload, err := protocol.UnmarshalPayload[protocol.SetAudioFormatPayload](raw)
		if err != nil {
			actErr = err
			break
		}
		switch payload.Encoding {
		case protocol.AudioFormatPCM16, protocol.AudioFormatULaw8:
			c.audioCodec = payload.Encoding
		default:
			actErr = fmt.Errorf("unknown audio encoding %q", payload.Encoding)
		}
	default:
		actErr = fmt.Errorf("unknown message type %q", msgType)
	}

	if actErr != nil {
		c.send(protocol.MsgError, protocol.ErrorPayload{Of: msgType, Message: actErr.Error()})
		return
	}
	c.send(protocol.MsgAck, protocol.AckPayload{Of: msgType})
}

// handleAudio treats a binary frame as one complete remote utterance and
// runs a turn over it.
func (s *Server) handleAudio(c *conn, frame []byte) {
	pcm := frame
	if c.audioCodec == protocol.AudioFormatULaw8 {
		pcm = audio.ULawBytesToPCM(frame)
		pcm = audio.ResamplePCM16(pcm, 8000, core.DefaultSampleRate)
	}
	if err := s.controller.ProcessUtterance(pcm); err != nil {
		c.send(protocol.MsgError, protocol.ErrorPayload{Message: err.Error()})
	}
}
