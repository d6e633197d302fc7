package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/amcp-dev/amcp/internal/protocol"
	"github.com/amcp-dev/amcp/internal/session"
	"github.com/amcp-dev/amcp/pkg/model"
)

const (
	wsPongWait   = 45 * time.Second
	wsPingPeriod = 30 * time.Second
	wsWriteWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWS implements spec §6.2's /ws?session_id=... control plane,
// grounded on internal/gateway/ws_control_plane.go's upgrade-then-two-
// goroutine (read/write) shape, trimmed to the simpler {type, id,
// timestamp, payload} frame this spec defines instead of the teacher's
// RPC-style wsFrame.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, model.ErrValidation, "session_id is required")
		return
	}
	if _, err := s.sessions.Get(sessionID); err != nil {
		writeError(w, model.ErrSessionNotFound, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	ws := &wsConn{server: s, conn: conn, sessionID: sessionID, send: make(chan []byte, 32), ctx: ctx, cancel: cancel, logger: s.logger}
	ws.run()
}

type wsConn struct {
	server    *Server
	conn      *websocket.Conn
	sessionID string
	send      chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *slog.Logger
	unsubIDs  []string
}

func (c *wsConn) run() {
	c.subscribe()
	defer c.teardown()
	go c.writeLoop()
	c.readLoop()
}

// subscribe fans every EventKind relevant to this session onto c.send,
// working around eventbus.Bus.Subscribe taking one EventKind per call
// (spec §4.A describes a plural subscribe; this is the resolution).
func (c *wsConn) subscribe() {
	kinds := []model.EventKind{
		model.EventSessionStatusChanged, model.EventMessageStart, model.EventMessageChunk,
		model.EventMessageComplete, model.EventMessageError, model.EventToolCallStart,
		model.EventToolCallComplete, model.EventToolCallError, model.EventAgentThinking,
		model.EventAgentIdle, model.EventPromptQueued, model.EventPromptRejected,
		model.EventContextCompacted,
	}
	for _, kind := range kinds {
		id := c.server.bus.Subscribe(kind, c.onEvent, model.PriorityNormalH, c.sessionID, false)
		c.unsubIDs = append(c.unsubIDs, id)
	}
}

func (c *wsConn) onEvent(evt model.Event) error {
	frame, err := protocol.WSEventFrame(protocol.EventFromModel(evt))
	if err != nil {
		return nil
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	default:
		// slow consumer: drop rather than block the bus dispatch goroutine.
	}
	return nil
}

func (c *wsConn) teardown() {
	c.cancel()
	for _, id := range c.unsubIDs {
		c.server.bus.Unsubscribe(id)
	}
	_ = c.conn.Close()
}

func (c *wsConn) readLoop() {
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleFrame(raw)
	}
}

func (c *wsConn) handleFrame(raw []byte) {
	action, err := protocol.ValidateClientFrame(raw)
	if err != nil {
		c.sendError("", model.ErrInvalidJSON, err.Error())
		return
	}

	switch action.Action {
	case "prompt":
		strategy := session.ConflictQueue
		result, err := c.server.sessions.Prompt(c.ctx, c.sessionID, action.Content, action.Priority, action.Attachments, strategy)
		if err != nil {
			c.sendError("", model.ErrSessionBusy, err.Error())
			return
		}
		if !result.Queued {
			go c.streamChunks(result)
		}
	case "cancel":
		if err := c.server.sessions.Cancel(c.sessionID, action.Force); err != nil {
			c.sendError("", model.ErrConflict, err.Error())
		}
	}
}

func (c *wsConn) streamChunks(result session.PromptResult) {
	for chunk := range result.Chunks {
		frame := frameFromChunk(chunk)
		payload, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		wrapper := protocol.WSFrame{Type: protocol.FrameEvent, Timestamp: time.Now().UnixNano(), Payload: payload}
		data, err := json.Marshal(wrapper)
		if err != nil {
			continue
		}
		select {
		case c.send <- data:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *wsConn) sendError(id string, code model.ErrorCode, message string) {
	frame, err := protocol.WSErrorFrame(id, code, message)
	if err != nil {
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
