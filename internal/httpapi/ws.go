package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/toolgate/internal/engine"
	"github.com/nextlevelbuilder/toolgate/pkg/protocol"
)

// maxWSMessageSize is the maximum allowed WebSocket message size (512KB).
// Gorilla/websocket closes the connection with ErrReadLimit if exceeded.
const maxWSMessageSize = 512 * 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Auth happens via the bearer token before the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades the connection and binds it to an engine session.
// The same request/response frames flow here as over SSE, on one duplex
// connection instead of a stream plus POSTs.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	sessionID, outbound := s.engine.Register()
	slog.Info("websocket session connected", "session_id", sessionID)

	c := &wsConn{
		conn:      conn,
		engine:    s.engine,
		sessionID: sessionID,
		outbound:  outbound,
		direct:    make(chan *protocol.ResponseFrame, 16),
	}
	c.run(r.Context())
}

type wsConn struct {
	conn      *websocket.Conn
	engine    *engine.Engine
	sessionID string
	outbound  <-chan *protocol.ResponseFrame
	// direct carries transport-level error frames from the read pump. All
	// writes to conn happen on the write pump.
	direct chan *protocol.ResponseFrame
}

func (c *wsConn) run(ctx context.Context) {
	defer c.engine.Unregister(c.sessionID)

	go c.writePump()
	c.readPump(ctx)
}

// readPump reads request frames from the connection and submits them to the
// engine. Parse failures and submit failures are answered directly; they
// never tear down the connection.
func (c *wsConn) readPump(ctx context.Context) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxWSMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read error", "session_id", c.sessionID, "error", err)
			}
			return
		}

		// Reset read deadline on activity
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		c.handleFrame(data)
	}
}

func (c *wsConn) handleFrame(data []byte) {
	frameType, err := protocol.ParseFrameType(data)
	if err != nil {
		c.writeFrame(protocol.NewErrorResponse("", protocol.ErrInvalidRequest, "invalid frame: "+err.Error()))
		return
	}
	if frameType != protocol.FrameTypeRequest {
		c.writeFrame(protocol.NewErrorResponse("", protocol.ErrInvalidRequest, "unexpected frame type: "+frameType))
		return
	}

	var req protocol.RequestFrame
	if err := json.Unmarshal(data, &req); err != nil {
		c.writeFrame(protocol.NewErrorResponse("", protocol.ErrInvalidRequest, "malformed request: "+err.Error()))
		return
	}

	if err := c.engine.Submit(c.sessionID, req); err != nil {
		c.writeFrame(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
	}
}

// writePump forwards engine responses and pings to the connection.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.outbound:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.write(frame) {
				return
			}

		case frame := <-c.direct:
			if !c.write(frame) {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) write(frame *protocol.ResponseFrame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("marshal websocket frame", "error", err)
		return true
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data) == nil
}

// writeFrame hands a transport-level error frame to the write pump.
func (c *wsConn) writeFrame(frame *protocol.ResponseFrame) {
	select {
	case c.direct <- frame:
	default:
		slog.Warn("websocket direct buffer full, dropping frame", "session_id", c.sessionID)
	}
}
