package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/eleven-am/echolens/internal/session"
	"github.com/eleven-am/echolens/internal/shared"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	defaultStreamQueue = 2
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	MessageTypeReady       = "ready"
	MessageTypeDescription = "description"
	MessageTypeError       = "error"
	MessageTypeDropped     = "dropped"
	MessageTypeReset       = "reset"
)

// StreamMessage is the JSON envelope exchanged on the stream. Audio follows
// a description message as a separate binary message.
type StreamMessage struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id,omitempty"`
	FrameID     string `json:"frame_id,omitempty"`
	Text        string `json:"text,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Code        string `json:"code,omitempty"`
	Error       string `json:"error,omitempty"`
}

// StreamHandler serves continuous capture: clients push binary image frames
// and receive narration as it is produced. Frames that arrive while the
// queue is full are dropped so narration tracks the latest scene.
type StreamHandler struct {
	pipeline  *Pipeline
	sessions  *session.Manager
	queueSize int
	logger    *slog.Logger
}

func NewStreamHandler(p *Pipeline, sessions *session.Manager, queueSize int, logger *slog.Logger) *StreamHandler {
	if queueSize <= 0 {
		queueSize = defaultStreamQueue
	}
	return &StreamHandler{
		pipeline:  p,
		sessions:  sessions,
		queueSize: queueSize,
		logger:    logger.With("component", "stream"),
	}
}

func (h *StreamHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/:id/stream", h.HandleConnection)
}

func (h *StreamHandler) HandleConnection(c echo.Context) error {
	sess, _, err := h.sessions.GetOrCreate(c.Param("id"))
	if err != nil {
		return err
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return err
	}

	conn := newStreamConn(ws, sess, h.queueSize, h.logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go conn.writePump()
	go h.processLoop(ctx, conn)

	conn.sendJSON(StreamMessage{Type: MessageTypeReady, SessionID: sess.ID})
	conn.readPump(ctx, h.pipeline.MaxImageBytes())
	return nil
}

func (h *StreamHandler) processLoop(ctx context.Context, conn *streamConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.done:
			return
		case frame := <-conn.frames:
			h.processFrame(ctx, conn, frame)
		}
	}
}

func (h *StreamHandler) processFrame(ctx context.Context, conn *streamConn, frame *Frame) {
	result, err := h.pipeline.Process(ctx, conn.session, frame)
	if err != nil {
		httpErr := shared.FromError(err)
		msg := StreamMessage{Type: MessageTypeError, SessionID: conn.session.ID, FrameID: frame.ID}
		if apiErr, ok := httpErr.Message.(*shared.APIError); ok {
			msg.Code = apiErr.Code
			msg.Error = apiErr.Message
		}
		conn.sendJSON(msg)
		if errors.Is(err, shared.ErrClosed) {
			conn.send(outbound{
				kind: websocket.CloseMessage,
				data: websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
			})
		}
		return
	}
	defer func() {
		if err := result.Release(); err != nil {
			h.logger.Error("failed to release audio artifact", "frame_id", result.FrameID, "error", err)
		}
	}()

	sent := conn.sendJSON(StreamMessage{
		Type:        MessageTypeDescription,
		SessionID:   result.SessionID,
		FrameID:     result.FrameID,
		Text:        result.Description,
		ContentType: result.Audio.ContentType,
	})
	if !sent {
		return
	}
	conn.send(outbound{kind: websocket.BinaryMessage, data: result.Audio.Data})
}

type outbound struct {
	kind int
	data []byte
}

type streamConn struct {
	ws      *websocket.Conn
	session *session.Session
	logger  *slog.Logger
	out     chan outbound
	frames  chan *Frame
	mu      sync.Mutex
	closed  bool
	done    chan struct{}
}

func newStreamConn(ws *websocket.Conn, sess *session.Session, queueSize int, logger *slog.Logger) *streamConn {
	return &streamConn{
		ws:      ws,
		session: sess,
		logger:  logger.With("session_id", sess.ID),
		out:     make(chan outbound, 64),
		frames:  make(chan *Frame, queueSize),
		done:    make(chan struct{}),
	}
}

// send queues msg for the write pump, blocking until there is room or the
// connection closes.
func (c *streamConn) send(msg outbound) bool {
	select {
	case <-c.done:
		return false
	case c.out <- msg:
		return true
	}
}

// trySend is for advisory messages that may be lost under backpressure.
func (c *streamConn) trySend(msg outbound) bool {
	select {
	case <-c.done:
		return false
	case c.out <- msg:
		return true
	default:
		c.logger.Warn("send buffer full, dropping message")
		return false
	}
}

func (c *streamConn) encode(msg StreamMessage) (outbound, bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("marshal error", "error", err)
		return outbound{}, false
	}
	return outbound{kind: websocket.TextMessage, data: data}, true
}

func (c *streamConn) sendJSON(msg StreamMessage) bool {
	out, ok := c.encode(msg)
	return ok && c.send(out)
}

func (c *streamConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	return c.ws.Close()
}

func (c *streamConn) readPump(ctx context.Context, maxImageBytes int64) {
	defer c.Close()

	c.ws.SetReadLimit(maxImageBytes + 1024)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error("read error", "error", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		switch kind {
		case websocket.BinaryMessage:
			frame := NewFrame(message)
			select {
			case c.frames <- frame:
			default:
				if out, ok := c.encode(StreamMessage{Type: MessageTypeDropped, SessionID: c.session.ID, FrameID: frame.ID}); ok {
					c.trySend(out)
				}
			}
		case websocket.TextMessage:
			c.handleControl(ctx, message)
		}
	}
}

func (c *streamConn) handleControl(ctx context.Context, message []byte) {
	var msg StreamMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Error("unmarshal error", "error", err)
		return
	}
	switch msg.Type {
	case MessageTypeReset:
		// waits for queued frames; keep reading meanwhile
		go c.reset(ctx)
	default:
		c.sendJSON(StreamMessage{Type: MessageTypeError, Code: "unknown_message", Error: "unknown message type " + msg.Type})
	}
}

func (c *streamConn) reset(ctx context.Context) {
	if err := c.session.Reset(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		msg := StreamMessage{Type: MessageTypeError, SessionID: c.session.ID, Code: "reset_failed", Error: err.Error()}
		if errors.Is(err, shared.ErrClosed) {
			msg.Code = "session_closed"
		}
		c.sendJSON(msg)
		return
	}
	c.sendJSON(StreamMessage{Type: MessageTypeReset, SessionID: c.session.ID})
}

func (c *streamConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.out:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(msg.kind, msg.data); err != nil {
				c.logger.Error("write error", "error", err)
				c.Close()
				return
			}
			if msg.kind == websocket.CloseMessage {
				c.Close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
