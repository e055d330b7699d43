package ws

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/domain/canvas"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/runtime/bus"
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxClientFrame = 4096

	// DefaultBufferSize is how many frames a connection may fall behind
	DefaultBufferSize = 256
)

// Handler manages editor stream connections
type Handler struct {
	manager    *canvas.Manager
	upgrader   websocket.Upgrader
	bufferSize int
	logger     *zap.Logger
	metrics    *monitoring.Metrics
}

// NewHandler creates a stream handler accepting upgrades from
// allowedOrigins ("*" admits every origin, a missing Origin header is
// always accepted)
func NewHandler(manager *canvas.Manager, allowedOrigins []string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	_, all := allowed["*"]

	return &Handler{
		manager: manager,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if all || origin == "" {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
		bufferSize: DefaultBufferSize,
		logger:     logger.Named("stream"),
	}
}

// WithMetrics adds metrics tracking to the handler
func (h *Handler) WithMetrics(metrics *monitoring.Metrics) *Handler {
	h.metrics = metrics
	return h
}

// WithBufferSize sets the per-connection frame buffer
func (h *Handler) WithBufferSize(n int) *Handler {
	if n > 0 {
		h.bufferSize = n
	}
	return h
}

// HandleConnection upgrades GET /canvases/:id/stream
func (h *Handler) HandleConnection(c *gin.Context) {
	cv, err := h.manager.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	s := &stream{
		id:      uuid.NewString(),
		conn:    conn,
		out:     make(chan types.StreamMessage, h.bufferSize),
		done:    make(chan struct{}),
		closing: cv.Done(),
		metrics: h.metrics,
	}
	s.logger = h.logger.With(zap.String("conn_id", s.id), zap.String("canvas_id", cv.ID()))

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()
	s.logger.Debug("Stream connected")

	s.enqueue(types.StreamMessage{
		Type:      "system",
		Message:   s.id,
		Timestamp: time.Now().Unix(),
	})

	unsubscribe := cv.Observe(bus.Wildcard, func(ev bus.Event) {
		s.enqueue(types.StreamMessage{
			Type:      "event",
			Event:     ev.Name,
			Payload:   ev.Payload,
			Scope:     string(ev.Scope.Kind),
			Timestamp: time.Now().Unix(),
		})
	})
	defer unsubscribe()

	written := make(chan struct{})
	go func() {
		defer close(written)
		s.writeLoop()
	}()
	s.readLoop()

	close(s.done)
	<-written
	conn.Close()
	s.logger.Debug("Stream closed", zap.Int64("dropped", s.dropped.Load()))
}

type stream struct {
	id      string
	conn    *websocket.Conn
	out     chan types.StreamMessage
	done    chan struct{}
	closing <-chan struct{} // the canvas went away
	dropped atomic.Int64
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// enqueue never blocks; it runs on the bus delivery path
func (s *stream) enqueue(msg types.StreamMessage) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.out <- msg:
	default:
		s.dropped.Add(1)
		s.metrics.RecordWSMessage("dropped", msg.Type)
	}
}

func (s *stream) readLoop() {
	s.conn.SetReadLimit(maxClientFrame)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg types.StreamMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
		s.metrics.RecordWSMessage("inbound", msg.Type)

		switch msg.Type {
		case "ping":
			s.enqueue(types.StreamMessage{Type: "pong", Timestamp: time.Now().Unix()})
		default:
			s.enqueue(types.StreamMessage{
				Type:      "error",
				Message:   "unknown message type",
				Timestamp: time.Now().Unix(),
			})
		}
	}
}

func (s *stream) write(msg types.StreamMessage) bool {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(msg); err != nil {
		s.logger.Debug("WebSocket write error", zap.Error(err))
		s.conn.Close()
		return false
	}
	s.metrics.RecordWSMessage("outbound", msg.Type)
	return true
}

// flush writes whatever is already queued
func (s *stream) flush() {
	for {
		select {
		case msg := <-s.out:
			if !s.write(msg) {
				return
			}
		default:
			return
		}
	}
}

// writeLoop is the only writer on the connection. It ends the stream with
// a going-away close frame when the canvas is closed.
func (s *stream) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-s.closing:
			s.flush()
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "canvas closed"))
			s.logger.Debug("Canvas closed, ending stream")
			s.conn.Close()
			return
		case msg := <-s.out:
			if !s.write(msg) {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.conn.Close()
				return
			}
		}
	}
}
