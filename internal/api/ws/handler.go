// Package ws serves the duplex client channel: JSON envelopes over a
// WebSocket, one session manager per connection.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"meeting-asr-service/internal/models"
	"meeting-asr-service/internal/observability/logging"
	"meeting-asr-service/internal/observability/metrics"
	"meeting-asr-service/internal/schema"
	"meeting-asr-service/internal/service/registry"
	"meeting-asr-service/internal/service/session"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	sendBuffer      = 256
	maxMessageBytes = 8 << 20
)

var errClientClosed = errors.New("client connection closed")

// Handler upgrades requests and runs the read loop of each connection.
type Handler struct {
	ctx        context.Context
	registry   *registry.Registry
	validator  *schema.Validator
	sessionCfg session.Config
	deps       session.Deps
	sampleRate int
	upgrader   websocket.Upgrader
	log        zerolog.Logger
	metrics    *metrics.Metrics
}

// NewHandler creates a handler. ctx outlives individual connections and
// bounds background transcription work. deps.Broadcaster defaults to reg.
func NewHandler(ctx context.Context, reg *registry.Registry, validator *schema.Validator, cfg session.Config, deps session.Deps) *Handler {
	if deps.Broadcaster == nil {
		deps.Broadcaster = reg
	}
	rate := cfg.Segment.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	return &Handler{
		ctx:        ctx,
		registry:   reg,
		validator:  validator,
		sessionCfg: cfg,
		deps:       deps,
		sampleRate: rate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 16 << 10,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log:     logging.WithComponent("ws"),
		metrics: metrics.DefaultMetrics,
	}
}

// ServeHTTP handles one client connection until it disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Str("remoteAddr", r.RemoteAddr).Msg("Failed to upgrade connection")
		return
	}

	c := newClient(conn)
	entry := h.registry.Register(c)
	log := logging.WithConnection(entry.ID, entry.ClientID)
	mgr := session.NewManager(h.ctx, entry.ClientID, h.sessionCfg, h.deps)

	go c.writePump(log)

	defer func() {
		mgr.Close()
		h.registry.Unregister(entry.ID)
		c.close()
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		h.handle(r.Context(), entry.ID, mgr, data)
	}
}

func (h *Handler) handle(ctx context.Context, connID string, mgr *session.Manager, data []byte) {
	msg, err := h.validator.Decode(data)
	if err != nil {
		h.metrics.RecordInboundRejected(rejectReason(err))
		h.reply(connID, models.TypeError, models.ErrorEvent{Message: err.Error()})
		return
	}

	switch msg.Type {
	case models.TypeHandshake:
		if err := h.registry.BindClient(connID, msg.Handshake.ClientID); err != nil {
			return
		}
		entry, _ := h.registry.Get(connID)
		mgr.SetClientID(entry.ClientID)
		ready := h.deps.Engine.IsReady()
		message := "Connected to backend - ASR Ready"
		if !ready {
			message = "Connected to backend - ASR loading"
		}
		h.reply(connID, models.TypeStatus, models.StatusEvent{
			Message:  message,
			ClientID: entry.ClientID,
			ASRReady: ready,
		})

	case models.TypeStartRecording:
		ev, err := mgr.Start(msg.Start.CaptureMode)
		if err != nil {
			h.metrics.RecordInboundRejected("state")
			h.reply(connID, models.TypeError, models.ErrorEvent{Message: "Failed to start recording: " + err.Error()})
			return
		}
		_ = h.registry.BindSession(connID, ev.SessionID)
		h.reply(connID, models.TypeRecordingStarted, ev)

	case models.TypeAudioChunk, models.TypeAudioData:
		chunk := schema.ToChunk(msg.Chunk, time.Now(), h.sampleRate)
		if err := mgr.AddChunk(ctx, chunk); err != nil && !errors.Is(err, session.ErrNotRecording) {
			h.log.Warn().Err(err).Str("connId", connID).Msg("Audio chunk not processed")
		}

	case models.TypeStopRecording:
		ev, err := mgr.Stop()
		if err != nil {
			// Stop races with disconnect and double stops are expected.
			return
		}
		h.registry.UnbindSession(connID)
		h.reply(connID, models.TypeRecordingStopped, ev)

	case models.TypeVideoFrame:
		// Video is accepted and ignored.
	}
}

func (h *Handler) reply(connID, msgType string, data any) {
	if err := h.registry.Send(connID, msgType, data); err != nil {
		h.log.Debug().Err(err).Str("connId", connID).Str("type", msgType).Msg("Reply not delivered")
	}
}

func rejectReason(err error) string {
	var verr *schema.ValidationError
	if errors.As(err, &verr) && verr.Field != "" {
		return verr.Field
	}
	return "malformed"
}

// client is the write side of one connection. A single goroutine writes.
type client struct {
	conn      *websocket.Conn
	send      chan models.Envelope
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan models.Envelope, sendBuffer),
		done: make(chan struct{}),
	}
}

// Send queues env for writing; it never blocks.
func (c *client) Send(env models.Envelope) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- env:
		return nil
	case <-c.done:
		return errClientClosed
	default:
		return registry.ErrSendBufferFull
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *client) writePump(log zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				log.Debug().Err(err).Str("type", env.Type).Msg("Write failed")
				c.close()
				c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				c.conn.Close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
