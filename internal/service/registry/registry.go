// Package registry tracks live client connections and their session bindings,
// and fans outbound messages out to every connection.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"meeting-asr-service/internal/models"
	"meeting-asr-service/internal/observability/logging"
	"meeting-asr-service/internal/observability/metrics"
)

var (
	// ErrUnknownConnection is returned for a connection id that is not registered.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrSendBufferFull is returned by a Conn whose outbound queue is full.
	// The message is lost but the connection stays registered.
	ErrSendBufferFull = errors.New("client send buffer full")
)

// Conn is the write side of a client connection. Implementations must be
// safe for concurrent use.
type Conn interface {
	Send(env models.Envelope) error
}

// Entry describes one registered connection.
type Entry struct {
	ID          string
	ClientID    string
	SessionID   string
	ConnectedAt time.Time
	conn        Conn
}

// Registry owns the connection map for the lifetime of the process.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		log:     logging.WithComponent("registry"),
		metrics: metrics.DefaultMetrics,
		now:     time.Now,
	}
}

// Register adds conn and returns its connection id. Until a handshake binds
// a client id, the connection is known as client_<unix seconds>.
func (r *Registry) Register(conn Conn) Entry {
	now := r.now()
	e := &Entry{
		ID:          uuid.NewString(),
		ClientID:    fmt.Sprintf("client_%d", now.Unix()),
		ConnectedAt: now,
		conn:        conn,
	}

	r.mu.Lock()
	r.entries[e.ID] = e
	total := len(r.entries)
	r.mu.Unlock()

	r.metrics.RecordConnectionOpened()
	r.log.Info().Str("connId", e.ID).Int("total", total).Msg("Client connected")
	return *e
}

// Unregister removes a connection. It returns false if it was not registered.
func (r *Registry) Unregister(connID string) (Entry, bool) {
	r.mu.Lock()
	e, ok := r.entries[connID]
	if ok {
		delete(r.entries, connID)
	}
	total := len(r.entries)
	r.mu.Unlock()

	if !ok {
		return Entry{}, false
	}
	r.metrics.RecordConnectionClosed()
	r.log.Info().Str("connId", connID).Str("clientId", e.ClientID).Int("total", total).Msg("Client disconnected")
	return *e, true
}

// BindClient records the client id announced in a handshake.
func (r *Registry) BindClient(connID, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[connID]
	if !ok {
		return ErrUnknownConnection
	}
	if clientID != "" {
		e.ClientID = clientID
	}
	return nil
}

// BindSession records the recording session of a connection.
func (r *Registry) BindSession(connID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[connID]
	if !ok {
		return ErrUnknownConnection
	}
	e.SessionID = sessionID
	return nil
}

// UnbindSession clears the session of a connection. Unknown ids are ignored.
func (r *Registry) UnbindSession(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[connID]; ok {
		e.SessionID = ""
	}
}

// Get returns a copy of the entry for connID.
func (r *Registry) Get(connID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[connID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Counts returns the number of connections and of connections bound to a session.
func (r *Registry) Counts() (connections, sessions int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.SessionID != "" {
			sessions++
		}
	}
	return len(r.entries), sessions
}

// Send writes one message to a single connection.
func (r *Registry) Send(connID, msgType string, data any) error {
	r.mu.RLock()
	e, ok := r.entries[connID]
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}
	return e.conn.Send(r.envelope(msgType, data))
}

// Broadcast writes one message to every connection and returns how many
// accepted it. Connections that fail the write are removed, except those that
// only reported ErrSendBufferFull.
func (r *Registry) Broadcast(msgType string, data any) int {
	env := r.envelope(msgType, data)

	r.mu.RLock()
	targets := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		targets = append(targets, e)
	}
	r.mu.RUnlock()

	sent := 0
	var failed []string
	for _, e := range targets {
		if err := e.conn.Send(env); err != nil {
			r.metrics.RecordBroadcastFailure()
			if errors.Is(err, ErrSendBufferFull) {
				r.log.Warn().Str("connId", e.ID).Str("type", msgType).Msg("Client send buffer full, message dropped")
				continue
			}
			r.log.Warn().Err(err).Str("connId", e.ID).Str("type", msgType).Msg("Broadcast failed, removing connection")
			failed = append(failed, e.ID)
			continue
		}
		sent++
	}
	for _, id := range failed {
		r.Unregister(id)
	}
	return sent
}

func (r *Registry) envelope(msgType string, data any) models.Envelope {
	now := r.now()
	return models.Envelope{
		Type:      msgType,
		Data:      data,
		Timestamp: float64(now.UnixNano()) / float64(time.Second),
	}
}
