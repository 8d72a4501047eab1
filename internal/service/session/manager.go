package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"meeting-asr-service/internal/models"
	"meeting-asr-service/internal/observability/logging"
	"meeting-asr-service/internal/observability/metrics"
	"meeting-asr-service/internal/service/aggregate"
	"meeting-asr-service/internal/service/segment"
	"meeting-asr-service/internal/service/vad"
	"meeting-asr-service/internal/service/worker"
)

// End reasons.
const (
	ReasonStop       = "stop"
	ReasonDisconnect = "disconnect"
)

const (
	defaultCaptureMode = "camera"
	defaultSpeaker     = "unknown"
	defaultQueueSize   = 8
)

// Transcriber turns an utterance into a transcript. *stt.Engine satisfies it.
type Transcriber interface {
	Transcribe(ctx context.Context, u models.Utterance) (models.Transcript, error)
	IsReady() bool
}

// Broadcaster fans an outbound message out to every registered connection.
type Broadcaster interface {
	Broadcast(msgType string, data any) int
}

// Publisher forwards results to external collaborators. *events.Publisher satisfies it.
type Publisher interface {
	PublishTranscript(ctx context.Context, key string, ev models.TranscriptFinal) error
	PublishSession(ctx context.Context, key string, ev models.SessionCompletedEvent) error
}

// Config holds per-session pipeline settings.
type Config struct {
	Segment segment.Config
	// QueueSize bounds utterances waiting for transcription; a full queue
	// blocks the producer.
	QueueSize int
	Principal string
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Engine      Transcriber
	Pool        *worker.Pool
	Detector    vad.Detector
	Broadcaster Broadcaster
	Publisher   Publisher // optional
}

// Manager drives the recording state machine of one connection. AddChunk,
// Start and Stop are called from the connection's read loop; transcription
// runs on the shared worker pool.
type Manager struct {
	ctx     context.Context
	cfg     Config
	deps    Deps
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.Mutex
	clientID string
	current  *Session
}

// Session is one recording: its lifecycle, buffer, utterance queue and
// transcript log.
type Session struct {
	lifecycle *Lifecycle
	buffer    *segment.Buffer
	queue     chan models.Utterance
	completed chan models.SessionCompletedEvent
	done      chan struct{}
	log       zerolog.Logger

	mu   sync.Mutex
	data models.Session
}

// NewManager creates a manager in IDLE state. ctx bounds transcription work
// for every session of this manager.
func NewManager(ctx context.Context, clientID string, cfg Config, deps Deps) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Manager{
		ctx:      ctx,
		cfg:      cfg,
		deps:     deps,
		metrics:  metrics.DefaultMetrics,
		now:      time.Now,
		clientID: clientID,
	}
}

// SetClientID rebinds the client id used for sessions started later.
func (m *Manager) SetClientID(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clientID = clientID
}

// State returns the state of the current session, or IDLE if none was started.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return StateIdle
	}
	return m.current.lifecycle.State()
}

// SessionID returns the current session id, or "" if none was started.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.lifecycle.SessionID()
}

// Transcripts returns a copy of the current session's transcript log.
func (m *Manager) Transcripts() []models.SessionTranscript {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SessionTranscript(nil), s.data.Transcripts...)
}

// Start begins a new session with a fresh id. It fails with
// ErrAlreadyRecording and leaves the current session intact if one is
// recording.
func (m *Manager) Start(captureMode string) (models.RecordingStartedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current.lifecycle.IsRecording() {
		return models.RecordingStartedEvent{}, ErrAlreadyRecording
	}
	if captureMode == "" {
		captureMode = defaultCaptureMode
	}

	id := uuid.NewString()
	s := &Session{
		lifecycle: NewLifecycle(id),
		buffer:    segment.NewBuffer(id, m.cfg.Segment, m.deps.Detector),
		queue:     make(chan models.Utterance, m.cfg.QueueSize),
		completed: make(chan models.SessionCompletedEvent, 1),
		done:      make(chan struct{}),
		log:       logging.WithSession(id, m.clientID),
		data: models.Session{
			SessionID:   id,
			ClientID:    m.clientID,
			CaptureMode: captureMode,
			StartTime:   m.now(),
			Transcripts: []models.SessionTranscript{},
		},
	}
	if err := s.lifecycle.Start(); err != nil {
		return models.RecordingStartedEvent{}, err
	}
	m.current = s
	go m.drain(s)

	ready := m.deps.Engine.IsReady()
	m.metrics.RecordSessionStart()
	s.log.Info().Str("captureMode", captureMode).Bool("asrReady", ready).Msg("Recording started")

	return models.RecordingStartedEvent{
		SessionID:     id,
		CaptureMode:   captureMode,
		RecordingType: captureMode,
		ASREnabled:    ready,
	}, nil
}

// AddChunk feeds a chunk to the current session's buffer and queues any
// completed utterance. It blocks while the session queue is full. It returns
// ErrNotRecording if no session is recording.
func (m *Manager) AddChunk(ctx context.Context, chunk models.AudioChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.current
	if s == nil || !s.lifecycle.IsRecording() {
		return ErrNotRecording
	}
	m.metrics.RecordAudioReceived(len(chunk.Samples))

	s.mu.Lock()
	if !s.data.HasAudio {
		s.data.HasAudio = true
		s.data.FirstChunkAt = chunk.Timestamp
	}
	s.data.AudioChunkCount++
	s.mu.Unlock()

	u, ok := s.buffer.AddChunk(chunk)
	if !ok {
		return nil
	}
	if !m.deps.Engine.IsReady() {
		s.log.Warn().Str("utteranceId", u.ID).Float64("duration", u.Duration()).Msg("ASR not ready, dropping utterance")
		m.metrics.RecordUtteranceDropped("not_ready")
		return nil
	}

	select {
	case s.queue <- u:
		return nil
	case <-ctx.Done():
		s.log.Warn().Str("utteranceId", u.ID).Msg("Context ended while queueing utterance")
		m.metrics.RecordUtteranceDropped("cancelled")
		return ctx.Err()
	}
}

// Stop ends the current session, aggregates its transcript log and returns
// the recording_stopped payload. It does not wait for in-flight
// transcription; late results are discarded.
func (m *Manager) Stop() (models.RecordingStoppedEvent, error) {
	artifact, ok := m.end(ReasonStop)
	if !ok {
		return models.RecordingStoppedEvent{}, ErrNotRecording
	}
	return models.NewRecordingStopped(artifact), nil
}

// Close ends the current session on disconnect. The artifact is still
// aggregated and published but there is no one to acknowledge.
func (m *Manager) Close() {
	m.end(ReasonDisconnect)
}

// Wait blocks until the current session's queue has been drained and its
// artifact published, which happens once the session is stopped or closed.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) end(reason string) (models.SessionArtifact, bool) {
	m.mu.Lock()
	s := m.current
	if s == nil {
		m.mu.Unlock()
		return models.SessionArtifact{}, false
	}
	if prev, ok := s.lifecycle.Stop(); !ok || prev != StateRecording {
		m.mu.Unlock()
		return models.SessionArtifact{}, false
	}
	discarded := s.buffer.Discard()
	close(s.queue)
	m.mu.Unlock()

	now := m.now()
	s.mu.Lock()
	s.data.EndTime = now
	snapshot := s.data
	snapshot.Transcripts = append([]models.SessionTranscript{}, s.data.Transcripts...)
	s.mu.Unlock()

	if discarded > 0 {
		m.metrics.RecordAudioDiscarded(discarded)
	}

	artifact := aggregate.Aggregate(snapshot, now)
	m.metrics.RecordSessionEnd(reason, artifact.QualityMetrics.Quality, artifact.Stats.Duration)
	s.log.Info().
		Str("reason", reason).
		Int("transcripts", artifact.Stats.TranscriptCount).
		Int("valid", artifact.Stats.ValidTranscriptCount).
		Int("discardedSamples", discarded).
		Str("quality", artifact.QualityMetrics.Quality).
		Msg("Recording stopped")

	// drain publishes this once the queue is empty.
	s.completed <- models.SessionCompletedEvent{
		EventType: "meeting.session.completed",
		Principal: m.cfg.Principal,
		Reason:    reason,
		Artifact:  artifact,
		Timestamp: now.UnixMilli(),
	}
	return artifact, true
}

// drain transcribes queued utterances one at a time, so results reach the
// log in emission order. Once the queue is closed it publishes the session
// artifact.
func (m *Manager) drain(s *Session) {
	defer close(s.done)
	m.transcribeQueued(s)

	ev := <-s.completed
	if m.deps.Publisher == nil {
		return
	}
	if err := m.deps.Publisher.PublishSession(m.ctx, ev.Artifact.SessionID, ev); err != nil {
		s.log.Error().Err(err).Msg("Failed to publish session artifact")
	}
}

func (m *Manager) transcribeQueued(s *Session) {
	for u := range s.queue {
		log := s.log.With().Str("utteranceId", u.ID).Logger()
		if !s.lifecycle.IsRecording() {
			log.Debug().Msg("Session stopped, skipping queued utterance")
			m.metrics.RecordUtteranceDropped("stopped")
			continue
		}

		var (
			t   models.Transcript
			err error
		)
		if perr := m.deps.Pool.Do(m.ctx, func() {
			t, err = m.deps.Engine.Transcribe(m.ctx, u)
		}); perr != nil {
			log.Warn().Err(perr).Msg("Worker pool unavailable, dropping utterance")
			m.metrics.RecordUtteranceDropped("cancelled")
			continue
		}
		if err != nil {
			log.Warn().Err(err).Msg("Transcription failed, continuing with empty transcript")
		}
		m.deliver(s, u, t)
	}
}

func (m *Manager) deliver(s *Session, u models.Utterance, t models.Transcript) {
	if t.IsEmpty() {
		return
	}
	speaker := u.Speaker
	if speaker == "" {
		speaker = defaultSpeaker
	}
	entry := models.SessionTranscript{
		UtteranceID: u.ID,
		Timestamp:   u.Timestamp,
		Start:       t.Start,
		End:         t.End,
		Text:        t.Text,
		LabeledText: LabelText(speaker, t.Text),
		Speaker:     speaker,
		Confidence:  t.Confidence,
	}

	s.mu.Lock()
	if !s.lifecycle.IsRecording() {
		s.mu.Unlock()
		s.log.Debug().Str("utteranceId", u.ID).Msg("Session stopped, discarding transcript")
		m.metrics.RecordUtteranceDropped("stopped")
		return
	}
	s.data.Transcripts = append(s.data.Transcripts, entry)
	sessionID, clientID := s.data.SessionID, s.data.ClientID
	s.mu.Unlock()

	m.deps.Broadcaster.Broadcast(models.TypeTranscript, models.TranscriptEvent{
		SessionID:   sessionID,
		UtteranceID: u.ID,
		Speaker:     speaker,
		Text:        entry.Text,
		LabeledText: entry.LabeledText,
		Start:       entry.Start,
		End:         entry.End,
		Confidence:  entry.Confidence,
	})

	if m.deps.Publisher != nil {
		ev := models.TranscriptFinal{
			EventType:   "meeting.transcript.final",
			SessionID:   sessionID,
			ClientID:    clientID,
			UtteranceID: u.ID,
			Speaker:     speaker,
			Text:        entry.Text,
			Confidence:  entry.Confidence,
			Start:       entry.Start,
			End:         entry.End,
			Timestamp:   m.now().UnixMilli(),
		}
		if err := m.deps.Publisher.PublishTranscript(m.ctx, sessionID, ev); err != nil {
			s.log.Error().Err(err).Str("utteranceId", u.ID).Msg("Failed to publish transcript")
		}
	}
}

// LabelText prefixes text with the speaker's role.
func LabelText(speaker, text string) string {
	switch strings.ToLower(speaker) {
	case "you":
		return "You: " + text
	case "other":
		return "Other: " + text
	default:
		return text
	}
}
