// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "meeting_asr"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Connection metrics
	ConnectionsTotal  prometheus.Counter
	ConnectionsActive prometheus.Gauge

	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionsEnded   *prometheus.CounterVec
	SessionDuration prometheus.Histogram
	SessionQuality  *prometheus.CounterVec
	InboundRejected *prometheus.CounterVec

	// Audio metrics
	AudioChunksReceived  prometheus.Counter
	AudioSamplesReceived prometheus.Counter
	AudioSamplesDropped  prometheus.Counter

	// Segmentation metrics
	UtterancesEmitted *prometheus.CounterVec
	UtterancesDropped *prometheus.CounterVec
	UtteranceDuration prometheus.Histogram
	VADErrors         prometheus.Counter

	// Transcript metrics
	TranscriptsFinal  prometheus.Counter
	TranscriptsEmpty  prometheus.Counter
	SegmentsFiltered  *prometheus.CounterVec
	BroadcastFailures prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// STT metrics
	STTLatency      *prometheus.HistogramVec
	STTErrors       *prometheus.CounterVec
	STTFallbacks    *prometheus.CounterVec
	STTWatchdog     prometheus.Counter
	STTReady        prometheus.Gauge
	WorkerQueueWait prometheus.Histogram

	// gRPC health surface
	GRPCCalls *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of client connections accepted",
		}),
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of currently registered client connections",
		}),

		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of recording sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions currently recording",
		}),
		SessionsEnded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of sessions ended",
		}, []string{"reason"}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of recording sessions in seconds",
			Buckets:   []float64{1, 5, 30, 60, 300, 900, 1800, 3600, 7200},
		}),
		SessionQuality: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_quality_total",
			Help:      "Aggregated sessions by quality tier",
		}, []string{"quality"}),
		InboundRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_rejected_total",
			Help:      "Total number of inbound messages answered with an error",
		}, []string{"reason"}),

		AudioChunksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_received_total",
			Help:      "Total audio chunks received",
		}),
		AudioSamplesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_samples_received_total",
			Help:      "Total audio samples received",
		}),
		AudioSamplesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_samples_discarded_total",
			Help:      "Buffered samples discarded when a session ended",
		}),

		UtterancesEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_emitted_total",
			Help:      "Total number of utterances emitted by the segmenting buffer",
		}, []string{"reason"}),
		UtterancesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_dropped_total",
			Help:      "Total number of utterances not transcribed",
		}, []string{"reason"}),
		UtteranceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "utterance_duration_seconds",
			Help:      "Audio duration of emitted utterances",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 5, 10, 15},
		}),
		VADErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vad_errors_total",
			Help:      "VAD sub-frame classification errors (treated as speech)",
		}),

		TranscriptsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_total",
			Help:      "Total number of non-empty transcripts delivered",
		}),
		TranscriptsEmpty: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_empty_total",
			Help:      "Total number of transcriptions that produced no text",
		}),
		SegmentsFiltered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_filtered_total",
			Help:      "Recognized segments removed by post-decoding filters",
		}, []string{"filter"}),
		BroadcastFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_failures_total",
			Help:      "Peers removed after a failed broadcast write",
		}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		STTLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stt_latency_seconds",
			Help:      "Transcription latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"backend", "device"}),
		STTErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of engine errors",
		}, []string{"backend", "kind"}),
		STTFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_fallbacks_total",
			Help:      "Engine fallbacks to a lower-capability configuration",
		}, []string{"stage"}),
		STTWatchdog: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_watchdog_fired_total",
			Help:      "Transcriptions that exceeded the watchdog threshold",
		}),
		STTReady: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stt_ready",
			Help:      "1 when a model is loaded and ready",
		}),
		WorkerQueueWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_wait_seconds",
			Help:      "Time an utterance waited for a worker slot",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		GRPCCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "gRPC calls by method, kind and status code",
		}, []string{"method", "kind", "code"}),
	}
}

// RecordConnectionOpened records a registered connection.
func (m *Metrics) RecordConnectionOpened() {
	m.ConnectionsTotal.Inc()
	m.ConnectionsActive.Inc()
}

// RecordConnectionClosed records a removed connection.
func (m *Metrics) RecordConnectionClosed() {
	m.ConnectionsActive.Dec()
}

// RecordSessionStart records a session entering Recording.
func (m *Metrics) RecordSessionStart() {
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session leaving Recording.
func (m *Metrics) RecordSessionEnd(reason, quality string, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionsEnded.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(durationSeconds)
	m.SessionQuality.WithLabelValues(quality).Inc()
}

// RecordInboundRejected records a client message answered with an error event.
func (m *Metrics) RecordInboundRejected(reason string) {
	m.InboundRejected.WithLabelValues(reason).Inc()
}

// RecordAudioReceived records one chunk of the given sample count.
func (m *Metrics) RecordAudioReceived(samples int) {
	m.AudioChunksReceived.Inc()
	m.AudioSamplesReceived.Add(float64(samples))
}

// RecordAudioDiscarded records buffered samples dropped at session end.
func (m *Metrics) RecordAudioDiscarded(samples int) {
	m.AudioSamplesDropped.Add(float64(samples))
}

// RecordUtterance records an emitted utterance.
func (m *Metrics) RecordUtterance(reason string, durationSeconds float64) {
	m.UtterancesEmitted.WithLabelValues(reason).Inc()
	m.UtteranceDuration.Observe(durationSeconds)
}

// RecordUtteranceDropped records an utterance that was not transcribed.
func (m *Metrics) RecordUtteranceDropped(reason string) {
	m.UtterancesDropped.WithLabelValues(reason).Inc()
}

// RecordVADError records a failed sub-frame classification.
func (m *Metrics) RecordVADError() {
	m.VADErrors.Inc()
}

// RecordTranscript records a transcription result.
func (m *Metrics) RecordTranscript(empty bool) {
	if empty {
		m.TranscriptsEmpty.Inc()
		return
	}
	m.TranscriptsFinal.Inc()
}

// RecordSegmentFiltered records a segment removed by the named filter.
func (m *Metrics) RecordSegmentFiltered(filter string) {
	m.SegmentsFiltered.WithLabelValues(filter).Inc()
}

// RecordBroadcastFailure records a peer removed during broadcast.
func (m *Metrics) RecordBroadcastFailure() {
	m.BroadcastFailures.Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordSTTLatency records a completed transcription call.
func (m *Metrics) RecordSTTLatency(backend, device string, seconds float64) {
	m.STTLatency.WithLabelValues(backend, device).Observe(seconds)
}

// RecordSTTError records an engine error by kind.
func (m *Metrics) RecordSTTError(backend, kind string) {
	m.STTErrors.WithLabelValues(backend, kind).Inc()
}

// RecordFallback records a fallback at load or transcribe stage.
func (m *Metrics) RecordFallback(stage string) {
	m.STTFallbacks.WithLabelValues(stage).Inc()
}

// RecordWatchdog records a transcription that exceeded the watchdog.
func (m *Metrics) RecordWatchdog() {
	m.STTWatchdog.Inc()
}

// SetReady sets the engine readiness gauge.
func (m *Metrics) SetReady(ready bool) {
	if ready {
		m.STTReady.Set(1)
		return
	}
	m.STTReady.Set(0)
}

// RecordWorkerWait records time spent waiting for a worker slot.
func (m *Metrics) RecordWorkerWait(seconds float64) {
	m.WorkerQueueWait.Observe(seconds)
}

// RecordGRPCCall counts a completed gRPC call. kind is unary or stream.
func (m *Metrics) RecordGRPCCall(method, kind, code string) {
	m.GRPCCalls.WithLabelValues(method, kind, code).Inc()
}
