// Package app wires the service components and runs their listeners.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	grpcapi "meeting-asr-service/internal/api/grpc"
	"meeting-asr-service/internal/api/ws"
	"meeting-asr-service/internal/config"
	"meeting-asr-service/internal/events"
	httprouter "meeting-asr-service/internal/http"
	"meeting-asr-service/internal/observability"
	"meeting-asr-service/internal/observability/logging"
	"meeting-asr-service/internal/schema"
	"meeting-asr-service/internal/service/registry"
	"meeting-asr-service/internal/service/segment"
	"meeting-asr-service/internal/service/session"
	"meeting-asr-service/internal/service/stt"
	"meeting-asr-service/internal/service/stt/google"
	"meeting-asr-service/internal/service/stt/mock"
	"meeting-asr-service/internal/service/stt/whisper"
	"meeting-asr-service/internal/service/vad"
	"meeting-asr-service/internal/service/worker"
)

const shutdownTimeout = 15 * time.Second

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Engine    *stt.Engine
	Registry  *registry.Registry
	Pool      *worker.Pool
	Publisher *events.Publisher
	Validator *schema.Validator
	Detector  *vad.EnergyDetector
}

// New constructs the application from cfg. Logging is initialised first.
func New(cfg *config.Configuration) (*Application, error) {
	logging.Init(logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})

	backend, err := NewBackend(cfg)
	if err != nil {
		return nil, err
	}

	a := &Application{
		Cfg:       cfg,
		Logger:    logging.WithComponent("application"),
		Engine:    stt.NewEngine(backend, EngineConfig(cfg)),
		Registry:  registry.New(),
		Pool:      worker.New(cfg.Workers.PoolSize),
		Validator: schema.New(MaxChunkSamples(cfg)),
		Detector: vad.NewEnergyDetector(
			cfg.VAD.EnergyThreshold,
			cfg.Segment.SampleRateHz,
			int(cfg.VAD.Frame.Milliseconds()),
		),
		Publisher: events.New(&events.Config{
			Enabled:         cfg.Kafka.Enabled,
			Brokers:         cfg.Kafka.Brokers,
			TopicTranscript: cfg.Kafka.TopicTranscript,
			TopicSession:    cfg.Kafka.TopicSession,
			Principal:       cfg.Kafka.Principal,
		}),
	}

	a.Logger.Info().
		Str("provider", backend.Name()).
		Str("modelSize", cfg.STT.ModelSize).
		Str("device", cfg.STT.Device).
		Int("poolSize", a.Pool.Size()).
		Bool("kafka", a.Publisher.Enabled()).
		Msg("Meeting ASR service application created")
	return a, nil
}

// NewBackend selects the model backend named by the STT provider.
func NewBackend(cfg *config.Configuration) (stt.Backend, error) {
	switch strings.ToLower(cfg.STT.Provider) {
	case "", "mock":
		return mock.New(), nil
	case "google":
		gcfg := google.DefaultConfig()
		gcfg.LanguageCode = cfg.STT.LanguageCode
		gcfg.SampleRateHz = cfg.Segment.SampleRateHz
		gcfg.Endpoint = cfg.Google.Endpoint
		return google.New(gcfg), nil
	case "whisper":
		return whisper.New(whisper.Config{
			Endpoint: cfg.Whisper.Endpoint,
			APIKey:   cfg.Whisper.APIKey,
			Timeout:  cfg.Whisper.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.STT.Provider)
	}
}

// EngineConfig maps the service configuration to the engine configuration.
func EngineConfig(cfg *config.Configuration) stt.Config {
	ec := stt.DefaultConfig()
	ec.ModelSize = cfg.STT.ModelSize
	ec.Device = cfg.STT.Device
	ec.ComputeType = cfg.STT.ComputeType
	ec.ForceCPU = cfg.STT.ForceCPU
	ec.Watchdog = cfg.STT.Watchdog

	ec.Decode.Language = decodeLanguage(cfg.STT.LanguageCode)
	if cfg.STT.BeamSize > 0 {
		ec.Decode.BeamSize = cfg.STT.BeamSize
	}
	if cfg.STT.BestOf > 0 {
		ec.Decode.BestOf = cfg.STT.BestOf
	}
	if cfg.STT.Patience > 0 {
		ec.Decode.Patience = cfg.STT.Patience
	}

	ec.Filter.MinConfidence = cfg.STT.MinConfidence
	ec.Filter.MinChars = cfg.STT.MinSegmentChars
	if len(cfg.STT.UnwantedPhrases) > 0 {
		ec.Filter.Unwanted = cfg.STT.UnwantedPhrases
	}
	if len(cfg.STT.HallucinationSet) > 0 {
		ec.Filter.Hallucinations = cfg.STT.HallucinationSet
	}
	return ec
}

// decodeLanguage turns a BCP-47 code such as en-US into the bare language.
func decodeLanguage(code string) string {
	lang, _, _ := strings.Cut(code, "-")
	return strings.ToLower(lang)
}

// MaxChunkSamples bounds a single inbound chunk to one overflow ceiling at
// the highest accepted sample rate.
func MaxChunkSamples(cfg *config.Configuration) int {
	return int(cfg.Segment.MaxBufferDuration.Seconds() * schema.MaxSampleRate)
}

// SessionConfig maps the service configuration to per-connection session settings.
func SessionConfig(cfg *config.Configuration) session.Config {
	return session.Config{
		Segment: segment.Config{
			SampleRate:        cfg.Segment.SampleRateHz,
			SegmentDuration:   cfg.Segment.Duration,
			MaxBufferDuration: cfg.Segment.MaxBufferDuration,
			MaxChunks:         cfg.Segment.MaxChunks,
			Frame:             cfg.VAD.Frame,
			MinSpeech:         cfg.VAD.MinSpeech,
			MaxSilence:        cfg.VAD.MaxSilence,
		},
		QueueSize: cfg.Workers.QueueSize,
		Principal: cfg.Service.Principal,
	}
}

// Handler builds the HTTP surface: status routes and the /ws channel.
// ctx bounds background transcription work of every connection.
func (a *Application) Handler(ctx context.Context) http.Handler {
	wsHandler := ws.NewHandler(ctx, a.Registry, a.Validator, SessionConfig(a.Cfg), session.Deps{
		Engine:    a.Engine,
		Pool:      a.Pool,
		Detector:  a.Detector,
		Publisher: a.Publisher,
	})
	return httprouter.NewRouter(a.Engine, a.Registry, wsHandler)
}

// Run starts the engine load and every listener, and blocks until ctx is
// cancelled or a listener fails. It then shuts everything down.
func (a *Application) Run(ctx context.Context) error {
	a.StartupTime = time.Now().UTC()
	a.Logger.Info().Time("startupTime", a.StartupTime).Msg("Meeting ASR service starting")

	g, gctx := errgroup.WithContext(ctx)

	a.Engine.Start(gctx)

	grpcServer := grpcapi.New()
	grpcLis, err := net.Listen("tcp", ":"+a.Cfg.Service.GRPCPort)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	obs := observability.NewServer(":"+a.Cfg.Service.MetricsPort, a.Engine.IsReady)

	httpServer := &http.Server{
		Addr:              ":" + a.Cfg.Service.HTTPPort,
		Handler:           a.Handler(gctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		grpcServer.Track(gctx, a.Engine.Ready(), a.Engine.IsReady)
		return nil
	})
	g.Go(func() error {
		return grpcServer.Serve(grpcLis)
	})
	g.Go(obs.ListenAndServe)
	g.Go(func() error {
		a.Logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.shutdown(grpcServer, httpServer, obs)
		return nil
	})

	return g.Wait()
}

// shutdown stops listeners first, then waits for in-flight transcriptions
// before releasing the model and the publisher.
func (a *Application) shutdown(grpcServer *grpcapi.Server, httpServer *http.Server, obs *observability.Server) {
	a.Logger.Info().Msg("Meeting ASR service shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	grpcServer.Shutdown()
	if err := httpServer.Shutdown(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}
	if err := obs.Shutdown(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Observability server shutdown incomplete")
	}
	if err := a.Pool.Drain(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Transcriptions still running at shutdown")
	}
	if err := a.Engine.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to release model")
	}
	if err := a.Publisher.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to close event publisher")
	}

	a.Logger.Info().Dur("uptime", time.Since(a.StartupTime)).Msg("Meeting ASR service stopped")
}
