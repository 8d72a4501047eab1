package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"meeting-asr-service/internal/models"
	"meeting-asr-service/internal/observability/logging"
)

// EngineStatus reports the transcription engine state.
type EngineStatus interface {
	IsReady() bool
	Config() models.EngineConfig
}

// ConnectionCounter reports registry counts.
type ConnectionCounter interface {
	Counts() (connections, sessions int)
}

// StatusResponse is the body of /v1/status.
type StatusResponse struct {
	ConnectedClients int    `json:"connected_clients"`
	ActiveSessions   int    `json:"active_sessions"`
	ASRReady         bool   `json:"asr_ready"`
	Backend          string `json:"backend"`
}

// NewRouter constructs the HTTP router for the service. ws is mounted at /ws.
func NewRouter(engine EngineStatus, conns ConnectionCounter, ws http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !engine.IsReady() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("loading"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/asr/status", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, engine.Config())
		})
		r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
			connections, sessions := conns.Counts()
			writeJSON(w, http.StatusOK, StatusResponse{
				ConnectedClients: connections,
				ActiveSessions:   sessions,
				ASRReady:         engine.IsReady(),
				Backend:          engine.Config().Backend,
			})
		})
	})

	if ws != nil {
		r.Handle("/ws", ws)
	}

	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log := logging.WithComponent("http")
		log.Debug().Err(err).Msg("Failed to write response")
	}
}
