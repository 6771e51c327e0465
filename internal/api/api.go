// Package api exposes the prompt flow over HTTP.
//
// Stateless endpoints serve the suggestion catalog and sentence builder
// directly; session endpoints keep the selected pronoun and base phrase on
// the server and speak chosen activities.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/TalkingPrompt/internal/session"
	"github.com/BTreeMap/TalkingPrompt/internal/speech"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/rs/cors"
	"github.com/samber/lo"
)

// Constants for API server configuration
const (
	// DefaultServerAddress is the default address for the API server
	DefaultServerAddress = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultReadHeaderTimeout guards against slow clients.
	DefaultReadHeaderTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr           string   // overrides API_ADDR
	AllowedOrigins []string // CORS and websocket origins; empty allows any
	Hub            *speech.Hub
	RelayProvider  string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the HTTP server address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithAllowedOrigins restricts browser origins.
func WithAllowedOrigins(origins []string) Option {
	return func(o *Opts) {
		o.AllowedOrigins = origins
	}
}

// WithHub enables the websocket utterance feed.
func WithHub(h *speech.Hub) Option {
	return func(o *Opts) {
		o.Hub = h
	}
}

// WithRelayProvider reports the caregiver relay provider in health output.
func WithRelayProvider(name string) Option {
	return func(o *Opts) {
		o.RelayProvider = name
	}
}

// Server holds the dependencies of the HTTP API.
type Server struct {
	sessions *session.Service
	speaker  *speech.Speaker
	hub      *speech.Hub
	origins  []string
	relay    string
	addr     string
}

// NewServer creates a new API server.
func NewServer(sessions *session.Service, speaker *speech.Speaker, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultServerAddress
	}
	if speaker == nil {
		speaker = speech.NewSpeaker()
	}
	return &Server{
		sessions: sessions,
		speaker:  speaker,
		hub:      cfg.Hub,
		origins:  cfg.AllowedOrigins,
		relay:    cfg.RelayProvider,
		addr:     cfg.Addr,
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Handler builds the router with all middleware and routes.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(accessLog)
	router.Use(cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins(),
		AllowedHeaders: []string{"Content-Type", "Accept"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		Debug:          false,
	}).Handler)

	router.Get("/health", s.healthHandler)
	router.Get("/pronouns", s.pronounsHandler)
	router.Get("/base-phrases", s.basePhrasesHandler)
	router.Get("/suggestions", s.suggestionsHandler)
	router.Post("/prompt", s.promptHandler)

	router.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.createSessionHandler)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getSessionHandler)
			r.Delete("/", s.deleteSessionHandler)
			r.Put("/pronoun", s.pronounHandler)
			r.Put("/base", s.baseHandler)
			r.Post("/speak", s.speakHandler)
			r.Get("/history", s.historyHandler)
			r.Get("/audio", s.audioHandler)
			r.Get("/ws", s.wsHandler)
		})
	})
	return router
}

// Run serves the API until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("API server failed", "error", err)
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server shutdown failed", "error", err)
		return err
	}
	slog.Info("API server stopped")
	return nil
}

func (s *Server) corsOrigins() []string {
	if len(s.origins) == 0 {
		return []string{"*"}
	}
	return s.origins
}

// OriginChecker returns a websocket origin check matching the CORS
// configuration. Requests without an Origin header are accepted.
func OriginChecker(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 || lo.Contains(origins, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || lo.Contains(origins, origin)
	}
}
