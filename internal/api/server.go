package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joeycumines/go-catrate"

	"github.com/mattjoyce/commcore/internal/auth"
	"github.com/mattjoyce/commcore/internal/comm"
	"github.com/mattjoyce/commcore/internal/events"
	"github.com/mattjoyce/commcore/internal/journal"
	"github.com/mattjoyce/commcore/internal/observe"
)

// Dispatcher is the part of comm.Manager the API drives.
type Dispatcher interface {
	Submit(ctx context.Context, inst comm.Instruction) (int, error)
	NotifyDone(ctx context.Context, index int, code uint32) error
	Slots() []comm.SlotInfo
	Capacity() int
	Registered() int
	InFlight() int
}

// JournalReader lists recently completed instructions.
type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Observer supplies outcome counters and command names. Optional.
type Observer interface {
	Stats() observe.Stats
	CommandName(object, action uint8) (string, bool)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the admin bearer token.
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
}

// Server represents the HTTP API server
type Server struct {
	config     Config
	dispatcher Dispatcher
	journal    JournalReader
	observer   Observer
	events     *events.Hub
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time

	// busyLog throttles rejection warnings per command.
	busyLog *catrate.Limiter
}

// New creates a new API server instance. j and obs may be nil.
func New(config Config, d Dispatcher, j JournalReader, obs Observer, hub *events.Hub, logger *slog.Logger) *Server {
	if hub == nil {
		hub = events.NewHub(256)
	}
	return &Server{
		config:     config,
		dispatcher: d,
		journal:    j,
		observer:   obs,
		events:     hub,
		logger:     logger,
		startedAt:  time.Now(),
		busyLog: catrate.NewLimiter(map[time.Duration]int{
			time.Second: 1,
			time.Minute: 10,
		}),
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// SSE streams stay open; writes are flushed per event.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeInstructionsRW)).Post("/instructions", s.handleSubmit)
		r.With(s.requireScopes(auth.ScopeInstructionsRW)).Post("/slots/{index}/done", s.handleNotifyDone)
		r.With(s.requireScopes(auth.ScopeSlotsRO)).Get("/slots", s.handleSlots)
		r.With(s.requireScopes(auth.ScopeJournalRO)).Get("/journal", s.handleJournal)
		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
