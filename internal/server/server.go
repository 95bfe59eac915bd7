// ABOUTME: Server orchestrator wiring store, registry, rooms, presence, typing, and pipeline
// ABOUTME: Owns the HTTP listener lifecycle and graceful shutdown ordering

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hallwayapp/hallway/internal/auth"
	"github.com/hallwayapp/hallway/internal/config"
	"github.com/hallwayapp/hallway/internal/metrics"
	"github.com/hallwayapp/hallway/internal/notify"
	"github.com/hallwayapp/hallway/internal/pipeline"
	"github.com/hallwayapp/hallway/internal/presence"
	"github.com/hallwayapp/hallway/internal/registry"
	"github.com/hallwayapp/hallway/internal/room"
	"github.com/hallwayapp/hallway/internal/snowflake"
	"github.com/hallwayapp/hallway/internal/store"
	"github.com/hallwayapp/hallway/internal/typing"
)

// Server orchestrates the hallway chat components. It owns the HTTP server
// for websocket upgrades, health checks, and metrics.
type Server struct {
	config   *config.Config
	store    store.Store
	registry *registry.Registry
	rooms    *room.Directory
	presence *presence.Tracker
	typing   *typing.Coordinator
	notify   *notify.Dispatcher
	pipeline *pipeline.Pipeline
	metrics  *metrics.Metrics
	verifier *auth.JWTVerifier
	rdb      *redis.Client

	httpServer *http.Server
	logger     *slog.Logger
}

// initStore creates a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("HALLWAY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Server instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	// Snowflake node derived from the process ID so two local instances
	// sharing a database still generate disjoint message IDs.
	ids, err := snowflake.NewNode(int64(os.Getpid()) % 1024)
	if err != nil {
		return nil, fmt.Errorf("creating ID generator: %w", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		logger.Info("redis presence mirror enabled", "addr", cfg.Redis.Addr)
	}

	reg := registry.New(logger)
	rooms := room.New(s, cfg.History.Limit, logger)
	tracker := presence.New(reg, rdb, logger)
	reg.SetHooks(rooms, tracker)

	dispatcher := notify.New(s, rooms, reg, cfg.NotificationsEnabled(), logger)

	srv := &Server{
		config:   cfg,
		store:    s,
		registry: reg,
		rooms:    rooms,
		presence: tracker,
		typing:   typing.New(rooms, logger),
		notify:   dispatcher,
		pipeline: pipeline.New(s, rooms, reg, dispatcher, ids, logger),
		verifier: verifier,
		rdb:      rdb,
		logger:   logger.With("component", "server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.handleWS)
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/health/ready", srv.handleReady)

	if cfg.Metrics.Enabled {
		srv.metrics = metrics.New()
		rooms.SetObserver(srv.metrics)
		mux.Handle(cfg.Metrics.Path, srv.metrics.Handler())
		logger.Info("metrics endpoint enabled", "path", cfg.Metrics.Path)
	}

	srv.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return srv, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, dismisses every connection, and releases
// resources. Dismissal runs the usual room cleanup and presence hooks, so
// connected peers see clean offline transitions.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))

	s.registry.Close()
	s.typing.Close()

	if s.rdb != nil {
		errs = appendCloseError(errs, "redis close", s.rdb.Close())
	}
	errs = appendCloseError(errs, "store close", s.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store answers queries.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := s.store.ListRooms(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d connections)", s.registry.Len())
}
