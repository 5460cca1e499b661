package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	app "github.com/weftworks/weft"
	"github.com/weftworks/weft/internal/catalog"
	"github.com/weftworks/weft/internal/client"
	"github.com/weftworks/weft/internal/config"
	"github.com/weftworks/weft/internal/engine"
	"github.com/weftworks/weft/internal/server"
	"github.com/weftworks/weft/internal/store"
	"github.com/weftworks/weft/pkg/log"
)

type weft struct {
	cfg        *config.Config
	registry   *catalog.Registry
	runStore   *store.Store
	execClient client.Client
	engine     *engine.Engine
	apiServer  *server.Server
	httpServer *http.Server
	quit       chan os.Signal
}

var ErrLoadDefinitions = errors.New("failed to load definitions file")

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	s := &weft{
		cfg:  cfg,
		quit: make(chan os.Signal, 1),
	}
	s.setupLogging()

	if err := s.run(); err != nil {
		slog.Error("Failed to start application", log.Error(err))
		os.Exit(1)
	}
}

func (s *weft) run() error {
	if err := s.initializeCatalog(); err != nil {
		return err
	}
	s.initializeStore()
	s.initializeEngine()
	s.startServer()

	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)
	<-s.quit

	s.shutdown()
	return nil
}

func (s *weft) setupLogging() {
	level := log.ParseLevel(s.cfg.LogLevel)
	logger := log.NewWithLevel(app.Name, app.Version, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("Weft Engine starting",
		slog.String("log_level", s.cfg.LogLevel))

	slog.Info("Configuration loaded",
		slog.String("redis_addr", s.cfg.RedisAddr),
		slog.Int("redis_db", s.cfg.RedisDB),
		slog.String("api_host", s.cfg.APIHost),
		slog.Int("api_port", s.cfg.APIPort))
}

func (s *weft) initializeCatalog() error {
	s.registry = catalog.NewRegistry()
	if s.cfg.DefinitionsFile == "" {
		return nil
	}
	if err := s.registry.LoadFile(s.cfg.DefinitionsFile); err != nil {
		return fmt.Errorf("%w: %w", ErrLoadDefinitions, err)
	}
	slog.Info("Definitions loaded",
		slog.String("file", s.cfg.DefinitionsFile),
		slog.Int("count", len(s.registry.Definitions())))
	return nil
}

// initializeStore connects the run store. An unreachable Redis disables
// persistence instead of blocking startup; runs still execute
func (s *weft) initializeStore() {
	st := store.New(store.Config{
		Addr:     s.cfg.RedisAddr,
		Password: s.cfg.RedisPassword,
		DB:       s.cfg.RedisDB,
		Prefix:   s.cfg.RedisPrefix,
	})

	ctx, cancel := context.WithTimeout(
		context.Background(), s.cfg.ExecTimeout,
	)
	defer cancel()

	if err := st.Ping(ctx); err != nil {
		slog.Warn("Run store unreachable, persistence disabled",
			slog.String("redis_addr", s.cfg.RedisAddr),
			log.Error(err))
		_ = st.Close()
		return
	}
	s.runStore = st
}

func (s *weft) initializeEngine() {
	s.execClient = client.NewHTTPClient(
		s.cfg.ExecEndpoint, s.cfg.ExecTimeout,
	)
	s.engine = engine.New(s.registry, s.cfg,
		engine.WithClient(s.execClient))
}

func (s *weft) startServer() {
	s.apiServer = server.NewServer(s.engine, s.registry, s.runStore)
	mux := s.apiServer.SetupRoutes()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort),
		Handler: mux,
	}

	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", log.Error(err))
		}
	}()
}

func (s *weft) shutdown() {
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), s.cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", log.Error(err))
	}

	s.apiServer.CloseWebSockets()

	if s.runStore != nil {
		_ = s.runStore.Close()
	}

	slog.Info("Server exited")
}
