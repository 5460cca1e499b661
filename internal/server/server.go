package server

import (
	"log/slog"
	"net/http"
	"sync"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"

	weft "github.com/weftworks/weft"
	"github.com/weftworks/weft/internal/catalog"
	"github.com/weftworks/weft/internal/engine"
	"github.com/weftworks/weft/internal/store"
	"github.com/weftworks/weft/internal/util"
	"github.com/weftworks/weft/pkg/api"
)

// Server implements the HTTP API for the workflow engine. The run store
// is optional; without one, runs still execute but are not persisted
type Server struct {
	engine  *engine.Engine
	catalog *catalog.Registry
	store   *store.Store
	sockets util.Set[*Client]
	mu      sync.Mutex
}

// NewServer creates a new HTTP API server
func NewServer(
	eng *engine.Engine, cat *catalog.Registry, st *store.Store,
) *Server {
	return &Server{
		engine:  eng,
		catalog: cat,
		store:   st,
		sockets: util.Set[*Client]{},
	}
}

// SetupRoutes configures and returns the HTTP router with all API endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set(
			"Access-Control-Allow-Methods",
			"GET, POST, PUT, DELETE, OPTIONS",
		)
		c.Writer.Header().Set(
			"Access-Control-Allow-Headers",
			"Content-Type, Authorization",
		)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	// Health check
	router.GET("/health", s.handleHealth)

	// Definition endpoints
	router.GET("/definitions", s.listDefinitions)
	router.POST("/definitions", s.createDefinition)
	router.GET("/definitions/:type", s.getDefinition)

	// Run endpoints
	router.POST("/executions", s.startRun)
	router.GET("/executions", s.listRuns)
	router.GET("/executions/:runID", s.getRun)

	// WebSocket
	router.GET("/ws", s.handleWebSocket)

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, api.HealthResponse{
		Service: weft.Name,
		Version: weft.Version,
		Status:  "healthy",
	})
}

func (s *Server) registerWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Add(c)
}

func (s *Server) unregisterWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Remove(c)
}

// broadcast delivers an event to every connected WebSocket client. A
// client with a full send buffer misses the event rather than stalling
// the run
func (s *Server) broadcast(ev *api.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.sockets {
		c.offer(ev)
	}
}

// CloseWebSockets closes all active WebSocket connections.
func (s *Server) CloseWebSockets() {
	s.mu.Lock()
	conns := make([]*Client, 0, len(s.sockets))
	for c := range s.sockets {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
