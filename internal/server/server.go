package server

import (
	"log/slog"
	"net/http"
	"sync"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"
	"github.com/kode4food/timebox"

	"github.com/perdura/perdura/internal/engine"
	"github.com/perdura/perdura/pkg/api"
	"github.com/perdura/perdura/pkg/util"
)

// Server implements the HTTP API for the workflow engine
type Server struct {
	engine   *engine.Engine
	eventHub timebox.EventHub
	sockets  util.Set[*Client]
	mu       sync.Mutex
}

// NewServer creates a new HTTP API server
func NewServer(eng *engine.Engine, hub timebox.EventHub) *Server {
	return &Server{
		engine:   eng,
		eventHub: hub,
		sockets:  util.Set[*Client]{},
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

	router.GET("/health", s.handleHealth)

	wf := router.Group("/workflows")
	{
		wf.GET("", s.listWorkflows)
		wf.POST("", s.startWorkflow)
		wf.GET("/:workflowID", s.getWorkflow)
		wf.GET("/:workflowID/result", s.getResult)
		wf.POST("/:workflowID/cancel", s.cancelWorkflow)
		wf.POST("/:workflowID/resume", s.resumeWorkflow)
		wf.POST("/:workflowID/fork", s.forkWorkflow)
		wf.PUT("/:workflowID/events", s.setWorkflowEvent)
		wf.GET("/:workflowID/events/:key", s.getWorkflowEvent)
		wf.POST("/:workflowID/messages", s.sendMessage)
	}

	q := router.Group("/queues")
	{
		q.GET("", s.listQueues)
		q.POST("/:queueName/workflows", s.enqueueWorkflow)
	}

	router.GET("/ws", s.handleWebSocket)

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, api.HealthResponse{
		Status:     "ok",
		ExecutorID: s.engine.ExecutorID(),
		Workflows:  len(s.engine.Workflows()),
		Queues:     len(s.engine.Queues()),
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

// CloseWebSockets closes all active WebSocket connections
func (s *Server) CloseWebSockets() {
	s.mu.Lock()
	conns := s.sockets.Items()
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
