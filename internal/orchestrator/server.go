package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/dyluth/quill/internal/broker"
	"github.com/dyluth/quill/pkg/message"
	"github.com/gin-gonic/gin"
)

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status string `json:"status"`
	Broker string `json:"broker,omitempty"`
	Error  string `json:"error,omitempty"`
}

// CreateStoryRequest is the body of POST /stories.
type CreateStoryRequest struct {
	message.StoryIdea
	Timeout string `json:"timeout,omitempty"`
}

// Server exposes the orchestrator over HTTP. Besides the story endpoints it
// accepts POST /send, which is where agents reach the orchestrator when the
// HTTP broker is in use.
type Server struct {
	orch   *Orchestrator
	broker broker.Broker
	engine *gin.Engine
	server *http.Server
	addr   string
}

// NewServer builds the HTTP surface for o listening on addr.
func NewServer(o *Orchestrator, b broker.Broker, addr string) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		orch:   o,
		broker: b,
		engine: engine,
		server: &http.Server{
			Addr:        addr,
			Handler:     engine,
			ReadTimeout: 10 * time.Second,
		},
	}

	engine.GET("/healthz", s.handleHealth)
	engine.POST("/send", broker.SendHandler(b, o.Name(), ""))
	engine.POST("/stories", s.handleCreateStory)
	engine.GET("/stories/:id", s.handleResult)
	engine.GET("/stories/:id/status", s.handleStatus)
	engine.GET("/stories/:id/history", s.handleHistory)
	engine.GET("/agents", s.handleAgents)

	return s
}

// Handler exposes the routes for in-process testing.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start binds the listen address and serves in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.addr = ln.Addr().String()

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[ERROR] Orchestrator server error: %v", err)
		}
	}()

	log.Printf("[INFO] Orchestrator listening on %s", s.addr)
	return nil
}

// Addr returns the bound address after Start.
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleHealth returns 200 when the broker dependency answers, 503 otherwise.
func (s *Server) handleHealth(c *gin.Context) {
	resp := HealthResponse{Status: "healthy"}

	if p, ok := s.broker.(broker.Pinger); ok {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := p.Ping(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Broker = "disconnected"
			resp.Error = err.Error()
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		resp.Broker = "connected"
	}

	c.JSON(http.StatusOK, resp)
}

// handleCreateStory runs a workflow synchronously and returns its result.
// Validation failures are still answered with a failed result.
func (s *Server) handleCreateStory(c *gin.Context) {
	var req CreateStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var timeout time.Duration
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid timeout: %v", err)})
			return
		}
		timeout = d
	}

	result := s.orch.CreateStory(c.Request.Context(), req.StoryIdea, timeout)
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleResult(c *gin.Context) {
	result, err := s.orch.Result(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleStatus(c *gin.Context) {
	status, err := s.orch.TaskStatus(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleHistory(c *gin.Context) {
	msgs, err := s.orch.MessageHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if msgs == nil {
		msgs = []*message.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

func (s *Server) handleAgents(c *gin.Context) {
	c.JSON(http.StatusOK, s.orch.AgentStatuses(c.Request.Context()))
}
