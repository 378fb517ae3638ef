package agent

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/dyluth/quill/internal/broker"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Agent         string    `json:"agent"`
	Status        State     `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	State         Counters  `json:"state"`
}

// ServerConfig configures the HTTP surface of a service.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8081". Port 0 picks a free port.
	Addr string

	// AllowOrigins enables CORS for browser dashboards when non-empty.
	AllowOrigins []string
}

// Server serves GET /health, POST /send and GET /status for one Service.
type Server struct {
	svc    *Service
	broker broker.Broker
	engine *gin.Engine
	server *http.Server
	addr   string
}

// NewServer builds the HTTP surface. Inbound /send messages default to the
// service as recipient and are published on b.
func NewServer(svc *Service, b broker.Broker, cfg ServerConfig) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())
	if len(cfg.AllowOrigins) > 0 {
		engine.Use(cors.New(cors.Config{
			AllowOrigins: cfg.AllowOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}

	s := &Server{
		svc:    svc,
		broker: b,
		engine: engine,
		server: &http.Server{
			Addr:         cfg.Addr,
			Handler:      engine,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}

	engine.GET("/health", s.handleHealth)
	kind, _ := RequestKind(svc.Role())
	engine.POST("/send", broker.SendHandler(b, svc.Name(), kind))
	engine.GET("/status", s.handleStatus)

	return s
}

// Handler exposes the routes for in-process testing.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start binds the listen address and serves in a background goroutine.
// Returns an error if the address cannot be bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.addr = ln.Addr().String()

	go func() {
		log.Printf("[DEBUG] Agent server for '%s' listening on %s", s.svc.Name(), s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[ERROR] Agent server error: %v", err)
		}
		log.Printf("[DEBUG] Agent server for '%s' stopped", s.svc.Name())
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Printf("[DEBUG] Shutting down agent server...")
	return s.server.Shutdown(ctx)
}

// handleHealth returns 200 when the service runs and its broker answers a
// ping, 503 otherwise.
func (s *Server) handleHealth(c *gin.Context) {
	h := s.svc.Health()

	if h.Status == "healthy" {
		if p, ok := s.broker.(broker.Pinger); ok {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				h.Status = "unhealthy"
				h.Error = fmt.Sprintf("broker unreachable: %v", err)
			}
		}
	}

	code := http.StatusOK
	if h.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, h)
}

func (s *Server) handleStatus(c *gin.Context) {
	st := s.svc.Status()
	c.JSON(http.StatusOK, StatusResponse{
		Agent:         st.Name,
		Status:        st.State,
		LastHeartbeat: st.LastHeartbeat,
		State:         s.svc.Counters(),
	})
}
