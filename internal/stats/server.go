package stats

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arveller/voicehook/internal/logging"
)

// Server exposes tracker snapshots over HTTP.
type Server struct {
	addr       string
	tracker    *Tracker
	logger     logging.Logger
	router     *gin.Engine
	httpServer *http.Server
}

// NewServer creates a status server bound to addr. The server does not
// listen until Start is called.
func NewServer(addr string, tracker *Tracker, logger logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	// gin.Default() would log every request to stdout; the service has
	// its own file logger, so only the recovery middleware is wanted.
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:    addr,
		tracker: tracker,
		logger:  logger,
		router:  router,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/api/status", s.handleStatus)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "voicehook",
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.tracker.Snapshot())
}

// Router returns the underlying handler, used by tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}

	s.logger.Info("status server listening",
		logging.String("addr", s.addr),
	)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server failed", err,
				logging.String("addr", s.addr),
			)
		}
	}()
}

// Stop shuts the server down, waiting for active requests up to the
// context deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
