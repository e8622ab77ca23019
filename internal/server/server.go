package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"reviewloop/internal/generation"
	"reviewloop/internal/handler"
	"reviewloop/internal/objectstore"
)

// Server is the serving-layer HTTP surface: generation, feedback and the
// review status poll endpoint.
type Server struct {
	router *gin.Engine
	logger *zap.Logger
}

// NewServer builds the router with all session routes registered.
func NewServer(store objectstore.Store, gen *generation.Client, prefix string, logger *zap.Logger) *Server {
	router := gin.Default()

	s := &Server{
		router: router,
		logger: logger,
	}

	sessions := handler.NewSessionHandler(store, gen, prefix, logger)

	// Ping route for health check
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	router.POST("/generate", sessions.Generate)
	router.POST("/sessions/:session_id/feedback", sessions.Feedback)
	router.GET("/status/:session_id", sessions.Status)

	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the HTTP server on the given address.
func (s *Server) Run(addr string) {
	s.logger.Info("Server starting", zap.String("addr", addr))
	if err := s.router.Run(addr); err != nil {
		s.logger.Fatal("Server failed to start", zap.Error(err))
	}
}
