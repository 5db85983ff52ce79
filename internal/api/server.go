// Package api exposes the reconciliation engine over HTTP for the
// collaborating ingestion and review systems.
package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmorazan/reconcile-backend/internal/application/recon"
	"github.com/jmorazan/reconcile-backend/internal/infrastructure/storage"
)

// Server wires the HTTP routes to the engine and repository.
type Server struct {
	engine *recon.Engine
	repo   storage.Repository
	logger *slog.Logger
}

// NewServer creates an API server.
func NewServer(engine *recon.Engine, repo storage.Repository, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine: engine,
		repo:   repo,
		logger: logger.With("system", "api"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router(corsOrigins []string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(corsOrigins) > 0 {
		corsConfig.AllowOrigins = corsOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	r.Use(cors.New(corsConfig))

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/deposits", s.createDeposit)
		apiGroup.GET("/deposits", s.listDeposits)
		apiGroup.GET("/deposits/:id", s.getDeposit)
		apiGroup.GET("/deposits/:id/candidates", s.depositCandidates)
		apiGroup.POST("/deposits/:id/settle", s.settleDeposit)
		apiGroup.POST("/deposits/:id/refund", s.refundDeposit)
		apiGroup.POST("/deposits/:id/revert", s.revertDeposit)

		apiGroup.POST("/sales", s.createSale)
		apiGroup.GET("/sales", s.listSales)
		apiGroup.GET("/sales/:id", s.getSale)
		apiGroup.GET("/sales/:id/candidates", s.saleCandidates)
		apiGroup.POST("/sales/:id/settle", s.settleSale)
		apiGroup.DELETE("/sales/:id/candidates/:depositID", s.discardCandidate)
	}

	return r
}

// Run starts the HTTP server on the given port. Blocks until the
// server stops.
func (s *Server) Run(port int, corsOrigins []string) error {
	addr := fmt.Sprintf(":%d", port)
	s.logger.Info("API server listening", "addr", addr)
	if err := s.Router(corsOrigins).Run(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
