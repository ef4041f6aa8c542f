// Package api exposes the JSON control plane: engine status, live
// opportunities, trade history, statistics and risk administration.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"arbcore/internal/core"
	"arbcore/internal/detector"
	"arbcore/internal/gateway"
	"arbcore/internal/market"
	"arbcore/internal/persistence"
	"arbcore/internal/risk"
	"arbcore/internal/stats"
)

// SystemMeta describes the running engine to clients.
type SystemMeta struct {
	Version string   `json:"version"`
	Scope   string   `json:"scope"`
	Symbol  string   `json:"symbol"`
	Venues  []string `json:"venues"`
}

// Server wires HTTP endpoints around the engine components.
type Server struct {
	Router     *gin.Engine
	Gate       *risk.Gate
	Detector   *detector.Detector
	Stats      *stats.Tracker
	Store      *persistence.Store
	Registry   *gateway.Registry
	Aggregator *market.Aggregator
	JWTSecret  string
	Meta       SystemMeta

	log *zap.Logger
}

func NewServer(gate *risk.Gate, det *detector.Detector, tracker *stats.Tracker, store *persistence.Store, registry *gateway.Registry, agg *market.Aggregator, meta SystemMeta, jwtSecret string, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log))
	r.Use(RateLimitMiddleware(log))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:     r,
		Gate:       gate,
		Detector:   det,
		Stats:      tracker,
		Store:      store,
		Registry:   registry,
		Aggregator: agg,
		JWTSecret:  jwtSecret,
		Meta:       meta,
		log:        log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	api := s.Router.Group("/api")
	{
		api.POST("/auth/token", s.issueToken)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/status", s.getStatus)
			protected.GET("/opportunities", s.getOpportunities)
			protected.GET("/trades", s.getTrades)
			protected.GET("/stats", s.getStats)
			protected.GET("/positions", s.getPositions)

			protected.GET("/risk/limits", s.getRiskLimits)
			protected.PUT("/risk/limits", s.updateRiskLimits)
			protected.GET("/risk/events", s.getRiskEvents)

			protected.POST("/engine/pause", s.pauseEngine)
			protected.POST("/engine/resume", s.resumeEngine)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		s.log.Info("api server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("api server error", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("api server shutdown error", zap.Error(err))
		} else {
			s.log.Info("api server stopped")
		}
	}()
}

func (s *Server) scope(c *gin.Context) string {
	if scope := c.Query("scope"); scope != "" {
		return scope
	}
	return s.Meta.Scope
}

func (s *Server) getStatus(c *gin.Context) {
	scope := s.scope(c)
	gwStats := s.Registry.Stats()

	state := "running"
	switch {
	case s.Gate.Halted(scope):
		state = "halted"
	case s.Gate.Paused(scope):
		state = "paused"
	}

	c.JSON(http.StatusOK, gin.H{
		"meta":            s.Meta,
		"state":           state,
		"healthy_venues":  s.Registry.Healthy(),
		"total_venues":    gwStats.TotalVenues,
		"unhealthy":       gwStats.UnhealthyCount,
		"open_positions":  len(s.Gate.OpenPositions(scope)),
		"daily":           s.Gate.Metrics(scope),
		"volatility_pct":  s.Aggregator.MaxVolatilityPct(),
		"snapshot_age_ms": time.Since(s.Aggregator.Snapshot().TakenAt).Milliseconds(),
		"persistence": gin.H{
			"pending_writes": s.Store.PendingWrites(),
			"writer":         s.Store.WriterMetrics(),
		},
	})
}

func (s *Server) getOpportunities(c *gin.Context) {
	candidates := s.Detector.Candidates()
	if candidates == nil {
		candidates = []core.ArbitrageOpportunity{}
	}
	c.JSON(http.StatusOK, gin.H{
		"count":         len(candidates),
		"opportunities": candidates,
	})
}

func (s *Server) getTrades(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	trades, err := s.Store.RecentTrades(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	if trades == nil {
		trades = []core.TradeExecution{}
	}
	c.JSON(http.StatusOK, gin.H{
		"count":  len(trades),
		"trades": trades,
	})
}

func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.Stats.Report())
}

func (s *Server) getPositions(c *gin.Context) {
	positions := s.Gate.OpenPositions(s.scope(c))
	if positions == nil {
		positions = []core.Position{}
	}
	c.JSON(http.StatusOK, gin.H{
		"count":     len(positions),
		"positions": positions,
	})
}

func (s *Server) getRiskLimits(c *gin.Context) {
	c.JSON(http.StatusOK, s.Gate.Limits(s.scope(c)))
}

func (s *Server) updateRiskLimits(c *gin.Context) {
	scope := s.scope(c)
	var limits core.RiskLimits
	if err := c.BindJSON(&limits); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}
	limits.Scope = scope

	if err := s.Gate.UpdateLimits(scope, limits); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":  "INVALID_LIMITS",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, s.Gate.Limits(scope))
}

func (s *Server) getRiskEvents(c *gin.Context) {
	limit := intQuery(c, "limit", 100)
	events := s.Gate.Events(limit)
	if events == nil {
		events = []core.RiskEvent{}
	}
	c.JSON(http.StatusOK, gin.H{
		"count":  len(events),
		"events": events,
	})
}

func (s *Server) pauseEngine(c *gin.Context) {
	scope := s.scope(c)
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.BindJSON(&req)
	if req.Reason == "" {
		req.Reason = "manual pause"
	}

	s.Gate.Pause(scope, req.Reason)
	c.JSON(http.StatusOK, gin.H{
		"scope":  scope,
		"paused": true,
	})
}

func (s *Server) resumeEngine(c *gin.Context) {
	scope := s.scope(c)
	s.Gate.Resume(scope)

	// Resume never lifts an emergency halt; report what actually happened.
	c.JSON(http.StatusOK, gin.H{
		"scope":  scope,
		"paused": s.Gate.Paused(scope),
		"halted": s.Gate.Halted(scope),
	})
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n := 0
	for _, r := range raw {
		if r < '0' || r > '9' {
			return fallback
		}
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return fallback
	}
	return n
}
