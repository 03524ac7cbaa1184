// Package api exposes the HTTP and WebSocket surface: order intake,
// market data reads, health and metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quantaex/core/internal/market"
	"github.com/quantaex/core/internal/marketdata"
	"github.com/quantaex/core/internal/orders"
)

// Server hosts the REST and WebSocket endpoints.
type Server struct {
	logger   *zap.Logger
	orders   *orders.Service
	reader   *market.Reader
	registry *market.Registry
	gateway  *marketdata.Gateway

	engine *gin.Engine
	http   *http.Server
}

// NewServer creates a new API server and registers all routes.
func NewServer(logger *zap.Logger, ordersSvc *orders.Service, reader *market.Reader, registry *market.Registry, gateway *marketdata.Gateway) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		logger:   logger,
		orders:   ordersSvc,
		reader:   reader,
		registry: registry,
		gateway:  gateway,
		engine:   gin.New(),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	registerBindings()
	s.registerRoutes()
	return s
}

// registerBindings installs the custom request validators used by the
// binding tags on request structs.
func registerBindings() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	// trading_pair: "BASE/QUOTE", both legs non-empty upper-case symbols.
	v.RegisterValidation("trading_pair", func(fl validator.FieldLevel) bool {
		base, quote, ok := strings.Cut(fl.Field().String(), "/")
		if !ok || base == "" || quote == "" {
			return false
		}
		return base == strings.ToUpper(base) && quote == strings.ToUpper(quote)
	})
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.engine.GET("/ws", gin.WrapF(s.gateway.ServeWS))

	v1 := s.engine.Group("/api/v1")
	{
		v1.POST("/orders", s.handlePlaceOrder)
		v1.GET("/orders", s.handleListOrders)

		md := v1.Group("/market")
		{
			md.GET("/pairs", s.handleListPairs)
			md.GET("/orderbook", s.handleOrderBook)
			md.GET("/trades", s.handleTrades)
			md.GET("/ticker", s.handleTicker)
			md.GET("/ohlcv", s.handleOHLCV)
		}
	}
}

// Start begins serving on addr. Blocks until the listener fails or Stop is
// called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info("API server listening", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
