package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantaex/core/internal/orders"
	"github.com/quantaex/core/internal/pricing"
	"github.com/quantaex/core/pkg/models"
)

// userIDHeader carries the authenticated user id set by the edge proxy.
// Authentication itself happens upstream of this service.
const userIDHeader = "X-User-ID"

type errorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (s *Server) userID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetHeader(userIDHeader))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errorBody{
			Code: "UNAUTHENTICATED", Message: "missing or invalid user identity",
		}})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handlePlaceOrder(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}

	var req models.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorBody{
			Code: "INVALID_REQUEST", Message: err.Error(),
		}})
		return
	}

	order, err := s.orders.PlaceOrder(c.Request.Context(), userID, &req)
	if err != nil {
		s.writeOrderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// writeOrderError maps intake errors onto HTTP statuses. Client mistakes
// are 4xx with a stable code; wallet/rollback failures are the only 5xx.
func (s *Server) writeOrderError(c *gin.Context, err error) {
	var (
		valErr  *orders.ValidationError
		limErr  *orders.LimitError
		selfErr *orders.SelfMatchError
		balErr  *orders.InsufficientBalanceError
		walErr  *orders.WalletUpdateFailedError
	)

	switch {
	case errors.As(err, &valErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": errorBody{
			Code: "INVALID_REQUEST", Message: valErr.Error(),
		}})
	case errors.As(err, &limErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": errorBody{
			Code: "LIMIT_EXCEEDED", Message: limErr.Error(),
		}})
	case errors.As(err, &selfErr):
		c.JSON(http.StatusConflict, gin.H{"error": errorBody{
			Code:    "SELF_TRADE",
			Message: selfErr.Error(),
			Details: gin.H{"conflicting_price": selfErr.ConflictingPrice},
		}})
	case errors.As(err, &balErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": errorBody{
			Code:    "INSUFFICIENT_BALANCE",
			Message: balErr.Error(),
			Details: gin.H{
				"currency":  balErr.Currency,
				"shortfall": balErr.Shortfall(),
			},
		}})
	case errors.Is(err, orders.ErrMarketNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": errorBody{
			Code: "MARKET_NOT_FOUND", Message: err.Error(),
		}})
	case errors.Is(err, orders.ErrMarketDisabled), errors.Is(err, orders.ErrMarketMetadataIncomplete):
		c.JSON(http.StatusBadRequest, gin.H{"error": errorBody{
			Code: "MARKET_UNAVAILABLE", Message: err.Error(),
		}})
	case errors.Is(err, pricing.ErrNoLiquidity):
		c.JSON(http.StatusBadRequest, gin.H{"error": errorBody{
			Code: "NO_LIQUIDITY", Message: err.Error(),
		}})
	case errors.Is(err, pricing.ErrInvalidPrice), errors.Is(err, pricing.ErrInvalidFeeRate):
		c.JSON(http.StatusBadRequest, gin.H{"error": errorBody{
			Code: "INVALID_REQUEST", Message: err.Error(),
		}})
	case errors.As(err, &walErr):
		s.logger.Error("order placement failed in wallet update", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": errorBody{
			Code: "WALLET_UPDATE_FAILED", Message: "order could not be processed",
		}})
	default:
		s.logger.Error("order placement failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": errorBody{
			Code: "INTERNAL", Message: "order could not be processed",
		}})
	}
}

func (s *Server) handleListOrders(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}
	limit := intQuery(c, "limit", 20)
	offset := intQuery(c, "offset", 0)

	list, err := s.orders.GetOrders(c.Request.Context(), userID, c.Query("symbol"), limit, offset)
	if err != nil {
		s.logger.Error("failed to list orders", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": errorBody{
			Code: "INTERNAL", Message: "failed to list orders",
		}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

func (s *Server) handleListPairs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pairs": s.registry.All()})
}

// requireSymbol resolves the symbol query parameter against the registry.
func (s *Server) requireSymbol(c *gin.Context) (string, bool) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorBody{
			Code: "INVALID_REQUEST", Message: "symbol is required",
		}})
		return "", false
	}
	if _, ok := s.registry.Get(symbol); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": errorBody{
			Code: "MARKET_NOT_FOUND", Message: "unknown symbol " + symbol,
		}})
		return "", false
	}
	return symbol, true
}

func (s *Server) handleOrderBook(c *gin.Context) {
	symbol, ok := s.requireSymbol(c)
	if !ok {
		return
	}
	depth := intQuery(c, "depth", 50)
	snap, err := s.reader.GetOrderBook(c.Request.Context(), symbol, depth)
	if err != nil {
		s.logger.Error("failed to read order book", zap.String("symbol", symbol), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": errorBody{
			Code: "INTERNAL", Message: "failed to read order book",
		}})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleTrades(c *gin.Context) {
	symbol, ok := s.requireSymbol(c)
	if !ok {
		return
	}
	limit := intQuery(c, "limit", 50)
	trades, err := s.reader.GetRecentTrades(c.Request.Context(), symbol, limit)
	if err != nil {
		s.logger.Error("failed to read trades", zap.String("symbol", symbol), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": errorBody{
			Code: "INTERNAL", Message: "failed to read trades",
		}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleTicker(c *gin.Context) {
	symbol, ok := s.requireSymbol(c)
	if !ok {
		return
	}
	t, err := s.reader.GetTicker(c.Request.Context(), symbol)
	if err != nil {
		s.logger.Error("failed to read ticker", zap.String("symbol", symbol), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": errorBody{
			Code: "INTERNAL", Message: "failed to read ticker",
		}})
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleOHLCV(c *gin.Context) {
	symbol, ok := s.requireSymbol(c)
	if !ok {
		return
	}
	interval := c.DefaultQuery("interval", "1m")
	limit := intQuery(c, "limit", 100)
	candles, err := s.reader.GetOHLCV(c.Request.Context(), symbol, interval, limit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorBody{
			Code: "INVALID_REQUEST", Message: err.Error(),
		}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"candles": candles})
}

func intQuery(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}
