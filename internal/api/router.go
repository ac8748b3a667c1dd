// Package api serves the operator HTTP API: status, positions, PnL and
// manual order entry.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"

	"sniperbot/config"
	"sniperbot/internal/indicator"
	"sniperbot/internal/model"
	"sniperbot/internal/portfolio"
	"sniperbot/internal/strategy"
)

// TOTPHeader carries the operator's one-time code on mutating routes.
const TOTPHeader = "X-TOTP"

// Trader is the part of the orchestrator the API drives.
type Trader interface {
	Balance() decimal.Decimal
	Positions() *portfolio.Store
	Indicators() *indicator.Engine
	OpenManual(ctx context.Context, m strategy.ManualOrder) (model.Position, error)
	CloseManual(ctx context.Context, id string, price decimal.Decimal) (decimal.Decimal, error)
}

// Options configures the router.
type Options struct {
	Trading    config.Trading
	Paper      bool
	TOTPSecret string // empty disables the TOTP guard
}

type handler struct {
	trader Trader
	opts   Options
	now    func() time.Time
}

// NewRouter builds the gin engine with every /api/v1 route.
func NewRouter(trader Trader, opts Options) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	h := &handler{trader: trader, opts: opts, now: time.Now}

	v1 := r.Group("/api/v1")
	v1.GET("/health", h.health)
	v1.GET("/status", h.status)
	v1.GET("/positions", h.positions)
	v1.GET("/pnl", h.pnl)

	guarded := v1.Group("", totpGuard(opts.TOTPSecret, h.now))
	guarded.POST("/positions", h.openPosition)
	guarded.DELETE("/positions/:id", h.closePosition)

	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("api request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds())
	}
}

// totpGuard rejects requests without a valid code when secret is set.
func totpGuard(secret string, now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		code := c.GetHeader(TOTPHeader)
		if code == "" {
			abort(c, http.StatusUnauthorized, "missing "+TOTPHeader+" header")
			return
		}
		valid, err := totp.ValidateCustom(code, secret, now().UTC(), totp.ValidateOpts{
			Period:    30,
			Skew:      1,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil || !valid {
			slog.Warn("rejected operator request, bad totp", "path", c.FullPath())
			abort(c, http.StatusUnauthorized, "invalid one-time code")
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": true, "message": message})
}

func errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": true, "message": message})
}

func successResponse(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": h.now().UTC().Format(time.RFC3339)})
}

func (h *handler) status(c *gin.Context) {
	t := h.opts.Trading
	store := h.trader.Positions()
	stats := store.Stats()

	successResponse(c, gin.H{
		"symbol":         t.Symbol,
		"timeframe":      t.Timeframe,
		"paper":          h.opts.Paper,
		"balance":        h.trader.Balance(),
		"candles":        h.trader.Indicators().Len(),
		"open_positions": store.Count(),
		"stats": gin.H{
			"realized_pnl": stats.RealizedPnL,
			"closed":       stats.Closed,
			"wins":         stats.Wins,
			"losses":       stats.Losses,
			"win_rate":     stats.WinRate(),
		},
		"config": gin.H{
			"risk_per_trade":      t.RiskPerTrade,
			"max_positions":       t.MaxPositions,
			"min_confidence":      t.MinConfidence,
			"stop_loss_percent":   t.StopLossPercent,
			"take_profit_percent": t.TakeProfitPercent,
		},
		"entry_confidence": strategy.EntryConfidence,
	})
}

func (h *handler) positions(c *gin.Context) {
	successResponse(c, h.trader.Positions().Positions())
}

// pnl reports realized and unrealized PnL for the bot symbol at ?price=,
// or at the latest close when price is omitted.
func (h *handler) pnl(c *gin.Context) {
	price, ok := h.priceParam(c)
	if !ok {
		return
	}
	if !price.IsPositive() {
		errorResponse(c, http.StatusServiceUnavailable, "no price available")
		return
	}
	summary := h.trader.Positions().Summary(map[string]decimal.Decimal{h.opts.Trading.Symbol: price})
	successResponse(c, gin.H{"price": price, "summary": summary})
}

// priceParam parses ?price=, falling back to the latest close. A malformed
// value writes a 400 and returns ok=false.
func (h *handler) priceParam(c *gin.Context) (decimal.Decimal, bool) {
	if raw := c.Query("price"); raw != "" {
		p, err := decimal.NewFromString(raw)
		if err != nil {
			errorResponse(c, http.StatusBadRequest, "invalid price: "+raw)
			return decimal.Zero, false
		}
		return p, true
	}
	if latest, ok := h.trader.Indicators().Latest(); ok {
		return latest.Close, true
	}
	return decimal.Zero, true
}

type openRequest struct {
	Symbol     string              `json:"symbol"`
	Side       *model.PositionSide `json:"side"`
	Kind       *model.OrderKind    `json:"kind"`
	Price      decimal.Decimal     `json:"price"`
	Size       decimal.Decimal     `json:"size"`
	StopLoss   decimal.Decimal     `json:"stop_loss"`
	TakeProfit decimal.Decimal     `json:"take_profit"`
}

func (h *handler) openPosition(c *gin.Context) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.Side == nil {
		errorResponse(c, http.StatusBadRequest, "side is required (long or short)")
		return
	}
	if req.Symbol == "" {
		req.Symbol = h.opts.Trading.Symbol
	}
	kind := model.OrderMarket
	if req.Kind != nil {
		kind = *req.Kind
	}
	if err := strategy.ValidateLevels(*req.Side, req.Price, req.StopLoss, req.TakeProfit); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	pos, err := h.trader.OpenManual(c.Request.Context(), strategy.ManualOrder{
		Symbol:     req.Symbol,
		Side:       *req.Side,
		Price:      req.Price,
		Size:       req.Size,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Kind:       kind,
	})
	switch {
	case errors.Is(err, strategy.ErrPositionExists):
		errorResponse(c, http.StatusConflict, err.Error())
	case err != nil:
		errorResponse(c, http.StatusBadRequest, err.Error())
	default:
		c.JSON(http.StatusCreated, gin.H{"success": true, "data": pos})
	}
}

func (h *handler) closePosition(c *gin.Context) {
	price, ok := h.priceParam(c)
	if !ok {
		return
	}

	id := c.Param("id")
	pnl, err := h.trader.CloseManual(c.Request.Context(), id, price)
	switch {
	case errors.Is(err, portfolio.ErrPositionNotFound):
		errorResponse(c, http.StatusNotFound, err.Error())
	case errors.Is(err, portfolio.ErrPositionBusy):
		errorResponse(c, http.StatusConflict, err.Error())
	case err != nil:
		errorResponse(c, http.StatusBadGateway, err.Error())
	default:
		successResponse(c, gin.H{"id": id, "pnl": pnl})
	}
}
