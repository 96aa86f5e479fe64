package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// app owns every shared component and exposes the HTTP surface. Nothing in
// here is package-global; handlers reach state through the receiver.
type app struct {
	cfg      Config
	market   *marketData
	hub      *tickerHub
	limiter  *rateLimiter
	reports  *reportService
	upgrader websocket.Upgrader

	// Bounds how many simulations run at once so a burst of large requests
	// cannot starve the other handlers.
	backtestSlots chan struct{}
}

func newApp(cfg Config, market *marketData, hub *tickerHub, limiter *rateLimiter, reports *reportService) *app {
	workers := cfg.BacktestWorkers
	if workers < 1 {
		workers = 1
	}
	return &app{
		cfg:     cfg,
		market:  market,
		hub:     hub,
		limiter: limiter,
		reports: reports,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		backtestSlots: make(chan struct{}, workers),
	}
}

func (a *app) routes(r *gin.Engine) {
	r.Use(corsMiddleware(a.cfg.CORSOrigins))

	api := r.Group("/api")
	api.GET("/health", a.handleHealth)
	api.POST("/backtest", rateLimitMiddleware(a.limiter), a.handleBacktest)
	api.POST("/ai/report", rateLimitMiddleware(a.limiter), a.handleAIReport)

	r.GET("/ws/ticker", a.handleTickerStream)
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	allowed := "*"
	if len(origins) > 0 {
		allowed = strings.Join(origins, ", ")
	}
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowed)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		// Credentials are only meaningful (and only legal) with an explicit
		// origin list, never with the wildcard.
		if allowed != "*" {
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (a *app) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

const (
	defaultK            = 0.5
	defaultBacktestDays = 365
	minBacktestDays     = 10
	maxBacktestDays     = 2000
)

type backtestRequest struct {
	Symbol      string   `json:"symbol"`
	K           *float64 `json:"k"`
	Fee         *float64 `json:"fee"`
	Slippage    *float64 `json:"slippage"`
	Days        *int     `json:"days"`
	UseMAFilter bool     `json:"useMaFilter"`
}

type backtestResponse struct {
	Results      []DayResult   `json:"results"`
	Trades       []Trade       `json:"trades"`
	TradeSummary TradeSummary  `json:"tradeSummary"`
	Metrics      MetricSummary `json:"metrics"`
	Ticker       *MarketTicker `json:"ticker"`
}

func (a *app) handleBacktest(c *gin.Context) {
	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errInvalidRequest("request body must be valid JSON"))
		return
	}

	req.Symbol = strings.TrimSpace(req.Symbol)
	if req.Symbol == "" {
		respondError(c, errInvalidRequest("symbol is required"))
		return
	}
	k := defaultK
	if req.K != nil {
		k = *req.K
	}
	if k < 0 {
		respondError(c, errInvalidRequest("k must be >= 0"))
		return
	}
	fee := 0.0
	if req.Fee != nil {
		fee = *req.Fee
	}
	if fee < 0 {
		respondError(c, errInvalidRequest("fee must be >= 0"))
		return
	}
	slippage := 0.0
	if req.Slippage != nil {
		slippage = *req.Slippage
	}
	if slippage < 0 {
		respondError(c, errInvalidRequest("slippage must be >= 0"))
		return
	}
	days := defaultBacktestDays
	if req.Days != nil {
		days = *req.Days
	}
	if days < minBacktestDays || days > maxBacktestDays {
		respondError(c, errInvalidRequest(fmt.Sprintf("days must be between %d and %d", minBacktestDays, maxBacktestDays)))
		return
	}

	// The engine needs 5 lookback days in front of every simulated day.
	candles, err := a.market.fetchDailyCandles(c.Request.Context(), req.Symbol, days+lookbackDays)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(candles) < lookbackDays+1 {
		respondError(c, errInsufficientData(fmt.Sprintf(
			"not enough candle history for %s: need at least %d complete days, got %d",
			req.Symbol, lookbackDays+1, len(candles))))
		return
	}

	a.backtestSlots <- struct{}{}
	results := runBacktest(candles, k, fee, slippage, req.UseMAFilter)
	<-a.backtestSlots

	trades := buildTrades(results)
	resp := backtestResponse{
		Results:      results,
		Trades:       trades,
		TradeSummary: summarizeTrades(trades),
		Metrics:      computeMetrics(results, trades),
	}

	// The live quote enriches the response but is not worth failing the
	// whole simulation over.
	ticker, err := a.market.fetchMarketTicker(c.Request.Context(), req.Symbol, k)
	if err != nil {
		fmt.Printf("[Backtest] ticker lookup failed for %s: %v\n", req.Symbol, err)
	} else {
		resp.Ticker = ticker
	}

	c.JSON(http.StatusOK, resp)
}

func (a *app) handleAIReport(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errInvalidRequest("request body must be valid JSON"))
		return
	}
	report, err := a.reports.generate(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// handleTickerStream upgrades the connection and parks it on the hub. The
// read loop only exists to notice the peer going away; inbound payloads are
// ignored.
func (a *app) handleTickerStream(c *gin.Context) {
	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		fmt.Printf("[Ticker] upgrade failed: %v\n", err)
		return
	}

	var interest []string
	if codes := strings.TrimSpace(c.Query("codes")); codes != "" {
		for _, code := range strings.Split(codes, ",") {
			if code = strings.TrimSpace(code); code != "" {
				interest = append(interest, code)
			}
		}
	}

	id := a.hub.register(conn, interest)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	a.hub.unregister(id)
}
