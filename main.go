package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Config holds every tunable, resolved once at startup from the environment.
type Config struct {
	Port        string
	CORSOrigins []string

	UpbitAPIURL string
	UpbitWSURL  string
	LiveMarkets []string
	ExchangeTZ  *time.Location

	HTTPTimeout      time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration

	BreakerThreshold int
	BreakerCooldown  time.Duration

	RateLimitMax    int
	RateLimitWindow time.Duration

	CandleCacheTTL time.Duration
	TickerCacheTTL time.Duration
	ReportCacheTTL time.Duration

	WSBackoffMin time.Duration
	WSBackoffMax time.Duration

	BacktestWorkers int

	AIReportURL string
}

func loadConfig() Config {
	tzName := envStr("EXCHANGE_TZ", "Asia/Seoul")
	tz, err := time.LoadLocation(tzName)
	if err != nil {
		fmt.Printf("[Config] unknown timezone %q, falling back to UTC\n", tzName)
		tz = time.UTC
	}

	return Config{
		Port:        envStr("PORT", "8080"),
		CORSOrigins: envList("CORS_ORIGINS", nil),

		UpbitAPIURL: envStr("UPBIT_API_URL", "https://api.upbit.com/v1"),
		UpbitWSURL:  envStr("UPBIT_WS_URL", "wss://api.upbit.com/websocket/v1"),
		LiveMarkets: envList("LIVE_MARKETS", []string{"KRW-BTC", "KRW-ETH", "KRW-SOL", "KRW-XRP", "KRW-DOGE"}),
		ExchangeTZ:  tz,

		HTTPTimeout:      envDuration("HTTP_TIMEOUT", 10*time.Second),
		RetryMaxAttempts: envInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   envDuration("RETRY_BASE_DELAY", 500*time.Millisecond),

		BreakerThreshold: envInt("BREAKER_THRESHOLD", 5),
		BreakerCooldown:  envDuration("BREAKER_COOLDOWN", 30*time.Second),

		RateLimitMax:    envInt("RATE_LIMIT_MAX", 10),
		RateLimitWindow: envDuration("RATE_LIMIT_WINDOW", time.Minute),

		CandleCacheTTL: envDuration("CANDLE_CACHE_TTL", 5*time.Minute),
		TickerCacheTTL: envDuration("TICKER_CACHE_TTL", 5*time.Second),
		ReportCacheTTL: envDuration("REPORT_CACHE_TTL", 10*time.Minute),

		WSBackoffMin: envDuration("WS_BACKOFF_MIN", time.Second),
		WSBackoffMax: envDuration("WS_BACKOFF_MAX", 30*time.Second),

		BacktestWorkers: envInt("BACKTEST_WORKERS", 4),

		AIReportURL: envStr("AI_REPORT_URL", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		fmt.Printf("[Config] invalid %s=%q, using %d\n", key, v, fallback)
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		fmt.Printf("[Config] invalid %s=%q, using %v\n", key, v, fallback)
		return fallback
	}
	return d
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func main() {
	cfg := loadConfig()

	cache := newTTLCache()
	breakers := newBreakerTable(cfg.BreakerThreshold, cfg.BreakerCooldown)
	client := newUpbitClient(cfg, cache, breakers)
	market := newMarketData(cfg, client)
	limiter := newRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow)

	var generator reportGenerator
	if cfg.AIReportURL != "" {
		generator = newHTTPReportGenerator(cfg)
	} else {
		fmt.Println("[Report] AI_REPORT_URL not set, report generation disabled")
	}
	reports := newReportService(cfg, generator, cache)

	hub := newTickerHub(cfg)
	go hub.run()

	application := newApp(cfg, market, hub, limiter, reports)
	r := gin.Default()
	application.routes(r)

	fmt.Printf("[Server] quantdash backend listening on :%s\n", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		fmt.Printf("[Server] fatal: %v\n", err)
		os.Exit(1)
	}
}
