package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// reportRequest carries the backtest outcome the caller wants narrated.
type reportRequest struct {
	Symbol      string  `json:"symbol"`
	K           float64 `json:"k"`
	TotalReturn float64 `json:"totalReturn"`
	WinRate     float64 `json:"winRate"`
	MDD         float64 `json:"mdd"`
	CAGR        float64 `json:"cagr"`
	NumTrades   int     `json:"numTrades"`
	TotalDays   int     `json:"totalDays"`
}

// reportGenerator is the optional collaborator that turns a backtest summary
// into prose. It is nil-able: deployments without a configured generator
// still serve everything else.
type reportGenerator interface {
	generate(ctx context.Context, req reportRequest) (string, error)
}

// reportService validates report requests, dedupes identical ones through a
// TTL cache, and delegates the actual generation.
type reportService struct {
	generator reportGenerator
	cache     *ttlCache
	ttl       time.Duration
}

func newReportService(cfg Config, generator reportGenerator, cache *ttlCache) *reportService {
	return &reportService{
		generator: generator,
		cache:     cache,
		ttl:       cfg.ReportCacheTTL,
	}
}

func (s *reportService) generate(ctx context.Context, req reportRequest) (string, error) {
	if req.Symbol == "" {
		return "", errInvalidRequest("symbol is required")
	}
	if req.TotalDays <= 0 {
		return "", errInvalidRequest("totalDays must be positive")
	}
	if s.generator == nil {
		return "", errReportUnavailable("report generation is not configured")
	}

	key := cacheKey("report", map[string]string{
		"symbol":      req.Symbol,
		"k":           fmt.Sprintf("%g", req.K),
		"totalReturn": fmt.Sprintf("%g", req.TotalReturn),
		"winRate":     fmt.Sprintf("%g", req.WinRate),
		"mdd":         fmt.Sprintf("%g", req.MDD),
		"cagr":        fmt.Sprintf("%g", req.CAGR),
		"numTrades":   fmt.Sprintf("%d", req.NumTrades),
		"totalDays":   fmt.Sprintf("%d", req.TotalDays),
	})
	if cached, ok := s.cache.get(key); ok {
		return cached.(string), nil
	}

	report, err := s.generator.generate(ctx, req)
	if err != nil {
		fmt.Printf("[Report] generation failed for %s: %v\n", req.Symbol, err)
		return "", err
	}
	s.cache.put(key, report, s.ttl)
	return report, nil
}

func errReportUnavailable(msg string) *apiError {
	return &apiError{
		Status:    http.StatusServiceUnavailable,
		Code:      codeReportUnavailable,
		Message:   msg,
		Retryable: true,
	}
}

// httpReportGenerator forwards the summary to an external generation
// endpoint and relays its {"report": "..."} answer.
type httpReportGenerator struct {
	url        string
	httpClient *http.Client
}

func newHTTPReportGenerator(cfg Config) *httpReportGenerator {
	return &httpReportGenerator{
		url:        cfg.AIReportURL,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

func (g *httpReportGenerator) generate(ctx context.Context, req reportRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", errReportUnavailable("could not encode report request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return "", errReportUnavailable("could not build report request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", errReportUnavailable("report backend unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		return "", errReportUnavailable(fmt.Sprintf("report backend returned status %d", resp.StatusCode))
	}

	var parsed struct {
		Report string `json:"report"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.Report == "" {
		return "", errReportUnavailable("report backend returned an unreadable response")
	}
	return parsed.Report, nil
}
