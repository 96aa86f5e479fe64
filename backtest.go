package main

import "math"

// lookbackDays is the number of history-only candles before the first
// tradeable day (the MA5 window).
const lookbackDays = 5

// DayResult is one simulated day of the volatility-breakout strategy.
type DayResult struct {
	Date     string  `json:"date"`
	Price    float64 `json:"price"`  // closing price
	Target   float64 `json:"target"` // breakout entry level
	MA5      float64 `json:"ma5"`
	IsBought bool    `json:"isBought"`
	ROR      float64 `json:"ror"` // day return in percent
	HPR      float64 `json:"hpr"` // cumulative return multiplier
}

// Trade is a materialized entry day.
type Trade struct {
	Date       string  `json:"date"`
	EntryPrice float64 `json:"entryPrice"`
	ExitPrice  float64 `json:"exitPrice"`
	ReturnPct  float64 `json:"returnPct"`
}

// TradeSummary aggregates the trade list. All fields are zero when no trade
// was entered.
type TradeSummary struct {
	Count       int     `json:"count"`
	WinRate     float64 `json:"winRate"` // percent of trades with positive return
	AvgReturn   float64 `json:"avgReturn"`
	BestReturn  float64 `json:"bestReturn"`
	WorstReturn float64 `json:"worstReturn"`
}

// MetricSummary is the portfolio-level statistics block.
type MetricSummary struct {
	TotalReturn float64 `json:"totalReturn"` // percent
	WinRate     float64 `json:"winRate"`     // percent
	MDD         float64 `json:"mdd"`         // percent
	CAGR        float64 `json:"cagr"`        // percent
	NumTrades   int     `json:"numTrades"`
	TotalDays   int     `json:"totalDays"`
}

// runBacktest simulates the breakout strategy over an ascending daily candle
// series. Pure and deterministic: same input, same output. The first five
// candles are lookback only. Fee and slippage are applied as a round-trip
// cost multiplier, once on entry and once on exit.
func runBacktest(data []OHLCV, k, fee, slippage float64, useMAFilter bool) []DayResult {
	if len(data) < lookbackDays+1 {
		return nil
	}

	cost := fee + slippage
	if cost > 1 {
		cost = 1
	}
	feeMultiplier := 1 - cost
	if feeMultiplier < 0 {
		feeMultiplier = 0
	}

	cumulative := 1.0
	results := make([]DayResult, 0, len(data)-lookbackDays)

	for i := lookbackDays; i < len(data); i++ {
		prev := data[i-1]
		curr := data[i]

		sum := 0.0
		for _, day := range data[i-lookbackDays : i] {
			sum += day.Close
		}
		ma5 := sum / lookbackDays

		target := curr.Open + (prev.High-prev.Low)*k
		bought := curr.High > target
		if useMAFilter {
			bought = bought && curr.Open > ma5
		}

		ror := 1.0
		if bought {
			ror = (curr.Close / target) * feeMultiplier * feeMultiplier
		}
		cumulative *= ror

		results = append(results, DayResult{
			Date:     curr.Date,
			Price:    curr.Close,
			Target:   target,
			MA5:      ma5,
			IsBought: bought,
			ROR:      (ror - 1) * 100,
			HPR:      cumulative,
		})
	}
	return results
}

// buildTrades extracts the entered days as materialized trades.
func buildTrades(results []DayResult) []Trade {
	trades := make([]Trade, 0)
	for _, r := range results {
		if !r.IsBought {
			continue
		}
		trades = append(trades, Trade{
			Date:       r.Date,
			EntryPrice: r.Target,
			ExitPrice:  r.Price,
			ReturnPct:  r.ROR,
		})
	}
	return trades
}

func summarizeTrades(trades []Trade) TradeSummary {
	if len(trades) == 0 {
		return TradeSummary{}
	}
	summary := TradeSummary{
		Count:       len(trades),
		BestReturn:  trades[0].ReturnPct,
		WorstReturn: trades[0].ReturnPct,
	}
	wins := 0
	sum := 0.0
	for _, tr := range trades {
		sum += tr.ReturnPct
		if tr.ReturnPct > 0 {
			wins++
		}
		if tr.ReturnPct > summary.BestReturn {
			summary.BestReturn = tr.ReturnPct
		}
		if tr.ReturnPct < summary.WorstReturn {
			summary.WorstReturn = tr.ReturnPct
		}
	}
	summary.WinRate = float64(wins) / float64(len(trades)) * 100
	summary.AvgReturn = sum / float64(len(trades))
	return summary
}

// computeMetrics derives the portfolio statistics from the day series and
// trade list. Drawdown is measured against peaks of the cumulative-return
// series; a series that never rises above its starting value reports 0.
func computeMetrics(results []DayResult, trades []Trade) MetricSummary {
	metrics := MetricSummary{
		NumTrades: len(trades),
		TotalDays: len(results),
	}
	if len(results) == 0 {
		return metrics
	}

	final := results[len(results)-1].HPR
	metrics.TotalReturn = (final - 1) * 100

	wins := 0
	for _, tr := range trades {
		if tr.ReturnPct > 0 {
			wins++
		}
	}
	if len(trades) > 0 {
		metrics.WinRate = float64(wins) / float64(len(trades)) * 100
	}

	peak := 1.0
	for _, r := range results {
		if r.HPR > peak {
			peak = r.HPR
		} else if peak > 1.0 {
			dd := (peak - r.HPR) / peak * 100
			if dd > metrics.MDD {
				metrics.MDD = dd
			}
		}
	}

	if len(results) > 0 && final > 0 {
		metrics.CAGR = (math.Pow(final, 365/float64(len(results))) - 1) * 100
	}
	return metrics
}
