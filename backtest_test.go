package main

import (
	"fmt"
	"math"
	"reflect"
	"testing"
)

// flatCandles is 5 identical lookback days followed by one tradeable day.
func flatCandles(day6 OHLCV) []OHLCV {
	candles := make([]OHLCV, 0, 6)
	for i := 0; i < 5; i++ {
		candles = append(candles, OHLCV{
			Date: fmt.Sprintf("2024-03-%02d", i+1),
			Open: 100, High: 110, Low: 95, Close: 105, Volume: 1000,
		})
	}
	day6.Date = "2024-03-06"
	if day6.Volume == 0 {
		day6.Volume = 1000
	}
	return append(candles, day6)
}

func TestRunBacktestBreakoutNotReached(t *testing.T) {
	candles := flatCandles(OHLCV{Open: 106, High: 112, Low: 100, Close: 108})
	results := runBacktest(candles, 0.5, 0, 0, false)
	if len(results) != 1 {
		t.Fatalf("expected 1 simulated day, got %d", len(results))
	}

	day := results[0]
	// target = 106 + (110-95)*0.5 = 113.5; high 112 never reaches it.
	if day.Target != 113.5 {
		t.Errorf("expected target 113.5, got %v", day.Target)
	}
	if day.IsBought {
		t.Error("high below target must not enter")
	}
	if day.ROR != 0 {
		t.Errorf("day without entry should return 0%%, got %v", day.ROR)
	}
	if day.HPR != 1.0 {
		t.Errorf("hpr should stay at 1.0, got %v", day.HPR)
	}
	if day.MA5 != 105 {
		t.Errorf("ma5 of five identical closes should be 105, got %v", day.MA5)
	}
}

func TestRunBacktestEntryAndReturn(t *testing.T) {
	candles := flatCandles(OHLCV{Open: 106, High: 120, Low: 100, Close: 118})
	results := runBacktest(candles, 0.5, 0, 0, false)

	day := results[0]
	if !day.IsBought {
		t.Fatal("high above target should enter")
	}
	wantRor := (118.0/113.5 - 1) * 100
	if math.Abs(day.ROR-wantRor) > 1e-9 {
		t.Errorf("expected ror %v, got %v", wantRor, day.ROR)
	}
	if math.Abs(day.HPR-118.0/113.5) > 1e-9 {
		t.Errorf("expected hpr %v, got %v", 118.0/113.5, day.HPR)
	}
}

func TestRunBacktestFeeAppliedTwice(t *testing.T) {
	candles := flatCandles(OHLCV{Open: 106, High: 120, Low: 100, Close: 118})

	fee, slippage := 0.001, 0.0005
	results := runBacktest(candles, 0.5, fee, slippage, false)

	multiplier := 1 - (fee + slippage)
	want := (118.0 / 113.5) * multiplier * multiplier
	if math.Abs(results[0].HPR-want) > 1e-9 {
		t.Errorf("round-trip cost should apply on entry and exit: expected %v, got %v", want, results[0].HPR)
	}

	// Costs at or above 100% wipe the position out entirely.
	wiped := runBacktest(candles, 0.5, 1.5, 0, false)
	if wiped[0].HPR != 0 {
		t.Errorf("cost >= 1 should floor the multiplier at 0, got hpr %v", wiped[0].HPR)
	}
}

func TestRunBacktestMAFilter(t *testing.T) {
	// Breakout triggers, but the open sits below the 5-day average close.
	candles := flatCandles(OHLCV{Open: 104, High: 120, Low: 100, Close: 118})

	unfiltered := runBacktest(candles, 0.5, 0, 0, false)
	if !unfiltered[0].IsBought {
		t.Fatal("without the filter the breakout should enter")
	}

	filtered := runBacktest(candles, 0.5, 0, 0, true)
	if filtered[0].IsBought {
		t.Error("open below ma5 should be filtered out")
	}
	if filtered[0].HPR != 1.0 {
		t.Errorf("filtered day should be neutral, got hpr %v", filtered[0].HPR)
	}
}

func TestRunBacktestDeterministic(t *testing.T) {
	candles := flatCandles(OHLCV{Open: 106, High: 120, Low: 100, Close: 118})
	first := runBacktest(candles, 0.5, 0.001, 0.0005, true)
	second := runBacktest(candles, 0.5, 0.001, 0.0005, true)
	if !reflect.DeepEqual(first, second) {
		t.Error("same input must produce bit-identical results")
	}
}

func TestRunBacktestRequiresSixCandles(t *testing.T) {
	candles := flatCandles(OHLCV{Open: 106, High: 120, Low: 100, Close: 118})
	if got := runBacktest(candles[:5], 0.5, 0, 0, false); got != nil {
		t.Errorf("fewer than 6 candles should yield no results, got %d", len(got))
	}
}

func TestTradeSummaryZeroWhenNoTrades(t *testing.T) {
	candles := flatCandles(OHLCV{Open: 106, High: 112, Low: 100, Close: 108})
	results := runBacktest(candles, 0.5, 0, 0, false)
	trades := buildTrades(results)
	if len(trades) != 0 {
		t.Fatalf("expected no trades, got %d", len(trades))
	}
	summary := summarizeTrades(trades)
	if summary != (TradeSummary{}) {
		t.Errorf("no trades should zero the whole summary, got %+v", summary)
	}
}

func TestTradeSummaryStats(t *testing.T) {
	trades := []Trade{
		{Date: "2024-03-06", ReturnPct: 4},
		{Date: "2024-03-07", ReturnPct: -2},
		{Date: "2024-03-08", ReturnPct: 1},
	}
	summary := summarizeTrades(trades)
	if summary.Count != 3 {
		t.Errorf("count: got %d", summary.Count)
	}
	if math.Abs(summary.WinRate-200.0/3) > 1e-9 {
		t.Errorf("2 of 3 wins should be %.4f%%, got %v", 200.0/3, summary.WinRate)
	}
	if math.Abs(summary.AvgReturn-1) > 1e-9 {
		t.Errorf("avg: got %v", summary.AvgReturn)
	}
	if summary.BestReturn != 4 || summary.WorstReturn != -2 {
		t.Errorf("best/worst: got %v / %v", summary.BestReturn, summary.WorstReturn)
	}
}

func TestComputeMetricsDrawdown(t *testing.T) {
	// Cumulative series rises to 1.2 then falls to 0.9: drawdown 25%.
	results := []DayResult{
		{Date: "2024-03-06", HPR: 1.1},
		{Date: "2024-03-07", HPR: 1.2},
		{Date: "2024-03-08", HPR: 0.9},
		{Date: "2024-03-09", HPR: 1.0},
	}
	metrics := computeMetrics(results, nil)
	if math.Abs(metrics.MDD-25) > 1e-9 {
		t.Errorf("expected 25%% drawdown, got %v", metrics.MDD)
	}
	if math.Abs(metrics.TotalReturn-0) > 1e-9 {
		t.Errorf("final hpr 1.0 means 0%% total return, got %v", metrics.TotalReturn)
	}
}

func TestComputeMetricsNoDrawdownBelowStart(t *testing.T) {
	// The series only ever loses: it never exceeds the starting peak.
	results := []DayResult{
		{Date: "2024-03-06", HPR: 0.95},
		{Date: "2024-03-07", HPR: 0.90},
		{Date: "2024-03-08", HPR: 0.85},
	}
	metrics := computeMetrics(results, nil)
	if metrics.MDD != 0 {
		t.Errorf("series never above its starting peak should report 0 drawdown, got %v", metrics.MDD)
	}
}

func TestComputeMetricsCAGR(t *testing.T) {
	results := make([]DayResult, 365)
	for i := range results {
		results[i] = DayResult{HPR: 1.0}
	}
	results[364].HPR = 1.5
	metrics := computeMetrics(results, nil)
	if math.Abs(metrics.CAGR-50) > 1e-9 {
		t.Errorf("+50%% over exactly 365 days should annualize to 50%%, got %v", metrics.CAGR)
	}

	// Non-positive final cumulative return leaves CAGR undefined (0).
	busted := []DayResult{{HPR: 0}}
	if got := computeMetrics(busted, nil).CAGR; got != 0 {
		t.Errorf("zero final hpr should report 0 CAGR, got %v", got)
	}
}

func TestBuildTradesUsesTargetAsEntry(t *testing.T) {
	candles := flatCandles(OHLCV{Open: 106, High: 120, Low: 100, Close: 118})
	results := runBacktest(candles, 0.5, 0, 0, false)
	trades := buildTrades(results)
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if trades[0].EntryPrice != 113.5 || trades[0].ExitPrice != 118 {
		t.Errorf("entry should be the target, exit the close: %+v", trades[0])
	}
	if trades[0].ReturnPct != results[0].ROR {
		t.Errorf("trade return should match the day return")
	}
}
