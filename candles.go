package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// OHLCV is one complete calendar day of candle data, immutable once produced.
type OHLCV struct {
	Date   string  `json:"date"` // YYYY-MM-DD in the exchange's calendar
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// MarketTicker is the live snapshot returned alongside backtest results.
type MarketTicker struct {
	Symbol       string  `json:"symbol"`
	CurrentPrice float64 `json:"currentPrice"`
	OpeningPrice float64 `json:"openingPrice"`
	HighPrice    float64 `json:"highPrice"`
	LowPrice     float64 `json:"lowPrice"`
	TargetPrice  float64 `json:"targetPrice"`
	MA5          float64 `json:"ma5"`
	ChangeRate   float64 `json:"changeRate"`
}

// upbitDayCandle mirrors one row of Upbit's /candles/days response.
type upbitDayCandle struct {
	DateTimeUTC string  `json:"candle_date_time_utc"`
	DateTimeKST string  `json:"candle_date_time_kst"`
	Opening     float64 `json:"opening_price"`
	High        float64 `json:"high_price"`
	Low         float64 `json:"low_price"`
	Trade       float64 `json:"trade_price"`
	Volume      float64 `json:"candle_acc_trade_volume"`
}

// upbitTicker mirrors one row of Upbit's /ticker response.
type upbitTicker struct {
	Market           string  `json:"market"`
	TradePrice       float64 `json:"trade_price"`
	OpeningPrice     float64 `json:"opening_price"`
	HighPrice        float64 `json:"high_price"`
	LowPrice         float64 `json:"low_price"`
	SignedChangeRate float64 `json:"signed_change_rate"`
}

const candlePageSize = 200

// marketData assembles clean candle series and ticker snapshots from the
// paginated Upbit REST endpoints via the resilient client.
type marketData struct {
	client     *upbitClient
	candleTTL  time.Duration
	tickerTTL  time.Duration
	exchangeTZ *time.Location
	now        func() time.Time
}

func newMarketData(cfg Config, client *upbitClient) *marketData {
	return &marketData{
		client:     client,
		candleTTL:  cfg.CandleCacheTTL,
		tickerTTL:  cfg.TickerCacheTTL,
		exchangeTZ: cfg.ExchangeTZ,
		now:        time.Now,
	}
}

// fetchDailyCandles returns the most recent n complete daily candles for
// symbol, oldest first. It pages backward through the upstream cursor,
// requests one extra day so the still-open "today" candle can be dropped,
// and trims to exactly n. Zero upstream rows yield an empty slice; the
// caller decides whether that is an error.
func (m *marketData) fetchDailyCandles(ctx context.Context, symbol string, n int) ([]OHLCV, error) {
	need := n + 1
	var raw []upbitDayCandle
	cursor := ""

	for len(raw) < need {
		batch := need - len(raw)
		if batch > candlePageSize {
			batch = candlePageSize
		}
		params := map[string]string{"market": symbol, "count": strconv.Itoa(batch)}
		if cursor != "" {
			params["to"] = cursor
		}
		rows, err := m.client.fetchRows(ctx, "/candles/days", params, m.candleTTL)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			break
		}
		page := decodeDayCandles(rows)
		if len(page) == 0 {
			break
		}
		raw = append(raw, page...)
		cursor = page[len(page)-1].DateTimeUTC
		if len(rows) < batch {
			// Short page means no more history behind it.
			break
		}
	}

	if len(raw) == 0 {
		return []OHLCV{}, nil
	}
	if len(raw) > need {
		raw = raw[:need]
	}

	// Upstream rows arrive newest-first; flip to ascending while dropping the
	// still-accumulating current day. Both sides of the comparison live in
	// the exchange's calendar: today from the clock, the candle's date from
	// its UTC open time converted into the same zone.
	today := m.now().In(m.exchangeTZ).Format("2006-01-02")
	candles := make([]OHLCV, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		item := raw[i]
		date := candleLocalDate(item.DateTimeUTC, m.exchangeTZ)
		if date == today {
			continue
		}
		candles = append(candles, OHLCV{
			Date:   date,
			Open:   item.Opening,
			High:   item.High,
			Low:    item.Low,
			Close:  item.Trade,
			Volume: item.Volume,
		})
	}

	if len(candles) > n {
		candles = candles[len(candles)-n:]
	}
	if err := checkContiguous(candles); err != nil {
		return nil, err
	}
	return candles, nil
}

// fetchMarketTicker builds the live snapshot: the current ticker plus the
// breakout target and MA5 derived from the latest daily candles. A ticker
// response with no rows yields nil (the dashboard renders it as absent).
func (m *marketData) fetchMarketTicker(ctx context.Context, symbol string, k float64) (*MarketTicker, error) {
	tickerRows, err := m.client.fetchRows(ctx, "/ticker", map[string]string{"markets": symbol}, m.tickerTTL)
	if err != nil {
		return nil, err
	}
	if len(tickerRows) == 0 {
		return nil, nil
	}
	var tick upbitTicker
	if err := json.Unmarshal(tickerRows[0], &tick); err != nil || tick.Market == "" {
		return nil, errUpstreamMalformed("unexpected ticker payload for " + symbol)
	}

	candleRows, err := m.client.fetchRows(ctx, "/candles/days", map[string]string{"market": symbol, "count": "6"}, m.candleTTL)
	if err != nil {
		return nil, err
	}
	candles := decodeDayCandles(candleRows)
	if len(candles) == 0 {
		return nil, nil
	}

	// MA5 over the five most recent closed days; the row at index 0 is today.
	maSource := candles
	if len(candles) >= 6 {
		maSource = candles[1:6]
	} else if len(candles) > 1 {
		maSource = candles[1:]
	}
	sum := 0.0
	for _, c := range maSource {
		sum += c.Trade
	}
	ma5 := sum / float64(len(maSource))

	prevDay := candles[0]
	if len(candles) > 1 {
		prevDay = candles[1]
	}
	target := tick.OpeningPrice + (prevDay.High-prevDay.Low)*k

	return &MarketTicker{
		Symbol:       tick.Market,
		CurrentPrice: tick.TradePrice,
		OpeningPrice: tick.OpeningPrice,
		HighPrice:    tick.HighPrice,
		LowPrice:     tick.LowPrice,
		TargetPrice:  target,
		MA5:          ma5,
		ChangeRate:   tick.SignedChangeRate,
	}, nil
}

// decodeDayCandles tolerantly decodes candle rows, skipping any row that is
// missing its timestamps instead of failing the whole page.
func decodeDayCandles(rows []json.RawMessage) []upbitDayCandle {
	out := make([]upbitDayCandle, 0, len(rows))
	for _, row := range rows {
		var c upbitDayCandle
		if err := json.Unmarshal(row, &c); err != nil {
			continue
		}
		if c.DateTimeKST == "" || c.DateTimeUTC == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// candleLocalDate converts a candle's UTC open time into loc and returns
// its calendar date there. An unparseable timestamp falls back to the raw
// date prefix.
func candleLocalDate(utc string, loc *time.Location) string {
	t, err := time.Parse("2006-01-02T15:04:05", utc)
	if err != nil {
		if len(utc) >= 10 {
			return utc[:10]
		}
		return utc
	}
	return t.In(loc).Format("2006-01-02")
}

// checkContiguous verifies the ascending series has no missing days; a gap
// means a paging inconsistency upstream and the whole series is rejected.
func checkContiguous(candles []OHLCV) error {
	for i := 1; i < len(candles); i++ {
		prev, err1 := time.Parse("2006-01-02", candles[i-1].Date)
		curr, err2 := time.Parse("2006-01-02", candles[i].Date)
		if err1 != nil || err2 != nil {
			return errUpstreamMalformed("unparseable candle date in series")
		}
		if curr.Sub(prev) != 24*time.Hour {
			return errUpstreamMalformed(fmt.Sprintf("gap in candle series between %s and %s", candles[i-1].Date, candles[i].Date))
		}
	}
	return nil
}
