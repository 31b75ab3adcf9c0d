package market

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Quote is a point-in-time price snapshot for a stock symbol.
type Quote struct {
	Symbol           string  `json:"symbol"`
	Name             string  `json:"name"`
	Price            float64 `json:"price"`
	Change           float64 `json:"change"`
	ChangePercent    float64 `json:"changePercent"`
	Open             float64 `json:"open"`
	High             float64 `json:"high"`
	Low              float64 `json:"low"`
	Volume           int64   `json:"volume"`
	PreviousClose    float64 `json:"previousClose"`
	LatestTradingDay string  `json:"latestTradingDay"`
}

type SearchResult struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Region   string `json:"region"`
	Currency string `json:"currency"`
}

// Point is a single close value for area charts.
type Point struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// SeriesKind selects the provider time series function.
type SeriesKind string

const (
	SeriesIntraday SeriesKind = "intraday"
	SeriesDaily    SeriesKind = "daily"
	SeriesWeekly   SeriesKind = "weekly"
	SeriesMonthly  SeriesKind = "monthly"
)

// SeriesKindFor maps a chart range to the provider series that covers it.
func SeriesKindFor(dr DateRange) SeriesKind {
	switch dr {
	case Range1D:
		return SeriesIntraday
	case Range3M, Range1Y:
		return SeriesWeekly
	case RangeAll:
		return SeriesMonthly
	default:
		return SeriesDaily
	}
}

// PayloadKey is the object key holding the series in a provider response.
func (k SeriesKind) PayloadKey() string {
	switch k {
	case SeriesIntraday:
		return "Time Series (5min)"
	case SeriesWeekly:
		return "Weekly Time Series"
	case SeriesMonthly:
		return "Monthly Time Series"
	default:
		return "Time Series (Daily)"
	}
}

// seriesTail is how many trailing points each range keeps; 0 keeps all.
var seriesTail = map[DateRange]int{
	Range1D: 78,
	Range1W: 7,
	Range1M: 30,
	Range3M: 13,
	Range1Y: 52,
}

// TrimSeries keeps the trailing window for dr.
func TrimSeries(points []Point, dr DateRange) []Point {
	n := seriesTail[dr]
	if n == 0 || len(points) <= n {
		return points
	}
	return points[len(points)-n:]
}

// UpstreamMessage extracts an error or rate-limit message the provider sent
// in place of data.
func UpstreamMessage(payload map[string]any) (string, bool) {
	msg := stringFromMap(payload, "error", "Error Message", "Note", "Information")
	return msg, msg != ""
}

// ParseGlobalQuote reads the provider's "Global Quote" object. Fields that do
// not parse as numbers become 0.
func ParseGlobalQuote(payload map[string]any, symbol string) (Quote, error) {
	raw, ok := toMap(payload["Global Quote"])
	if !ok || len(raw) == 0 {
		return Quote{}, fmt.Errorf("%w: quote for %s", ErrNoData, symbol)
	}
	q := Quote{
		Symbol:           stringFromMap(raw, "01. symbol"),
		Open:             floatFromMap(raw, "02. open"),
		High:             floatFromMap(raw, "03. high"),
		Low:              floatFromMap(raw, "04. low"),
		Price:            floatFromMap(raw, "05. price"),
		Volume:           int64(floatFromMap(raw, "06. volume")),
		LatestTradingDay: stringFromMap(raw, "07. latest trading day"),
		PreviousClose:    floatFromMap(raw, "08. previous close"),
		Change:           floatFromMap(raw, "09. change"),
	}
	if pct := strings.TrimSuffix(stringFromMap(raw, "10. change percent"), "%"); pct != "" {
		q.ChangePercent, _ = floatFromAny(pct)
	}
	if q.Symbol == "" {
		q.Symbol = symbol
	}
	return q, nil
}

// ParseSearch maps "bestMatches" entries. An empty match list is ErrNoData.
func ParseSearch(payload map[string]any) ([]SearchResult, error) {
	matches, _ := toSlice(payload["bestMatches"])
	results := make([]SearchResult, 0, len(matches))
	for _, entry := range matches {
		m, ok := toMap(entry)
		if !ok {
			continue
		}
		symbol := stringFromMap(m, "1. symbol")
		if symbol == "" {
			continue
		}
		results = append(results, SearchResult{
			Symbol:   symbol,
			Name:     stringFromMap(m, "2. name"),
			Type:     stringFromMap(m, "3. type"),
			Region:   stringFromMap(m, "4. region"),
			Currency: stringFromMap(m, "8. currency"),
		})
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: no matching symbols", ErrNoData)
	}
	return results, nil
}

// ParseSeries reads close values of a provider time series keyed by date,
// drops non-positive values and sorts by time.
func ParseSeries(payload map[string]any, kind SeriesKind) ([]Point, error) {
	raw, ok := toMap(payload[kind.PayloadKey()])
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s series", ErrNoData, kind)
	}
	points := make([]Point, 0, len(raw))
	for stamp, entry := range raw {
		values, ok := toMap(entry)
		if !ok {
			continue
		}
		value := floatFromMap(values, "4. close")
		if value <= 0 {
			continue
		}
		ts, err := parseTimestamp(stamp)
		if err != nil {
			continue
		}
		points = append(points, Point{Time: ts, Value: value})
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: %s series", ErrNoData, kind)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Time < points[j].Time })
	return points, nil
}

// ParseCandles reads the forex timeseries payload {"data":[{time,open,high,low,close}]}.
// Entries with an unreadable time are skipped.
func ParseCandles(payload map[string]any) ([]Candle, error) {
	rows, _ := toSlice(payload["data"])
	candles := make([]Candle, 0, len(rows))
	for _, row := range rows {
		m, ok := toMap(row)
		if !ok {
			continue
		}
		ts, ok := timeFromAny(m["time"])
		if !ok {
			continue
		}
		candles = append(candles, Candle{
			Time:  ts,
			Open:  floatFromMap(m, "open", "o"),
			High:  floatFromMap(m, "high", "h"),
			Low:   floatFromMap(m, "low", "l"),
			Close: floatFromMap(m, "close", "c"),
		})
	}
	if len(candles) == 0 {
		return nil, ErrNoData
	}
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Time < candles[j].Time })
	return candles, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

var errBadTimestamp = errors.New("unrecognised timestamp")

func parseTimestamp(s string) (int64, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", errBadTimestamp, s)
}

func timeFromAny(v any) (int64, bool) {
	if s, ok := v.(string); ok {
		ts, err := parseTimestamp(s)
		return ts, err == nil
	}
	f, ok := floatFromAny(v)
	if !ok || f <= 0 {
		return 0, false
	}
	// Millisecond epochs are larger than any plausible second epoch.
	if f > 1e12 {
		return int64(f / 1000), true
	}
	return int64(f), true
}
