package market

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxCandles caps every generated series.
const MaxCandles = 500

var (
	ErrUnknownTimeframe = errors.New("unknown timeframe")
	ErrUnknownRange     = errors.New("unknown date range")
	ErrUnknownAsset     = errors.New("unknown asset")
	ErrNoData           = errors.New("no data")
)

type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

type timeframeSpec struct {
	seconds      int64
	defaultCount int
}

var timeframeSpecs = map[Timeframe]timeframeSpec{
	Timeframe1m:  {seconds: 60, defaultCount: 120},
	Timeframe5m:  {seconds: 300, defaultCount: 144},
	Timeframe15m: {seconds: 900, defaultCount: 96},
	Timeframe1h:  {seconds: 3600, defaultCount: 168},
	Timeframe4h:  {seconds: 14400, defaultCount: 180},
	Timeframe1d:  {seconds: 86400, defaultCount: 365},
}

// Timeframes lists the supported timeframes from shortest to longest.
func Timeframes() []Timeframe {
	return []Timeframe{Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h, Timeframe4h, Timeframe1d}
}

func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := timeframeSpecs[tf]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTimeframe, s)
	}
	return tf, nil
}

// IntervalSeconds returns 0 for an unknown timeframe.
func (tf Timeframe) IntervalSeconds() int64 {
	return timeframeSpecs[tf].seconds
}

func (tf Timeframe) Interval() time.Duration {
	return time.Duration(tf.IntervalSeconds()) * time.Second
}

func (tf Timeframe) DefaultCount() int {
	return timeframeSpecs[tf].defaultCount
}

type DateRange string

const (
	Range1D  DateRange = "1D"
	Range1W  DateRange = "1W"
	Range1M  DateRange = "1M"
	Range3M  DateRange = "3M"
	Range6M  DateRange = "6M"
	Range1Y  DateRange = "1Y"
	RangeAll DateRange = "ALL"
)

var rangeDays = map[DateRange]int{
	Range1D:  1,
	Range1W:  7,
	Range1M:  30,
	Range3M:  90,
	Range6M:  180,
	Range1Y:  365,
	RangeAll: 1825,
}

func DateRanges() []DateRange {
	return []DateRange{Range1D, Range1W, Range1M, Range3M, Range6M, Range1Y, RangeAll}
}

// ParseDateRange accepts an empty string as "no range".
func ParseDateRange(s string) (DateRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	dr := DateRange(strings.ToUpper(s))
	if _, ok := rangeDays[dr]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRange, s)
	}
	return dr, nil
}

func (dr DateRange) Days() int {
	return rangeDays[dr]
}

// CandleCount is min(days*86400/interval, MaxCandles). Without a range the
// timeframe's default count is used, under the same cap.
func CandleCount(tf Timeframe, dr DateRange) (int, error) {
	interval := tf.IntervalSeconds()
	if interval == 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTimeframe, tf)
	}
	if dr == "" {
		return min(tf.DefaultCount(), MaxCandles), nil
	}
	days, ok := rangeDays[dr]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownRange, dr)
	}
	count := int64(days) * 86400 / interval
	if count > MaxCandles {
		return MaxCandles, nil
	}
	return int(count), nil
}
