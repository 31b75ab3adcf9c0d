package market

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// priceFloorRatio keeps synthetic prices positive for low-priced assets.
const priceFloorRatio = 0.01

// Generator produces synthetic OHLC data. It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
	// floorRatio is the fraction of the base price a low may not cross.
	floorRatio float64
}

// NewGenerator uses src for randomness and now as the wall clock. Nil values
// fall back to a time-seeded source and time.Now.
func NewGenerator(src rand.Source, now func() time.Time) *Generator {
	if src == nil {
		seed := uint64(time.Now().UnixNano())
		src = rand.NewPCG(seed, seed>>17|1)
	}
	if now == nil {
		now = time.Now
	}
	return &Generator{rnd: rand.New(src), now: now, floorRatio: priceFloorRatio}
}

// GenerateSeries builds a random-walk series ending at the current time. One
// trend direction and strength are drawn per series and ramp in linearly.
func (g *Generator) GenerateSeries(tf Timeframe, dr DateRange, asset Asset) ([]Candle, error) {
	count, err := CandleCount(tf, dr)
	if err != nil {
		return nil, err
	}
	if asset.BasePrice <= 0 {
		return nil, fmt.Errorf("asset %s: base price must be > 0", asset.Symbol)
	}
	series := make([]Candle, 0, count)
	if count == 0 {
		return series, nil
	}
	interval := tf.IntervalSeconds()
	vf := asset.Class.Factor()
	scale := math.Sqrt(float64(interval) / 60)

	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now().Unix()
	running := asset.BasePrice * g.uniform(0.9, 1.1)
	direction := 1.0
	if g.rnd.Float64() < 0.5 {
		direction = -1
	}
	strength := g.rnd.Float64() * 0.5

	for i := count - 1; i >= 0; i-- {
		progress := float64(count-i) / float64(count)
		volatility := g.uniform(-0.5, 0.5) * scale * 5 * vf
		trend := direction * strength * progress * 50 * vf
		open := running + volatility + trend
		spread := g.rnd.Float64() * scale * 10 * vf
		candle := g.candle(now-int64(i)*interval, open, spread, asset)
		series = append(series, candle)
		running = candle.Close
	}
	return series, nil
}

// NextCandle draws the live candle following prev. It has no trend component
// and smaller multipliers than the historical walk. The timestamp is the wall
// clock, moved forward when needed so times stay strictly increasing.
func (g *Generator) NextCandle(prev Candle, interval int64, asset Asset) Candle {
	vf := asset.Class.Factor()
	scale := math.Sqrt(float64(interval) / 60)

	g.mu.Lock()
	defer g.mu.Unlock()
	open := prev.Close + g.uniform(-0.5, 0.5)*scale*3*vf
	spread := g.rnd.Float64() * scale * 5 * vf
	ts := g.now().Unix()
	if ts <= prev.Time {
		ts = prev.Time + 1
	}
	return g.candle(ts, open, spread, asset)
}

func (g *Generator) candle(ts int64, open, spread float64, asset Asset) Candle {
	high := open + spread
	low := open - spread
	closePrice := min(max(low+g.rnd.Float64()*(high-low), low), high)
	if floor := asset.BasePrice * g.floorRatio; low < floor {
		shift := floor - low
		open += shift
		high += shift
		low += shift
		closePrice += shift
	}
	return Candle{
		Time:  ts,
		Open:  RoundPrice(open, asset.Decimals),
		High:  RoundPrice(high, asset.Decimals),
		Low:   RoundPrice(low, asset.Decimals),
		Close: RoundPrice(closePrice, asset.Decimals),
	}
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + g.rnd.Float64()*(hi-lo)
}

// RoundPrice rounds half away from zero; decimals <= 0 returns v unchanged.
func RoundPrice(v float64, decimals int) float64 {
	if decimals <= 0 {
		return v
	}
	return decimal.NewFromFloat(v).Round(int32(decimals)).InexactFloat64()
}
