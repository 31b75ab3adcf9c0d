package market

// Stats summarises a chart series.
type Stats struct {
	CurrentPrice       float64 `json:"currentPrice" msgpack:"currentPrice"`
	OpenPrice          float64 `json:"openPrice" msgpack:"openPrice"`
	PreviousClose      float64 `json:"previousClose" msgpack:"previousClose"`
	PriceChange        float64 `json:"priceChange" msgpack:"priceChange"`
	PriceChangePercent float64 `json:"priceChangePercent" msgpack:"priceChangePercent"`
	HighPrice          float64 `json:"highPrice" msgpack:"highPrice"`
	LowPrice           float64 `json:"lowPrice" msgpack:"lowPrice"`
}

// ComputeStats derives stats from a full series. It reports false for an
// empty series.
func ComputeStats(series []Candle) (Stats, bool) {
	if len(series) == 0 {
		return Stats{}, false
	}
	first := series[0]
	last := series[len(series)-1]
	s := Stats{
		CurrentPrice:  last.Close,
		OpenPrice:     first.Open,
		PreviousClose: first.Open,
		HighPrice:     first.High,
		LowPrice:      first.Low,
	}
	if len(series) > 1 {
		s.PreviousClose = series[len(series)-2].Close
	}
	for _, c := range series[1:] {
		s.HighPrice = max(s.HighPrice, c.High)
		s.LowPrice = min(s.LowPrice, c.Low)
	}
	s.setChange()
	return s, true
}

// ApplyTick folds a live candle into the stats. The open price stays fixed and
// the high/low only widen; they are never recomputed from the series.
func (s *Stats) ApplyTick(c Candle) {
	s.PreviousClose = s.CurrentPrice
	s.CurrentPrice = c.Close
	s.HighPrice = max(s.HighPrice, c.High)
	s.LowPrice = min(s.LowPrice, c.Low)
	s.setChange()
}

func (s *Stats) setChange() {
	s.PriceChange = s.CurrentPrice - s.OpenPrice
	if s.OpenPrice == 0 {
		s.PriceChangePercent = 0
		return
	}
	s.PriceChangePercent = s.PriceChange / s.OpenPrice * 100
}
