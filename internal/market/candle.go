package market

// Candle is one OHLC bar. Time is unix seconds at the bar open.
type Candle struct {
	Time  int64   `json:"time" msgpack:"time"`
	Open  float64 `json:"open" msgpack:"open"`
	High  float64 `json:"high" msgpack:"high"`
	Low   float64 `json:"low" msgpack:"low"`
	Close float64 `json:"close" msgpack:"close"`
}

// Valid reports whether low <= min(open, close) and max(open, close) <= high.
func (c Candle) Valid() bool {
	return c.Low <= c.Open && c.Low <= c.Close && c.Open <= c.High && c.Close <= c.High
}
