package chart

import "market-dash/internal/market"

type State string

type Event string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateLoading       State = "LOADING"
	StateReady         State = "READY"
)

const (
	EventLoad   Event = "LOAD"
	EventLoaded Event = "LOADED"
	EventTick   Event = "TICK"
	EventClose  Event = "CLOSE"
)

// Params identifies what a session charts.
type Params struct {
	Asset     string           `json:"asset" msgpack:"asset"`
	Timeframe market.Timeframe `json:"timeframe" msgpack:"timeframe"`
	Range     market.DateRange `json:"range" msgpack:"range"`
}

type UpdateKind string

const (
	UpdateSnapshot UpdateKind = "snapshot"
	UpdateTick     UpdateKind = "tick"
)

// Update is delivered to subscribers after a load completes and after every
// live candle. Snapshots carry the whole series, ticks only the new candle.
type Update struct {
	Kind       UpdateKind      `json:"type" msgpack:"type"`
	Generation uint64          `json:"generation" msgpack:"generation"`
	Params     Params          `json:"params" msgpack:"params"`
	Series     []market.Candle `json:"series,omitempty" msgpack:"series,omitempty"`
	Candle     *market.Candle  `json:"candle,omitempty" msgpack:"candle,omitempty"`
	Stats      market.Stats    `json:"stats" msgpack:"stats"`
}
