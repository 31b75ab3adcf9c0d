package chart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"market-dash/internal/market"
	"market-dash/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultTickCap = 3 * time.Second
	// maxRetained bounds the in-memory series of a long-lived session.
	maxRetained = 10 * market.MaxCandles
)

// ErrSuperseded is returned by Load when a newer Load or Close won the race.
var ErrSuperseded = errors.New("chart load superseded")

// Recorder receives every live candle, tagged with the session that made it.
type Recorder interface {
	RecordCandle(session, asset string, tf market.Timeframe, c market.Candle)
}

type Options struct {
	// SessionID keys recorded candles. Empty means a fresh uuid.
	SessionID string
	TickCap   time.Duration
	Recorder  Recorder
	Metrics   *metrics.Metrics
}

// Session owns one chart: its series, stats and the live tick timer. A session
// has at most one armed timer. Every Load bumps the generation, and results or
// ticks from an older generation are dropped.
//
// The update callback runs outside the session lock but must not call Load or
// Close.
type Session struct {
	generator *market.Generator
	catalog   *market.Catalog
	log       *zap.Logger
	opts      Options
	metrics   *metrics.Metrics
	onUpdate  func(Update)

	sm         *StateMachine
	generation atomic.Uint64
	emitMu     sync.Mutex

	mu        sync.Mutex
	params    Params
	asset     market.Asset
	series    []market.Candle
	stats     market.Stats
	stopTimer context.CancelFunc
	timerDone chan struct{}
}

func NewSession(generator *market.Generator, catalog *market.Catalog, log *zap.Logger, opts Options, onUpdate func(Update)) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.TickCap <= 0 {
		opts.TickCap = DefaultTickCap
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	return &Session{
		generator: generator,
		catalog:   catalog,
		log:       log,
		opts:      opts,
		metrics:   metrics.OrNoop(opts.Metrics),
		onUpdate:  onUpdate,
		sm:        NewStateMachine(),
	}
}

// Cadence is the live tick period for tf: interval*100ms, capped.
func Cadence(tf market.Timeframe, tickCap time.Duration) time.Duration {
	cadence := time.Duration(tf.IntervalSeconds()) * 100 * time.Millisecond
	if tickCap > 0 && cadence > tickCap {
		return tickCap
	}
	return cadence
}

// Load discards the current series, generates a new one for p, publishes a
// snapshot and arms the live timer.
func (s *Session) Load(p Params) (Update, error) {
	asset, ok := s.catalog.Lookup(p.Asset)
	if !ok {
		return Update{}, fmt.Errorf("%w: %q", market.ErrUnknownAsset, p.Asset)
	}
	p.Asset = asset.Symbol
	if _, err := market.CandleCount(p.Timeframe, p.Range); err != nil {
		return Update{}, err
	}

	s.mu.Lock()
	gen := s.generation.Add(1)
	s.disarmLocked()
	s.sm.Apply(EventLoad)
	s.params = p
	s.asset = asset
	s.series = nil
	s.stats = market.Stats{}
	s.mu.Unlock()

	series, err := s.generator.GenerateSeries(p.Timeframe, p.Range, asset)
	if err != nil {
		return Update{}, err
	}
	stats, _ := market.ComputeStats(series)
	s.metrics.SeriesGenerated.Inc()

	s.mu.Lock()
	if s.generation.Load() != gen {
		s.mu.Unlock()
		return Update{}, ErrSuperseded
	}
	s.series = series
	s.stats = stats
	s.sm.Apply(EventLoaded)
	update := Update{
		Kind:       UpdateSnapshot,
		Generation: gen,
		Params:     p,
		Series:     append([]market.Candle(nil), series...),
		Stats:      stats,
	}
	s.mu.Unlock()

	s.log.Debug("chart loaded",
		zap.String("asset", p.Asset),
		zap.String("timeframe", string(p.Timeframe)),
		zap.String("range", string(p.Range)),
		zap.Int("candles", len(series)),
		zap.Uint64("generation", gen),
	)
	s.emit(update)
	s.arm(gen, Cadence(p.Timeframe, s.opts.TickCap))
	return update, nil
}

// Snapshot returns the current series and stats when the session is ready.
func (s *Session) Snapshot() (Update, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sm.Current() != StateReady || len(s.series) == 0 {
		return Update{}, false
	}
	return Update{
		Kind:       UpdateSnapshot,
		Generation: s.generation.Load(),
		Params:     s.params,
		Series:     append([]market.Candle(nil), s.series...),
		Stats:      s.stats,
	}, true
}

func (s *Session) State() State {
	return s.sm.Current()
}

// Close cancels the live timer and waits for it to stop.
func (s *Session) Close() {
	s.mu.Lock()
	s.generation.Add(1)
	done := s.timerDone
	s.disarmLocked()
	s.sm.Apply(EventClose)
	s.series = nil
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *Session) arm(gen uint64, cadence time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation.Load() != gen {
		return
	}
	s.disarmLocked()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.stopTimer = cancel
	s.timerDone = done
	go func() {
		defer close(done)
		ticker := time.NewTicker(cadence)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(gen)
			}
		}
	}()
}

func (s *Session) disarmLocked() {
	if s.stopTimer != nil {
		s.stopTimer()
		s.stopTimer = nil
		s.timerDone = nil
	}
}

func (s *Session) tick(gen uint64) {
	s.mu.Lock()
	if s.generation.Load() != gen || s.sm.Current() != StateReady || len(s.series) == 0 {
		s.mu.Unlock()
		return
	}
	last := s.series[len(s.series)-1]
	candle := s.generator.NextCandle(last, s.params.Timeframe.IntervalSeconds(), s.asset)
	s.series = append(s.series, candle)
	if len(s.series) > maxRetained {
		s.series = append([]market.Candle(nil), s.series[len(s.series)-maxRetained:]...)
	}
	s.stats.ApplyTick(candle)
	s.sm.Apply(EventTick)
	params := s.params
	update := Update{
		Kind:       UpdateTick,
		Generation: gen,
		Params:     params,
		Candle:     &candle,
		Stats:      s.stats,
	}
	s.mu.Unlock()

	s.metrics.LiveTicks.Inc()
	if s.opts.Recorder != nil {
		s.opts.Recorder.RecordCandle(s.opts.SessionID, params.Asset, params.Timeframe, candle)
	}
	s.emit(update)
}

// emit delivers u unless a newer generation has started since it was built.
func (s *Session) emit(u Update) {
	if s.onUpdate == nil {
		return
	}
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.generation.Load() != u.Generation {
		return
	}
	s.onUpdate(u)
}
