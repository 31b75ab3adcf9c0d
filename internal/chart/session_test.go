package chart

import (
	"errors"
	"math/rand/v2"
	"sort"
	"sync"
	"testing"
	"time"

	"market-dash/internal/market"

	"go.uber.org/zap"
)

type collector struct {
	mu      sync.Mutex
	updates []Update
}

func (c *collector) add(u Update) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, u)
}

func (c *collector) snapshot() []Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Update(nil), c.updates...)
}

func (c *collector) ticks() int {
	n := 0
	for _, u := range c.snapshot() {
		if u.Kind == UpdateTick {
			n++
		}
	}
	return n
}

type recorder struct {
	mu       sync.Mutex
	candles  []market.Candle
	sessions map[string]int
}

func (r *recorder) RecordCandle(session, asset string, tf market.Timeframe, c market.Candle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candles = append(r.candles, c)
	if r.sessions == nil {
		r.sessions = make(map[string]int)
	}
	r.sessions[session]++
}

func (r *recorder) sessionIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.candles)
}

func newTestSession(tickCap time.Duration, rec Recorder) (*Session, *collector) {
	c := &collector{}
	gen := market.NewGenerator(rand.NewPCG(1, 2), nil)
	s := NewSession(gen, market.DefaultCatalog(), zap.NewNop(), Options{TickCap: tickCap, Recorder: rec}, c.add)
	return s, c
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestCadence(t *testing.T) {
	if got := Cadence(market.Timeframe1m, 3*time.Second); got != 3*time.Second {
		t.Fatalf("expected cap 3s for 1m, got %v", got)
	}
	if got := Cadence(market.Timeframe1m, 10*time.Second); got != 6*time.Second {
		t.Fatalf("expected 6s for 1m under a 10s cap, got %v", got)
	}
	if got := Cadence(market.Timeframe1d, 3*time.Second); got != 3*time.Second {
		t.Fatalf("expected cap for 1d, got %v", got)
	}
}

func TestLoadPublishesSnapshot(t *testing.T) {
	s, c := newTestSession(time.Hour, nil)
	defer s.Close()
	update, err := s.Load(Params{Asset: "xauusd", Timeframe: market.Timeframe1h, Range: market.Range1W})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.State() != StateReady {
		t.Fatalf("expected %s, got %s", StateReady, s.State())
	}
	if update.Kind != UpdateSnapshot || len(update.Series) != 168 {
		t.Fatalf("unexpected snapshot: kind=%s candles=%d", update.Kind, len(update.Series))
	}
	if update.Params.Asset != "XAUUSD" {
		t.Fatalf("expected canonical asset symbol, got %q", update.Params.Asset)
	}
	want, _ := market.ComputeStats(update.Series)
	if update.Stats != want {
		t.Fatalf("stats mismatch: %+v vs %+v", update.Stats, want)
	}
	got := c.snapshot()
	if len(got) != 1 || got[0].Generation != update.Generation {
		t.Fatalf("expected one published snapshot, got %d", len(got))
	}
	if _, ok := s.Snapshot(); !ok {
		t.Fatalf("expected snapshot while ready")
	}
}

func TestLoadRejectsUnknownInputs(t *testing.T) {
	s, _ := newTestSession(time.Hour, nil)
	defer s.Close()
	if _, err := s.Load(Params{Asset: "NOPE", Timeframe: market.Timeframe1h}); !errors.Is(err, market.ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}
	if _, err := s.Load(Params{Asset: "XAUUSD", Timeframe: "2h"}); !errors.Is(err, market.ErrUnknownTimeframe) {
		t.Fatalf("expected ErrUnknownTimeframe, got %v", err)
	}
	if s.State() != StateUninitialized {
		t.Fatalf("failed validation must not change state, got %s", s.State())
	}
}

func TestTicksAppendAndRecord(t *testing.T) {
	rec := &recorder{}
	s, c := newTestSession(10*time.Millisecond, rec)
	defer s.Close()
	snap, err := s.Load(Params{Asset: "BTCUSD", Timeframe: market.Timeframe1m, Range: market.Range1D})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return c.ticks() >= 3 })

	prevTime := snap.Series[len(snap.Series)-1].Time
	high, low := snap.Stats.HighPrice, snap.Stats.LowPrice
	for _, u := range c.snapshot()[1:] {
		if u.Kind != UpdateTick || u.Candle == nil {
			t.Fatalf("expected tick update, got %+v", u)
		}
		if u.Candle.Time <= prevTime {
			t.Fatalf("tick time %d not after %d", u.Candle.Time, prevTime)
		}
		if !u.Candle.Valid() {
			t.Fatalf("tick violates ohlc ordering: %+v", u.Candle)
		}
		if u.Stats.HighPrice < high || u.Stats.LowPrice > low {
			t.Fatalf("high/low must only widen")
		}
		if u.Stats.OpenPrice != snap.Stats.OpenPrice {
			t.Fatalf("open price must stay fixed")
		}
		prevTime, high, low = u.Candle.Time, u.Stats.HighPrice, u.Stats.LowPrice
	}
	if rec.count() < 3 {
		t.Fatalf("expected recorder to see ticks, got %d", rec.count())
	}
	current, _ := s.Snapshot()
	if len(current.Series) <= len(snap.Series) {
		t.Fatalf("expected live candles appended to series")
	}
}

func TestSessionsRecordUnderOwnID(t *testing.T) {
	rec := &recorder{}
	gen := market.NewGenerator(rand.NewPCG(1, 2), nil)
	params := Params{Asset: "XAUUSD", Timeframe: market.Timeframe1m, Range: market.Range1D}

	named := NewSession(gen, market.DefaultCatalog(), zap.NewNop(), Options{SessionID: "viewer-a", TickCap: 5 * time.Millisecond, Recorder: rec}, nil)
	defer named.Close()
	anon := NewSession(gen, market.DefaultCatalog(), zap.NewNop(), Options{TickCap: 5 * time.Millisecond, Recorder: rec}, nil)
	defer anon.Close()
	for _, s := range []*Session{named, anon} {
		if _, err := s.Load(params); err != nil {
			t.Fatalf("load: %v", err)
		}
	}
	waitFor(t, 2*time.Second, func() bool { return len(rec.sessionIDs()) == 2 })

	ids := rec.sessionIDs()
	if ids[0] == ids[1] || ids[0] == "" || ids[1] == "" {
		t.Fatalf("expected two distinct session ids, got %q", ids)
	}
	if ids[0] != "viewer-a" && ids[1] != "viewer-a" {
		t.Fatalf("expected configured session id to be used, got %q", ids)
	}
}

func TestReloadDropsStaleGeneration(t *testing.T) {
	s, c := newTestSession(5*time.Millisecond, nil)
	defer s.Close()
	first, err := s.Load(Params{Asset: "XAUUSD", Timeframe: market.Timeframe1m, Range: market.Range1D})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return c.ticks() >= 1 })

	second, err := s.Load(Params{Asset: "XAUUSD", Timeframe: market.Timeframe5m, Range: market.Range1D})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if second.Generation <= first.Generation {
		t.Fatalf("expected generation to advance")
	}
	mark := len(c.snapshot())
	time.Sleep(50 * time.Millisecond)
	for _, u := range c.snapshot()[mark:] {
		if u.Generation != second.Generation {
			t.Fatalf("stale update delivered after reload: %+v", u.Params)
		}
		if u.Params.Timeframe != market.Timeframe5m {
			t.Fatalf("tick carries old timeframe %s", u.Params.Timeframe)
		}
	}
}

func TestCloseStopsTimer(t *testing.T) {
	s, c := newTestSession(5*time.Millisecond, nil)
	if _, err := s.Load(Params{Asset: "XAUUSD", Timeframe: market.Timeframe1m, Range: market.Range1D}); err != nil {
		t.Fatalf("load: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return c.ticks() >= 1 })
	s.Close()
	if s.State() != StateUninitialized {
		t.Fatalf("expected %s after close, got %s", StateUninitialized, s.State())
	}
	count := len(c.snapshot())
	time.Sleep(30 * time.Millisecond)
	if len(c.snapshot()) != count {
		t.Fatalf("ticks delivered after close")
	}
	if _, ok := s.Snapshot(); ok {
		t.Fatalf("expected no snapshot after close")
	}
}
