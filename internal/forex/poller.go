package forex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	feed "market-dash/internal/feed/forex"
	"market-dash/internal/market"
	"market-dash/internal/metrics"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule fires at second zero of every wall-clock minute.
const DefaultSchedule = "0 * * * * *"

const defaultFetchTimeout = 15 * time.Second

var ErrPollerStopped = errors.New("forex poller stopped")

type Fetcher interface {
	Timeseries(ctx context.Context, symbol, interval string) ([]market.Candle, error)
}

type Options struct {
	Schedule     string
	FetchTimeout time.Duration
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

// Update is one refresh of a watched pair. Error is set when the fetch failed;
// the candles of the previous successful refresh are not repeated.
type Update struct {
	Symbol        string          `json:"symbol" msgpack:"symbol"`
	Interval      string          `json:"interval" msgpack:"interval"`
	Candles       []market.Candle `json:"candles,omitempty" msgpack:"candles,omitempty"`
	Price         float64         `json:"price" msgpack:"price"`
	Change        float64         `json:"change" msgpack:"change"`
	Decimals      int             `json:"decimals" msgpack:"decimals"`
	UpdatedAt     time.Time       `json:"updatedAt" msgpack:"updatedAt"`
	NextRefreshIn int             `json:"nextRefreshIn" msgpack:"nextRefreshIn"`
	Error         string          `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Poller refetches watched pairs on a cron schedule shared by all watches.
type Poller struct {
	cron     *cron.Cron
	schedule cron.Schedule
	fetcher  Fetcher
	log      *zap.Logger
	opts     Options
	metrics  *metrics.Metrics

	mu      sync.Mutex
	stopped bool
}

func NewPoller(fetcher Fetcher, log *zap.Logger, opts Options) (*Poller, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if strings.TrimSpace(opts.Schedule) == "" {
		opts.Schedule = DefaultSchedule
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("forex schedule %q: %w", opts.Schedule, err)
	}
	return &Poller{
		cron:     cron.New(cron.WithSeconds()),
		schedule: schedule,
		fetcher:  fetcher,
		log:      log,
		opts:     opts,
		metrics:  metrics.OrNoop(opts.Metrics),
	}, nil
}

func (p *Poller) Start() {
	p.cron.Start()
	p.log.Info("forex poller started", zap.String("schedule", p.opts.Schedule))
}

// Stop halts the scheduler and waits for running refreshes to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	<-p.cron.Stop().Done()
	p.log.Info("forex poller stopped")
}

// NextRefreshIn is the whole number of seconds until the schedule fires next.
func (p *Poller) NextRefreshIn(now time.Time) int {
	next := p.schedule.Next(now)
	if next.IsZero() {
		return 0
	}
	secs := int(next.Sub(now).Round(time.Second) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}

// Fetch runs one refresh outside any watch.
func (p *Poller) Fetch(ctx context.Context, symbol, interval string) Update {
	ctx, cancel := context.WithTimeout(ctx, p.opts.FetchTimeout)
	defer cancel()
	now := p.opts.Now()
	update := Update{
		Symbol:        symbol,
		Interval:      interval,
		Decimals:      market.PairDecimals(symbol),
		UpdatedAt:     now.UTC(),
		NextRefreshIn: p.NextRefreshIn(now),
	}
	p.metrics.ForexFetches.Inc()
	candles, err := p.fetcher.Timeseries(ctx, symbol, interval)
	if err == nil && len(candles) == 0 {
		err = market.ErrNoData
	}
	if err != nil {
		p.metrics.ForexFetchFailed.Inc()
		p.log.Warn("forex refresh failed", zap.String("symbol", symbol), zap.String("interval", interval), zap.Error(err))
		update.Error = err.Error()
		return update
	}
	update.Candles = candles
	update.Price, update.Change = LastChange(candles)
	return update
}

// LastChange returns the last close and its difference from the close before
// it. A single candle has no change.
func LastChange(candles []market.Candle) (price, change float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	price = candles[len(candles)-1].Close
	if len(candles) > 1 {
		change = price - candles[len(candles)-2].Close
	}
	return price, change
}

// Watch fetches symbol at interval immediately and then on every scheduled
// tick until the watch is stopped or re-targeted.
func (p *Poller) Watch(ctx context.Context, symbol, interval string, onUpdate func(Update)) (*Watch, error) {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return nil, ErrPollerStopped
	}
	ctx, cancel := context.WithCancel(ctx)
	w := &Watch{poller: p, ctx: ctx, cancel: cancel, onUpdate: onUpdate}
	if err := w.Change(symbol, interval); err != nil {
		cancel()
		return nil, err
	}
	return w, nil
}

// Watch is one pair being polled. At most one schedule entry is live per watch.
type Watch struct {
	poller   *Poller
	ctx      context.Context
	cancel   context.CancelFunc
	onUpdate func(Update)
	emitMu   sync.Mutex

	mu         sync.Mutex
	symbol     string
	interval   string
	entry      cron.EntryID
	generation uint64
	latest     *Update
}

// Change re-targets the watch. The previous schedule entry is removed before
// the new one is added and results for the old target are discarded.
func (w *Watch) Change(symbol, interval string) error {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return errors.New("forex symbol is required")
	}
	if !feed.ValidInterval(interval) {
		return fmt.Errorf("%w: %q", feed.ErrUnknownInterval, interval)
	}
	w.mu.Lock()
	if w.ctx.Err() != nil {
		w.mu.Unlock()
		return ErrPollerStopped
	}
	w.generation++
	gen := w.generation
	if w.entry != 0 {
		w.poller.cron.Remove(w.entry)
	}
	w.symbol = symbol
	w.interval = interval
	w.latest = nil
	w.entry = w.poller.cron.Schedule(w.poller.schedule, cron.FuncJob(func() { w.refresh(gen) }))
	w.mu.Unlock()

	w.refresh(gen)
	return nil
}

// Stop removes the schedule entry. Pending results are discarded.
func (w *Watch) Stop() {
	w.mu.Lock()
	w.generation++
	if w.entry != 0 {
		w.poller.cron.Remove(w.entry)
		w.entry = 0
	}
	w.mu.Unlock()
	w.cancel()
}

// Latest returns the most recent successful update for the current target.
func (w *Watch) Latest() (Update, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.latest == nil {
		return Update{}, false
	}
	return *w.latest, true
}

func (w *Watch) refresh(gen uint64) {
	w.mu.Lock()
	if gen != w.generation {
		w.mu.Unlock()
		return
	}
	symbol, interval := w.symbol, w.interval
	w.mu.Unlock()

	update := w.poller.Fetch(w.ctx, symbol, interval)
	if w.ctx.Err() != nil {
		return
	}

	w.emitMu.Lock()
	defer w.emitMu.Unlock()
	w.mu.Lock()
	if gen != w.generation {
		w.mu.Unlock()
		return
	}
	if update.Error == "" {
		latest := update
		w.latest = &latest
	}
	w.mu.Unlock()
	if w.onUpdate != nil {
		w.onUpdate(update)
	}
}
