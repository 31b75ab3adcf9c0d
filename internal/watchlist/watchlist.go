package watchlist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"market-dash/internal/market"
	"market-dash/internal/metrics"
	"market-dash/internal/state"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// StorageKey is where the list is persisted. The value is a JSON array of items.
const StorageKey = "stock_watchlist"

const DefaultRefreshDelay = time.Second

var ErrSymbolRequired = errors.New("symbol is required")

type Item struct {
	Symbol  string    `json:"symbol"`
	Name    string    `json:"name"`
	AddedAt time.Time `json:"addedAt"`
}

type QuoteFetcher interface {
	Quote(ctx context.Context, symbol string) (market.Quote, error)
}

// QuoteSink receives every quote fetched during a refresh.
type QuoteSink interface {
	RecordQuote(q market.Quote, at time.Time)
}

type Options struct {
	// RefreshDelay is the pause between consecutive quote requests.
	RefreshDelay time.Duration
	Sink         QuoteSink
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

// Watchlist is an ordered set of symbols with a quote cache. Symbols are
// unique and compared case-sensitively.
type Watchlist struct {
	store   state.Store
	fetcher QuoteFetcher
	log     *zap.Logger
	opts    Options
	metrics *metrics.Metrics

	mu     sync.RWMutex
	items  []Item
	quotes map[string]market.Quote

	refresh    singleflight.Group
	refreshing atomic.Bool

	// done ends any shared refresh run once the watchlist is closed.
	done     context.Context
	shutdown context.CancelFunc
}

func New(store state.Store, fetcher QuoteFetcher, log *zap.Logger, opts Options) *Watchlist {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.RefreshDelay < 0 {
		opts.RefreshDelay = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	done, shutdown := context.WithCancel(context.Background())
	return &Watchlist{
		store:    store,
		fetcher:  fetcher,
		log:      log,
		opts:     opts,
		metrics:  metrics.OrNoop(opts.Metrics),
		quotes:   make(map[string]market.Quote),
		done:     done,
		shutdown: shutdown,
	}
}

// Close stops any in-flight refresh. Later refreshes fail with
// context.Canceled.
func (w *Watchlist) Close() {
	w.shutdown()
}

// Load replaces the in-memory list with the persisted one. A corrupt stored
// value is logged and discarded, leaving the list empty.
func (w *Watchlist) Load(ctx context.Context) error {
	var items []Item
	_, err := state.LoadJSON(ctx, w.store, StorageKey, &items)
	if err != nil {
		if !errors.Is(err, state.ErrCorrupt) {
			return err
		}
		w.log.Warn("discarding corrupt watchlist", zap.Error(err))
		items = nil
	}
	items = dedupe(items)
	w.mu.Lock()
	w.items = items
	w.quotes = make(map[string]market.Quote)
	w.mu.Unlock()
	w.metrics.WatchlistSize.Set(float64(len(items)))
	w.log.Info("watchlist loaded", zap.Int("items", len(items)))
	return nil
}

// Add appends symbol unless it is already present. It reports whether the list
// changed. On a persistence error the in-memory change is kept.
func (w *Watchlist) Add(ctx context.Context, symbol, name string) (bool, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return false, ErrSymbolRequired
	}
	w.mu.Lock()
	if indexOf(w.items, symbol) >= 0 {
		w.mu.Unlock()
		return false, nil
	}
	w.items = append(w.items, Item{Symbol: symbol, Name: strings.TrimSpace(name), AddedAt: w.opts.Now().UTC()})
	snapshot := append([]Item(nil), w.items...)
	w.mu.Unlock()
	w.metrics.WatchlistSize.Set(float64(len(snapshot)))
	return true, w.persist(ctx, snapshot)
}

// Remove drops symbol and its cached quote. It reports whether the list changed.
func (w *Watchlist) Remove(ctx context.Context, symbol string) (bool, error) {
	symbol = strings.TrimSpace(symbol)
	w.mu.Lock()
	idx := indexOf(w.items, symbol)
	if idx < 0 {
		w.mu.Unlock()
		return false, nil
	}
	w.items = append(w.items[:idx:idx], w.items[idx+1:]...)
	delete(w.quotes, symbol)
	snapshot := append([]Item(nil), w.items...)
	w.mu.Unlock()
	w.metrics.WatchlistSize.Set(float64(len(snapshot)))
	return true, w.persist(ctx, snapshot)
}

func (w *Watchlist) Contains(symbol string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return indexOf(w.items, symbol) >= 0
}

// Items returns a copy of the list in insertion order.
func (w *Watchlist) Items() []Item {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]Item(nil), w.items...)
}

// Quotes returns a copy of the quotes from the last refresh.
func (w *Watchlist) Quotes() map[string]market.Quote {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]market.Quote, len(w.quotes))
	for k, v := range w.quotes {
		out[k] = v
	}
	return out
}

func (w *Watchlist) Refreshing() bool {
	return w.refreshing.Load()
}

// RefreshAll fetches a quote for every item, one at a time in list order,
// pausing RefreshDelay between requests. Failed symbols are logged and left
// out. The fresh map replaces the cache. Concurrent callers share one
// in-flight refresh, which outlives any single caller's cancellation but not
// Close.
func (w *Watchlist) RefreshAll(ctx context.Context) (map[string]market.Quote, error) {
	ch := w.refresh.DoChan("refresh", func() (interface{}, error) {
		if err := w.done.Err(); err != nil {
			return nil, err
		}
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		stop := context.AfterFunc(w.done, cancel)
		defer stop()
		return w.refreshAll(runCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return copyQuotes(res.Val.(map[string]market.Quote)), nil
	}
}

func (w *Watchlist) refreshAll(ctx context.Context) (map[string]market.Quote, error) {
	w.refreshing.Store(true)
	defer w.refreshing.Store(false)

	items := w.Items()
	fresh := make(map[string]market.Quote, len(items))
	started := time.Now()
	failed := 0
	for i, item := range items {
		if i > 0 {
			if err := sleep(ctx, w.opts.RefreshDelay); err != nil {
				return nil, err
			}
		}
		quote, err := w.fetcher.Quote(ctx, item.Symbol)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failed++
			w.log.Warn("quote refresh failed", zap.String("symbol", item.Symbol), zap.Error(err))
			continue
		}
		if item.Name != "" {
			quote.Name = item.Name
		}
		fresh[item.Symbol] = quote
		if w.opts.Sink != nil {
			w.opts.Sink.RecordQuote(quote, w.opts.Now())
		}
	}

	w.mu.Lock()
	// Symbols removed while the refresh ran stay removed.
	for symbol := range fresh {
		if indexOf(w.items, symbol) < 0 {
			delete(fresh, symbol)
		}
	}
	w.quotes = fresh
	w.mu.Unlock()

	w.metrics.WatchlistRefreshes.Inc()
	w.log.Info("watchlist refreshed",
		zap.Int("items", len(items)),
		zap.Int("quotes", len(fresh)),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(started)),
	)
	return fresh, nil
}

func (w *Watchlist) persist(ctx context.Context, items []Item) error {
	if err := state.SaveJSON(ctx, w.store, StorageKey, items); err != nil {
		w.log.Warn("watchlist persist failed", zap.Error(err))
		return fmt.Errorf("persist watchlist: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func indexOf(items []Item, symbol string) int {
	for i, item := range items {
		if item.Symbol == symbol {
			return i
		}
	}
	return -1
}

func dedupe(items []Item) []Item {
	out := items[:0:0]
	for _, item := range items {
		if item.Symbol == "" || indexOf(out, item.Symbol) >= 0 {
			continue
		}
		out = append(out, item)
	}
	return out
}

func copyQuotes(in map[string]market.Quote) map[string]market.Quote {
	out := make(map[string]market.Quote, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
