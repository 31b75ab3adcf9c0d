package app

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"

	"market-dash/internal/api"
	"market-dash/internal/chart"
	"market-dash/internal/config"
	feed "market-dash/internal/feed/forex"
	"market-dash/internal/feed/rest"
	"market-dash/internal/feed/stock"
	"market-dash/internal/forex"
	"market-dash/internal/market"
	"market-dash/internal/metrics"
	"market-dash/internal/state/sqlite"
	"market-dash/internal/stream"
	"market-dash/internal/timescale"
	"market-dash/internal/watchlist"

	"go.uber.org/zap"
)

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     *sqlite.Store
	watchlist *watchlist.Watchlist
	poller    *forex.Poller
	streams   *stream.Server
	timescale *timescale.Writer
	handler   http.Handler
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	m := metrics.NewNoop()
	var metricsHandler http.Handler
	if cfg.Metrics.EnabledValue() {
		prom := metrics.NewPrometheus()
		m = prom.Metrics
		metricsHandler = prom.Handler()
	}

	tsWriter, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	quoteREST := rest.New(cfg.Quote.BaseURL, cfg.Quote.Timeout, log)
	quoteREST.SetAPIKey(cfg.Quote.APIKey)
	if cfg.Quote.APIKey == "" {
		log.Warn("quote api key not set; provider calls will likely be rejected")
	}
	stocks := stock.New(quoteREST, log, m)

	forexREST := rest.New(cfg.Forex.BaseURL, cfg.Forex.Timeout, log)
	forexClient := feed.New(forexREST, feed.BreakerSettings{
		Failures: cfg.Forex.BreakerFailures,
		Cooldown: cfg.Forex.BreakerCooldown,
	}, log)
	poller, err := forex.NewPoller(forexClient, log, forex.Options{
		Schedule:     cfg.Forex.Schedule,
		FetchTimeout: cfg.Forex.Timeout,
		Metrics:      m,
	})
	if err != nil {
		_ = tsWriter.Close()
		_ = store.Close()
		return nil, err
	}

	var (
		sink     watchlist.QuoteSink
		recorder chart.Recorder
	)
	if tsWriter != nil {
		sink = tsWriter
		recorder = tsWriter
	}

	now := time.Now().UnixNano()
	generator := market.NewGenerator(rand.NewPCG(uint64(now), uint64(now>>17)|1), nil)
	catalog := Catalog(cfg.Chart.Assets)

	wl := watchlist.New(store, stocks, log, watchlist.Options{
		RefreshDelay: cfg.Watchlist.RefreshDelay,
		Sink:         sink,
		Metrics:      m,
	})
	streams := stream.NewServer(generator, catalog, poller, log, stream.Options{
		SendBuffer:     cfg.Stream.SendBuffer,
		WriteTimeout:   cfg.Stream.WriteTimeout,
		OriginPatterns: cfg.Stream.OriginPatterns,
		TickCap:        cfg.Chart.TickCap,
		Recorder:       recorder,
		Metrics:        m,
	})
	service := api.NewService(generator, catalog, stocks, forexClient, wl)
	handler := api.NewHTTPHandler(api.MakeEndpoints(service), api.HandlerConfig{
		Streams:     streams,
		Metrics:     metricsHandler,
		MetricsPath: cfg.Metrics.Path,
		Logger:      log,
	})

	return &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		watchlist: wl,
		poller:    poller,
		streams:   streams,
		timescale: tsWriter,
		handler:   handler,
	}, nil
}

// Catalog builds the chart asset catalog from config, falling back to the
// built-in assets when none are configured.
func Catalog(assets []config.AssetConfig) *market.Catalog {
	if len(assets) == 0 {
		return market.DefaultCatalog()
	}
	out := make([]market.Asset, 0, len(assets))
	for _, a := range assets {
		symbol := strings.ToUpper(strings.TrimSpace(a.Symbol))
		name := strings.TrimSpace(a.DisplayName)
		if name == "" {
			name = symbol
		}
		out = append(out, market.Asset{
			Symbol:      symbol,
			DisplayName: name,
			BasePrice:   a.BasePrice,
			Class:       market.VolatilityClass(strings.ToLower(strings.TrimSpace(a.Class))),
			Decimals:    a.Decimals,
		})
	}
	return market.NewCatalog(out)
}

func (a *App) Handler() http.Handler {
	return a.handler
}

// Run serves until ctx is cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.watchlist.Close()
	defer func() {
		if err := a.timescale.Close(); err != nil {
			a.log.Warn("timescale close failed", zap.Error(err))
		}
	}()

	if err := a.watchlist.Load(ctx); err != nil {
		return err
	}
	a.timescale.Start(ctx)
	a.poller.Start()
	defer a.poller.Stop()

	if a.cfg.Watchlist.RefreshOnStartupValue() && len(a.watchlist.Items()) > 0 {
		go func() {
			if _, err := a.watchlist.RefreshAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("startup watchlist refresh failed", zap.Error(err))
			}
		}()
	}

	listener, err := net.Listen("tcp", a.cfg.HTTP.Address)
	if err != nil {
		a.streams.Close()
		return err
	}
	server := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: a.cfg.HTTP.ReadTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()
	a.log.Info("http server listening", zap.String("address", listener.Addr().String()))

	select {
	case err := <-serveErr:
		a.streams.Close()
		return err
	case <-ctx.Done():
	}

	a.streams.Close()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown failed", zap.Error(err))
	}
	a.log.Info("http server stopped")
	return ctx.Err()
}
