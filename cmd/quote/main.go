package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market-dash/internal/config"
	"market-dash/internal/feed/rest"
	"market-dash/internal/feed/stock"
	"market-dash/internal/logging"
	"market-dash/internal/market"
	"market-dash/internal/stream"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	defaultQuoteBaseURL = "https://www.alphavantage.co/query"
	defaultQuoteTimeout = 10 * time.Second
	defaultEnvFile      = ".env"
)

func main() {
	configPath := flag.String("config", "", "optional config path for provider settings")
	quoteSymbol := flag.String("quote", "", "print the latest quote for a symbol")
	searchQuery := flag.String("search", "", "print symbol search results")
	seriesSymbol := flag.String("series", "", "print the close series for a symbol")
	chartAsset := flag.String("chart", "", "print a synthetic series for a catalog asset")
	timeframe := flag.String("timeframe", "1h", "timeframe for -chart")
	dateRange := flag.String("range", "1M", "date range for -series and -chart")
	tailURL := flag.String("tail", "", "tail a stream endpoint, e.g. ws://127.0.0.1:8080/ws/chart?asset=BTCUSD&timeframe=1m")
	flag.Parse()

	if err := config.LoadEnv(defaultEnvFile); err != nil {
		fatal(err)
	}

	logCfg := config.LoggingConfig{Level: "warn"}
	baseURL := defaultQuoteBaseURL
	timeout := defaultQuoteTimeout
	apiKey := os.Getenv("DASH_QUOTE_API_KEY")
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		logCfg = cfg.Log
		baseURL = cfg.Quote.BaseURL
		timeout = cfg.Quote.Timeout
		apiKey = cfg.Quote.APIKey
	}
	log := logging.New(logCfg)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	restClient := rest.New(baseURL, timeout, log)
	restClient.SetAPIKey(apiKey)
	stocks := stock.New(restClient, log, nil)

	switch {
	case *quoteSymbol != "":
		quote, err := stocks.Quote(ctx, *quoteSymbol)
		if err != nil {
			fatal(err)
		}
		printJSON(quote)
	case *searchQuery != "":
		results, err := stocks.Search(ctx, *searchQuery)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("matches: %d\n", len(results))
		for _, r := range results {
			fmt.Printf("%-10s %-40s %s %s\n", r.Symbol, r.Name, r.Region, r.Currency)
		}
	case *seriesSymbol != "":
		dr, err := market.ParseDateRange(*dateRange)
		if err != nil {
			fatal(err)
		}
		points, err := stocks.Series(ctx, *seriesSymbol, dr)
		if err != nil {
			fatal(err)
		}
		for _, p := range points {
			fmt.Printf("%s %.4f\n", time.Unix(p.Time, 0).UTC().Format(time.RFC3339), p.Value)
		}
	case *chartAsset != "":
		printChart(*chartAsset, *timeframe, *dateRange)
	case *tailURL != "":
		tail(ctx, *tailURL, log)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func printChart(symbol, timeframe, dateRange string) {
	asset, ok := market.DefaultCatalog().Lookup(symbol)
	if !ok {
		fatal(fmt.Errorf("%w: %q", market.ErrUnknownAsset, symbol))
	}
	tf, err := market.ParseTimeframe(timeframe)
	if err != nil {
		fatal(err)
	}
	dr, err := market.ParseDateRange(dateRange)
	if err != nil {
		fatal(err)
	}
	now := time.Now().UnixNano()
	gen := market.NewGenerator(rand.NewPCG(uint64(now), 1), nil)
	series, err := gen.GenerateSeries(tf, dr, asset)
	if err != nil {
		fatal(err)
	}
	for _, c := range series {
		fmt.Printf("%s o=%g h=%g l=%g c=%g\n", time.Unix(c.Time, 0).UTC().Format(time.RFC3339), c.Open, c.High, c.Low, c.Close)
	}
	if stats, ok := market.ComputeStats(series); ok {
		fmt.Printf("candles=%d current=%g change=%g (%.2f%%) high=%g low=%g\n",
			len(series), stats.CurrentPrice, stats.PriceChange, stats.PriceChangePercent, stats.HighPrice, stats.LowPrice)
	}
}

func tail(ctx context.Context, url string, log *zap.Logger) {
	client := stream.NewClient(url, 2*time.Second, 30*time.Second, log)
	defer func() { _ = client.Close() }()
	err := client.Run(ctx, func(typ websocket.MessageType, data []byte) {
		if typ == websocket.MessageBinary {
			var frame map[string]any
			if err := msgpack.Unmarshal(data, &frame); err != nil {
				log.Warn("undecodable frame", zap.Error(err))
				return
			}
			printJSON(frame)
			return
		}
		fmt.Println(string(data))
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

func printJSON(v any) {
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(pretty))
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
