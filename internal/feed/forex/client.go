package forex

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"market-dash/internal/market"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var ErrUnknownInterval = errors.New("unknown forex interval")

var intervals = map[string]struct{}{
	"1m": {}, "5m": {}, "15m": {}, "30m": {}, "1h": {}, "1d": {},
}

// Intervals lists the resolutions the timeseries endpoint accepts.
func Intervals() []string {
	return []string{"1m", "5m", "15m", "30m", "1h", "1d"}
}

func ValidInterval(interval string) bool {
	_, ok := intervals[interval]
	return ok
}

type Getter interface {
	Get(ctx context.Context, params url.Values) (map[string]any, error)
}

type BreakerSettings struct {
	// Failures is the number of consecutive failures that opens the breaker.
	Failures uint32
	Cooldown time.Duration
}

type Client struct {
	rest    Getter
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

func New(r Getter, settings BreakerSettings, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	failures := settings.Failures
	if failures == 0 {
		failures = 5
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "forex-timeseries",
		MaxRequests: 1,
		Timeout:     settings.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("forex breaker state changed", zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, market.ErrNoData) || errors.Is(err, context.Canceled)
		},
	})
	return &Client{rest: r, breaker: breaker, log: log}
}

// Timeseries fetches candles for a currency pair, oldest first. An empty
// result is market.ErrNoData.
func (c *Client) Timeseries(ctx context.Context, symbol, interval string) ([]market.Candle, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, errors.New("forex symbol is required")
	}
	if !ValidInterval(interval) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownInterval, interval)
	}
	out, err := c.breaker.Execute(func() (interface{}, error) {
		payload, err := c.rest.Get(ctx, url.Values{
			"action":   {"timeseries"},
			"symbol":   {symbol},
			"interval": {interval},
		})
		if err != nil {
			return nil, err
		}
		return market.ParseCandles(payload)
	})
	if err != nil {
		return nil, fmt.Errorf("forex %s %s: %w", symbol, interval, err)
	}
	return out.([]market.Candle), nil
}
