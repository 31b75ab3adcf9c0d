package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"market-dash/internal/chart"
	feed "market-dash/internal/feed/forex"
	"market-dash/internal/forex"
	"market-dash/internal/market"
	"market-dash/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 5 * time.Second
)

type Options struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	// OriginPatterns lists extra hosts allowed to open streams cross-origin.
	OriginPatterns []string
	TickCap        time.Duration
	Recorder       chart.Recorder
	Metrics        *metrics.Metrics
}

// Server upgrades HTTP requests into chart and forex streams. Every chart
// connection owns its own chart.Session.
type Server struct {
	generator *market.Generator
	catalog   *market.Catalog
	poller    *forex.Poller
	log       *zap.Logger
	opts      Options
	metrics   *metrics.Metrics
	active    atomic.Int64

	base     context.Context
	shutdown context.CancelFunc
}

func NewServer(generator *market.Generator, catalog *market.Catalog, poller *forex.Poller, log *zap.Logger, opts Options) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	base, shutdown := context.WithCancel(context.Background())
	return &Server{
		generator: generator,
		catalog:   catalog,
		poller:    poller,
		log:       log,
		opts:      opts,
		metrics:   metrics.OrNoop(opts.Metrics),
		base:      base,
		shutdown:  shutdown,
	}
}

// Close ends every open stream. Hijacked connections are not tracked by
// http.Server.Shutdown.
func (s *Server) Close() {
	s.shutdown()
}

// Active is the number of open stream connections.
func (s *Server) Active() int64 {
	return s.active.Load()
}

// ChartHandler serves /ws/chart?asset=&timeframe=&range=[&format=msgpack].
func (s *Server) ChartHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		params, err := chartParams(q.Get("asset"), q.Get("timeframe"), q.Get("range"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, ok := s.catalog.Lookup(params.Asset); !ok {
			http.Error(w, fmt.Sprintf("%v: %q", market.ErrUnknownAsset, params.Asset), http.StatusBadRequest)
			return
		}
		conn, err := s.accept(w, r)
		if err != nil {
			s.log.Warn("chart stream accept failed", zap.Error(err))
			return
		}
		c := s.open(r.Context(), conn, ParseFormat(q.Get("format")), "chart")
		defer c.close()

		session := chart.NewSession(s.generator, s.catalog, c.log, chart.Options{
			SessionID: c.id,
			TickCap:   s.opts.TickCap,
			Recorder:  s.opts.Recorder,
			Metrics:   s.opts.Metrics,
		}, func(u chart.Update) {
			c.send(u, u.Kind == chart.UpdateSnapshot)
		})
		defer session.Close()

		if _, err := session.Load(params); err != nil {
			c.send(newErrorFrame(err), true)
		}
		c.readLoop(func(msg clientMessage) error {
			if msg.Type != "load" {
				return fmt.Errorf("unsupported message type %q", msg.Type)
			}
			p, err := chartParams(msg.Asset, msg.Timeframe, msg.Range)
			if err != nil {
				return err
			}
			_, err = session.Load(p)
			if errors.Is(err, chart.ErrSuperseded) {
				return nil
			}
			return err
		})
	})
}

// ForexHandler serves /ws/forex?symbol=&interval=[&format=msgpack].
func (s *Server) ForexHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.poller == nil {
			http.Error(w, "forex stream disabled", http.StatusServiceUnavailable)
			return
		}
		q := r.URL.Query()
		symbol, interval := q.Get("symbol"), q.Get("interval")
		if interval == "" {
			interval = "5m"
		}
		if symbol == "" {
			http.Error(w, "symbol is required", http.StatusBadRequest)
			return
		}
		if !feed.ValidInterval(interval) {
			http.Error(w, fmt.Sprintf("%v: %q", feed.ErrUnknownInterval, interval), http.StatusBadRequest)
			return
		}
		conn, err := s.accept(w, r)
		if err != nil {
			s.log.Warn("forex stream accept failed", zap.Error(err))
			return
		}
		c := s.open(r.Context(), conn, ParseFormat(q.Get("format")), "forex")
		defer c.close()

		watch, err := s.poller.Watch(c.ctx, symbol, interval, func(u forex.Update) {
			c.send(u, true)
		})
		if err != nil {
			c.send(newErrorFrame(err), true)
			return
		}
		defer watch.Stop()
		c.readLoop(func(msg clientMessage) error {
			if msg.Type != "watch" {
				return fmt.Errorf("unsupported message type %q", msg.Type)
			}
			return watch.Change(msg.Symbol, msg.Interval)
		})
	})
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.opts.OriginPatterns})
}

func chartParams(asset, timeframe, dateRange string) (chart.Params, error) {
	if asset == "" {
		return chart.Params{}, errors.New("asset is required")
	}
	tf, err := market.ParseTimeframe(timeframe)
	if err != nil {
		return chart.Params{}, err
	}
	dr, err := market.ParseDateRange(dateRange)
	if err != nil {
		return chart.Params{}, err
	}
	return chart.Params{Asset: asset, Timeframe: tf, Range: dr}, nil
}

func (s *Server) open(parent context.Context, conn *websocket.Conn, format Format, kind string) *connection {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(s.base, cancel)
	id := uuid.NewString()
	c := &connection{
		id:     id,
		server: s,
		conn:   conn,
		format: format,
		ctx:    ctx,
		cancel: cancel,
		stop:   stop,
		out:    make(chan any, s.opts.SendBuffer),
		done:   make(chan struct{}),
		log:    s.log.With(zap.String("session_id", id), zap.String("stream", kind)),
	}
	s.metrics.StreamSessions.Set(float64(s.active.Add(1)))
	c.log.Info("stream opened", zap.String("format", string(format)))
	go c.writeLoop()
	return c
}

type connection struct {
	id      string
	server  *Server
	conn    *websocket.Conn
	format  Format
	ctx     context.Context
	cancel  context.CancelFunc
	stop    func() bool
	out     chan any
	done    chan struct{}
	log     *zap.Logger
	dropped atomic.Uint64
}

// send queues v for the writer. Frames that must not be lost wait for room;
// the rest are dropped when the client is not keeping up.
func (c *connection) send(v any, mustDeliver bool) {
	if mustDeliver {
		select {
		case c.out <- v:
		case <-c.ctx.Done():
		}
		return
	}
	select {
	case c.out <- v:
	default:
		if c.dropped.Add(1) == 1 {
			c.log.Warn("stream send buffer full, dropping frames")
		}
	}
}

func (c *connection) writeLoop() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			return
		case v := <-c.out:
			typ, data, err := c.format.encode(v)
			if err != nil {
				c.log.Warn("stream encode failed", zap.Error(err))
				continue
			}
			ctx, cancel := context.WithTimeout(c.ctx, c.server.opts.WriteTimeout)
			err = c.conn.Write(ctx, typ, data)
			cancel()
			if err != nil {
				c.log.Debug("stream write failed", zap.Error(err))
				c.cancel()
				return
			}
		}
	}
}

// readLoop dispatches client messages until the connection ends. Handler
// errors are reported to the client and do not close the stream.
func (c *connection) readLoop(handle func(clientMessage) error) {
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			c.log.Debug("stream read ended", zap.Error(err))
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.send(newErrorFrame(fmt.Errorf("invalid message: %w", err)), true)
			continue
		}
		if err := handle(msg); err != nil {
			c.send(newErrorFrame(err), true)
		}
	}
}

func (c *connection) close() {
	c.stop()
	c.cancel()
	<-c.done
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
	c.server.metrics.StreamSessions.Set(float64(c.server.active.Add(-1)))
	if n := c.dropped.Load(); n > 0 {
		c.log.Info("stream closed", zap.Uint64("dropped_frames", n))
		return
	}
	c.log.Info("stream closed")
}
