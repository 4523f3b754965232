// Package ticker keeps the price of one configured asset pair current, by
// polling its exchange or by following the exchange's websocket feed.
package ticker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"coin/internal/download"
	"coin/internal/exchange"
	"coin/internal/metrics"
	"coin/internal/model"
)

var (
	// ErrUnknownExchange is returned for tickers on exchanges that are not loaded.
	ErrUnknownExchange = errors.New("ticker exchange not loaded")
	// ErrUnknownPair is returned when a streaming ticker's pair is not in the
	// exchange catalog; streams need the base and quote symbols.
	ErrUnknownPair = errors.New("asset pair not in exchange catalog")
)

// Sink receives every price a ticker fetched.
type Sink interface {
	ProcessPrice(ctx context.Context, price model.Price)
}

// SinkFunc is a function adapter for Sink.
type SinkFunc func(context.Context, model.Price)

func (f SinkFunc) ProcessPrice(ctx context.Context, p model.Price) {
	f(ctx, p)
}

// Lookup resolves exchange codes. *exchange.Registry implements it.
type Lookup interface {
	FindByCode(code string) (exchange.Exchange, bool)
}

// Ticker refreshes one asset pair.
type Ticker struct {
	settings model.TickerSettings
	exchange exchange.Exchange
	pair     model.AssetPair
	dl       download.Fetcher
	sink     Sink
	logger   *slog.Logger
	metrics  *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Ticker.
type Option func(*Ticker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Ticker) {
		t.logger = logger
	}
}

// WithMetrics sets the collectors price updates are recorded on.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Ticker) {
		t.metrics = m
	}
}

// New resolves the ticker's exchange and pair. A polled pair that is not in
// the catalog yet is requested by its identifier alone.
func New(settings model.TickerSettings, lookup Lookup, dl download.Fetcher, sink Sink, opts ...Option) (*Ticker, error) {
	ex, ok := lookup.FindByCode(settings.Exchange)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExchange, settings.Exchange)
	}
	if settings.Refresh <= 0 {
		return nil, fmt.Errorf("ticker %s %s: refresh must be positive", settings.Exchange, settings.AssetPair)
	}

	t := &Ticker{
		settings: settings,
		exchange: ex,
		dl:       dl,
		sink:     sink,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("exchange", ex.Code(), "pair", settings.AssetPair)

	pair, found := findPair(ex.AssetPairs(), settings.AssetPair)
	switch {
	case found:
		t.pair = pair
	case settings.Stream:
		return nil, fmt.Errorf("%w: %s %s", ErrUnknownPair, ex.Code(), settings.AssetPair)
	default:
		t.logger.Warn("asset pair not in catalog, fetching by identifier")
		t.pair = model.AssetPair{Pair: settings.AssetPair}
	}
	return t, nil
}

// DefaultRefresh is the refresh interval of the default ticker.
const DefaultRefresh = 3 * time.Second

// Default picks the ticker used when none is configured: the first pair of
// the first exchange, in registry order, that has a catalog.
func Default(exchanges []exchange.Exchange) (model.TickerSettings, bool) {
	for _, ex := range exchanges {
		pairs := ex.AssetPairs()
		if len(pairs) == 0 {
			continue
		}
		return model.TickerSettings{
			Exchange:     ex.Code(),
			AssetPair:    pairs[0].Pair,
			Refresh:      DefaultRefresh,
			DefaultLabel: ex.DefaultLabel(),
		}, true
	}
	return model.TickerSettings{}, false
}

func findPair(pairs []model.AssetPair, id string) (model.AssetPair, bool) {
	for _, p := range pairs {
		if strings.EqualFold(p.Pair, id) {
			return p, true
		}
	}
	return model.AssetPair{}, false
}

// Label is the ticker's display label.
func (t *Ticker) Label() string {
	if t.settings.DefaultLabel != "" {
		return t.settings.DefaultLabel
	}
	return t.exchange.DefaultLabel()
}

// Pair returns the asset pair the ticker follows.
func (t *Ticker) Pair() model.AssetPair {
	return t.pair
}

// Start begins refreshing. The first price is requested immediately.
func (t *Ticker) Start(ctx context.Context) error {
	t.ctx, t.cancel = context.WithCancel(ctx)

	streamer, canStream := t.exchange.(exchange.Streamer)
	t.wg.Add(1)
	if t.settings.Stream && canStream {
		go t.stream(streamer)
	} else {
		if t.settings.Stream {
			t.logger.Warn("exchange cannot stream, polling instead")
		}
		go t.poll()
	}

	t.logger.Info("ticker started", "refresh", t.settings.Refresh, "stream", t.settings.Stream && canStream)
	return nil
}

// Stop halts the ticker and waits for its goroutine.
func (t *Ticker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
	t.logger.Info("ticker stopped")
}

type priceResult struct {
	price model.Price
	err   error
}

// poll fetches on every refresh tick. A tick is skipped while the previous
// fetch is still outstanding.
func (t *Ticker) poll() {
	defer t.wg.Done()

	results := make(chan priceResult, 1)
	inFlight := false
	fetch := func() {
		if inFlight {
			t.logger.Debug("previous fetch still running, skipping tick")
			return
		}
		inFlight = true
		t.exchange.FetchPrice(t.pair, t.dl, func(p model.Price, err error) {
			select {
			case results <- priceResult{p, err}:
			case <-t.ctx.Done():
			}
		})
	}

	ticker := time.NewTicker(t.settings.Refresh)
	defer ticker.Stop()

	fetch()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			fetch()
		case r := <-results:
			inFlight = false
			t.handle(r.price, r.err)
		}
	}
}

func (t *Ticker) stream(s exchange.Streamer) {
	defer t.wg.Done()

	out := make(chan model.Price, 16)
	done := make(chan error, 1)
	go func() {
		done <- s.StartStream(t.ctx, t.pair, out)
	}()

	for {
		select {
		case p := <-out:
			t.handle(p, nil)
		case err := <-done:
			if err != nil {
				t.logger.Error("price stream ended", "error", err)
			}
			return
		}
	}
}

func (t *Ticker) handle(p model.Price, err error) {
	t.metrics.ObservePrice(t.exchange.Code(), err)
	if err != nil {
		t.logger.Warn("price fetch failed", "error", err)
		return
	}
	t.sink.ProcessPrice(t.ctx, p)
}
