package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"coin/internal/download"
	"coin/internal/model"
)

// plugin carries what every exchange shares: identity, the catalog and the
// context its requests run under.
type plugin struct {
	code   string
	label  string
	logger *slog.Logger

	pairs atomic.Pointer[[]model.AssetPair]

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func newPlugin(code, label string, logger *slog.Logger) *plugin {
	if logger == nil {
		logger = slog.Default()
	}
	p := &plugin{
		code:   code,
		label:  label,
		logger: logger.With("exchange", code),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p
}

func (p *plugin) Code() string {
	return p.code
}

func (p *plugin) DefaultLabel() string {
	return p.label
}

// AssetPairs returns a copy of the current catalog.
func (p *plugin) AssetPairs() []model.AssetPair {
	pairs := p.pairs.Load()
	if pairs == nil {
		return nil
	}
	return slices.Clone(*pairs)
}

// Seed replaces the catalog without a request.
func (p *plugin) Seed(pairs []model.AssetPair) {
	pairs = slices.Clone(pairs)
	p.pairs.Store(&pairs)
}

// Stop cancels every request issued so far and arms a fresh context.
func (p *plugin) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancel()
	p.ctx, p.cancel = context.WithCancel(context.Background())
}

func (p *plugin) context() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctx
}

// discover fetches url, parses the body into a catalog and swaps it in.
func (p *plugin) discover(dl download.Fetcher, url string, parse func([]byte) ([]model.AssetPair, error), onComplete func(error)) {
	if onComplete == nil {
		onComplete = func(error) {}
	}
	req := download.Request{Owner: p.code, URL: url}
	dl.Fetch(p.context(), req, func(res download.Result) {
		pairs, err := p.parseCatalog(res, parse)
		if err != nil {
			p.logger.Warn("asset discovery failed, keeping previous catalog",
				"error", err,
				"pairs", len(p.AssetPairs()),
			)
			onComplete(fmt.Errorf("%s: %w", p.code, err))
			return
		}

		p.pairs.Store(&pairs)
		p.logger.Info("asset discovery finished", "pairs", len(pairs), "duration", res.Duration)
		onComplete(nil)
	})
}

func (p *plugin) parseCatalog(res download.Result, parse func([]byte) ([]model.AssetPair, error)) ([]model.AssetPair, error) {
	if res.Err != nil {
		return nil, res.Err
	}
	pairs, err := parse(res.Body)
	if err != nil {
		return nil, fmt.Errorf("parse asset pairs: %w", err)
	}
	if len(pairs) == 0 {
		return nil, ErrEmptyCatalog
	}
	return pairs, nil
}

// fetchPrice fetches url and parses the body into a price for pair.
func (p *plugin) fetchPrice(dl download.Fetcher, url string, pair model.AssetPair, parse func([]byte) (model.Price, error), onResult func(model.Price, error)) {
	if onResult == nil {
		onResult = func(model.Price, error) {}
	}
	req := download.Request{Owner: p.code, URL: url}
	dl.Fetch(p.context(), req, func(res download.Result) {
		if res.Err != nil {
			onResult(model.Price{}, fmt.Errorf("%s %s: %w", p.code, pair.Pair, res.Err))
			return
		}
		price, err := parse(res.Body)
		if err != nil {
			onResult(model.Price{}, fmt.Errorf("%s %s: parse price: %w", p.code, pair.Pair, err))
			return
		}
		price.Exchange = p.code
		price.Pair = pair.Pair
		if price.Time.IsZero() {
			price.Time = time.Now()
		}
		onResult(price, nil)
	})
}
