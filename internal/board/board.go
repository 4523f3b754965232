package board

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"coin/internal/database"
	"coin/internal/model"
)

// Board keeps the latest price of every ticker and logs each update.
type Board struct {
	logger *slog.Logger
	repo   database.Repository

	mu     sync.RWMutex
	latest map[string]model.Price
}

// NewBoard creates a new Board. repo may be nil when prices are not stored.
func NewBoard(logger *slog.Logger, repo database.Repository) *Board {
	if logger == nil {
		logger = slog.Default()
	}
	return &Board{
		logger: logger,
		repo:   repo,
		latest: make(map[string]model.Price),
	}
}

// ProcessPrice processes a new price update from a ticker.
func (b *Board) ProcessPrice(ctx context.Context, p model.Price) {
	// Log the incoming price
	if b.repo != nil {
		if err := b.repo.LogPrice(ctx, p); err != nil {
			b.logger.Error("Failed to log price", "error", err)
		}
	}

	b.mu.Lock()
	prev, seen := b.latest[key(p)]
	b.latest[key(p)] = p
	b.mu.Unlock()

	attrs := []any{"exchange", p.Exchange, "pair", p.Pair, "last", p.Last, "bid", p.Bid, "ask", p.Ask}
	if seen && !prev.Last.IsZero() {
		change := p.Last.Sub(prev.Last).Div(prev.Last).Shift(2).Round(4)
		attrs = append(attrs, "change_pct", change)
	}
	b.logger.Info("Price update", attrs...)
}

// Latest returns the most recent price of every pair, sorted by exchange and pair.
func (b *Board) Latest() []model.Price {
	b.mu.RLock()
	prices := make([]model.Price, 0, len(b.latest))
	for _, p := range b.latest {
		prices = append(prices, p)
	}
	b.mu.RUnlock()

	sort.Slice(prices, func(i, j int) bool {
		if prices[i].Exchange != prices[j].Exchange {
			return prices[i].Exchange < prices[j].Exchange
		}
		return prices[i].Pair < prices[j].Pair
	})
	return prices
}

// Get returns the latest price of pair on exchange.
func (b *Board) Get(exchange, pair string) (model.Price, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.latest[exchange+"/"+pair]
	return p, ok
}

func key(p model.Price) string {
	return p.Exchange + "/" + p.Pair
}
