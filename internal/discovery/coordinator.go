// Package discovery refreshes the asset catalogs of all exchanges in rounds
// and rebuilds the asset graph once every exchange of a round reported back.
package discovery

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"coin/internal/assets"
	"coin/internal/download"
	"coin/internal/exchange"
	"coin/internal/metrics"
	"coin/internal/model"
)

var (
	// ErrInProgress is returned by StartDiscovery while a round is active.
	ErrInProgress = errors.New("discovery already in progress")
	// ErrTimeout is recorded for exchanges that did not finish within the round timeout.
	ErrTimeout = errors.New("discovery timed out")
)

// Source provides the exchanges and the catalog a round is rebuilt from.
// *exchange.Registry implements it.
type Source interface {
	assets.Lookup
	Exchanges() []exchange.Exchange
	Catalog() model.Catalog
}

// Summary describes a finished round.
type Summary struct {
	RoundID   uuid.UUID
	Total     int
	Succeeded int
	Failed    int
	Errors    map[string]error
	Duration  time.Duration
}

// Config holds coordinator configuration.
type Config struct {
	Timeout time.Duration // Upper bound for a round, zero disables it
}

// Coordinator runs discovery rounds. At most one round is active at a time.
type Coordinator struct {
	source  Source
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	graph atomic.Pointer[assets.Graph]

	mu    sync.Mutex
	round *round
}

// round is the state of one active discovery round.
type round struct {
	id        uuid.UUID
	exchanges []exchange.Exchange
	done      []bool
	total     int
	completed int
	failed    int
	errors    map[string]error
	started   time.Time
	timer     *time.Timer
	onDone    func(Summary)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithMetrics sets the collectors rounds are recorded on.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// New creates a coordinator and builds the initial graph from the catalog
// the source already holds.
func New(source Source, cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		source: source,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Rebuild()
	return c
}

// Graph returns the current asset graph. It must not be modified.
func (c *Coordinator) Graph() assets.Graph {
	return *c.graph.Load()
}

// InProgress reports whether a round is active.
func (c *Coordinator) InProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.round != nil
}

// Rebuild rebuilds the graph from the current catalog.
func (c *Coordinator) Rebuild() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebuildLocked()
}

// DiscoverAll starts a round over every exchange of the source.
func (c *Coordinator) DiscoverAll(dl download.Fetcher, onAllComplete func(Summary)) error {
	return c.StartDiscovery(c.source.Exchanges(), dl, onAllComplete)
}

// StartDiscovery asks every exchange to refresh its catalog through dl.
// onAllComplete is called exactly once, after the last exchange finished
// and the graph was rebuilt. With no exchanges it is called before
// StartDiscovery returns.
func (c *Coordinator) StartDiscovery(exchanges []exchange.Exchange, dl download.Fetcher, onAllComplete func(Summary)) error {
	c.mu.Lock()
	if c.round != nil {
		active := c.round.id
		c.mu.Unlock()
		c.logger.Warn("discovery requested while a round is active", "round", active)
		return fmt.Errorf("%w: round %s", ErrInProgress, active)
	}

	r := &round{
		id:        uuid.New(),
		exchanges: exchanges,
		done:      make([]bool, len(exchanges)),
		total:     len(exchanges),
		errors:    make(map[string]error),
		started:   time.Now(),
		onDone:    onAllComplete,
	}
	c.round = r
	c.logger.Info("discovery round started", "round", r.id, "exchanges", r.total)

	if r.total == 0 {
		summary := c.finishLocked(r)
		c.mu.Unlock()
		r.complete(summary)
		return nil
	}

	if c.cfg.Timeout > 0 {
		r.timer = time.AfterFunc(c.cfg.Timeout, func() { c.expire(r) })
	}
	c.mu.Unlock()

	// Exchanges may report back synchronously, so the lock is not held here.
	for i, ex := range exchanges {
		ex.DiscoverAssets(dl, c.completion(r, i, ex.Code()))
	}
	return nil
}

// completion returns the callback handed to exchange i of round r. Calls
// after the first are ignored.
func (c *Coordinator) completion(r *round, i int, code string) func(error) {
	var once sync.Once
	return func(err error) {
		first := false
		once.Do(func() {
			first = true
			c.exchangeDone(r, i, code, err)
		})
		if !first {
			c.logger.Debug("duplicate discovery completion ignored", "round", r.id, "exchange", code)
		}
	}
}

func (c *Coordinator) exchangeDone(r *round, i int, code string, err error) {
	c.mu.Lock()
	if c.round != r || r.done[i] {
		c.mu.Unlock()
		c.logger.Debug("discovery completion after round finished ignored", "round", r.id, "exchange", code, "error", err)
		return
	}

	r.done[i] = true
	r.completed++
	if err != nil {
		r.failed++
		r.errors[code] = err
	}
	c.metrics.ObserveExchangeDiscovery(code, err)

	if r.completed < r.total {
		c.mu.Unlock()
		return
	}

	summary := c.finishLocked(r)
	c.mu.Unlock()
	r.complete(summary)
}

// expire completes r with every outstanding exchange counted as timed out.
func (c *Coordinator) expire(r *round) {
	c.mu.Lock()
	if c.round != r {
		c.mu.Unlock()
		return
	}

	var late []exchange.Exchange
	for i, ex := range r.exchanges {
		if r.done[i] {
			continue
		}
		r.done[i] = true
		r.completed++
		r.failed++
		r.errors[ex.Code()] = ErrTimeout
		c.metrics.ObserveExchangeDiscovery(ex.Code(), ErrTimeout)
		late = append(late, ex)
	}
	c.logger.Warn("discovery round timed out", "round", r.id, "pending", len(late), "timeout", c.cfg.Timeout)

	summary := c.finishLocked(r)
	c.mu.Unlock()

	for _, ex := range late {
		ex.Stop()
	}
	r.complete(summary)
}

// finishLocked resets the coordinator to idle and rebuilds the graph.
func (c *Coordinator) finishLocked(r *round) Summary {
	if r.timer != nil {
		r.timer.Stop()
	}
	c.round = nil
	c.rebuildLocked()

	summary := Summary{
		RoundID:   r.id,
		Total:     r.total,
		Succeeded: r.total - r.failed,
		Failed:    r.failed,
		Errors:    r.errors,
		Duration:  time.Since(r.started),
	}
	c.metrics.ObserveRound(summary.Failed, summary.Duration)
	c.logger.Info("discovery round finished",
		"round", summary.RoundID,
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"duration", summary.Duration,
	)
	return summary
}

func (c *Coordinator) rebuildLocked() {
	catalog := c.source.Catalog()
	graph := assets.Build(catalog, c.source)
	c.graph.Store(&graph)

	if c.metrics != nil {
		pairs := make(map[string]int, len(catalog))
		for code, p := range catalog {
			pairs[code] = len(p)
		}
		c.metrics.ObserveGraph(pairs, len(graph))
	}
	c.logger.Debug("asset graph rebuilt", "exchanges", len(catalog), "pairs", catalog.Pairs(), "bases", len(graph))
}

func (r *round) complete(s Summary) {
	if r.onDone != nil {
		r.onDone(s)
	}
}
