package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coin/internal/board"
	"coin/internal/config"
	"coin/internal/database"
	"coin/internal/discovery"
	"coin/internal/download"
	"coin/internal/exchange"
	"coin/internal/metrics"
	"coin/internal/model"
	"coin/internal/ticker"
)

func main() {
	configDir := flag.String("config", ".", "directory holding config.yaml")
	discover := flag.Bool("discover", false, "discover assets on start")
	once := flag.Bool("once", false, "exit after the first discovery round")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("failed to load .env: %v", err)
	}

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)
	logger.Info(fmt.Sprintf("%s v%s running!", cfg.App.Name, cfg.App.Version))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *discover || *once || cfg.Discovery.OnStart, *once); err != nil {
		logger.Error("coin stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, discoverOnStart, once bool) error {
	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr, logger)
	}

	exchanges, err := exchange.Load(cfg.Exchanges, logger)
	if err != nil {
		return fmt.Errorf("load exchanges: %w", err)
	}
	registry, err := exchange.NewRegistry(exchanges...)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}
	defer registry.StopAll()

	dl := download.NewService(download.Config{
		Concurrency: cfg.Download.Concurrency,
		Timeout:     cfg.Download.Timeout,
		UserAgent:   cfg.Download.UserAgent,
		MaxBody:     cfg.Download.MaxBodyMB << 20,
	}, download.WithLogger(logger), download.WithMetrics(m))
	defer dl.Close()

	var store database.Repository
	if cfg.Database.Enabled {
		pg, err := database.NewPostgresRepository(ctx, cfg.Database.ConnString())
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		catalog, err := pg.LoadCatalog(ctx)
		if err != nil {
			return err
		}
		logger.Info("catalog loaded from database", "exchanges", registry.Seed(catalog), "pairs", catalog.Pairs())
		store = pg
	}

	coord := discovery.New(registry, discovery.Config{Timeout: cfg.Discovery.Timeout},
		discovery.WithLogger(logger),
		discovery.WithMetrics(m),
	)

	prices := board.NewBoard(logger, store)
	var tickers []*ticker.Ticker
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()
	startTickers := func() error {
		settings := make([]model.TickerSettings, 0, len(cfg.Tickers))
		for _, tc := range cfg.Tickers {
			settings = append(settings, model.TickerSettings{
				Exchange:     tc.Exchange,
				AssetPair:    tc.AssetPair,
				Refresh:      tc.Refresh,
				DefaultLabel: tc.DefaultLabel,
				Stream:       tc.Stream,
			})
		}
		if len(settings) == 0 {
			def, ok := ticker.Default(registry.Exchanges())
			if !ok {
				logger.Warn("no tickers configured and no catalog to pick a default from")
				return nil
			}
			logger.Info("no tickers configured, using default", "exchange", def.Exchange, "pair", def.AssetPair)
			settings = append(settings, def)
		}

		for _, s := range settings {
			t, err := ticker.New(s, registry, dl, prices, ticker.WithLogger(logger), ticker.WithMetrics(m))
			if err != nil {
				logger.Error("skipping ticker", "exchange", s.Exchange, "pair", s.AssetPair, "error", err)
				continue
			}
			if err := t.Start(ctx); err != nil {
				return err
			}
			tickers = append(tickers, t)
		}
		return nil
	}

	finished := make(chan discovery.Summary, 1)
	onAllComplete := func(s discovery.Summary) {
		graph := coord.Graph()
		logger.Info("Finished discovering new assets",
			"round", s.RoundID,
			"failed", s.Failed,
			"bases", len(graph),
			"pairs", graph.Len(),
		)
		for code, err := range s.Errors {
			logger.Warn("exchange discovery failed", "exchange", code, "error", err)
		}
		if store != nil {
			go saveCatalog(ctx, store, registry.Catalog(), logger)
		}
		select {
		case finished <- s:
		default:
		}
	}
	startRound := func() {
		if err := coord.DiscoverAll(dl, onAllComplete); err != nil {
			logger.Warn("discovery not started", "error", err)
		}
	}

	// The default ticker is picked from the catalog, so without one a round
	// has to run first.
	if len(cfg.Tickers) == 0 && registry.Catalog().Pairs() == 0 {
		discoverOnStart = true
	}

	// Streaming tickers need the catalog, so with discovery on start they
	// wait for the first round.
	tickersStarted := false
	if discoverOnStart {
		startRound()
	} else {
		if err := startTickers(); err != nil {
			return err
		}
		tickersStarted = true
	}

	// SIGHUP starts a new discovery round.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-hup:
			startRound()
		case <-finished:
			if once {
				return nil
			}
			if !tickersStarted {
				if err := startTickers(); err != nil {
					return err
				}
				tickersStarted = true
			}
		}
	}
}

func saveCatalog(ctx context.Context, store database.Repository, catalog model.Catalog, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := store.SaveCatalog(ctx, catalog); err != nil {
		logger.Error("failed to save catalog", "error", err)
		return
	}
	logger.Debug("catalog saved", "pairs", catalog.Pairs())
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
