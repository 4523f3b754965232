package exchange

import (
	"fmt"
	"log/slog"
	"strings"

	"coin/internal/config"
)

// Factory builds one exchange from its configuration.
type Factory struct {
	Code string
	New  func(logger *slog.Logger, cfg config.ExchangeConfig) Exchange
}

// Factories lists every exchange the application knows, sorted by code.
var Factories = []Factory{
	{
		Code: "binance",
		New: func(logger *slog.Logger, cfg config.ExchangeConfig) Exchange {
			return NewBinanceClient(logger, cfg.BaseURL, cfg.WSURL)
		},
	},
	{
		Code: "kraken",
		New: func(logger *slog.Logger, cfg config.ExchangeConfig) Exchange {
			return NewKrakenClient(logger, cfg.BaseURL, cfg.WSURL)
		},
	},
}

// NewClient creates a new exchange client based on the given name and configuration.
func NewClient(name string, logger *slog.Logger, cfg *config.ExchangeConfig) (Exchange, error) {
	if cfg == nil {
		cfg = &config.ExchangeConfig{}
	}
	for _, f := range Factories {
		if f.Code == strings.ToLower(name) {
			return f.New(logger, *cfg), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownExchange, name)
}

// Load builds every enabled exchange. Exchanges missing from cfgs are
// enabled with default settings; configuring an unknown exchange is an error.
func Load(cfgs map[string]config.ExchangeConfig, logger *slog.Logger) ([]Exchange, error) {
	for name := range cfgs {
		if _, err := NewClient(name, logger, nil); err != nil {
			return nil, err
		}
	}

	var exchanges []Exchange
	for _, f := range Factories {
		cfg, ok := cfgs[f.Code]
		if ok && !cfg.Enabled {
			continue
		}
		exchanges = append(exchanges, f.New(logger, cfg))
	}
	return exchanges, nil
}
