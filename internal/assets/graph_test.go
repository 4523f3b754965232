package assets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coin/internal/config"
	"coin/internal/exchange"
	"coin/internal/model"
)

func newRegistry(t *testing.T, catalog model.Catalog) *exchange.Registry {
	t.Helper()
	var exchanges []exchange.Exchange
	for _, f := range exchange.Factories {
		ex := f.New(nil, config.ExchangeConfig{})
		if pairs, ok := catalog[f.Code]; ok {
			ex.(exchange.Seeder).Seed(pairs)
		}
		exchanges = append(exchanges, ex)
	}
	r, err := exchange.NewRegistry(exchanges...)
	require.NoError(t, err)
	return r
}

func codes(exchanges []exchange.Exchange) []string {
	out := make([]string, 0, len(exchanges))
	for _, ex := range exchanges {
		out = append(out, ex.Code())
	}
	return out
}

func TestBuild_MergesQuoteSets(t *testing.T) {
	catalog := model.Catalog{
		"kraken":  {{Base: "BTC", Quote: "USD", Pair: "XXBTZUSD"}},
		"binance": {{Base: "BTC", Quote: "USD", Pair: "BTCUSD"}, {Base: "ETH", Quote: "USD", Pair: "ETHUSD"}},
	}
	g := Build(catalog, newRegistry(t, catalog))

	assert.Equal(t, []string{"BTC", "ETH"}, g.Bases())
	assert.Equal(t, []string{"USD"}, g.Quotes("BTC"))
	assert.Equal(t, []string{"binance", "kraken"}, codes(g.Exchanges("BTC", "USD")))
	assert.Equal(t, []string{"binance"}, codes(g.Exchanges("ETH", "USD")))
	assert.True(t, g.Supports("BTC", "USD", "KRAKEN"))
	assert.False(t, g.Supports("ETH", "USD", "kraken"))
	assert.Equal(t, 2, g.Len())
}

func TestBuild_Deterministic(t *testing.T) {
	catalog := model.Catalog{
		"kraken": {
			{Base: "BTC", Quote: "EUR", Pair: "XXBTZEUR"},
			{Base: "ETH", Quote: "BTC", Pair: "XETHXXBT"},
		},
		"binance": {
			{Base: "ETH", Quote: "BTC", Pair: "ETHBTC"},
			{Base: "BTC", Quote: "EUR", Pair: "BTCEUR"},
		},
	}
	r := newRegistry(t, catalog)

	first := Build(catalog, r)
	second := Build(catalog, r)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"binance", "kraken"}, codes(first.Exchanges("ETH", "BTC")))
}

func TestBuild_DeduplicatesExchange(t *testing.T) {
	catalog := model.Catalog{
		"kraken": {
			{Base: "BTC", Quote: "USD", Pair: "XXBTZUSD"},
			{Base: "BTC", Quote: "USD", Pair: "XBTUSD"},
		},
	}
	g := Build(catalog, newRegistry(t, catalog))
	assert.Equal(t, []string{"kraken"}, codes(g.Exchanges("BTC", "USD")))
}

func TestBuild_SkipsUnknownExchanges(t *testing.T) {
	catalog := model.Catalog{
		"bitstamp": {{Base: "BTC", Quote: "USD", Pair: "btcusd"}},
	}
	g := Build(catalog, newRegistry(t, nil))
	assert.Empty(t, g)
}

func TestBuild_Empty(t *testing.T) {
	g := Build(model.Catalog{}, newRegistry(t, nil))
	assert.NotNil(t, g)
	assert.Empty(t, g.Bases())
	assert.Empty(t, g.Quotes("BTC"))
	assert.Empty(t, g.Exchanges("BTC", "USD"))
	assert.Zero(t, g.Len())
}

func TestGraph_ExchangesIsACopy(t *testing.T) {
	catalog := model.Catalog{"kraken": {{Base: "BTC", Quote: "USD", Pair: "XXBTZUSD"}}}
	g := Build(catalog, newRegistry(t, catalog))

	list := g.Exchanges("BTC", "USD")
	list[0] = nil
	assert.Equal(t, []string{"kraken"}, codes(g.Exchanges("BTC", "USD")))
}
