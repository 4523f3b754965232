package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssetPair_String(t *testing.T) {
	assert.Equal(t, "BTC/USD", AssetPair{Base: "BTC", Quote: "USD", Pair: "XXBTZUSD"}.String())
}

func TestCatalog_Pairs(t *testing.T) {
	c := Catalog{
		"kraken":  {{Base: "BTC", Quote: "USD"}},
		"binance": {{Base: "BTC", Quote: "USD"}, {Base: "ETH", Quote: "USD"}},
		"empty":   nil,
	}
	assert.Equal(t, 3, c.Pairs())
	assert.Equal(t, 0, Catalog{}.Pairs())
}
