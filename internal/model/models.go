package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetPair is a tradable (base, quote) combination on one exchange.
// Pair is the exchange specific identifier used in requests.
type AssetPair struct {
	Base  string `db:"base"`
	Quote string `db:"quote"`
	Pair  string `db:"pair"`
}

// String returns the pair as BASE/QUOTE.
func (a AssetPair) String() string {
	return a.Base + "/" + a.Quote
}

// Catalog maps an exchange code to the asset pairs it trades.
type Catalog map[string][]AssetPair

// Pairs counts all asset pairs in the catalog.
func (c Catalog) Pairs() int {
	n := 0
	for _, pairs := range c {
		n += len(pairs)
	}
	return n
}

// Price represents a single price update from an exchange.
type Price struct {
	Exchange string          `db:"exchange"`
	Pair     string          `db:"pair"`
	Last     decimal.Decimal `db:"last"`
	Bid      decimal.Decimal `db:"bid"`
	Ask      decimal.Decimal `db:"ask"`
	High     decimal.Decimal `db:"high"`
	Low      decimal.Decimal `db:"low"`
	Volume   decimal.Decimal `db:"volume"`
	Time     time.Time       `db:"timestamp"`
}

// TickerSettings describes one ticker the user configured.
type TickerSettings struct {
	Exchange     string
	AssetPair    string
	Refresh      time.Duration
	DefaultLabel string
	Stream       bool
}
