package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"coin/internal/download"
	"coin/internal/model"
)

const (
	binanceBaseURL = "https://api.binance.com"
	binanceWSURL   = "wss://stream.binance.com:9443/ws"
)

var (
	_ Exchange = (*BinanceClient)(nil)
	_ Streamer = (*BinanceClient)(nil)
	_ Seeder   = (*BinanceClient)(nil)
)

// BinanceClient implements the Exchange interface for Binance.
type BinanceClient struct {
	*plugin
	baseURL string
	wsURL   string
}

// NewBinanceClient creates a new BinanceClient. Empty URLs select the public API.
func NewBinanceClient(logger *slog.Logger, baseURL, wsURL string) *BinanceClient {
	if baseURL == "" {
		baseURL = binanceBaseURL
	}
	if wsURL == "" {
		wsURL = binanceWSURL
	}
	return &BinanceClient{
		plugin:  newPlugin("binance", "Binance", logger),
		baseURL: strings.TrimRight(baseURL, "/"),
		wsURL:   strings.TrimRight(wsURL, "/"),
	}
}

type binanceExchangeInfo struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
	} `json:"symbols"`
}

// DiscoverAssets downloads the symbols Binance currently trades.
func (b *BinanceClient) DiscoverAssets(dl download.Fetcher, onComplete func(error)) {
	b.discover(dl, b.baseURL+"/api/v3/exchangeInfo", parseBinanceExchangeInfo, onComplete)
}

func parseBinanceExchangeInfo(body []byte) ([]model.AssetPair, error) {
	var info binanceExchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, err
	}

	pairs := make([]model.AssetPair, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		pairs = append(pairs, model.AssetPair{
			Base:  strings.ToUpper(s.BaseAsset),
			Quote: strings.ToUpper(s.QuoteAsset),
			Pair:  s.Symbol,
		})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Pair < pairs[j].Pair })
	return pairs, nil
}

type binanceTicker struct {
	LastPrice string `json:"lastPrice"`
	BidPrice  string `json:"bidPrice"`
	AskPrice  string `json:"askPrice"`
	HighPrice string `json:"highPrice"`
	LowPrice  string `json:"lowPrice"`
	Volume    string `json:"volume"`
}

// FetchPrice downloads the 24h ticker of pair.
func (b *BinanceClient) FetchPrice(pair model.AssetPair, dl download.Fetcher, onResult func(model.Price, error)) {
	u := b.baseURL + "/api/v3/ticker/24hr?" + url.Values{"symbol": {pair.Pair}}.Encode()
	b.fetchPrice(dl, u, pair, func(body []byte) (model.Price, error) {
		var t binanceTicker
		if err := json.Unmarshal(body, &t); err != nil {
			return model.Price{}, err
		}
		return binancePrice(t.LastPrice, t.BidPrice, t.AskPrice, t.HighPrice, t.LowPrice, t.Volume)
	}, onResult)
}

// binancePrice parses the decimal strings Binance sends. Empty values stay zero.
func binancePrice(last, bid, ask, high, low, volume string) (model.Price, error) {
	var p model.Price
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&p.Last, last},
		{&p.Bid, bid},
		{&p.Ask, ask},
		{&p.High, high},
		{&p.Low, low},
		{&p.Volume, volume},
	} {
		if f.src == "" {
			continue
		}
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return model.Price{}, err
		}
		*f.dst = d
	}
	if p.Last.IsZero() {
		return model.Price{}, errors.New("ticker has no last price")
	}
	return p, nil
}

// binanceStreamTicker is the 24hrTicker stream event.
type binanceStreamTicker struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Last   string `json:"c"`
	Bid    string `json:"b"`
	Ask    string `json:"a"`
	High   string `json:"h"`
	Low    string `json:"l"`
	Volume string `json:"v"`
}

// StartStream connects to the Binance WebSocket API and streams ticks for pair.
func (b *BinanceClient) StartStream(ctx context.Context, pair model.AssetPair, out chan<- model.Price) error {
	return stream(ctx, b.logger, streamConfig{
		url:   b.wsURL + "/" + strings.ToLower(pair.Pair) + "@ticker",
		parse: parseBinanceTickerMessage,
	}, out)
}

func parseBinanceTickerMessage(message []byte) (model.Price, bool, error) {
	var t binanceStreamTicker
	if err := json.Unmarshal(message, &t); err != nil {
		return model.Price{}, false, err
	}
	if t.Event != "24hrTicker" {
		return model.Price{}, false, nil
	}
	p, err := binancePrice(t.Last, t.Bid, t.Ask, t.High, t.Low, t.Volume)
	if err != nil {
		return model.Price{}, false, err
	}
	p.Exchange = "binance"
	p.Pair = t.Symbol
	return p, true, nil
}
