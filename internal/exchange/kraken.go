package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"coin/internal/download"
	"coin/internal/model"
)

const (
	krakenBaseURL = "https://api.kraken.com"
	krakenWSURL   = "wss://ws.kraken.com"
)

// Kraken symbols that differ from the common ones.
var krakenAliases = map[string]string{
	"XBT": "BTC",
	"XDG": "DOGE",
}

var (
	_ Exchange = (*KrakenClient)(nil)
	_ Streamer = (*KrakenClient)(nil)
	_ Seeder   = (*KrakenClient)(nil)
)

// KrakenClient implements the Exchange interface for Kraken.
type KrakenClient struct {
	*plugin
	baseURL string
	wsURL   string
}

// NewKrakenClient creates a new KrakenClient. Empty URLs select the public API.
func NewKrakenClient(logger *slog.Logger, baseURL, wsURL string) *KrakenClient {
	if baseURL == "" {
		baseURL = krakenBaseURL
	}
	if wsURL == "" {
		wsURL = krakenWSURL
	}
	return &KrakenClient{
		plugin:  newPlugin("kraken", "Kraken", logger),
		baseURL: strings.TrimRight(baseURL, "/"),
		wsURL:   wsURL,
	}
}

// krakenResponse is the envelope of every Kraken REST response.
type krakenResponse[T any] struct {
	Error  []string     `json:"error"`
	Result map[string]T `json:"result"`
}

func (r krakenResponse[T]) err() error {
	if len(r.Error) > 0 {
		return errors.New(strings.Join(r.Error, "; "))
	}
	return nil
}

type krakenAssetPair struct {
	Altname string `json:"altname"`
	WSName  string `json:"wsname"`
	Base    string `json:"base"`
	Quote   string `json:"quote"`
}

// krakenTicker fields are arrays; the first element is the value we want,
// except for h, l and v where index 1 is the rolling 24h value.
type krakenTicker struct {
	Ask    []string `json:"a"`
	Bid    []string `json:"b"`
	Close  []string `json:"c"`
	Volume []string `json:"v"`
	High   []string `json:"h"`
	Low    []string `json:"l"`
}

// DiscoverAssets downloads Kraken's tradable asset pairs.
func (k *KrakenClient) DiscoverAssets(dl download.Fetcher, onComplete func(error)) {
	k.discover(dl, k.baseURL+"/0/public/AssetPairs", parseKrakenAssetPairs, onComplete)
}

func parseKrakenAssetPairs(body []byte) ([]model.AssetPair, error) {
	var resp krakenResponse[krakenAssetPair]
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if err := resp.err(); err != nil {
		return nil, err
	}

	pairs := make([]model.AssetPair, 0, len(resp.Result))
	for id, info := range resp.Result {
		// Dark pool pairs carry a ".d" suffix and have no ticker.
		if strings.HasSuffix(id, ".d") {
			continue
		}
		base, quote, ok := strings.Cut(info.WSName, "/")
		if !ok {
			continue
		}
		pairs = append(pairs, model.AssetPair{
			Base:  krakenSymbol(base),
			Quote: krakenSymbol(quote),
			Pair:  id,
		})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Pair < pairs[j].Pair })
	return pairs, nil
}

func krakenSymbol(s string) string {
	s = strings.ToUpper(s)
	if alias, ok := krakenAliases[s]; ok {
		return alias
	}
	return s
}

// FetchPrice downloads the current ticker of pair.
func (k *KrakenClient) FetchPrice(pair model.AssetPair, dl download.Fetcher, onResult func(model.Price, error)) {
	u := k.baseURL + "/0/public/Ticker?" + url.Values{"pair": {pair.Pair}}.Encode()
	k.fetchPrice(dl, u, pair, func(body []byte) (model.Price, error) {
		var resp krakenResponse[krakenTicker]
		if err := json.Unmarshal(body, &resp); err != nil {
			return model.Price{}, err
		}
		if err := resp.err(); err != nil {
			return model.Price{}, err
		}
		for _, t := range resp.Result {
			return t.price()
		}
		return model.Price{}, fmt.Errorf("no ticker for %s", pair.Pair)
	}, onResult)
}

func (t krakenTicker) price() (model.Price, error) {
	var p model.Price
	fields := []struct {
		dst   *decimal.Decimal
		src   []string
		index int
	}{
		{&p.Last, t.Close, 0},
		{&p.Bid, t.Bid, 0},
		{&p.Ask, t.Ask, 0},
		{&p.High, t.High, 1},
		{&p.Low, t.Low, 1},
		{&p.Volume, t.Volume, 1},
	}
	for _, f := range fields {
		if len(f.src) <= f.index {
			continue
		}
		d, err := decimal.NewFromString(f.src[f.index])
		if err != nil {
			return model.Price{}, err
		}
		*f.dst = d
	}
	if p.Last.IsZero() {
		return model.Price{}, errors.New("ticker has no last trade price")
	}
	return p, nil
}

// StartStream connects to the Kraken WebSocket API and streams ticks for pair.
func (k *KrakenClient) StartStream(ctx context.Context, pair model.AssetPair, out chan<- model.Price) error {
	wsName := krakenWSName(pair)
	subscription := map[string]any{
		"event": "subscribe",
		"pair":  []string{wsName},
		"subscription": map[string]string{
			"name": "ticker",
		},
	}
	return stream(ctx, k.logger, streamConfig{
		url:       k.wsURL,
		subscribe: subscription,
		parse: func(message []byte) (model.Price, bool, error) {
			return parseKrakenTickerMessage(message, pair.Pair)
		},
	}, out)
}

// krakenWSName turns a normalised pair back into Kraken's websocket name.
func krakenWSName(pair model.AssetPair) string {
	symbol := func(s string) string {
		for k, v := range krakenAliases {
			if v == s {
				return k
			}
		}
		return s
	}
	return symbol(pair.Base) + "/" + symbol(pair.Quote)
}

// parseKrakenTickerMessage handles ticker data in array format
// [channelID, tickerData, "ticker", pair]. Events such as heartbeats and
// subscription status are objects and carry no price.
func parseKrakenTickerMessage(message []byte, pairID string) (model.Price, bool, error) {
	if len(message) == 0 || message[0] != '[' {
		return model.Price{}, false, nil
	}
	var frame []json.RawMessage
	if err := json.Unmarshal(message, &frame); err != nil {
		return model.Price{}, false, err
	}
	if len(frame) < 4 {
		return model.Price{}, false, nil
	}
	var channel string
	if err := json.Unmarshal(frame[2], &channel); err != nil || channel != "ticker" {
		return model.Price{}, false, nil
	}

	var t krakenTicker
	if err := json.Unmarshal(frame[1], &t); err != nil {
		return model.Price{}, false, err
	}
	p, err := t.price()
	if err != nil {
		return model.Price{}, false, err
	}
	p.Exchange = "kraken"
	p.Pair = pairID
	return p, true, nil
}
