package exchange

import (
	"context"
	"errors"

	"coin/internal/download"
	"coin/internal/model"
)

var (
	// ErrEmptyCatalog is reported when an exchange lists no tradable pairs.
	// The previous catalog is kept.
	ErrEmptyCatalog = errors.New("exchange returned no asset pairs")
	// ErrUnknownExchange is returned for codes no factory is registered for.
	ErrUnknownExchange = errors.New("unknown exchange")
	// ErrDuplicateCode is returned when two exchanges share a code.
	ErrDuplicateCode = errors.New("duplicate exchange code")
)

// Exchange defines the standard interface for all exchange plugins.
type Exchange interface {
	// Code is the stable lowercase identifier of the exchange.
	Code() string
	// DefaultLabel is the label of a ticker created without an override.
	DefaultLabel() string
	// AssetPairs returns the last known catalog, possibly empty.
	AssetPairs() []model.AssetPair
	// DiscoverAssets refreshes the catalog through dl. onComplete is called
	// exactly once, after the catalog was replaced (nil error) or left as it
	// was (non-nil error).
	DiscoverAssets(dl download.Fetcher, onComplete func(error))
	// FetchPrice fetches the current price of pair through dl.
	FetchPrice(pair model.AssetPair, dl download.Fetcher, onResult func(model.Price, error))
	// Stop cancels in-flight requests of this exchange. It may be called
	// repeatedly; the exchange stays usable afterwards.
	Stop()
}

// Seeder is implemented by exchanges whose catalog can be preloaded, for
// example from a stored snapshot.
type Seeder interface {
	Seed(pairs []model.AssetPair)
}

// Streamer is implemented by exchanges that can push prices over a websocket.
type Streamer interface {
	StartStream(ctx context.Context, pair model.AssetPair, out chan<- model.Price) error
}
