package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"coin/internal/model"
)

const maxStreamBackoff = 16 * time.Second

// streamConfig describes one websocket price feed.
type streamConfig struct {
	url string
	// subscribe is sent right after connecting; nil when the URL alone selects the feed.
	subscribe any
	// parse turns a message into a price; ok is false for messages that carry none.
	parse func(message []byte) (price model.Price, ok bool, err error)
}

// stream keeps a websocket feed connected until ctx is cancelled, reconnecting
// with capped exponential backoff, and sends every parsed price to out.
func stream(ctx context.Context, logger *slog.Logger, sc streamConfig, out chan<- model.Price) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			logger.Info("stream: context cancelled, shutting down")
			return nil
		}

		logger.Info("stream: connecting to WebSocket", "url", sc.url, "backoff", backoff)
		c, _, err := websocket.DefaultDialer.DialContext(ctx, sc.url, nil)
		if err == nil && sc.subscribe != nil {
			if err = c.WriteJSON(sc.subscribe); err != nil {
				c.Close()
				err = fmt.Errorf("send subscription: %w", err)
			}
		}
		if err != nil {
			logger.Error("stream: WebSocket connection failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
				backoff = min(backoff*2, maxStreamBackoff)
			}
			continue
		}

		// Reset backoff on successful connection
		backoff = time.Second
		logger.Info("stream: connected successfully")

		err = readStream(ctx, logger, c, sc.parse, out)
		c.Close()
		if err == nil {
			return nil
		}
		logger.Error("stream: failed to read message", "error", err)
	}
}

// readStream reads messages until the connection fails or ctx is cancelled.
// A nil error means ctx was cancelled.
func readStream(ctx context.Context, logger *slog.Logger, c *websocket.Conn, parse func([]byte) (model.Price, bool, error), out chan<- model.Price) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		price, ok, err := parse(message)
		if err != nil {
			logger.Warn("stream: failed to parse message", "error", err)
			continue
		}
		if !ok {
			continue
		}
		if price.Time.IsZero() {
			price.Time = time.Now()
		}

		select {
		case out <- price:
			logger.Debug("stream: sent price", "pair", price.Pair, "last", price.Last)
		case <-ctx.Done():
			return nil
		}
	}
}
