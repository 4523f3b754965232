package exchange

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"coin/internal/download"
	"coin/internal/model"
)

func newTestService(t *testing.T) *download.Service {
	t.Helper()
	svc := download.NewService(download.Config{Concurrency: 4, Timeout: 5 * time.Second})
	t.Cleanup(svc.Close)
	return svc
}

// discover runs one discovery and waits for its completion.
func discover(t *testing.T, ex Exchange, dl download.Fetcher) error {
	t.Helper()
	done := make(chan error, 2)
	ex.DiscoverAssets(dl, func(err error) { done <- err })
	select {
	case err := <-done:
		select {
		case <-done:
			t.Fatal("onComplete called twice")
		case <-time.After(20 * time.Millisecond):
		}
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("discovery never completed")
		return nil
	}
}

func fetch(t *testing.T, ex Exchange, pair model.AssetPair, dl download.Fetcher) (model.Price, error) {
	t.Helper()
	type result struct {
		price model.Price
		err   error
	}
	done := make(chan result, 1)
	ex.FetchPrice(pair, dl, func(p model.Price, err error) { done <- result{p, err} })
	select {
	case r := <-done:
		return r.price, r.err
	case <-time.After(5 * time.Second):
		t.Fatal("price fetch never completed")
		return model.Price{}, nil
	}
}

// jsonServer serves fixed bodies by path and responds 500 to anything else.
func jsonServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

// wsServer upgrades every request and hands the connection to serve.
func wsServer(t *testing.T, serve func(c *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		serve(c)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}
