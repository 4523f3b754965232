package download

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collect gathers results delivered to the handler it returns.
type collect struct {
	mu      sync.Mutex
	results []Result
	done    chan struct{}
	want    int
}

func newCollect(want int) *collect {
	return &collect{done: make(chan struct{}), want: want}
}

func (c *collect) handle(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
	if len(c.results) == c.want {
		close(c.done)
	}
}

func (c *collect) wait(t *testing.T) []Result {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for results")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Result(nil), c.results...)
}

func TestService_FetchSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	svc := NewService(Config{UserAgent: "test-agent"})
	defer svc.Close()

	c := newCollect(1)
	svc.Fetch(context.Background(), Request{Owner: "test", URL: server.URL}, c.handle)

	results := c.wait(t)
	require.Len(t, results, 1)
	res := results[0]
	require.NoError(t, res.Err)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	var body struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, res.Decode(&body))
	assert.True(t, body.OK)
}

func TestService_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	svc := NewService(DefaultConfig())
	defer svc.Close()

	c := newCollect(1)
	svc.Fetch(context.Background(), Request{URL: server.URL}, c.handle)

	res := c.wait(t)[0]
	var statusErr *StatusError
	require.ErrorAs(t, res.Err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Error(t, res.Decode(&struct{}{}))
}

func TestService_DeliversAfterFetchReturns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	svc := NewService(DefaultConfig())
	defer svc.Close()

	var returned atomic.Bool
	delivered := make(chan bool, 1)
	svc.Fetch(context.Background(), Request{URL: server.URL}, func(Result) {
		delivered <- returned.Load()
	})
	returned.Store(true)

	select {
	case afterReturn := <-delivered:
		assert.True(t, afterReturn)
	case <-time.After(5 * time.Second):
		t.Fatal("handler never called")
	}
}

func TestService_FailureDoesNotAffectSiblings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	svc := NewService(Config{Concurrency: 2})
	defer svc.Close()

	c := newCollect(5)
	svc.Fetch(context.Background(), Request{Owner: "bad", URL: server.URL + "/bad"}, func(r Result) {
		c.handle(r)
		panic("handler blew up")
	})
	for i := 0; i < 3; i++ {
		svc.Fetch(context.Background(), Request{Owner: "good", URL: server.URL + "/good"}, c.handle)
	}
	svc.Fetch(context.Background(), Request{Owner: "bad", URL: "http://127.0.0.1:0/unreachable"}, c.handle)

	var ok, failed int
	for _, r := range c.wait(t) {
		if r.Err != nil {
			failed++
			assert.Equal(t, "bad", r.Request.Owner)
		} else {
			ok++
		}
	}
	assert.Equal(t, 3, ok)
	assert.Equal(t, 2, failed)
}

func TestService_ConcurrencyLimit(t *testing.T) {
	var active, peak atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	svc := NewService(Config{Concurrency: 2})
	defer svc.Close()

	c := newCollect(8)
	for i := 0; i < 8; i++ {
		svc.Fetch(context.Background(), Request{URL: server.URL}, c.handle)
	}
	for _, r := range c.wait(t) {
		assert.NoError(t, r.Err)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestService_Cancel(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	svc := NewService(DefaultConfig())
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := newCollect(1)
	svc.Fetch(ctx, Request{URL: server.URL}, c.handle)
	cancel()

	res := c.wait(t)[0]
	assert.True(t, errors.Is(res.Err, context.Canceled), "got %v", res.Err)
}

func TestService_Close(t *testing.T) {
	svc := NewService(DefaultConfig())
	svc.Close()

	c := newCollect(1)
	svc.Fetch(context.Background(), Request{URL: "http://example.invalid"}, c.handle)
	assert.ErrorIs(t, c.wait(t)[0].Err, ErrClosed)
}
