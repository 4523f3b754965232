// Package download runs outbound HTTP requests concurrently and hands each
// result to the handler supplied with the request.
package download

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"coin/internal/metrics"
)

// ErrClosed is delivered for requests issued after Close.
var ErrClosed = errors.New("download service closed")

// Request describes one outbound fetch. Owner tags the request for logs
// and metrics, usually with an exchange code.
type Request struct {
	Owner  string
	Method string
	URL    string
	Header http.Header
}

// Result is delivered exactly once per Request.
type Result struct {
	Request    Request
	StatusCode int
	Body       []byte
	Err        error
	Duration   time.Duration
}

// Decode unmarshals a successful JSON body into v.
func (r Result) Decode(v any) error {
	if r.Err != nil {
		return r.Err
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode %s: %w", r.Request.URL, err)
	}
	return nil
}

// Handler receives the result of a request.
type Handler func(Result)

// Fetcher is what exchanges need from the download service.
type Fetcher interface {
	Fetch(ctx context.Context, req Request, onResult Handler)
}

// StatusError is returned for HTTP responses with a status of 400 or above.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Config holds download service configuration.
type Config struct {
	Concurrency int64         // Max requests in flight
	Timeout     time.Duration // Per-request timeout
	UserAgent   string
	MaxBody     int64 // Response bodies beyond this many bytes are failures
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency: 8,
		Timeout:     10 * time.Second,
		UserAgent:   "coin-price-indicator",
		MaxBody:     16 << 20,
	}
}

// Service is the shared download service.
type Service struct {
	cfg     Config
	client  *http.Client
	sem     *semaphore.Weighted
	logger  *slog.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Service) {
		s.client = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets the collectors requests are recorded on.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates a download service. Zero config values fall back to
// DefaultConfig.
func NewService(cfg Config, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = def.MaxBody
	}

	s := &Service{
		cfg:    cfg,
		client: &http.Client{},
		sem:    semaphore.NewWeighted(cfg.Concurrency),
		logger: slog.Default(),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Fetch schedules req and returns immediately. onResult runs on a service
// goroutine once the request finished, failed or was cancelled through ctx.
func (s *Service) Fetch(ctx context.Context, req Request, onResult Handler) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliver(onResult, s.run(ctx, req))
	}()
}

// Close cancels every request in flight and waits for their handlers.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context, req Request) Result {
	start := time.Now()
	res := Result{Request: req}

	if s.ctx.Err() != nil {
		res.Err = ErrClosed
		return res
	}

	// Either the caller or Close cancels the request.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		res.Err = s.cause(ctx, err)
		res.Duration = time.Since(start)
		return res
	}
	defer s.sem.Release(1)

	s.metrics.DownloadStarted()
	defer s.metrics.DownloadFinished()

	res.StatusCode, res.Body, res.Err = s.do(ctx, req)
	if res.Err != nil && ctx.Err() != nil {
		res.Err = s.cause(ctx, res.Err)
	}
	res.Duration = time.Since(start)

	s.metrics.ObserveDownload(req.Owner, res.Err, res.Duration)
	if res.Err != nil {
		s.logger.Debug("download failed", "owner", req.Owner, "url", req.URL, "error", res.Err)
	}
	return res
}

// cause reports ErrClosed when the service was closed and the context
// error otherwise.
func (s *Service) cause(ctx context.Context, err error) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	if ctx.Err() != nil {
		return fmt.Errorf("download %w", ctx.Err())
	}
	return err
}

func (s *Service) do(ctx context.Context, req Request) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if s.cfg.UserAgent != "" {
		httpReq.Header.Set("User-Agent", s.cfg.UserAgent)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxBody+1))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(body)) > s.cfg.MaxBody {
		return resp.StatusCode, nil, fmt.Errorf("response larger than %d bytes", s.cfg.MaxBody)
	}

	if resp.StatusCode >= 400 {
		return resp.StatusCode, body, &StatusError{StatusCode: resp.StatusCode, Body: body}
	}
	return resp.StatusCode, body, nil
}

// deliver calls onResult, keeping a panicking handler from taking the
// process down with it.
func (s *Service) deliver(onResult Handler, res Result) {
	if onResult == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("download handler panicked", "owner", res.Request.Owner, "url", res.Request.URL, "panic", r)
		}
	}()
	onResult(res)
}
