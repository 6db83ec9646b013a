package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/schoolwatch/harvester/internal/harvest"
	"github.com/schoolwatch/harvester/internal/telemetry"
)

// ErrRobotsDisallowed is returned when robots.txt forbids the target path.
var ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

// StatusError surfaces a non-success HTTP status for caller-side error
// accounting. The fetch result carries no body in this case.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching %s", e.StatusCode, e.URL)
}

// Config controls the native HTTP fetch path.
type Config struct {
	UserAgent      string
	RequestTimeout time.Duration
	MaxBodyBytes   int
}

// HTTPFetcher implements harvest.Fetcher on top of a Colly collector, with
// per-domain pacing and an optional robots.txt policy applied before each
// request.
type HTTPFetcher struct {
	base   *colly.Collector
	pacer  *Pacer
	robots RobotsPolicy
	logger *zap.Logger
}

// NewHTTPFetcher constructs the native fetcher.
func NewHTTPFetcher(cfg Config, pacer *Pacer, robots RobotsPolicy, logger *zap.Logger) (*HTTPFetcher, error) {
	if pacer == nil {
		return nil, errors.New("pacer is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 20 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 20
	}
	if robots == nil {
		robots = NewRobotsPolicy(false, cfg.UserAgent, logger)
	}

	base := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(cfg.UserAgent),
		colly.MaxBodySize(cfg.MaxBodyBytes),
		// Clones share the visited-URL store, and sources are re-polled on
		// every run. Without revisits every fetch after the first would fail
		// with ErrAlreadyVisited.
		colly.AllowURLRevisit(),
	)
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.RequestTimeout)

	return &HTTPFetcher{
		base:   base,
		pacer:  pacer,
		robots: robots,
		logger: logger,
	}, nil
}

// Fetch retrieves a single page. A 304 yields NotModified with no body; any
// other non-2xx status yields a *StatusError with the status surfaced on
// the result.
func (f *HTTPFetcher) Fetch(ctx context.Context, req harvest.FetchRequest) (harvest.FetchResult, error) {
	if !f.robots.Allowed(ctx, req.URL) {
		return harvest.FetchResult{}, fmt.Errorf("%s: %w", req.URL, ErrRobotsDisallowed)
	}
	if err := f.pacer.Wait(ctx, req.URL); err != nil {
		return harvest.FetchResult{}, err
	}

	collector := f.base.Clone()
	resultCh := make(chan fetchOutcome, 1)
	var once sync.Once
	send := func(out fetchOutcome) {
		once.Do(func() { resultCh <- out })
	}

	collector.OnRequest(func(r *colly.Request) {
		if req.ETag != "" {
			r.Headers.Set("If-None-Match", req.ETag)
		}
		if req.LastModified != "" {
			r.Headers.Set("If-Modified-Since", req.LastModified)
		}
		for k, v := range req.Headers {
			r.Headers.Set(k, v)
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		send(fetchOutcome{result: harvest.FetchResult{
			Body:         append([]byte(nil), r.Body...),
			StatusCode:   r.StatusCode,
			ETag:         r.Headers.Get("ETag"),
			LastModified: r.Headers.Get("Last-Modified"),
			FinalURL:     r.Request.URL.String(),
		}})
	})

	collector.OnError(func(r *colly.Response, err error) {
		status := 0
		final := req.URL
		if r != nil {
			status = r.StatusCode
			if r.Request != nil && r.Request.URL != nil {
				final = r.Request.URL.String()
			}
		}
		if status == http.StatusNotModified {
			send(fetchOutcome{result: harvest.FetchResult{
				StatusCode:  status,
				FinalURL:    final,
				NotModified: true,
			}})
			return
		}
		if status != 0 {
			send(fetchOutcome{
				result: harvest.FetchResult{StatusCode: status, FinalURL: final},
				err:    &StatusError{StatusCode: status, URL: req.URL},
			})
			return
		}
		if err == nil {
			err = errors.New("unknown transport error")
		}
		send(fetchOutcome{err: fmt.Errorf("fetch %s: %w", req.URL, err)})
	})

	start := time.Now()
	if err := collector.Visit(req.URL); err != nil {
		return harvest.FetchResult{}, fmt.Errorf("visit %s: %w", req.URL, err)
	}
	collector.Wait()

	select {
	case out := <-resultCh:
		telemetry.ObserveFetch("http", out.result.StatusCode, time.Since(start))
		if cerr := ctx.Err(); cerr != nil {
			return harvest.FetchResult{}, cerr
		}
		return out.result, out.err
	default:
		return harvest.FetchResult{}, fmt.Errorf("fetch %s produced no result", req.URL)
	}
}

type fetchOutcome struct {
	result harvest.FetchResult
	err    error
}
