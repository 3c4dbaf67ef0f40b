// Package speedtest probes endpoint base URLs and measures their latency.
package speedtest

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tobenna/switchboard/internal/core/domain"
	"github.com/tobenna/switchboard/internal/core/ports"
	"github.com/tobenna/switchboard/internal/logger"
)

var _ ports.EndpointProber = (*HTTPProber)(nil)

const (
	DefaultConcurrency  = 8
	DefaultProbeTimeout = 10 * time.Second

	// Responses at or above this status mean the upstream itself is failing,
	// not just rejecting our unauthenticated probe.
	unreachableStatusThreshold = 500
)

// HTTPProber measures reachability and latency with a plain GET per URL.
// Auth failures (401/403) still count as reachable: the probe measures the
// network path, not credential validity.
type HTTPProber struct {
	client  *http.Client
	timeout time.Duration
	logger  logger.StyledLogger
}

func NewHTTPProber(timeout time.Duration, log logger.StyledLogger) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &HTTPProber{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: timeout,
		logger:  log,
	}
}

// TestEndpoints probes all URLs with bounded parallelism and returns one
// result per URL, in input order. Probe failures are reported in the result,
// never as an error.
func (p *HTTPProber) TestEndpoints(ctx context.Context, urls []string, concurrency int) []domain.SpeedtestResult {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	results := make([]domain.SpeedtestResult, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, url := range urls {
		g.Go(func() error {
			results[i] = p.probe(gctx, url)
			return nil
		})
	}

	// Workers only record results; the group never returns an error.
	_ = g.Wait()

	return results
}

func (p *HTTPProber) probe(ctx context.Context, url string) domain.SpeedtestResult {
	result := domain.SpeedtestResult{URL: url}

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer func() { _ = resp.Body.Close() }()

	latency := time.Since(start).Milliseconds()

	if resp.StatusCode >= unreachableStatusThreshold {
		result.Error = resp.Status
		return result
	}

	result.LatencyMS = &latency
	return result
}
