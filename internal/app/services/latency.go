// Package services hosts the daemon's long-running background tasks.
package services

import (
	"context"
	"sync"
	"time"

	"github.com/tobenna/switchboard/internal/adapter/proxy"
	"github.com/tobenna/switchboard/internal/adapter/stats"
	"github.com/tobenna/switchboard/internal/core/domain"
	"github.com/tobenna/switchboard/internal/core/ports"
	"github.com/tobenna/switchboard/internal/logger"
	"github.com/tobenna/switchboard/pkg/format"
)

const DefaultProbeConcurrency = 8

// UrlLatencyService periodically probes every failover-enabled provider's
// endpoints, persists latency and health, syncs the router's breakers and
// promotes the best endpoint to primary.
type UrlLatencyService struct {
	db        ports.Database
	urlRouter *proxy.UrlRouter
	prober    ports.EndpointProber
	collector *stats.ProbeCollector
	logger    logger.StyledLogger

	concurrency int

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewUrlLatencyService(db ports.Database, urlRouter *proxy.UrlRouter, prober ports.EndpointProber, collector *stats.ProbeCollector, log logger.StyledLogger) *UrlLatencyService {
	return &UrlLatencyService{
		db:          db,
		urlRouter:   urlRouter,
		prober:      prober,
		collector:   collector,
		logger:      log,
		concurrency: DefaultProbeConcurrency,
	}
}

// SetConcurrency adjusts the probe fan-out. Only effective before Start.
func (s *UrlLatencyService) SetConcurrency(concurrency int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Warn("Cannot change probe concurrency while running")
		return
	}
	if concurrency < 1 {
		concurrency = 1
	}
	s.concurrency = concurrency
}

// Start launches the background probe loop. Idempotent: a second call while
// running logs and returns.
func (s *UrlLatencyService) Start(intervalSeconds int) {
	if intervalSeconds <= 0 {
		intervalSeconds = domain.DefaultLatencyTestInterval
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("Latency service already running")
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(time.Duration(intervalSeconds)*time.Second, stopCh)

	s.logger.Info("Latency service started", "interval_seconds", intervalSeconds)
}

// Stop clears the running flag and closes the stop channel, so the loop exits
// without waiting for the next tick; Stop returns once the loop has exited.
func (s *UrlLatencyService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.logger.Info("Latency service stopping")
	s.wg.Wait()
}

func (s *UrlLatencyService) isRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *UrlLatencyService) loop(interval time.Duration, stopCh chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			s.logger.Info("Latency service stopped")
			return
		case <-ticker.C:
			if !s.isRunning() {
				s.logger.Info("Latency service stopped")
				return
			}
			ctx := context.Background()
			for _, app := range domain.AllAppTypes() {
				if err := s.testAppEndpoints(ctx, app); err != nil {
					s.logger.Warn("Endpoint test failed",
						"app", app.String(), "error", err)
				}
			}
		}
	}
}

// TestNow runs a single synchronous probe pass for the app.
func (s *UrlLatencyService) TestNow(ctx context.Context, app domain.AppType) error {
	if !app.IsValid() {
		return domain.ErrUnknownAppType
	}
	return s.testAppEndpoints(ctx, app)
}

func (s *UrlLatencyService) testAppEndpoints(ctx context.Context, app domain.AppType) error {
	providers, err := s.db.GetFailoverProviders(ctx, app)
	if err != nil {
		return err
	}

	for _, provider := range providers {
		if err := s.testProviderEndpoints(ctx, app, provider.ID); err != nil {
			s.logger.Warn("Provider endpoint test failed",
				"app", app.String(), "provider_id", provider.ID, "error", err)
		}
	}

	return nil
}

func (s *UrlLatencyService) testProviderEndpoints(ctx context.Context, app domain.AppType, providerID string) error {
	endpoints, err := s.db.GetProviderEndpointsWithHealth(ctx, app, providerID)
	if err != nil {
		return err
	}
	if len(endpoints) == 0 {
		return nil
	}

	byURL := make(map[string]domain.ProviderEndpoint, len(endpoints))
	urls := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		urls = append(urls, ep.URL)
		byURL[ep.URL] = ep
	}

	started := time.Now()
	results := s.prober.TestEndpoints(ctx, urls, s.concurrency)

	failures := 0
	for _, result := range results {
		endpoint, known := byURL[result.URL]
		if !known {
			continue
		}

		isHealthy := result.Healthy()
		consecutiveFailures := 0
		if !isHealthy {
			consecutiveFailures = endpoint.ConsecutiveFailures + 1
			failures++
		}

		if err := s.db.UpdateEndpointHealth(ctx, app, providerID, result.URL,
			result.LatencyMS, isHealthy, consecutiveFailures); err != nil {
			s.logger.Warn("Failed to persist endpoint health",
				"app", app.String(), "url", result.URL, "error", err)
		}

		// Keep the router's in-memory breaker in step with the probe result.
		s.urlRouter.RecordURLResult(ctx, providerID, app, result.URL, isHealthy, result.LatencyMS)
	}

	if s.collector != nil {
		s.collector.RecordCycle(app, len(results), failures, time.Since(started))
	}
	s.logger.Debug("Probe cycle complete",
		"app", app.String(),
		"provider_id", providerID,
		"endpoints", format.EndpointsUp(len(results)-failures, len(results)),
		"took", format.Duration(time.Since(started)))

	return s.updatePrimaryEndpoint(ctx, app, providerID)
}

func (s *UrlLatencyService) updatePrimaryEndpoint(ctx context.Context, app domain.AppType, providerID string) error {
	bestURL, ok, err := s.db.GetBestEndpointURL(ctx, app, providerID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if err := s.db.SetPrimaryEndpoint(ctx, app, providerID, bestURL); err != nil {
		return err
	}

	s.logger.InfoWithEndpoint("Updated primary endpoint", bestURL,
		"app", app.String(), "provider_id", providerID)
	return nil
}
