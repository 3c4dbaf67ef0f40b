package proxy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/tobenna/switchboard/internal/core/domain"
	"github.com/tobenna/switchboard/internal/core/ports"
	"github.com/tobenna/switchboard/internal/logger"
	"github.com/tobenna/switchboard/internal/util"
	"github.com/tobenna/switchboard/pkg/format"
)

// UrlRouter selects among a provider's candidate base URLs using persisted
// latency and per-URL breaker state, and records post-request outcomes.
// Breakers are created lazily per (provider, url) and live for the process
// lifetime.
type UrlRouter struct {
	db     ports.Database
	logger logger.StyledLogger

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	defaultConfig BreakerConfig
}

func NewUrlRouter(db ports.Database, log logger.StyledLogger) *UrlRouter {
	return &UrlRouter{
		db:            db,
		logger:        log,
		breakers:      make(map[string]*CircuitBreaker),
		defaultConfig: DefaultBreakerConfig(),
	}
}

// SelectURL returns the best URL for the provider. It never fails the
// caller's request: when endpoints cannot be loaded or every breaker is open
// it degrades to configBaseURL so the upstream failure can re-surface and be
// recorded.
func (r *UrlRouter) SelectURL(ctx context.Context, providerID string, app domain.AppType, configBaseURL string) string {
	endpoints := r.allURLs(ctx, providerID, app, configBaseURL)
	if len(endpoints) == 0 {
		return configBaseURL
	}

	available := make([]domain.ProviderEndpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if r.breakerFor(providerID, ep.URL).IsAvailable() {
			available = append(available, ep)
		}
	}

	if len(available) == 0 {
		r.logger.WarnWithEndpoint("All URLs unavailable, degrading to config base URL", configBaseURL,
			"provider_id", providerID, "app", app.String())
		return configBaseURL
	}

	// Primary first, then latency ascending with unmeasured URLs last,
	// ties broken by URL so the order is stable.
	sort.SliceStable(available, func(i, j int) bool {
		a, b := available[i], available[j]
		if a.IsPrimary != b.IsPrimary {
			return a.IsPrimary
		}
		switch {
		case a.LatencyMS != nil && b.LatencyMS != nil:
			if *a.LatencyMS != *b.LatencyMS {
				return *a.LatencyMS < *b.LatencyMS
			}
		case a.LatencyMS != nil:
			return true
		case b.LatencyMS != nil:
			return false
		}
		return a.URL < b.URL
	})

	selected := available[0]
	r.logger.InfoWithEndpoint("Selected URL", selected.URL,
		"provider_id", providerID,
		"app", app.String(),
		"latency", latencyAttr(selected.LatencyMS),
		"primary", selected.IsPrimary)
	return selected.URL
}

// allURLs loads the persisted endpoints and prepends configBaseURL as a
// virtual endpoint when it is not among them.
func (r *UrlRouter) allURLs(ctx context.Context, providerID string, app domain.AppType, configBaseURL string) []domain.ProviderEndpoint {
	endpoints, err := r.db.GetProviderEndpointsWithHealth(ctx, app, providerID)
	if err != nil {
		r.logger.Warn("Failed to load provider endpoints",
			"provider_id", providerID, "app", app.String(), "error", err)
		endpoints = nil
	}

	configExists := false
	for _, ep := range endpoints {
		if util.SameURL(ep.URL, configBaseURL) {
			configExists = true
			break
		}
	}

	if !configExists {
		virtual := domain.ProviderEndpoint{
			ProviderID: providerID,
			AppType:    app,
			URL:        configBaseURL,
			IsHealthy:  true,
			IsPrimary:  len(endpoints) == 0,
		}
		endpoints = append([]domain.ProviderEndpoint{virtual}, endpoints...)
	}

	return endpoints
}

// RecordURLResult drives the URL's breaker and persists the derived health.
// Bookkeeping failures are logged, never surfaced: the caller's request has
// already completed.
func (r *UrlRouter) RecordURLResult(ctx context.Context, providerID string, app domain.AppType, url string, success bool, latencyMS *int64) {
	breaker := r.breakerFor(providerID, url)

	// URL-level breakers do not use the half-open permit; recovery relies on
	// next-request probing after the cooldown.
	if success {
		breaker.RecordSuccess(false)
	} else {
		breaker.RecordFailure(false)
	}

	isHealthy := breaker.State() != domain.CircuitOpen
	consecutiveFailures := breaker.Stats().ConsecutiveFailures

	if err := r.db.UpdateEndpointHealth(ctx, app, providerID, url, latencyMS, isHealthy, consecutiveFailures); err != nil {
		r.logger.Warn("Failed to update endpoint health",
			"provider_id", providerID, "app", app.String(), "url", url, "error", err)
	}
}

// breakerFor returns the breaker for (providerID, url), creating it on first
// use. Read-mostly: a shared lock lookup, upgraded on miss with a re-check.
func (r *UrlRouter) breakerFor(providerID, url string) *CircuitBreaker {
	key := breakerKey(providerID, url)

	r.mu.RLock()
	breaker, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return breaker
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if breaker, ok = r.breakers[key]; ok {
		return breaker
	}
	breaker = NewCircuitBreaker(r.defaultConfig)
	r.breakers[key] = breaker
	return breaker
}

// breakerKey hashes the URL to keep keys short. A 64-bit hash colliding
// within one provider's handful of URLs is treated as negligible.
func breakerKey(providerID, url string) string {
	return fmt.Sprintf("%s:%d", providerID, xxhash.Sum64String(url))
}

// HybridConfig reads the per-app hybrid mode settings, falling back to the
// defaults when the store cannot be read.
func (r *UrlRouter) HybridConfig(ctx context.Context, app domain.AppType) domain.HybridModeConfig {
	cfg, err := r.db.GetHybridModeConfig(ctx, app)
	if err != nil {
		r.logger.Warn("Failed to read hybrid mode config, using defaults",
			"app", app.String(), "error", err)
		return domain.DefaultHybridModeConfig()
	}
	return cfg
}

// IsHybridModeEnabled reports whether hybrid routing is on for the app.
func (r *UrlRouter) IsHybridModeEnabled(ctx context.Context, app domain.AppType) bool {
	return r.HybridConfig(ctx, app).Enabled
}

func latencyAttr(latency *int64) string {
	if latency == nil {
		return "untested"
	}
	return format.Latency(*latency)
}
