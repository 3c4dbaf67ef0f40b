package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobenna/switchboard/internal/adapter/proxy"
	"github.com/tobenna/switchboard/internal/adapter/stats"
	"github.com/tobenna/switchboard/internal/core/domain"
	"github.com/tobenna/switchboard/internal/logger"
)

type fakeStore struct {
	mu sync.Mutex

	providers map[domain.AppType][]domain.Provider
	endpoints map[string][]domain.ProviderEndpoint

	providersErr error

	healthWrites int
	healthLog    []domain.ProviderEndpoint
	primarySet   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		providers: make(map[domain.AppType][]domain.Provider),
		endpoints: make(map[string][]domain.ProviderEndpoint),
	}
}

func storeKey(app domain.AppType, providerID string) string {
	return fmt.Sprintf("%s/%s", app, providerID)
}

func (f *fakeStore) GetProviderEndpointsWithHealth(_ context.Context, app domain.AppType, providerID string) ([]domain.ProviderEndpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	eps := f.endpoints[storeKey(app, providerID)]
	out := make([]domain.ProviderEndpoint, len(eps))
	copy(out, eps)
	return out, nil
}

func (f *fakeStore) UpdateEndpointHealth(_ context.Context, app domain.AppType, providerID, url string, latencyMS *int64, isHealthy bool, consecutiveFailures int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthWrites++
	f.healthLog = append(f.healthLog, domain.ProviderEndpoint{
		URL: url, LatencyMS: latencyMS, IsHealthy: isHealthy, ConsecutiveFailures: consecutiveFailures,
	})
	key := storeKey(app, providerID)
	for i, ep := range f.endpoints[key] {
		if ep.URL == url {
			if latencyMS != nil {
				f.endpoints[key][i].LatencyMS = latencyMS
			}
			f.endpoints[key][i].IsHealthy = isHealthy
			f.endpoints[key][i].ConsecutiveFailures = consecutiveFailures
			now := time.Now()
			f.endpoints[key][i].LastTestedAt = &now
			return nil
		}
	}
	f.endpoints[key] = append(f.endpoints[key], domain.ProviderEndpoint{
		AppType: app, ProviderID: providerID, URL: url,
		LatencyMS: latencyMS, IsHealthy: isHealthy, ConsecutiveFailures: consecutiveFailures,
	})
	return nil
}

func (f *fakeStore) GetBestEndpointURL(_ context.Context, app domain.AppType, providerID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	best := ""
	var bestLatency int64
	for _, ep := range f.endpoints[storeKey(app, providerID)] {
		if !ep.IsHealthy || ep.LatencyMS == nil {
			continue
		}
		if best == "" || *ep.LatencyMS < bestLatency || (*ep.LatencyMS == bestLatency && ep.URL < best) {
			best, bestLatency = ep.URL, *ep.LatencyMS
		}
	}
	return best, best != "", nil
}

func (f *fakeStore) SetPrimaryEndpoint(_ context.Context, app domain.AppType, providerID, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.primarySet = append(f.primarySet, url)
	key := storeKey(app, providerID)
	for i := range f.endpoints[key] {
		f.endpoints[key][i].IsPrimary = f.endpoints[key][i].URL == url
	}
	return nil
}

func (f *fakeStore) GetProxyConfigForApp(_ context.Context, app domain.AppType) (domain.ProxyAppConfig, error) {
	return domain.ProxyAppConfig{AppType: app, Enabled: true}, nil
}

func (f *fakeStore) GetHybridModeConfig(_ context.Context, _ domain.AppType) (domain.HybridModeConfig, error) {
	return domain.DefaultHybridModeConfig(), nil
}

func (f *fakeStore) SetCurrentProvider(_ context.Context, _ domain.AppType, _ string) error {
	return nil
}

func (f *fakeStore) GetFailoverProviders(_ context.Context, app domain.AppType) ([]domain.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.providersErr != nil {
		return nil, f.providersErr
	}
	return f.providers[app], nil
}

// fakeProber serves canned latencies keyed by URL; unknown URLs fail.
type fakeProber struct {
	mu        sync.Mutex
	latencies map[string]int64
	calls     int
}

func newFakeProber() *fakeProber {
	return &fakeProber{latencies: make(map[string]int64)}
}

func (f *fakeProber) TestEndpoints(_ context.Context, urls []string, _ int) []domain.SpeedtestResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	results := make([]domain.SpeedtestResult, len(urls))
	for i, url := range urls {
		results[i] = domain.SpeedtestResult{URL: url}
		if latency, ok := f.latencies[url]; ok {
			v := latency
			results[i].LatencyMS = &v
		} else {
			results[i].Error = "connection refused"
		}
	}
	return results
}

func newTestService(store *fakeStore, prober *fakeProber) (*UrlLatencyService, *stats.ProbeCollector) {
	log := logger.NewDiscardLogger()
	router := proxy.NewUrlRouter(store, log)
	collector := stats.NewProbeCollector()
	return NewUrlLatencyService(store, router, prober, collector, log), collector
}

func addProvider(store *fakeStore, app domain.AppType, id string, urls ...string) {
	store.providers[app] = append(store.providers[app], domain.Provider{
		ID: id, AppType: app, Name: id, InFailoverQueue: true,
	})
	for _, url := range urls {
		store.endpoints[storeKey(app, id)] = append(store.endpoints[storeKey(app, id)], domain.ProviderEndpoint{
			AppType: app, ProviderID: id, URL: url, IsHealthy: true,
		})
	}
}

func TestTestNow_UpdatesHealthAndLatency(t *testing.T) {
	store := newFakeStore()
	addProvider(store, domain.AppClaude, "p1", "https://a.example.com", "https://b.example.com")

	prober := newFakeProber()
	prober.latencies["https://a.example.com"] = 50
	prober.latencies["https://b.example.com"] = 120

	service, _ := newTestService(store, prober)
	require.NoError(t, service.TestNow(context.Background(), domain.AppClaude))

	eps, err := store.GetProviderEndpointsWithHealth(context.Background(), domain.AppClaude, "p1")
	require.NoError(t, err)
	require.Len(t, eps, 2)

	for _, ep := range eps {
		assert.True(t, ep.IsHealthy, "endpoint %s should be healthy", ep.URL)
		assert.Zero(t, ep.ConsecutiveFailures)
		require.NotNil(t, ep.LatencyMS)
		assert.NotNil(t, ep.LastTestedAt)
	}
}

func TestTestNow_FailedProbeIncrementsConsecutiveFailures(t *testing.T) {
	store := newFakeStore()
	addProvider(store, domain.AppClaude, "p1", "https://down.example.com")
	store.endpoints[storeKey(domain.AppClaude, "p1")][0].ConsecutiveFailures = 2

	service, _ := newTestService(store, newFakeProber())
	require.NoError(t, service.TestNow(context.Background(), domain.AppClaude))

	eps, _ := store.GetProviderEndpointsWithHealth(context.Background(), domain.AppClaude, "p1")
	require.Len(t, eps, 1)

	// The probe cycle's own write comes first; the router's breaker sync then
	// persists the breaker's view (one failure on a fresh breaker) on top.
	require.NotEmpty(t, store.healthLog)
	probeWrite := store.healthLog[0]
	assert.False(t, probeWrite.IsHealthy)
	assert.Equal(t, 3, probeWrite.ConsecutiveFailures)
}

func TestTestNow_PromotesFastestHealthyEndpoint(t *testing.T) {
	store := newFakeStore()
	addProvider(store, domain.AppClaude, "p1", "https://slow.example.com", "https://fast.example.com")
	// slow was primary with an old latency
	store.endpoints[storeKey(domain.AppClaude, "p1")][0].IsPrimary = true
	store.endpoints[storeKey(domain.AppClaude, "p1")][0].LatencyMS = latencyOf(200)

	prober := newFakeProber()
	prober.latencies["https://slow.example.com"] = 200
	prober.latencies["https://fast.example.com"] = 80

	service, _ := newTestService(store, prober)
	require.NoError(t, service.TestNow(context.Background(), domain.AppClaude))

	require.NotEmpty(t, store.primarySet)
	assert.Equal(t, "https://fast.example.com", store.primarySet[len(store.primarySet)-1])

	eps, _ := store.GetProviderEndpointsWithHealth(context.Background(), domain.AppClaude, "p1")
	primaries := 0
	for _, ep := range eps {
		if ep.IsPrimary {
			primaries++
			assert.Equal(t, "https://fast.example.com", ep.URL)
		}
	}
	assert.Equal(t, 1, primaries)
}

func TestTestNow_RepeatedCycleKeepsPrimaryStable(t *testing.T) {
	store := newFakeStore()
	addProvider(store, domain.AppClaude, "p1", "https://a.example.com", "https://b.example.com")

	prober := newFakeProber()
	prober.latencies["https://a.example.com"] = 50
	prober.latencies["https://b.example.com"] = 120

	service, _ := newTestService(store, prober)
	ctx := context.Background()
	require.NoError(t, service.TestNow(ctx, domain.AppClaude))
	require.NoError(t, service.TestNow(ctx, domain.AppClaude))

	require.Len(t, store.primarySet, 2)
	assert.Equal(t, store.primarySet[0], store.primarySet[1],
		"unchanged latencies must re-select the same primary")
}

func TestTestNow_SkipsProvidersWithoutEndpoints(t *testing.T) {
	store := newFakeStore()
	store.providers[domain.AppClaude] = []domain.Provider{
		{ID: "empty", AppType: domain.AppClaude, InFailoverQueue: true},
	}

	prober := newFakeProber()
	service, _ := newTestService(store, prober)
	require.NoError(t, service.TestNow(context.Background(), domain.AppClaude))
	assert.Zero(t, prober.calls, "no endpoints means no probe call")
	assert.Empty(t, store.primarySet)
}

func TestTestNow_SyncsRouterBreakers(t *testing.T) {
	store := newFakeStore()
	addProvider(store, domain.AppClaude, "p1", "https://a.example.com", "https://b.example.com")

	prober := newFakeProber()
	prober.latencies["https://b.example.com"] = 90 // a fails

	log := logger.NewDiscardLogger()
	router := proxy.NewUrlRouter(store, log)
	service := NewUrlLatencyService(store, router, prober, stats.NewProbeCollector(), log)

	ctx := context.Background()
	// Three failed cycles trip A's breaker through the router sync.
	for i := 0; i < 3; i++ {
		require.NoError(t, service.TestNow(ctx, domain.AppClaude))
	}

	got := router.SelectURL(ctx, "p1", domain.AppClaude, "https://a.example.com")
	assert.Equal(t, "https://b.example.com", got,
		"router must avoid the URL the probe cycle saw failing")
}

func TestTestNow_InvalidAppType(t *testing.T) {
	service, _ := newTestService(newFakeStore(), newFakeProber())
	err := service.TestNow(context.Background(), domain.AppType("cursor"))
	assert.ErrorIs(t, err, domain.ErrUnknownAppType)
}

func TestTestNow_ProviderListFailureSurfaces(t *testing.T) {
	store := newFakeStore()
	store.providersErr = errors.New("store offline")
	service, _ := newTestService(store, newFakeProber())

	assert.Error(t, service.TestNow(context.Background(), domain.AppClaude))
}

func TestTestNow_RecordsProbeStats(t *testing.T) {
	store := newFakeStore()
	addProvider(store, domain.AppClaude, "p1", "https://a.example.com", "https://b.example.com")

	prober := newFakeProber()
	prober.latencies["https://a.example.com"] = 40 // b fails

	service, collector := newTestService(store, prober)
	require.NoError(t, service.TestNow(context.Background(), domain.AppClaude))

	snapshot := collector.Snapshot()
	claudeStats, ok := snapshot[domain.AppClaude]
	require.True(t, ok)
	assert.EqualValues(t, 1, claudeStats.Cycles)
	assert.EqualValues(t, 2, claudeStats.URLsProbed)
	assert.EqualValues(t, 1, claudeStats.Failures)
	assert.False(t, claudeStats.LastCycle.IsZero())
}

func TestStartStop_Lifecycle(t *testing.T) {
	store := newFakeStore()
	addProvider(store, domain.AppClaude, "p1", "https://a.example.com")

	prober := newFakeProber()
	prober.latencies["https://a.example.com"] = 10

	service, _ := newTestService(store, prober)

	service.Start(1)
	assert.True(t, service.isRunning())

	// Second start is a logged no-op.
	service.Start(1)
	assert.True(t, service.isRunning())

	done := make(chan struct{})
	go func() {
		service.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not terminate the probe loop")
	}
	assert.False(t, service.isRunning())

	// Restart works after a clean stop.
	service.Start(1)
	assert.True(t, service.isRunning())
	service.Stop()
}

func latencyOf(ms int64) *int64 {
	return &ms
}
