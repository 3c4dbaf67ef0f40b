// Package ports defines the interfaces the routing core depends on. Adapters
// under internal/adapter provide the implementations.
package ports

import (
	"context"

	"github.com/tobenna/switchboard/internal/core/domain"
)

// Database is the persistent store behind the routing core. Implementations
// must be safe for concurrent use; every mutation is atomic with respect to
// the invariants it maintains (one current provider per app, one primary
// endpoint per provider).
type Database interface {
	GetProviderEndpointsWithHealth(ctx context.Context, app domain.AppType, providerID string) ([]domain.ProviderEndpoint, error)
	UpdateEndpointHealth(ctx context.Context, app domain.AppType, providerID, url string, latencyMS *int64, isHealthy bool, consecutiveFailures int) error
	GetBestEndpointURL(ctx context.Context, app domain.AppType, providerID string) (string, bool, error)
	SetPrimaryEndpoint(ctx context.Context, app domain.AppType, providerID, url string) error

	GetProxyConfigForApp(ctx context.Context, app domain.AppType) (domain.ProxyAppConfig, error)
	GetHybridModeConfig(ctx context.Context, app domain.AppType) (domain.HybridModeConfig, error)

	SetCurrentProvider(ctx context.Context, app domain.AppType, providerID string) error
	GetFailoverProviders(ctx context.Context, app domain.AppType) ([]domain.Provider, error)
}

// ProviderStore is the CRUD surface the daemon and tests use on top of the
// routing operations. The routing core itself only needs Database.
type ProviderStore interface {
	Database

	CreateProvider(ctx context.Context, p *domain.Provider) error
	GetProvider(ctx context.Context, app domain.AppType, providerID string) (*domain.Provider, error)
	ListProviders(ctx context.Context, app domain.AppType) ([]domain.Provider, error)
	UpsertEndpoint(ctx context.Context, app domain.AppType, providerID, url string) error
	RemoveEndpoint(ctx context.Context, app domain.AppType, providerID, url string) error
}

// EndpointProber measures latency for a batch of URLs with bounded
// parallelism. Results preserve the input order.
type EndpointProber interface {
	TestEndpoints(ctx context.Context, urls []string, concurrency int) []domain.SpeedtestResult
}

// DeviceSettings persists the user's device-level current-provider choice.
type DeviceSettings interface {
	SetCurrentProvider(app domain.AppType, providerID *string) error
}
