// Package app wires the daemon together: store, routing core, failover
// manager and the background latency service.
package app

import (
	"context"
	"fmt"

	"github.com/tobenna/switchboard/internal/adapter/proxy"
	"github.com/tobenna/switchboard/internal/adapter/settings"
	"github.com/tobenna/switchboard/internal/adapter/speedtest"
	"github.com/tobenna/switchboard/internal/adapter/stats"
	"github.com/tobenna/switchboard/internal/adapter/store"
	"github.com/tobenna/switchboard/internal/app/services"
	"github.com/tobenna/switchboard/internal/config"
	"github.com/tobenna/switchboard/internal/logger"
	"github.com/tobenna/switchboard/pkg/eventbus"
)

// Application is the composed daemon.
type Application struct {
	config   *config.Config
	logger   logger.StyledLogger
	store    *store.SQLiteStore
	events   *eventbus.EventBus[proxy.ProviderSwitchedEvent]
	router   *proxy.UrlRouter
	failover *proxy.FailoverSwitchManager
	latency  *services.UrlLatencyService
	stats    *stats.ProbeCollector

	eventsDone func()
}

// New creates an application instance from configuration.
func New(cfg *config.Config, log logger.StyledLogger) (*Application, error) {
	db, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	deviceSettings := settings.NewFileSettings(cfg.Storage.SettingsPath)
	events := eventbus.New[proxy.ProviderSwitchedEvent]()
	router := proxy.NewUrlRouter(db, log)
	failover := proxy.NewFailoverSwitchManager(db, deviceSettings, events, log)
	prober := speedtest.NewHTTPProber(cfg.Probe.Timeout, log)
	collector := stats.NewProbeCollector()
	latency := services.NewUrlLatencyService(db, router, prober, collector, log)
	latency.SetConcurrency(cfg.Probe.Concurrency)

	return &Application{
		config:   cfg,
		logger:   log,
		store:    db,
		events:   events,
		router:   router,
		failover: failover,
		latency:  latency,
		stats:    collector,
	}, nil
}

// Router exposes the URL router for the forwarding layer.
func (a *Application) Router() *proxy.UrlRouter { return a.router }

// Failover exposes the switch manager for the forwarding layer.
func (a *Application) Failover() *proxy.FailoverSwitchManager { return a.failover }

// Start brings up the background services.
func (a *Application) Start(ctx context.Context) error {
	// Surface committed switches in the daemon log; a UI subscribes the
	// same way.
	eventCh, cleanup := a.events.Subscribe(ctx)
	a.eventsDone = cleanup
	go func() {
		for ev := range eventCh {
			a.logger.InfoWithEndpoint("Current provider switched to", ev.ProviderName,
				"app", ev.AppType.String(), "provider_id", ev.ProviderID)
		}
	}()

	a.latency.Start(int(a.config.Probe.Interval.Seconds()))

	a.logger.Info("Switchboard started",
		"database", a.config.Storage.DatabasePath,
		"probe_interval", a.config.Probe.Interval.String())
	return nil
}

// Stop shuts the background services down and closes the store.
func (a *Application) Stop(ctx context.Context) error {
	a.latency.Stop()
	if a.eventsDone != nil {
		a.eventsDone()
	}
	a.events.Shutdown()

	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

// ProbeStats returns the latency service's per-app counters.
func (a *Application) ProbeStats() *stats.ProbeCollector { return a.stats }
