package proxy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tobenna/switchboard/internal/core/domain"
	"github.com/tobenna/switchboard/internal/core/ports"
	"github.com/tobenna/switchboard/internal/logger"
	"github.com/tobenna/switchboard/pkg/eventbus"
)

// ProviderSwitchedEvent is published after a failover switch commits, so a
// status surface can mirror the current provider without polling the store.
type ProviderSwitchedEvent struct {
	AppType      domain.AppType
	ProviderID   string
	ProviderName string
	SwitchedAt   time.Time
}

// FailoverSwitchManager promotes a provider to current after a successful
// failover. Concurrent reactions from in-flight requests failing over to the
// same provider coalesce into a single switch.
type FailoverSwitchManager struct {
	db       ports.Database
	settings ports.DeviceSettings
	events   *eventbus.EventBus[ProviderSwitchedEvent]
	logger   logger.StyledLogger

	mu      sync.Mutex
	pending map[string]struct{}
}

func NewFailoverSwitchManager(db ports.Database, settings ports.DeviceSettings, events *eventbus.EventBus[ProviderSwitchedEvent], log logger.StyledLogger) *FailoverSwitchManager {
	return &FailoverSwitchManager{
		db:       db,
		settings: settings,
		events:   events,
		logger:   log,
		pending:  make(map[string]struct{}),
	}
}

// TrySwitch promotes providerID to current for app. Returns (false, nil) when
// the same switch is already in flight or the app is not under proxy control;
// these are normal outcomes, not errors.
func (m *FailoverSwitchManager) TrySwitch(ctx context.Context, app domain.AppType, providerID, providerName string) (bool, error) {
	if !app.IsValid() {
		return false, fmt.Errorf("%w: %q", domain.ErrUnknownAppType, app)
	}

	switchKey := fmt.Sprintf("%s:%s", app, providerID)

	m.mu.Lock()
	if _, inFlight := m.pending[switchKey]; inFlight {
		m.mu.Unlock()
		m.logger.Debug("Switch already in progress, skipping",
			"app", app.String(), "provider_id", providerID)
		return false, nil
	}
	m.pending[switchKey] = struct{}{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pending, switchKey)
		m.mu.Unlock()
	}()

	return m.doSwitch(ctx, app, providerID, providerName)
}

func (m *FailoverSwitchManager) doSwitch(ctx context.Context, app domain.AppType, providerID, providerName string) (bool, error) {
	// Only apps under proxy control may be switched by a background decision.
	proxyCfg, err := m.db.GetProxyConfigForApp(ctx, app)
	if err != nil {
		m.logger.Warn("Cannot read proxy config, skipping switch",
			"app", app.String(), "error", err)
		return false, nil
	}

	if !proxyCfg.Enabled {
		m.logger.Info("App not under proxy control, skipping switch",
			"app", app.String())
		return false, nil
	}

	m.logger.Info("Switching provider",
		"app", app.String(), "provider", providerName, "provider_id", providerID)

	if err := m.db.SetCurrentProvider(ctx, app, providerID); err != nil {
		return false, fmt.Errorf("set current provider: %w", err)
	}

	if err := m.settings.SetCurrentProvider(app, &providerID); err != nil {
		return false, fmt.Errorf("update device settings: %w", err)
	}

	if m.events != nil {
		m.events.Publish(ProviderSwitchedEvent{
			AppType:      app,
			ProviderID:   providerID,
			ProviderName: providerName,
			SwitchedAt:   time.Now(),
		})
	}

	m.logger.Info("Provider switch complete",
		"app", app.String(), "provider", providerName, "provider_id", providerID)

	return true, nil
}
