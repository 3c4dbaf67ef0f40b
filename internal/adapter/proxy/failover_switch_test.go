package proxy

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/tobenna/switchboard/internal/core/domain"
	"github.com/tobenna/switchboard/internal/logger"
	"github.com/tobenna/switchboard/pkg/eventbus"
)

type fakeSettings struct {
	mu      sync.Mutex
	current map[domain.AppType]string
	err     error
	calls   int
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{current: make(map[domain.AppType]string)}
}

func (f *fakeSettings) SetCurrentProvider(app domain.AppType, providerID *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	if providerID == nil {
		delete(f.current, app)
	} else {
		f.current[app] = *providerID
	}
	return nil
}

func newTestSwitchManager(db *fakeDatabase, st *fakeSettings) *FailoverSwitchManager {
	return NewFailoverSwitchManager(db, st, eventbus.New[ProviderSwitchedEvent](), logger.NewDiscardLogger())
}

func TestTrySwitch_CommitsProviderChange(t *testing.T) {
	db := newFakeDatabase()
	db.proxyCfg[domain.AppClaude] = domain.ProxyAppConfig{AppType: domain.AppClaude, Enabled: true}
	st := newFakeSettings()
	manager := newTestSwitchManager(db, st)

	switched, err := manager.TrySwitch(context.Background(), domain.AppClaude, "p2", "Backup")
	if err != nil {
		t.Fatalf("TrySwitch failed: %v", err)
	}
	if !switched {
		t.Fatal("Expected switch to commit")
	}
	if db.current[domain.AppClaude] != "p2" {
		t.Errorf("Expected p2 current in store, got %q", db.current[domain.AppClaude])
	}
	if st.current[domain.AppClaude] != "p2" {
		t.Errorf("Expected p2 in device settings, got %q", st.current[domain.AppClaude])
	}
}

func TestTrySwitch_DisabledAppDeclines(t *testing.T) {
	db := newFakeDatabase()
	db.proxyCfg[domain.AppCodex] = domain.ProxyAppConfig{AppType: domain.AppCodex, Enabled: false}
	st := newFakeSettings()
	manager := newTestSwitchManager(db, st)

	switched, err := manager.TrySwitch(context.Background(), domain.AppCodex, "p2", "Backup")
	if err != nil {
		t.Fatalf("Expected policy decline, not error: %v", err)
	}
	if switched {
		t.Error("Expected no switch for a disabled app")
	}
	if db.currentCalls != 0 {
		t.Error("Expected current provider untouched")
	}
	if st.calls != 0 {
		t.Error("Expected device settings untouched")
	}
}

func TestTrySwitch_ConfigReadFailureDeclines(t *testing.T) {
	db := newFakeDatabase()
	db.proxyCfgErr = errors.New("store offline")
	st := newFakeSettings()
	manager := newTestSwitchManager(db, st)

	switched, err := manager.TrySwitch(context.Background(), domain.AppClaude, "p2", "Backup")
	if err != nil {
		t.Fatalf("Expected decline on config read failure, not error: %v", err)
	}
	if switched {
		t.Error("Expected no switch when config cannot be read")
	}
}

func TestTrySwitch_StoreWriteFailureSurfaces(t *testing.T) {
	db := newFakeDatabase()
	db.proxyCfg[domain.AppClaude] = domain.ProxyAppConfig{AppType: domain.AppClaude, Enabled: true}
	db.currentErr = errors.New("disk full")
	st := newFakeSettings()
	manager := newTestSwitchManager(db, st)

	switched, err := manager.TrySwitch(context.Background(), domain.AppClaude, "p2", "Backup")
	if err == nil {
		t.Fatal("Expected write failure to surface")
	}
	if switched {
		t.Error("Expected no successful switch on write failure")
	}
}

func TestTrySwitch_SettingsFailureSurfaces(t *testing.T) {
	db := newFakeDatabase()
	db.proxyCfg[domain.AppClaude] = domain.ProxyAppConfig{AppType: domain.AppClaude, Enabled: true}
	st := newFakeSettings()
	st.err = errors.New("read-only filesystem")
	manager := newTestSwitchManager(db, st)

	if _, err := manager.TrySwitch(context.Background(), domain.AppClaude, "p2", "Backup"); err == nil {
		t.Fatal("Expected settings failure to surface")
	}
}

func TestTrySwitch_InvalidAppType(t *testing.T) {
	db := newFakeDatabase()
	st := newFakeSettings()
	manager := newTestSwitchManager(db, st)

	_, err := manager.TrySwitch(context.Background(), domain.AppType("cursor"), "p2", "Backup")
	if !errors.Is(err, domain.ErrUnknownAppType) {
		t.Fatalf("Expected ErrUnknownAppType, got %v", err)
	}
}

func TestTrySwitch_ConcurrentCallsCoalesce(t *testing.T) {
	db := newFakeDatabase()
	db.proxyCfg[domain.AppClaude] = domain.ProxyAppConfig{AppType: domain.AppClaude, Enabled: true}
	st := newFakeSettings()
	manager := newTestSwitchManager(db, st)

	const callers = 16
	var wg sync.WaitGroup
	results := make([]bool, callers)

	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			ok, err := manager.TrySwitch(context.Background(), domain.AppClaude, "p2", "Backup")
			if err != nil {
				t.Errorf("TrySwitch error: %v", err)
			}
			results[i] = ok
		}(i)
	}
	close(start)
	wg.Wait()

	committed := 0
	for _, ok := range results {
		if ok {
			committed++
		}
	}
	// All concurrent duplicates must coalesce; at least one call wins. A
	// caller arriving after a completed switch may legitimately win again.
	if committed == 0 {
		t.Fatal("Expected at least one committed switch")
	}
	if db.current[domain.AppClaude] != "p2" {
		t.Errorf("Expected p2 current after concurrent switches, got %q", db.current[domain.AppClaude])
	}
}

func TestTrySwitch_PendingKeyRemovedAfterDecline(t *testing.T) {
	db := newFakeDatabase()
	db.proxyCfg[domain.AppCodex] = domain.ProxyAppConfig{AppType: domain.AppCodex, Enabled: false}
	st := newFakeSettings()
	manager := newTestSwitchManager(db, st)
	ctx := context.Background()

	if _, err := manager.TrySwitch(ctx, domain.AppCodex, "p2", "Backup"); err != nil {
		t.Fatalf("First call failed: %v", err)
	}

	// Re-enable: a fresh call must not be blocked by a stale pending key.
	db.mu.Lock()
	db.proxyCfg[domain.AppCodex] = domain.ProxyAppConfig{AppType: domain.AppCodex, Enabled: true}
	db.mu.Unlock()

	switched, err := manager.TrySwitch(ctx, domain.AppCodex, "p2", "Backup")
	if err != nil {
		t.Fatalf("Second call failed: %v", err)
	}
	if !switched {
		t.Error("Expected switch after pending key cleanup")
	}
}

func TestTrySwitch_PendingKeyRemovedAfterError(t *testing.T) {
	db := newFakeDatabase()
	db.proxyCfg[domain.AppClaude] = domain.ProxyAppConfig{AppType: domain.AppClaude, Enabled: true}
	db.currentErr = errors.New("disk full")
	st := newFakeSettings()
	manager := newTestSwitchManager(db, st)
	ctx := context.Background()

	if _, err := manager.TrySwitch(ctx, domain.AppClaude, "p2", "Backup"); err == nil {
		t.Fatal("Expected first call to fail")
	}

	db.mu.Lock()
	db.currentErr = nil
	db.mu.Unlock()

	switched, err := manager.TrySwitch(ctx, domain.AppClaude, "p2", "Backup")
	if err != nil {
		t.Fatalf("Second call failed: %v", err)
	}
	if !switched {
		t.Error("Expected switch to succeed once the store recovered")
	}
}

func TestTrySwitch_PublishesSwitchEvent(t *testing.T) {
	db := newFakeDatabase()
	db.proxyCfg[domain.AppGemini] = domain.ProxyAppConfig{AppType: domain.AppGemini, Enabled: true}
	st := newFakeSettings()
	events := eventbus.New[ProviderSwitchedEvent]()
	manager := NewFailoverSwitchManager(db, st, events, logger.NewDiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, cleanup := events.Subscribe(ctx)
	defer cleanup()

	if _, err := manager.TrySwitch(ctx, domain.AppGemini, "p9", "Fallback"); err != nil {
		t.Fatalf("TrySwitch failed: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.AppType != domain.AppGemini || ev.ProviderID != "p9" || ev.ProviderName != "Fallback" {
			t.Errorf("Unexpected event payload: %+v", ev)
		}
	default:
		t.Fatal("Expected a switch event on the bus")
	}
}
