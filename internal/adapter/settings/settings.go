// Package settings stores device-local choices, currently the active
// provider per app. The file mirrors what the routing core has committed so
// a UI reading it stays truthful after a failover.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tobenna/switchboard/internal/core/domain"
	"github.com/tobenna/switchboard/internal/core/ports"
)

var _ ports.DeviceSettings = (*FileSettings)(nil)

const DefaultFileName = "settings.json"

type fileContents struct {
	CurrentProviders map[string]string `json:"current_providers"`
}

// FileSettings is a JSON file updated with write-temp-then-rename so readers
// never observe a torn write.
type FileSettings struct {
	mu   sync.Mutex
	path string
}

func NewFileSettings(path string) *FileSettings {
	return &FileSettings{path: path}
}

// DefaultPath resolves the settings location under the user's home
// directory.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".switchboard", DefaultFileName), nil
}

// SetCurrentProvider records providerID as current for the app; nil clears
// the entry.
func (s *FileSettings) SetCurrentProvider(app domain.AppType, providerID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contents, err := s.load()
	if err != nil {
		return err
	}

	if providerID == nil {
		delete(contents.CurrentProviders, app.String())
	} else {
		contents.CurrentProviders[app.String()] = *providerID
	}

	return s.save(contents)
}

// CurrentProvider returns the recorded provider for the app, if any.
func (s *FileSettings) CurrentProvider(app domain.AppType) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contents, err := s.load()
	if err != nil {
		return "", false, err
	}
	id, ok := contents.CurrentProviders[app.String()]
	return id, ok, nil
}

func (s *FileSettings) load() (*fileContents, error) {
	contents := &fileContents{CurrentProviders: make(map[string]string)}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return contents, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err := json.Unmarshal(data, contents); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	if contents.CurrentProviders == nil {
		contents.CurrentProviders = make(map[string]string)
	}
	return contents, nil
}

func (s *FileSettings) save(contents *fileContents) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(contents, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close settings: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
