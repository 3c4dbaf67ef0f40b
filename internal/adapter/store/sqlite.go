// Package store persists providers, endpoints and per-app proxy settings in
// a single SQLite database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tobenna/switchboard/internal/core/domain"
	"github.com/tobenna/switchboard/internal/core/ports"
	"github.com/tobenna/switchboard/internal/util"
)

var _ ports.ProviderStore = (*SQLiteStore)(nil)

const (
	busyRetryMaxElapsed = 2 * time.Second
	busyRetryInitial    = 10 * time.Millisecond
)

// SQLiteStore implements ports.ProviderStore on a single database file.
// WAL mode keeps readers unblocked by the probe cycle's writes.
type SQLiteStore struct {
	db *sql.DB
}

func Open(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withBusyRetry retries a write that lost the race for the database lock.
// Everything else is permanent.
func withBusyRetry(ctx context.Context, op func() error) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = busyRetryInitial

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := op(); err != nil {
			if isBusy(err) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(expo), backoff.WithMaxElapsedTime(busyRetryMaxElapsed))
	return err
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- providers ---

func (s *SQLiteStore) CreateProvider(ctx context.Context, p *domain.Provider) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	settings := p.SettingsConfig
	if len(settings) == 0 {
		settings = []byte("{}")
	}

	if err := withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO providers (id, app_type, name, settings_config, in_failover_queue, is_current, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.AppType.String(), p.Name, string(settings),
			boolToInt(p.InFailoverQueue), boolToInt(p.IsCurrent), p.CreatedAt)
		return err
	}); err != nil {
		return err
	}

	// Custom endpoint entries may hold several URLs per value.
	for _, raw := range p.CustomEndpoints {
		for _, url := range util.SplitURLList(raw) {
			if err := s.UpsertEndpoint(ctx, p.AppType, p.ID, url); err != nil {
				return fmt.Errorf("seed endpoint %s: %w", url, err)
			}
		}
	}
	return nil
}

func (s *SQLiteStore) GetProvider(ctx context.Context, app domain.AppType, providerID string) (*domain.Provider, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, app_type, name, settings_config, in_failover_queue, is_current, created_at
		FROM providers WHERE app_type = ? AND id = ?`,
		app.String(), providerID)

	p, err := scanProvider(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrProviderNotFound, app, providerID)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SQLiteStore) ListProviders(ctx context.Context, app domain.AppType) ([]domain.Provider, error) {
	return s.queryProviders(ctx, `
		SELECT id, app_type, name, settings_config, in_failover_queue, is_current, created_at
		FROM providers WHERE app_type = ? ORDER BY created_at, id`, app.String())
}

func (s *SQLiteStore) GetFailoverProviders(ctx context.Context, app domain.AppType) ([]domain.Provider, error) {
	return s.queryProviders(ctx, `
		SELECT id, app_type, name, settings_config, in_failover_queue, is_current, created_at
		FROM providers WHERE app_type = ? AND in_failover_queue = 1 ORDER BY created_at, id`, app.String())
}

func (s *SQLiteStore) queryProviders(ctx context.Context, query string, args ...any) ([]domain.Provider, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var providers []domain.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, *p)
	}
	return providers, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProvider(row rowScanner) (*domain.Provider, error) {
	var p domain.Provider
	var appType, settings string
	var inQueue, isCurrent int
	if err := row.Scan(&p.ID, &appType, &p.Name, &settings, &inQueue, &isCurrent, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.AppType = domain.AppType(appType)
	p.SettingsConfig = []byte(settings)
	p.InFailoverQueue = inQueue != 0
	p.IsCurrent = isCurrent != 0
	return &p, nil
}

// SetCurrentProvider atomically makes providerID the single current provider
// for the app. Repeating the same call is a no-op that preserves invariants.
func (s *SQLiteStore) SetCurrentProvider(ctx context.Context, app domain.AppType, providerID string) error {
	return withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM providers WHERE app_type = ? AND id = ?`,
			app.String(), providerID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return backoff.Permanent(fmt.Errorf("%w: %s/%s", domain.ErrProviderNotFound, app, providerID))
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE providers SET is_current = 0 WHERE app_type = ? AND id != ?`,
			app.String(), providerID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE providers SET is_current = 1 WHERE app_type = ? AND id = ?`,
			app.String(), providerID); err != nil {
			return err
		}

		return tx.Commit()
	})
}

// --- endpoints ---

func (s *SQLiteStore) UpsertEndpoint(ctx context.Context, app domain.AppType, providerID, url string) error {
	canonical := util.CanonicalURL(url)
	if canonical == "" {
		return domain.ErrEmptyURL
	}

	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO provider_endpoints (app_type, provider_id, url)
			VALUES (?, ?, ?)
			ON CONFLICT (app_type, provider_id, url) DO NOTHING`,
			app.String(), providerID, canonical)
		return err
	})
}

func (s *SQLiteStore) RemoveEndpoint(ctx context.Context, app domain.AppType, providerID, url string) error {
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM provider_endpoints
			WHERE app_type = ? AND provider_id = ? AND url = ?`,
			app.String(), providerID, util.CanonicalURL(url))
		return err
	})
}

func (s *SQLiteStore) GetProviderEndpointsWithHealth(ctx context.Context, app domain.AppType, providerID string) ([]domain.ProviderEndpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, app_type, provider_id, url, latency_ms, last_tested_at,
		       is_healthy, consecutive_failures, is_primary
		FROM provider_endpoints
		WHERE app_type = ? AND provider_id = ?
		ORDER BY is_primary DESC, url`,
		app.String(), providerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var endpoints []domain.ProviderEndpoint
	for rows.Next() {
		var ep domain.ProviderEndpoint
		var appType string
		var latency sql.NullInt64
		var testedAt sql.NullTime
		var healthy, primary int
		if err := rows.Scan(&ep.ID, &appType, &ep.ProviderID, &ep.URL,
			&latency, &testedAt, &healthy, &ep.ConsecutiveFailures, &primary); err != nil {
			return nil, err
		}
		ep.AppType = domain.AppType(appType)
		if latency.Valid {
			v := latency.Int64
			ep.LatencyMS = &v
		}
		if testedAt.Valid {
			t := testedAt.Time
			ep.LastTestedAt = &t
		}
		ep.IsHealthy = healthy != 0
		ep.IsPrimary = primary != 0
		endpoints = append(endpoints, ep)
	}
	return endpoints, rows.Err()
}

// UpdateEndpointHealth upserts the health row for (app, provider, url). A
// probe that failed keeps the previous latency value.
func (s *SQLiteStore) UpdateEndpointHealth(ctx context.Context, app domain.AppType, providerID, url string, latencyMS *int64, isHealthy bool, consecutiveFailures int) error {
	canonical := util.CanonicalURL(url)
	if canonical == "" {
		return domain.ErrEmptyURL
	}

	var latency sql.NullInt64
	if latencyMS != nil {
		latency = sql.NullInt64{Int64: *latencyMS, Valid: true}
	}

	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO provider_endpoints
			    (app_type, provider_id, url, latency_ms, last_tested_at, is_healthy, consecutive_failures)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (app_type, provider_id, url) DO UPDATE SET
			    latency_ms           = COALESCE(excluded.latency_ms, provider_endpoints.latency_ms),
			    last_tested_at       = excluded.last_tested_at,
			    is_healthy           = excluded.is_healthy,
			    consecutive_failures = excluded.consecutive_failures`,
			app.String(), providerID, canonical, latency, time.Now().UTC(),
			boolToInt(isHealthy), consecutiveFailures)
		return err
	})
}

// GetBestEndpointURL returns the lowest-latency healthy URL, ties broken by
// URL so repeated probes with unchanged latencies pick the same endpoint.
func (s *SQLiteStore) GetBestEndpointURL(ctx context.Context, app domain.AppType, providerID string) (string, bool, error) {
	var url string
	err := s.db.QueryRowContext(ctx, `
		SELECT url FROM provider_endpoints
		WHERE app_type = ? AND provider_id = ? AND is_healthy = 1 AND latency_ms IS NOT NULL
		ORDER BY latency_ms ASC, url ASC
		LIMIT 1`,
		app.String(), providerID).Scan(&url)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return url, true, nil
}

// SetPrimaryEndpoint atomically makes url the single primary endpoint of the
// provider.
func (s *SQLiteStore) SetPrimaryEndpoint(ctx context.Context, app domain.AppType, providerID, url string) error {
	canonical := util.CanonicalURL(url)

	return withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			UPDATE provider_endpoints SET is_primary = 0
			WHERE app_type = ? AND provider_id = ? AND url != ?`,
			app.String(), providerID, canonical); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE provider_endpoints SET is_primary = 1
			WHERE app_type = ? AND provider_id = ? AND url = ?`,
			app.String(), providerID, canonical); err != nil {
			return err
		}

		return tx.Commit()
	})
}

// --- app config ---

func (s *SQLiteStore) GetProxyConfigForApp(ctx context.Context, app domain.AppType) (domain.ProxyAppConfig, error) {
	cfg := domain.ProxyAppConfig{AppType: app}

	var enabled int
	err := s.db.QueryRowContext(ctx,
		`SELECT proxy_enabled FROM app_config WHERE app_type = ?`,
		app.String()).Scan(&enabled)
	if err == sql.ErrNoRows {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	cfg.Enabled = enabled != 0
	return cfg, nil
}

func (s *SQLiteStore) SetProxyConfigForApp(ctx context.Context, app domain.AppType, enabled bool) error {
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO app_config (app_type, proxy_enabled)
			VALUES (?, ?)
			ON CONFLICT (app_type) DO UPDATE SET proxy_enabled = excluded.proxy_enabled`,
			app.String(), boolToInt(enabled))
		return err
	})
}

func (s *SQLiteStore) GetHybridModeConfig(ctx context.Context, app domain.AppType) (domain.HybridModeConfig, error) {
	cfg := domain.DefaultHybridModeConfig()

	var enabled int
	err := s.db.QueryRowContext(ctx, `
		SELECT hybrid_enabled, latency_test_interval, url_circuit_failure_threshold
		FROM app_config WHERE app_type = ?`,
		app.String()).Scan(&enabled, &cfg.LatencyTestInterval, &cfg.URLCircuitFailureThreshold)
	if err == sql.ErrNoRows {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	cfg.Enabled = enabled != 0
	return cfg, nil
}

func (s *SQLiteStore) SetHybridModeConfig(ctx context.Context, app domain.AppType, cfg domain.HybridModeConfig) error {
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO app_config (app_type, hybrid_enabled, latency_test_interval, url_circuit_failure_threshold)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (app_type) DO UPDATE SET
			    hybrid_enabled                = excluded.hybrid_enabled,
			    latency_test_interval         = excluded.latency_test_interval,
			    url_circuit_failure_threshold = excluded.url_circuit_failure_threshold`,
			app.String(), boolToInt(cfg.Enabled), cfg.LatencyTestInterval, cfg.URLCircuitFailureThreshold)
		return err
	})
}
