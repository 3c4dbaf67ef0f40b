package store

const schema = `
CREATE TABLE IF NOT EXISTS providers (
    id                TEXT NOT NULL,
    app_type          TEXT NOT NULL,
    name              TEXT NOT NULL,
    settings_config   TEXT NOT NULL DEFAULT '{}',
    in_failover_queue INTEGER NOT NULL DEFAULT 0,
    is_current        INTEGER NOT NULL DEFAULT 0,
    created_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (app_type, id)
);

CREATE TABLE IF NOT EXISTS provider_endpoints (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    app_type             TEXT NOT NULL,
    provider_id          TEXT NOT NULL,
    url                  TEXT NOT NULL,
    latency_ms           INTEGER,
    last_tested_at       TIMESTAMP,
    is_healthy           INTEGER NOT NULL DEFAULT 1,
    consecutive_failures INTEGER NOT NULL DEFAULT 0,
    is_primary           INTEGER NOT NULL DEFAULT 0,
    UNIQUE (app_type, provider_id, url)
);

CREATE TABLE IF NOT EXISTS app_config (
    app_type                      TEXT PRIMARY KEY,
    proxy_enabled                 INTEGER NOT NULL DEFAULT 0,
    hybrid_enabled                INTEGER NOT NULL DEFAULT 1,
    latency_test_interval         INTEGER NOT NULL DEFAULT 300,
    url_circuit_failure_threshold INTEGER NOT NULL DEFAULT 3
);

CREATE INDEX IF NOT EXISTS idx_endpoints_provider
    ON provider_endpoints (app_type, provider_id);
`
