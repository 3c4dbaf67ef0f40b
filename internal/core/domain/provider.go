package domain

import (
	"encoding/json"
	"time"
)

// Provider is a named upstream configuration for a single tool. Exactly one
// provider per AppType is current at any time; the store enforces that
// atomically.
type Provider struct {
	ID              string
	AppType         AppType
	Name            string
	SettingsConfig  json.RawMessage
	CustomEndpoints map[string]string
	InFailoverQueue bool
	IsCurrent       bool
	CreatedAt       time.Time
}

// ProviderEndpoint is one candidate base URL belonging to
// (AppType, ProviderID). URL is stored in canonical form: trimmed, no
// trailing slash. At most one endpoint per provider is primary.
type ProviderEndpoint struct {
	ID                  int64
	ProviderID          string
	AppType             AppType
	URL                 string
	LatencyMS           *int64
	LastTestedAt        *time.Time
	IsHealthy           bool
	ConsecutiveFailures int
	IsPrimary           bool
}

// SpeedtestResult is the outcome of probing a single URL. Latency is absent
// when the probe failed; Error is empty when it succeeded.
type SpeedtestResult struct {
	URL       string
	LatencyMS *int64
	Error     string
}

func (r SpeedtestResult) Healthy() bool {
	return r.Error == "" && r.LatencyMS != nil
}
