// Package stats tracks probe-cycle counters per app without locking probe
// workers against readers.
package stats

import (
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/tobenna/switchboard/internal/core/domain"
)

type appStats struct {
	cycles       atomic.Int64
	urlsProbed   atomic.Int64
	failures     atomic.Int64
	lastCycle    atomic.Int64 // unix nanos
	lastDuration atomic.Int64 // nanos
}

// ProbeSnapshot is a point-in-time view of one app's probe counters.
type ProbeSnapshot struct {
	Cycles       int64
	URLsProbed   int64
	Failures     int64
	LastCycle    time.Time
	LastDuration time.Duration
}

// ProbeCollector aggregates latency-probe activity per app.
type ProbeCollector struct {
	apps *xsync.Map[string, *appStats]
}

func NewProbeCollector() *ProbeCollector {
	return &ProbeCollector{
		apps: xsync.NewMap[string, *appStats](),
	}
}

func (c *ProbeCollector) statsFor(app domain.AppType) *appStats {
	s, _ := c.apps.LoadOrCompute(app.String(), func() (*appStats, bool) {
		return &appStats{}, false
	})
	return s
}

// RecordCycle records one completed probe pass for an app.
func (c *ProbeCollector) RecordCycle(app domain.AppType, urlsProbed, failures int, duration time.Duration) {
	s := c.statsFor(app)
	s.cycles.Add(1)
	s.urlsProbed.Add(int64(urlsProbed))
	s.failures.Add(int64(failures))
	s.lastCycle.Store(time.Now().UnixNano())
	s.lastDuration.Store(int64(duration))
}

// Snapshot returns current counters for every app that has been probed.
func (c *ProbeCollector) Snapshot() map[domain.AppType]ProbeSnapshot {
	out := make(map[domain.AppType]ProbeSnapshot)
	c.apps.Range(func(app string, s *appStats) bool {
		snap := ProbeSnapshot{
			Cycles:       s.cycles.Load(),
			URLsProbed:   s.urlsProbed.Load(),
			Failures:     s.failures.Load(),
			LastDuration: time.Duration(s.lastDuration.Load()),
		}
		if ns := s.lastCycle.Load(); ns > 0 {
			snap.LastCycle = time.Unix(0, ns)
		}
		out[domain.AppType(app)] = snap
		return true
	})
	return out
}
