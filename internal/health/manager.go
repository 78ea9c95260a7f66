// Package health runs periodic checks on the running bridge: the proxy
// process, the artifact directory's disk, and a heartbeat report.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/viabridge-project/viabridge/internal/events"
	"github.com/viabridge-project/viabridge/internal/proxy"
	"github.com/viabridge-project/viabridge/internal/util"
)

// ProxyProbe is the part of a proxy handle the checks read.
type ProxyProbe interface {
	Running() bool
	Stats() proxy.ProcessStats
}

// Counters reports live connection counts.
type Counters interface {
	Connections() int
	PendingJoins() int
}

// Options configures the manager.
type Options struct {
	Interval     time.Duration
	MemoryWarnMB float64
	// DataDir is checked for free space. Empty skips the disk check.
	DataDir string
}

// Manager runs the health checks on a ticker.
type Manager struct {
	opts     Options
	eventBus *events.Bus
	proxy    ProxyProbe
	counters Counters
	logger   zerolog.Logger

	mu         sync.Mutex
	exitLogged bool
	last       events.HealthPayload
}

// NewManager creates a health check manager. counters may be nil.
func NewManager(opts Options, eventBus *events.Bus, p ProxyProbe, counters Counters) *Manager {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	return &Manager{
		opts:     opts,
		eventBus: eventBus,
		proxy:    p,
		counters: counters,
		logger:   util.ComponentLogger("health"),
	}
}

// Start runs a check immediately and then on every interval until ctx is
// cancelled.
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	m.logger.Info().Dur("interval", m.opts.Interval).Msg("health check manager started")
	m.Check(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("health check manager stopped")
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs every check once, emits the report and returns it.
func (m *Manager) Check(ctx context.Context) events.HealthPayload {
	report := events.HealthPayload{}

	m.checkProxy(&report)
	m.checkDisk(&report)
	if m.counters != nil {
		report.Connections = m.counters.Connections()
		report.PendingJoins = m.counters.PendingJoins()
	}

	for _, w := range report.Warnings {
		m.logger.Warn().Msg(w)
	}
	m.logger.Debug().
		Bool("proxy_running", report.ProxyRunning).
		Float64("memory_mb", report.MemoryMB).
		Int("connections", report.Connections).
		Msg("health check")

	m.mu.Lock()
	m.last = report
	m.mu.Unlock()

	m.eventBus.Emit(ctx, events.Event{
		Type:    events.EventHealthReport,
		Source:  "health_check",
		Payload: report,
	})
	return report
}

// Last returns the most recent report.
func (m *Manager) Last() events.HealthPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *Manager) checkProxy(report *events.HealthPayload) {
	if m.proxy == nil {
		report.Warnings = append(report.Warnings, "proxy not launched")
		return
	}

	st := m.proxy.Stats()
	report.PID = st.PID
	report.ProxyRunning = m.proxy.Running()
	report.CPUPercent = st.CPUPercent
	report.MemoryMB = st.MemoryMB

	if !report.ProxyRunning {
		// The proxy is never restarted; report the exit once at error level.
		m.mu.Lock()
		first := !m.exitLogged
		m.exitLogged = true
		m.mu.Unlock()
		if first {
			m.logger.Error().Int("pid", st.PID).Int("exit_code", st.ExitCode).Msg("proxy process is no longer running")
		}
		report.Warnings = append(report.Warnings, fmt.Sprintf("proxy exited with code %d", st.ExitCode))
		return
	}

	if m.opts.MemoryWarnMB > 0 && st.MemoryMB > m.opts.MemoryWarnMB {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("proxy memory %.0f MB over %.0f MB", st.MemoryMB, m.opts.MemoryWarnMB))
	}
}

// checkDisk warns from 90% used on the artifact directory's filesystem.
func (m *Manager) checkDisk(report *events.HealthPayload) {
	if m.opts.DataDir == "" {
		return
	}
	usage, err := disk.Usage(m.opts.DataDir)
	if err != nil {
		m.logger.Debug().Err(err).Str("path", m.opts.DataDir).Msg("disk usage check failed")
		return
	}
	report.DiskUsedPct = usage.UsedPercent
	if usage.UsedPercent >= 90 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("disk at %.1f%% (%d MB free)", usage.UsedPercent, usage.Free/(1024*1024)))
	}
}
