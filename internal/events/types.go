// Package events defines the bridge event types and the in-process bus that
// carries them between the supervisor, the relay and the telemetry sinks.
package events

import (
	"time"
)

// EventType identifies the kind of event carried on the Bus.
type EventType string

const (
	// Proxy lifecycle
	EventProxyStarted EventType = "proxy_started"
	EventProxyReady   EventType = "proxy_ready"
	EventProxyLog     EventType = "proxy_log"
	EventProxyExited  EventType = "proxy_exited"

	// Provisioning
	EventArtifactDownloaded EventType = "artifact_downloaded"

	// Authentication relay
	EventJoinRequested EventType = "join_requested"
	EventJoinResult    EventType = "join_result"

	// Login sessions
	EventSessionLoggedIn EventType = "session_logged_in"
	EventSessionClosed   EventType = "session_closed"

	// Health monitor
	EventHealthReport EventType = "health_report"

	EventShutdown EventType = "shutdown"
)

// Event is a single message published on the Bus.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// LogLevel is the severity a proxy output line was classified as.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ProxyStartedPayload is published once the proxy process has been spawned.
type ProxyStartedPayload struct {
	PID         int    `json:"pid"`
	BindAddress string `json:"bind_address"`
	Version     string `json:"target_version"`
	Artifact    string `json:"artifact"`
}

// ProxyReadyPayload is published when the readiness marker is seen.
type ProxyReadyPayload struct {
	BindAddress string        `json:"bind_address"`
	Version     string        `json:"target_version"`
	StartupTime time.Duration `json:"startup_time"`
}

// ProxyLogPayload carries one classified proxy output line.
type ProxyLogPayload struct {
	Stream string   `json:"stream"`
	Level  LogLevel `json:"level"`
	Line   string   `json:"line"`
}

// ProxyExitedPayload is published when the proxy process is no longer running.
type ProxyExitedPayload struct {
	PID      int `json:"pid"`
	ExitCode int `json:"exit_code"`
}

// ArtifactDownloadedPayload is published after a successful download.
type ArtifactDownloadedPayload struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
}

// JoinResultPayload describes the outcome of one oam:join transaction.
type JoinResultPayload struct {
	Connection    string `json:"connection"`
	Account       string `json:"account"`
	TransactionID uint32 `json:"transaction_id"`
	Attempts      int    `json:"attempts"`
	Refreshed     bool   `json:"refreshed"`
	Answered      bool   `json:"answered"`
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
}

// SessionPayload describes a login session lifecycle change.
type SessionPayload struct {
	Connection string `json:"connection"`
	Account    string `json:"account"`
	Target     string `json:"target"`
	Error      string `json:"error,omitempty"`
}

// HealthPayload is the periodic health report.
type HealthPayload struct {
	ProxyRunning bool     `json:"proxy_running"`
	PID          int      `json:"pid"`
	CPUPercent   float64  `json:"cpu_percent"`
	MemoryMB     float64  `json:"memory_mb"`
	Connections  int      `json:"connections"`
	PendingJoins int      `json:"pending_joins"`
	DiskUsedPct  float64  `json:"disk_used_percent,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}
