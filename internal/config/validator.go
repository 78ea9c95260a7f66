package config

import (
	"fmt"
	"net"
	"net/url"
	"os/exec"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate checks the whole configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateProxy(cfg.GetProxy(), result)
	validateArtifacts(cfg.GetArtifacts(), result)
	validateSessionServer(cfg.GetSessionServer(), result)
	validateAPI(cfg.GetAPI(), result)
	validateMQTT(cfg.GetMQTT(), result)
	if n := cfg.GetNotify(); n.WebhookURL != "" {
		validateURL(n.WebhookURL, "notify.webhook_url", result)
	} else if n.NotifyJoinFailures {
		result.AddWarning("notify.notify_join_failures", "join failure notifications need a webhook URL")
	}

	if cfg.GetHealth().ProxyCheckIntervalS < 5 {
		result.AddWarning("health.proxy_check_interval_sec",
			"proxy check interval less than 5s samples the process very often")
	}
	if strings.TrimSpace(cfg.GetAccounts().DatabasePath) == "" {
		result.AddError("accounts.database_path", "account database path is required")
	}

	return result
}

func validateProxy(p ProxyConfig, result *ValidationResult) {
	if strings.TrimSpace(p.TargetVersion) == "" {
		result.AddError("proxy.target_version", "target version is required")
	}

	if strings.TrimSpace(p.JavaExecutable) == "" {
		result.AddError("proxy.java_executable", "java executable is required")
	} else if _, err := exec.LookPath(p.JavaExecutable); err != nil {
		result.AddWarning("proxy.java_executable",
			fmt.Sprintf("%s not found on PATH", p.JavaExecutable))
	}

	if p.BackendProxyURL != "" {
		u, err := url.Parse(p.BackendProxyURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			result.AddError("proxy.backend_proxy_url",
				fmt.Sprintf("invalid proxy URL %q (expected scheme://host:port)", p.BackendProxyURL))
		} else if u.Scheme != "socks4" && u.Scheme != "socks5" && u.Scheme != "http" && u.Scheme != "https" {
			result.AddWarning("proxy.backend_proxy_url",
				fmt.Sprintf("unusual proxy scheme %q", u.Scheme))
		}
	}

	if p.TickMS < 1 {
		result.AddError("proxy.tick_ms", "tick interval must be at least 1ms")
	} else if p.TickMS > 1000 {
		result.AddWarning("proxy.tick_ms", "tick interval over 1s slows down login answers")
	}

	if p.ReadyGraceMS > 10000 {
		result.AddWarning("proxy.ready_grace_ms", "ready grace over 10s delays startup")
	}
}

func validateArtifacts(a ArtifactsConfig, result *ValidationResult) {
	validateURL(a.ViaProxyURL, "artifacts.viaproxy_url", result)
	validateURL(a.ViaProxyJava8URL, "artifacts.viaproxy_java8_url", result)
	validateURL(a.OpenAuthModURL, "artifacts.openauthmod_url", result)
}

func validateSessionServer(s SessionServerConfig, result *ValidationResult) {
	validateURL(s.BaseURL, "session_server.base_url", result)
	if s.TimeoutS < 1 {
		result.AddError("session_server.timeout_sec", "timeout must be at least 1 second")
	}
}

func validateAPI(a APIConfig, result *ValidationResult) {
	if !a.Enabled {
		return
	}
	validatePort(a.Port, "api.port", result)
	if a.Host != "" && net.ParseIP(a.Host) == nil && a.Host != "localhost" {
		result.AddWarning("api.host", fmt.Sprintf("host %q is not an IP address", a.Host))
	}
	if ip := net.ParseIP(a.Host); ip != nil && !ip.IsLoopback() {
		result.AddWarning("api.host", "status API is reachable from other machines")
	}
}

func validateMQTT(m MQTTConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}
	if strings.TrimSpace(m.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	if m.Port < 1 || m.Port > 65535 {
		result.AddError("mqtt.port", "invalid MQTT port")
	}
	if m.UseTLS && (m.CertFile == "") != (m.KeyFile == "") {
		result.AddError("mqtt.cert_file", "client certificate and key must be set together")
	}
}

func validateURL(raw, field string, result *ValidationResult) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		result.AddError(field, fmt.Sprintf("invalid URL %q", raw))
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
