// Package config handles configuration loading, validation, and persistence
// for the viabridge proxy bridge.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/viabridge-project/viabridge/internal/util"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultAPIPort    = 5080

	DefaultViaProxyURL      = "https://github.com/ViaVersion/ViaProxy/releases/download/v3.3.4/ViaProxy-3.3.4.jar"
	DefaultViaProxyJava8URL = "https://github.com/ViaVersion/ViaProxy/releases/download/v3.3.4/ViaProxy-3.3.4+java8.jar"
	DefaultOpenAuthModURL   = "https://github.com/ViaVersionAddons/ViaProxyOpenAuthMod/releases/download/v1.0.2/ViaProxyOpenAuthMod-1.0.2.jar"
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Proxy         ProxyConfig         `json:"proxy"`
	Artifacts     ArtifactsConfig     `json:"artifacts"`
	SessionServer SessionServerConfig `json:"session_server"`
	API           APIConfig           `json:"api"`
	MQTT          MQTTConfig          `json:"mqtt"`
	Health        HealthConfig        `json:"health"`
	Notify        NotifyConfig        `json:"notify"`
	Accounts      AccountsConfig      `json:"accounts"`
	Logging       LoggingConfig       `json:"logging"`
}

// ProxyConfig controls how ViaProxy is launched.
type ProxyConfig struct {
	TargetVersion   string `json:"target_version"`
	JavaExecutable  string `json:"java_executable"`
	BackendProxyURL string `json:"backend_proxy_url"`
	// DataDir overrides the .minecraft directory as the artifact root.
	DataDir      string `json:"data_dir"`
	ReadyGraceMS int    `json:"ready_grace_ms"`
	TickMS       int    `json:"tick_ms"`
	DialTimeoutS int    `json:"dial_timeout_sec"`
}

// ArtifactsConfig holds download URLs.
type ArtifactsConfig struct {
	ViaProxyURL      string `json:"viaproxy_url"`
	ViaProxyJava8URL string `json:"viaproxy_java8_url"`
	OpenAuthModURL   string `json:"openauthmod_url"`
	ShowProgress     bool   `json:"show_progress"`
}

// SessionServerConfig points at the session server used for joins.
type SessionServerConfig struct {
	BaseURL  string `json:"base_url"`
	TimeoutS int    `json:"timeout_sec"`
}

// APIConfig holds the status API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	CAFile    string `json:"ca_file"`
	ClientID  string `json:"client_id"`
}

// HealthConfig holds health check intervals.
type HealthConfig struct {
	ProxyCheckIntervalS int     `json:"proxy_check_interval_sec"`
	MemoryWarnMB        float64 `json:"memory_warn_mb"`
}

// NotifyConfig controls the Discord webhook notifier.
type NotifyConfig struct {
	WebhookURL string `json:"webhook_url"`
	// NotifyJoinFailures also reports every failed join, not only proxy exits
	// and health warnings.
	NotifyJoinFailures bool `json:"notify_join_failures"`
}

// AccountsConfig locates the account store.
type AccountsConfig struct {
	DatabasePath string `json:"database_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Proxy: ProxyConfig{
			TargetVersion:  "1.8.x",
			JavaExecutable: "java",
			ReadyGraceMS:   100,
			TickMS:         50,
			DialTimeoutS:   10,
		},
		Artifacts: ArtifactsConfig{
			ViaProxyURL:      DefaultViaProxyURL,
			ViaProxyJava8URL: DefaultViaProxyJava8URL,
			OpenAuthModURL:   DefaultOpenAuthModURL,
			ShowProgress:     true,
		},
		SessionServer: SessionServerConfig{
			BaseURL:  "https://sessionserver.mojang.com",
			TimeoutS: 10,
		},
		API: APIConfig{
			Enabled:        true,
			Host:           "127.0.0.1",
			Port:           DefaultAPIPort,
			AllowedOrigins: []string{"http://localhost"},
			RateLimitRPS:   20,
		},
		MQTT: MQTTConfig{
			Enabled:   false,
			BrokerURL: "localhost",
			Port:      1883,
		},
		Health: HealthConfig{
			ProxyCheckIntervalS: 30,
			MemoryWarnMB:        1024,
		},
		Accounts: AccountsConfig{
			DatabasePath: filepath.Join("data", "accounts.db"),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 5,
		},
	}
}

// Load reads configuration from a JSON file, creating it with defaults if
// it does not exist.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // defaults first, file overlays them
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so config.json always lists every option.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetProxy returns a copy of the proxy section.
func (c *Config) GetProxy() ProxyConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Proxy
}

// SetProxy replaces the proxy section.
func (c *Config) SetProxy(p ProxyConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Proxy = p
}

// GetArtifacts returns a copy of the artifacts section.
func (c *Config) GetArtifacts() ArtifactsConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Artifacts
}

// GetSessionServer returns a copy of the session server section.
func (c *Config) GetSessionServer() SessionServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SessionServer
}

// GetAPI returns a copy of the API section.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	api := c.API
	api.AllowedOrigins = append([]string(nil), c.API.AllowedOrigins...)
	return api
}

// GetMQTT returns a copy of the MQTT section.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetNotify returns a copy of the notify section.
func (c *Config) GetNotify() NotifyConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Notify
}

// GetHealth returns a copy of the health section.
func (c *Config) GetHealth() HealthConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Health
}

// GetAccounts returns a copy of the accounts section.
func (c *Config) GetAccounts() AccountsConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Accounts
}

// GetLogging returns a copy of the logging section.
func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// DataDir resolves the artifact root: the configured override, or the
// platform's .minecraft directory.
func (c *Config) DataDir() (string, error) {
	if dir := c.GetProxy().DataDir; dir != "" {
		return dir, nil
	}
	return util.MinecraftDir()
}

// ReadyGrace returns the post-ready delay.
func (p ProxyConfig) ReadyGrace() time.Duration {
	if p.ReadyGraceMS <= 0 {
		return -1
	}
	return time.Duration(p.ReadyGraceMS) * time.Millisecond
}

// TickInterval returns the tick loop interval.
func (p ProxyConfig) TickInterval() time.Duration {
	return time.Duration(p.TickMS) * time.Millisecond
}

// DialTimeout returns the proxy dial timeout.
func (p ProxyConfig) DialTimeout() time.Duration {
	return time.Duration(p.DialTimeoutS) * time.Second
}

// Timeout returns the session server request timeout.
func (s SessionServerConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutS) * time.Second
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
