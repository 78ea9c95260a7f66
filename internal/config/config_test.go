package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, "1.8.x", cfg.GetProxy().TargetVersion)
	require.FileExists(t, filepath.Join(dir, DefaultConfigFile))
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	partial := `{"proxy": {"target_version": "1.12.2", "tick_ms": 20}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(partial), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, "1.12.2", cfg.GetProxy().TargetVersion)
	require.Equal(t, 20*time.Millisecond, cfg.GetProxy().TickInterval())
	require.Equal(t, DefaultViaProxyURL, cfg.GetArtifacts().ViaProxyURL)

	// The file was re-saved with every option.
	data, err := os.ReadFile(filepath.Join(dir, DefaultConfigFile))
	require.NoError(t, err)
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Contains(t, raw, "session_server")
	require.Contains(t, raw, "artifacts")
}

func TestLoadRejectsBadJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{"), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
}

func TestValidateDefaults(t *testing.T) {
	res := Validate(DefaultConfig())
	require.True(t, res.IsValid(), "%v", res.Errors)
}

func TestValidateErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Proxy.TargetVersion = ""
	cfg.Proxy.BackendProxyURL = "not a url"
	cfg.Artifacts.ViaProxyURL = "ftp://example.invalid/a.jar"
	cfg.MQTT.Enabled = true
	cfg.MQTT.Port = 0
	cfg.Notify.WebhookURL = "discord"

	res := Validate(cfg)
	require.False(t, res.IsValid())

	fields := map[string]bool{}
	for _, e := range res.Errors {
		fields[e.Field] = true
	}
	require.True(t, fields["proxy.target_version"])
	require.True(t, fields["proxy.backend_proxy_url"])
	require.True(t, fields["artifacts.viaproxy_url"])
	require.True(t, fields["mqtt.port"])
	require.True(t, fields["notify.webhook_url"])
}

func TestReadyGrace(t *testing.T) {
	require.Equal(t, 100*time.Millisecond, ProxyConfig{ReadyGraceMS: 100}.ReadyGrace())
	require.Negative(t, int64(ProxyConfig{}.ReadyGrace()))
}

func TestDataDirOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Proxy.DataDir = "/srv/mc"
	dir, err := cfg.DataDir()
	require.NoError(t, err)
	require.Equal(t, "/srv/mc", dir)
}
