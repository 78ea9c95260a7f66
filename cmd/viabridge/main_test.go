package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/viabridge-project/viabridge/internal/config"
)

func TestRootCommandHasSubcommands(t *testing.T) {
	root, err := newRootCommand()
	require.NoError(t, err)

	for _, name := range []string{"run", "fetch", "probe", "login", "accounts", "version"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		require.Equal(t, name, cmd.Name())
	}

	accounts, _, err := root.Find([]string{"accounts", "set-token"})
	require.NoError(t, err)
	require.Equal(t, "set-token", accounts.Name())
}

func TestOptionsOverrideConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.DefaultConfigFile),
		[]byte(`{"logging": {"directory": ""}}`), 0o644))
	opts := &globalOptions{
		configDir:     dir,
		targetVersion: "1.12.2",
		dataDir:       filepath.Join(dir, "data"),
		backendProxy:  "socks5://127.0.0.1:1080",
	}
	require.NoError(t, opts.init())
	require.FileExists(t, filepath.Join(dir, config.DefaultConfigFile))

	pcfg, err := opts.proxyConfig(nil)
	require.NoError(t, err)
	require.Equal(t, "1.12.2", pcfg.Version)
	require.Equal(t, "socks5://127.0.0.1:1080", pcfg.BackendProxyURL)
	require.Equal(t, filepath.Join(dir, "data", "viabridge"), pcfg.ArtifactDir())
	require.NotNil(t, pcfg.Provisioner)
}

func TestOptionsRejectInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.DefaultConfigFile),
		[]byte(`{"session_server": {"base_url": "nope"}, "logging": {"directory": ""}}`), 0o644))

	opts := &globalOptions{configDir: dir}
	require.Error(t, opts.init())
}
