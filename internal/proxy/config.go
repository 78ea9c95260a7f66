// Package proxy provisions, launches and watches the ViaProxy process that
// translates between the client's protocol and the server's.
package proxy

import (
	"net/netip"
	"path/filepath"
	"time"

	"github.com/viabridge-project/viabridge/internal/artifact"
	"github.com/viabridge-project/viabridge/internal/events"
)

const (
	// Namespace is the directory under the data directory that holds every
	// downloaded file.
	Namespace = "viabridge"

	// legacyRuntimeBelow is the first Java feature release that runs the
	// regular ViaProxy build.
	legacyRuntimeBelow = 17

	DefaultReadyGrace = 100 * time.Millisecond
)

// Config describes one proxy launch.
type Config struct {
	// Java is the runtime executable, "java" when empty.
	Java string
	// DataDir is the root data directory; artifacts live in
	// DataDir/viabridge.
	DataDir string
	// Version is the server protocol version passed as --target-version.
	Version string
	// BackendProxyURL is an optional upstream forwarding proxy.
	BackendProxyURL string

	ViaProxyURL      string
	ViaProxyJava8URL string
	OpenAuthModURL   string

	// ReadyGrace is slept after the ready marker; zero uses the default,
	// negative disables it.
	ReadyGrace time.Duration

	Provisioner *artifact.Provisioner
	EventBus    *events.Bus
}

func (c Config) java() string {
	if c.Java == "" {
		return "java"
	}
	return c.Java
}

func (c Config) readyGrace() time.Duration {
	switch {
	case c.ReadyGrace == 0:
		return DefaultReadyGrace
	case c.ReadyGrace < 0:
		return 0
	default:
		return c.ReadyGrace
	}
}

// ArtifactDir is where the proxy jar is stored and run from.
func (c Config) ArtifactDir() string {
	return filepath.Join(c.DataDir, Namespace)
}

// PluginDir is where ViaProxy loads plugins from.
func (c Config) PluginDir() string {
	return filepath.Join(c.ArtifactDir(), "plugins")
}

// Artifacts returns the proxy jar for a runtime of the given Java feature
// release, followed by the plugins it needs.
func (c Config) Artifacts(javaFeature int) (jar artifact.Record, plugins []artifact.Record) {
	url := c.ViaProxyURL
	if javaFeature < legacyRuntimeBelow {
		url = c.ViaProxyJava8URL
	}
	jar = artifact.NewRecord(url, c.ArtifactDir(), "")
	plugins = []artifact.Record{artifact.NewRecord(c.OpenAuthModURL, c.PluginDir(), "")}
	return jar, plugins
}

// AllArtifacts lists every file the bridge may download, both jar builds
// included.
func (c Config) AllArtifacts() []artifact.Record {
	modern, plugins := c.Artifacts(legacyRuntimeBelow)
	legacy, _ := c.Artifacts(8)
	return append([]artifact.Record{modern, legacy}, plugins...)
}

// Args builds the ViaProxy command line after the runtime executable.
func Args(jarPath string, bind netip.AddrPort, version, backendProxyURL string) []string {
	args := []string{
		"-jar", jarPath,
		"cli",
		"--auth-method", "OPENAUTHMOD",
		"--bind-address", bind.String(),
		// The real destination travels in the handshake host.
		"--target-address", "127.0.0.1:0",
		"--target-version", version,
		"--wildcard-domain-handling", "INTERNAL",
	}
	if backendProxyURL != "" {
		args = append(args, "--backend-proxy-url", backendProxyURL)
	}
	return args
}
