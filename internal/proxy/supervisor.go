package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/viabridge-project/viabridge/internal/artifact"
	"github.com/viabridge-project/viabridge/internal/events"
	"github.com/viabridge-project/viabridge/internal/jvm"
)

var (
	// ErrRuntimeNotFound means the Java executable could not be run.
	ErrRuntimeNotFound = errors.New("java runtime not found")
	// ErrOutputClosed means the proxy's stdout closed before it was ready.
	ErrOutputClosed = errors.New("proxy output closed before it became ready")
)

// Handle is a running proxy. It is immutable once Launch returns and has no
// stop method: the proxy lives as long as the process that launched it.
type Handle struct {
	bind            netip.AddrPort
	version         string
	backendProxyURL string
	runtime         jvm.Version
	artifact        artifact.Record
	readyAt         time.Time

	proc *proxyProcess
}

// BindAddress is the local address the proxy listens on.
func (h *Handle) BindAddress() netip.AddrPort { return h.bind }

// Version is the server protocol version the proxy translates to.
func (h *Handle) Version() string { return h.version }

// BackendProxyURL is the upstream forwarding proxy, empty if none.
func (h *Handle) BackendProxyURL() string { return h.backendProxyURL }

// Runtime is the Java version the proxy runs on.
func (h *Handle) Runtime() jvm.Version { return h.runtime }

// Artifact is the jar that was launched.
func (h *Handle) Artifact() artifact.Record { return h.artifact }

// ReadyAt is when the ready marker was seen.
func (h *Handle) ReadyAt() time.Time { return h.readyAt }

// PID is the proxy's process ID.
func (h *Handle) PID() int { return h.proc.stats().PID }

// Running reports whether the proxy process is still alive.
func (h *Handle) Running() bool {
	select {
	case <-h.proc.exited:
		return false
	default:
		return true
	}
}

// Exited is closed when the proxy process exits.
func (h *Handle) Exited() <-chan struct{} { return h.proc.exited }

// Stats samples the proxy process.
func (h *Handle) Stats() ProcessStats { return h.proc.stats() }

// Launch provisions the artifacts, starts ViaProxy and returns once it
// reports ready. There is no timeout besides ctx.
func Launch(ctx context.Context, cfg Config) (*Handle, error) {
	logger := log.With().Str("component", "supervisor").Str("target_version", cfg.Version).Logger()
	start := time.Now()

	if cfg.Version == "" {
		return nil, fmt.Errorf("target version is required")
	}

	runtime, err := jvm.Probe(ctx, cfg.java())
	if err != nil {
		return nil, fmt.Errorf("failed to read java version: %w", err)
	}
	if runtime == nil {
		return nil, fmt.Errorf("%w: %s", ErrRuntimeNotFound, cfg.java())
	}
	logger.Info().Str("java", runtime.String()).Msg("java runtime detected")

	provisioner := cfg.Provisioner
	if provisioner == nil {
		provisioner = artifact.NewProvisioner(nil, nil, cfg.EventBus)
	}

	jar, plugins := cfg.Artifacts(runtime.Feature())
	for _, rec := range append([]artifact.Record{jar}, plugins...) {
		if err := provisioner.EnsureRecord(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to provision %s: %w", rec.Name, err)
		}
	}

	bind, err := FreeAddr()
	if err != nil {
		return nil, err
	}

	proc := newProxyProcess(
		cfg.java(),
		Args(jar.Path, bind, cfg.Version, cfg.BackendProxyURL),
		filepath.Dir(jar.Path),
		logger.With().Str("bind", bind.String()).Logger(),
	)
	stdout, stderr, err := proc.start()
	if err != nil {
		return nil, err
	}

	cfg.EventBus.Emit(ctx, events.Event{
		Type:   events.EventProxyStarted,
		Source: "proxy",
		Payload: events.ProxyStartedPayload{
			PID:         proc.pid,
			BindAddress: bind.String(),
			Version:     cfg.Version,
			Artifact:    jar.Name,
		},
	})

	ready := make(chan struct{})
	var readyOnce sync.Once
	fireReady := func() { readyOnce.Do(func() { close(ready) }) }

	stdoutClosed := make(chan struct{})
	var drained sync.WaitGroup
	drained.Add(2)

	// Output is drained with a context that outlives Launch.
	bg := context.WithoutCancel(ctx)
	outLogger := logger.With().Str("component", "viaproxy").Int("pid", proc.pid).Logger()

	drain := func(stream string, r io.Reader, closed chan struct{}) {
		defer drained.Done()
		sr := &streamReader{stream: stream, logger: outLogger, eventBus: cfg.EventBus, onReady: fireReady}
		if err := sr.run(bg, r); err != nil {
			outLogger.Debug().Err(err).Str("stream", stream).Msg("output stream read failed")
		}
		if closed != nil {
			close(closed)
		}
	}
	go drain("stdout", stdout, stdoutClosed)
	go drain("stderr", stderr, nil)

	go func() {
		drained.Wait()
		proc.monitor(bg, cfg.EventBus)
	}()

	// Both channels may be ready together if the process prints the marker
	// and exits immediately; the marker wins.
	select {
	case <-ready:
	case <-stdoutClosed:
		select {
		case <-ready:
		default:
			_ = proc.kill()
			return nil, ErrOutputClosed
		}
	case <-ctx.Done():
		_ = proc.kill()
		return nil, ctx.Err()
	}

	if grace := cfg.readyGrace(); grace > 0 {
		select {
		case <-time.After(grace):
		case <-ctx.Done():
			_ = proc.kill()
			return nil, ctx.Err()
		}
	}

	h := &Handle{
		bind:            bind,
		version:         cfg.Version,
		backendProxyURL: cfg.BackendProxyURL,
		runtime:         *runtime,
		artifact:        jar,
		readyAt:         time.Now(),
		proc:            proc,
	}

	logger.Info().
		Str("bind", bind.String()).
		Dur("startup", time.Since(start)).
		Msg("proxy ready")

	cfg.EventBus.Emit(ctx, events.Event{
		Type:   events.EventProxyReady,
		Source: "proxy",
		Payload: events.ProxyReadyPayload{
			BindAddress: bind.String(),
			Version:     cfg.Version,
			StartupTime: time.Since(start),
		},
	})
	return h, nil
}

// MustLaunch is Launch for hosts that cannot run without the proxy: a failed
// launch is logged and the process exits. It returns nil only when ctx was
// cancelled before the proxy became ready.
func MustLaunch(ctx context.Context, cfg Config) *Handle {
	h, err := Launch(ctx, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		log.Fatal().Err(err).Msg("failed to launch proxy")
	}
	return h
}
