package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/viabridge-project/viabridge/internal/api"
	"github.com/viabridge-project/viabridge/internal/auth"
	"github.com/viabridge-project/viabridge/internal/cli"
	"github.com/viabridge-project/viabridge/internal/connector"
	"github.com/viabridge-project/viabridge/internal/events"
	"github.com/viabridge-project/viabridge/internal/health"
	"github.com/viabridge-project/viabridge/internal/proxy"
	"github.com/viabridge-project/viabridge/internal/relay"
	"github.com/viabridge-project/viabridge/internal/session"
	"github.com/viabridge-project/viabridge/internal/telemetry"
	"github.com/viabridge-project/viabridge/internal/util"
)

func newRunCommand(opts *globalOptions) (*cobra.Command, error) {
	var noConsole bool

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Launches the proxy and serves the bridge until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBridge(cmd.Context(), opts, !noConsole)
		},
	}
	runCmd.Flags().BoolVar(&noConsole, "no-console", false, "Do not read console commands from stdin")

	return runCmd, nil
}

// bridge is the wired set of components shared by run and login.
type bridge struct {
	bus      *events.Bus
	relay    *relay.Relay
	sessions *session.Manager
	pcfg     proxy.Config
}

func newBridge(opts *globalOptions) (*bridge, error) {
	bus := events.NewBus()
	pcfg, err := opts.proxyConfig(bus)
	if err != nil {
		return nil, err
	}

	ss := opts.cfg.GetSessionServer()
	p := opts.cfg.GetProxy()
	r := relay.New(auth.NewSessionClient(ss.BaseURL, ss.Timeout()), bus)

	return &bridge{
		bus:      bus,
		relay:    r,
		sessions: session.NewManager(r, bus, p.TickInterval(), p.DialTimeout()),
		pcfg:     pcfg,
	}, nil
}

// counters adapts the session manager and relay to the health monitor.
type counters struct {
	sessions *session.Manager
	relay    *relay.Relay
}

func (c counters) Connections() int  { return len(c.sessions.Connections()) }
func (c counters) PendingJoins() int { return c.relay.Pending() }

func runBridge(ctx context.Context, opts *globalOptions, console bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("version", version).
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Uint64("available_mb", sysInfo.FreeMemory).
		Str("java_home", sysInfo.JavaHome).
		Msg("starting viabridge")

	b, err := newBridge(opts)
	if err != nil {
		return err
	}

	store, err := opts.openAccounts()
	if err != nil {
		return err
	}
	defer store.Close()

	for _, t := range []events.EventType{events.EventJoinResult, events.EventSessionLoggedIn, events.EventSessionClosed} {
		b.bus.Subscribe(t, "db.history", store.RecordEvent)
	}
	b.bus.Subscribe(events.EventShutdown, "main.shutdown", func(context.Context, events.Event) error {
		cancel()
		return nil
	})

	var wg sync.WaitGroup

	// Status API comes up before the proxy so startup can be observed.
	var apiServer *api.Server
	if opts.cfg.GetAPI().Enabled {
		apiServer = api.NewServer(opts.cfg, b.bus, api.Deps{
			Version:   version,
			Sessions:  b.sessions,
			Relay:     b.relay,
			Accounts:  store,
			Artifacts: b.pcfg.AllArtifacts(),
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("status API failed (non-fatal)")
			}
		}()
	}

	if mqttCfg := opts.cfg.GetMQTT(); mqttCfg.Enabled {
		mqttHandler, err := telemetry.NewMQTTHandler(mqttCfg, b.bus, version)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := mqttHandler.Start(ctx); err != nil {
					log.Warn().Err(err).Msg("MQTT telemetry failed")
				}
			}()
		}
	}

	if connector.NewWebhookNotifier(opts.cfg.GetNotify(), nil).Attach(b.bus) {
		log.Info().Msg("webhook notifications enabled")
	}

	// The bridge is useless without the proxy, so a failed launch ends the
	// process.
	handle := proxy.MustLaunch(ctx, b.pcfg)
	if handle == nil {
		wg.Wait()
		return ctx.Err()
	}
	if apiServer != nil {
		apiServer.SetProxy(handle)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		b.sessions.Loop().Run(ctx)
	}()

	hc := opts.cfg.GetHealth()
	healthMgr := health.NewManager(health.Options{
		Interval:     time.Duration(hc.ProxyCheckIntervalS) * time.Second,
		MemoryWarnMB: hc.MemoryWarnMB,
		DataDir:      b.pcfg.ArtifactDir(),
	}, b.bus, handle, counters{sessions: b.sessions, relay: b.relay})
	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	if console {
		c := cli.NewCLI(b.bus, cli.Deps{
			Proxy:     handle,
			Sessions:  b.sessions,
			Accounts:  store,
			Artifacts: b.pcfg.AllArtifacts(),
		}, os.Stdin, os.Stdout)
		go c.Start(ctx)
	}

	log.Info().
		Str("bind", handle.BindAddress().String()).
		Str("target_version", handle.Version()).
		Msg("bridge ready")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("initiating graceful shutdown...")
	case <-handle.Exited():
		log.Error().Int("exit_code", handle.Stats().ExitCode).Msg("proxy exited, shutting down")
		runErr = fmt.Errorf("proxy exited with code %d", handle.Stats().ExitCode)
		cancel()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	b.bus.Stop()
	log.Info().Msg("viabridge stopped")
	return runErr
}
