package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/viabridge-project/viabridge/internal/artifact"
	"github.com/viabridge-project/viabridge/internal/config"
	"github.com/viabridge-project/viabridge/internal/db"
	"github.com/viabridge-project/viabridge/internal/events"
	"github.com/viabridge-project/viabridge/internal/proxy"
	"github.com/viabridge-project/viabridge/internal/util"
)

// globalOptions are the persistent flags and what init derives from them.
type globalOptions struct {
	configDir     string
	logLevel      string
	targetVersion string
	java          string
	backendProxy  string
	dataDir       string

	cfg *config.Config
}

func (o *globalOptions) bind(flags *pflag.FlagSet) {
	flags.StringVar(&o.configDir, "config-dir", config.DefaultConfigDir, "Directory holding config.json")
	flags.StringVar(&o.logLevel, "log-level", "", "Log level override (trace, debug, info, warn, error)")
	flags.StringVar(&o.targetVersion, "target-version", "", "Server protocol version to translate to (overrides config)")
	flags.StringVar(&o.java, "java", "", "Java executable (overrides config)")
	flags.StringVar(&o.backendProxy, "backend-proxy", "", "Upstream forwarding proxy URL (overrides config)")
	flags.StringVar(&o.dataDir, "data-dir", "", "Data directory holding viabridge/ (overrides config)")
}

// init loads the config, applies flag overrides, validates and sets up
// logging the way the config asks.
func (o *globalOptions) init() error {
	// Console only until the config says where log files go.
	if err := util.InitLogger(util.LogConfig{Level: "info", Console: true}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
	}

	cfg, err := config.Load(o.configDir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	p := cfg.GetProxy()
	if o.targetVersion != "" {
		p.TargetVersion = o.targetVersion
	}
	if o.java != "" {
		p.JavaExecutable = o.java
	}
	if o.backendProxy != "" {
		p.BackendProxyURL = o.backendProxy
	}
	if o.dataDir != "" {
		p.DataDir = o.dataDir
	}
	cfg.SetProxy(p)

	logging := cfg.GetLogging()
	logCfg := util.LogConfig{
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxBackups: logging.MaxBackups,
		Console:    true,
	}
	if o.logLevel != "" {
		logCfg.Level = o.logLevel
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return fmt.Errorf("configuration validation failed, please fix the errors above")
	}

	o.cfg = cfg
	return nil
}

// proxyConfig builds the launch description from the loaded config.
func (o *globalOptions) proxyConfig(bus *events.Bus) (proxy.Config, error) {
	dataDir, err := o.cfg.DataDir()
	if err != nil {
		return proxy.Config{}, fmt.Errorf("failed to resolve data directory: %w", err)
	}

	p := o.cfg.GetProxy()
	a := o.cfg.GetArtifacts()

	progress := artifact.SilentProgress
	if a.ShowProgress {
		progress = artifact.TerminalProgress
	}

	return proxy.Config{
		Java:             p.JavaExecutable,
		DataDir:          dataDir,
		Version:          p.TargetVersion,
		BackendProxyURL:  p.BackendProxyURL,
		ViaProxyURL:      a.ViaProxyURL,
		ViaProxyJava8URL: a.ViaProxyJava8URL,
		OpenAuthModURL:   a.OpenAuthModURL,
		ReadyGrace:       p.ReadyGrace(),
		Provisioner:      artifact.NewProvisioner(nil, progress, bus),
		EventBus:         bus,
	}, nil
}

func (o *globalOptions) openAccounts() (*db.AccountStore, error) {
	store, err := db.NewAccountStore(o.cfg.GetAccounts().DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open account store: %w", err)
	}
	return store, nil
}
