package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/viabridge-project/viabridge/internal/artifact"
	"github.com/viabridge-project/viabridge/internal/cli"
	"github.com/viabridge-project/viabridge/internal/jvm"
)

func newFetchCommand(opts *globalOptions) (*cobra.Command, error) {
	var statusOnly bool

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Downloads the proxy jars and plugins that are not present yet",
		Long: `Downloads every artifact the bridge may run: both ViaProxy builds and the
OpenAuthMod plugin. Files that already exist are never downloaded again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pcfg, err := opts.proxyConfig(nil)
			if err != nil {
				return err
			}
			records := pcfg.AllArtifacts()

			if !statusOnly {
				for _, rec := range records {
					if err := pcfg.Provisioner.EnsureRecord(cmd.Context(), rec); err != nil {
						return err
					}
				}
			}

			cli.RenderArtifacts(os.Stdout, artifact.Status(records))
			return nil
		},
	}
	fetchCmd.Flags().BoolVar(&statusOnly, "status", false, "Only show which artifacts are present")

	return fetchCmd, nil
}

func newProbeCommand(opts *globalOptions) (*cobra.Command, error) {
	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Reports the Java runtime version and the proxy build it selects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pcfg, err := opts.proxyConfig(nil)
			if err != nil {
				return err
			}
			java := opts.cfg.GetProxy().JavaExecutable

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			v, err := jvm.Probe(ctx, java)
			if err != nil {
				return err
			}
			if v == nil {
				return fmt.Errorf("java runtime %q could not be run", java)
			}

			jar, plugins := pcfg.Artifacts(v.Feature())
			fmt.Printf("java:      %s (%s)\n", v, java)
			fmt.Printf("feature:   %d\n", v.Feature())
			fmt.Printf("proxy jar: %s\n", jar.Path)
			for _, p := range plugins {
				fmt.Printf("plugin:    %s\n", p.Path)
			}
			return nil
		},
	}
	return probeCmd, nil
}

func newVersionCommand(_ *globalOptions) (*cobra.Command, error) {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints the viabridge version",
		Args:  cobra.NoArgs,
		// Skips config loading.
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Printf("viabridge %s\n", version)
		},
	}, nil
}
