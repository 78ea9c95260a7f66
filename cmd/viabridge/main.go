// viabridge launches a local ViaProxy instance that translates between the
// client protocol and older or newer server versions, and relays the
// proxy's OpenAuthMod join requests to the Mojang session server on behalf
// of locally stored accounts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, err := newRootCommand()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up commands: %v\n", err)
		os.Exit(1)
	}
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() (*cobra.Command, error) {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "viabridge",
		Short: "Runs a local ViaProxy bridge with session-server authentication",
		Long: `viabridge provisions and launches ViaProxy with the OpenAuthMod plugin,
rewrites connection targets to the local proxy and answers the proxy's
join requests with the stored account's session.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.init()
		},
	}
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	opts.bind(rootCmd.PersistentFlags())

	builders := []struct {
		name string
		fn   func(*globalOptions) (*cobra.Command, error)
	}{
		{"run", newRunCommand},
		{"fetch", newFetchCommand},
		{"probe", newProbeCommand},
		{"login", newLoginCommand},
		{"accounts", newAccountsCommand},
		{"version", newVersionCommand},
	}
	for _, b := range builders {
		cmd, err := b.fn(opts)
		if err != nil {
			return nil, fmt.Errorf("could not set up '%s' command: %w", b.name, err)
		}
		rootCmd.AddCommand(cmd)
	}

	return rootCmd, nil
}
