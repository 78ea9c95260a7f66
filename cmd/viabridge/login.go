package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/viabridge-project/viabridge/internal/address"
	"github.com/viabridge-project/viabridge/internal/cli"
	"github.com/viabridge-project/viabridge/internal/events"
	"github.com/viabridge-project/viabridge/internal/proxy"
	"github.com/viabridge-project/viabridge/internal/session"
)

func newLoginCommand(opts *globalOptions) (*cobra.Command, error) {
	loginCmd := &cobra.Command{
		Use:   "login <account> <host[:port]>",
		Short: "Launches the proxy and logs one stored account in to a server",
		Long: `Launches the proxy, connects to the server through it and completes the
login phase, answering the proxy's join request with the account's session.
The proxy process ends with this command.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := address.ParseServerAddress(args[1])
			if err != nil {
				return err
			}
			return loginOnce(cmd.Context(), opts, args[0], target)
		},
	}
	return loginCmd, nil
}

func loginOnce(ctx context.Context, opts *globalOptions, username string, target address.ServerAddress) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, err := opts.openAccounts()
	if err != nil {
		return err
	}
	defer store.Close()

	account, err := store.Account(username)
	if err != nil {
		return err
	}

	b, err := newBridge(opts)
	if err != nil {
		return err
	}
	defer b.bus.Stop()
	for _, t := range []events.EventType{events.EventJoinResult, events.EventSessionLoggedIn, events.EventSessionClosed} {
		b.bus.Subscribe(t, "db.history", store.RecordEvent)
	}

	handle, err := proxy.Launch(ctx, b.pcfg)
	if err != nil {
		return fmt.Errorf("failed to launch proxy: %w", err)
	}
	go b.sessions.Loop().Run(ctx)

	res, err := b.sessions.Login(ctx, session.Request{
		Account: account,
		Target:  target,
		Bind:    handle.BindAddress(),
		Version: handle.Version(),
	})
	if res != nil {
		cli.RenderResult(os.Stdout, res)
	}
	if err != nil {
		return err
	}

	log.Info().Str("account", username).Str("target", target.String()).Msg("login complete")
	return nil
}
