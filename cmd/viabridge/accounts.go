package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/viabridge-project/viabridge/internal/cli"
	"github.com/viabridge-project/viabridge/internal/db"
)

func newAccountsCommand(opts *globalOptions) (*cobra.Command, error) {
	accountsCmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manages the stored accounts used to answer join requests",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Lists stored accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := opts.openAccounts()
			if err != nil {
				return err
			}
			defer store.Close()

			accounts, err := store.List()
			if err != nil {
				return err
			}
			cli.RenderAccounts(os.Stdout, accounts)
			return nil
		},
	}

	var (
		online  bool
		rawUUID string
		token   string
	)
	addCmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Adds or replaces an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := db.StoredAccount{Username: args[0], Online: online, AccessToken: token}
			if rawUUID != "" {
				id, err := uuid.Parse(rawUUID)
				if err != nil {
					return fmt.Errorf("invalid uuid %q: %w", rawUUID, err)
				}
				a.UUID = id
			}

			store, err := opts.openAccounts()
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Put(a)
		},
	}
	addCmd.Flags().BoolVar(&online, "online", false, "Account authenticates with the session server")
	addCmd.Flags().StringVar(&rawUUID, "uuid", "", "Profile UUID (required for online accounts)")
	addCmd.Flags().StringVar(&token, "token", "", "Access token")

	setTokenCmd := &cobra.Command{
		Use:   "set-token <username> <token>",
		Short: "Replaces an account's access token",
		Long: `Replaces an account's access token. A running bridge picks the new token
up the next time the session server rejects the old one.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.openAccounts()
			if err != nil {
				return err
			}
			defer store.Close()
			return store.UpdateToken(args[0], args[1])
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <username>",
		Short: "Removes an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.openAccounts()
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Delete(args[0])
		},
	}

	var limit int
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Shows recent join results and login sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := opts.openAccounts()
			if err != nil {
				return err
			}
			defer store.Close()

			history, err := store.History(limit)
			if err != nil {
				return err
			}
			cli.RenderHistory(os.Stdout, history)
			return nil
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of events to show")

	accountsCmd.AddCommand(listCmd, addCmd, setTokenCmd, removeCmd, historyCmd)
	return accountsCmd, nil
}
