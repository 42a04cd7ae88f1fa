package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flemzord/sgate/pkg/app"
)

func quotaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Quota ledger maintenance",
	}
	sync := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile every ledger into the durable store once",
		Long: "Reconcile every ledger into the durable store once. Safe to run " +
			"while the gateway is up: a key already synced is a no-op.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			params := runParams(cmd)
			cfg, _, err := app.LoadConfig(params.ConfigPath)
			if err != nil {
				return err
			}
			rt, err := app.Build(cmd.Context(), cfg, app.BuildParams{
				LogOutput: cmd.ErrOrStderr(),
				DataDir:   params.DataDir,
				Only:      []string{"store", "cache"},
			})
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			results, err := rt.SyncLedgers(cmd.Context())
			out := cmd.OutOrStdout()
			for _, name := range rt.Ledgers.Names() {
				var applied int
				var amount int64
				for _, r := range results[name] {
					if r.Applied {
						applied++
						amount += r.Entry.Amount
					}
				}
				fmt.Fprintf(out, "%s: %d keys, %d applied, %d moved\n", name, len(results[name]), applied, amount)
			}
			return err
		},
	}
	sync.Flags().String("data-dir", "", "Override the persistent data directory")
	cmd.AddCommand(sync)
	return cmd
}
