// Package main is the entry point for the sgate CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flemzord/sgate/internal/core"
	"github.com/flemzord/sgate/pkg/app"

	_ "github.com/flemzord/sgate/modules/cache/redis"
	_ "github.com/flemzord/sgate/modules/provider/openai_compatible"
	_ "github.com/flemzord/sgate/modules/store/sqlite"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sgate",
		Short:         "A bandit-routed gateway in front of LLM providers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	root.AddCommand(versionCmd(), startCmd(), configCmd(), quotaCmd(), serviceCmd())
	return root
}

func runParams(cmd *cobra.Command) app.RunParams {
	cfgPath, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	return app.RunParams{
		ConfigPath: cfgPath,
		DataDir:    dataDir,
		Version:    version,
		Commit:     commit,
		Date:       date,
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "sgate %s (commit: %s, built: %s)\n", version, commit, date)
	mods := core.GetModules()
	if len(mods) == 0 {
		fmt.Fprintln(w, "\nNo compiled modules.")
		return
	}
	fmt.Fprintln(w, "\nCompiled modules:")
	for _, mod := range mods {
		fmt.Fprintf(w, "  %s\n", mod.ID)
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the gateway with all configured modules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx, runParams(cmd))
		},
	}
	cmd.Flags().String("data-dir", "", "Override the persistent data directory")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <path>",
		Short: "Validate configuration and provision every module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := app.LoadConfig(args[0])
			if err != nil {
				return err
			}

			scratch, err := os.MkdirTemp("", "sgate-check-")
			if err != nil {
				return err
			}
			defer os.RemoveAll(scratch) //nolint:errcheck // best-effort cleanup

			rt, err := app.Build(cmd.Context(), cfg, app.BuildParams{
				LogOutput: cmd.ErrOrStderr(),
				DataDir:   scratch,
			})
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration OK (%d providers, %d arms, %d modules)\n",
				len(rt.Providers.Names()), len(cfg.Arms), len(cfg.Modules))
			for _, name := range rt.Providers.Names() {
				fmt.Fprintf(out, "  provider %s\n", name)
			}
			for _, a := range cfg.Arms {
				fmt.Fprintf(out, "  arm %s -> %s/%s (%s)\n", a.ID, a.InstanceID, a.ProviderModelID, a.Model)
			}
			return nil
		},
	})
	return cmd
}
