// Command reconciler ingests payment gateway webhooks and reconciles them against
// invoices and payment requests.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "none"
)

type rootOptions struct {
	configPath string
	dev        bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "reconciler",
		Short:         "Payment gateway webhook ingestion and reconciliation",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&opts.dev, "dev", false, "enable developer mode (console logs, dev encryption key)")

	rootCmd.AddCommand(serveCmd(opts))
	rootCmd.AddCommand(workerCmd(opts))
	rootCmd.AddCommand(migrateCmd(opts))
	rootCmd.AddCommand(chargeCmd(opts))
	rootCmd.AddCommand(seedCmd(opts))
	rootCmd.AddCommand(tokenCmd(opts))

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
