// Package main is scheduler-cli, a local tool for running the publishing
// scheduler and inspecting billing outside Lambda.
//
// Settings come from the environment, optionally seeded from a .env file.
// Without TABLE_NAME the commands run against an in-memory store.
package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fpang/social-scheduler/internal/cli"
	"github.com/fpang/social-scheduler/internal/logging"
	"github.com/fpang/social-scheduler/internal/store"
)

// app carries what the commands share. Tests replace openStore.
type app struct {
	envFile   string
	table     string
	in        io.Reader
	openStore func(ctx context.Context, table string) (store.Store, error)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "scheduler-cli",
		Short: "Run the post scheduler and billing tools locally",
		Long: `scheduler-cli runs the social post scheduler outside Lambda and exposes
the billing helpers used by the API.

Examples:
  scheduler-cli run
  scheduler-cli serve --addr :8080 --cron "@every 30s"
  scheduler-cli quote --plan starter --cycle yearly --currency INR --country IN
  scheduler-cli invoice-pdf --user u-123 --invoice inv-456 --out invoice.pdf
  scheduler-cli token --user u-123 --ttl 24h`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.LoadEnv(a.envFile); err != nil {
				return err
			}
			logging.Init()
			if a.table == "" {
				a.table = cli.TableFromEnv()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "File of KEY=value settings loaded before running")
	root.PersistentFlags().StringVar(&a.table, "table", "", "DynamoDB table (default $TABLE_NAME, in-memory when empty)")

	root.AddCommand(
		newRunCmd(a),
		newServeCmd(a),
		newPlansCmd(),
		newQuoteCmd(),
		newInvoicePDFCmd(a),
		newSignPaymentCmd(),
		newTokenCmd(),
		newVersionCmd(),
	)
	return root
}

func main() {
	a := &app{in: os.Stdin, openStore: cli.OpenStore}
	if err := newRootCmd(a).Execute(); err != nil {
		os.Exit(1)
	}
}
