// Command attestor checks attestation eligibility of a holder on an EVM ledger, issues
// the attestation token and records the reviewer's approval.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "attestor",
		Short: "Eligibility and attestation pipeline for ERC-1155 class tokens.",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file (ATTESTOR_* environment variables override it)")

	root.AddCommand(
		scanCmd(&configPath),
		checkCmd(&configPath),
		issueCmd(&configPath),
		locateCmd(&configPath),
		approveCmd(&configPath),
		approvalsCmd(&configPath),
		journalCmd(&configPath),
	)
	return root
}
