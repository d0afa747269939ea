/*
Copyright © 2026 braydio
*/
package cmd

import (
	"github.com/braydio/Override-RSA/internal/bootstrap"
	"github.com/spf13/cobra"
)

// holdingsCmd represents the holdings command
var holdingsCmd = &cobra.Command{
	Use:   "holdings [brokers]",
	Short: "Report positions across brokerage accounts",
	Long:  `Log in to the targeted brokerages and print every account's positions with current prices and totals. Defaults to all configured brokerages.`,
	Args:  cobra.MaximumNArgs(1),
	Run:   bootstrap.StartHoldings,
}

func init() {
	rootCmd.AddCommand(holdingsCmd)
}
