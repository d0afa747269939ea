/*
Copyright © 2026 braydio
*/
package cmd

import (
	"github.com/braydio/Override-RSA/internal/bootstrap"
	"github.com/spf13/cobra"
)

// orderCmd represents the order command
var orderCmd = &cobra.Command{
	Use:   "order <buy|sell> <amount|all> <symbols> <brokers> [dry]",
	Short: "Place the same order across brokerage accounts",
	Long: `Place a market order for one or more symbols across the targeted
brokerages. Symbols and brokers are comma separated; the broker token
"all" targets every configured brokerage, and "dry" means all brokerages
without placing live orders.

Example:
  override-rsa order buy 5 AAPL schwab dry`,
	Args: cobra.MinimumNArgs(4),
	Run:  bootstrap.StartOrder,
}

func init() {
	rootCmd.AddCommand(orderCmd)
	orderCmd.Flags().Bool("dry", false, "report what would be traded without placing orders")
}
