/*
Copyright © 2026 braydio
*/
package cmd

import (
	"github.com/braydio/Override-RSA/internal/bootstrap"
	"github.com/spf13/cobra"
)

// marketCmd represents the market command
var marketCmd = &cobra.Command{
	Use:   "market",
	Short: "Show whether the market is open",
	Long:  `Show the NYSE regular session status and the time until the next open or close.`,
	Run:   bootstrap.StartMarket,
}

func init() {
	rootCmd.AddCommand(marketCmd)
}
