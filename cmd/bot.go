/*
Copyright © 2026 braydio
*/
package cmd

import (
	"github.com/braydio/Override-RSA/internal/bootstrap"
	"github.com/spf13/cobra"
)

// botCmd represents the bot command
var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run the Discord bot",
	Long: `Run the long-lived Discord bot. Commands in the configured channel:

  !ping                                        liveness check
  !market                                      time until market open/close
  !rsa <buy|sell> <amount|all> <symbols> <brokers> [dry]
  !holdings <brokers>
  !otp <code>                                  supply a pending one-time code
  !restart                                     restart the bot process`,
	Run: bootstrap.StartBot,
}

func init() {
	rootCmd.AddCommand(botCmd)
}
