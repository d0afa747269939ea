package bootstrap

import (
	"fmt"

	"github.com/braydio/Override-RSA/internal/market"
	"github.com/spf13/cobra"
)

// StartMarket prints the exchange session status.
func StartMarket(cmd *cobra.Command, args []string) {
	fmt.Println(market.NewClock().Status())
}
