package bootstrap

import (
	"context"
	"os"

	"github.com/braydio/Override-RSA/internal/market"
	"github.com/braydio/Override-RSA/internal/service/dispatcher"
	"github.com/braydio/Override-RSA/internal/util"
	"github.com/spf13/cobra"
)

// StartOrder runs the one-shot order flow:
// override-rsa order <buy|sell> <amount|all> <symbols> <brokers> [dry] [--dry]
func StartOrder(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := buildRuntime(ctx)
	util.ContinueOrFatal(err)
	defer deps.close(ctx)

	registerBrokers(deps.store, stdinOTP{})

	order, targets, err := dispatcher.ParseOrder(args)
	util.ContinueOrFatal(err)

	if dryFlag, _ := cmd.Flags().GetBool("dry"); dryFlag {
		order.DryRun = true
	}

	d := dispatcher.New(market.NewClock(), deps.notifier)
	if err := d.Order(ctx, order, targets); err != nil {
		// Already reported through the notifier.
		deps.close(ctx)
		os.Exit(1)
	}
}
