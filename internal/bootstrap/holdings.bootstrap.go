package bootstrap

import (
	"context"
	"os"

	"github.com/braydio/Override-RSA/internal/market"
	"github.com/braydio/Override-RSA/internal/service/dispatcher"
	"github.com/braydio/Override-RSA/internal/util"
	"github.com/spf13/cobra"
)

// StartHoldings reports positions across the requested brokerages:
// override-rsa holdings [brokers]
func StartHoldings(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := buildRuntime(ctx)
	util.ContinueOrFatal(err)
	defer deps.close(ctx)

	registerBrokers(deps.store, stdinOTP{})

	brokersToken := "all"
	if len(args) > 0 {
		brokersToken = args[0]
	}

	targets, err := dispatcher.ResolveBrokers(brokersToken)
	util.ContinueOrFatal(err)

	d := dispatcher.New(market.NewClock(), deps.notifier)
	if err := d.Holdings(ctx, targets); err != nil {
		deps.close(ctx)
		os.Exit(1)
	}
}
