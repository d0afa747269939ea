package broker

import (
	"context"
	"fmt"
	"strings"

	"github.com/braydio/Override-RSA/internal/entity"
	"github.com/braydio/Override-RSA/internal/util"
)

// reportHoldings renders a brokerage's collected positions to the notifier,
// one block per identity/account. Accounts with no positions still report
// their total so empty accounts are visible.
func reportHoldings(ctx context.Context, brokerage *entity.Brokerage, notifier entity.Notifier) {
	var sb strings.Builder
	sb.WriteString("==============================\n")
	sb.WriteString(brokerage.Name())
	sb.WriteString(" Holdings\n")
	sb.WriteString("==============================")
	notifier.Notify(ctx, sb.String())

	for _, identity := range brokerage.Identities() {
		accounts, err := brokerage.AccountNumbers(identity)
		if err != nil {
			notifier.Notify(ctx, fmt.Sprintf("%s: %v", identity, err))
			continue
		}

		for _, accountNumber := range accounts {
			account, err := brokerage.Account(identity, accountNumber)
			if err != nil {
				notifier.Notify(ctx, fmt.Sprintf("%s: %v", identity, err))
				continue
			}

			header := fmt.Sprintf("%s (%s", identity, util.MaskString(accountNumber))
			if account.Type != "" {
				header += " - " + account.Type
			}
			header += "):"
			notifier.Notify(ctx, header)

			for _, position := range account.Positions {
				value := position.Quantity.Mul(position.Price)
				notifier.Notify(ctx, fmt.Sprintf("  %s: %s @ $%s = $%s", position.Symbol, position.Quantity.String(), position.Price.StringFixed(2), value.StringFixed(2)))
			}

			notifier.Notify(ctx, fmt.Sprintf("  Total: $%s", account.Total.StringFixed(2)))
		}
	}
}
