package broker

import (
	"fmt"
	"strings"
	"time"

	"github.com/braydio/Override-RSA/internal/entity"
	"github.com/guregu/null/v6"
	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"
)

var (
	GlobalBrokerRegistry = make(map[entity.BrokerName]entity.Broker)
	registryOrder        []entity.BrokerName
)

func RegisterBroker(name entity.BrokerName, b entity.Broker) {
	if _, exists := GlobalBrokerRegistry[name]; !exists {
		registryOrder = append(registryOrder, name)
	}
	GlobalBrokerRegistry[name] = b
}

// RegisteredBrokers returns broker names in registration order, which is
// the dispatch order for "all" mode.
func RegisteredBrokers() []entity.BrokerName {
	out := make([]entity.BrokerName, 0, len(registryOrder))
	out = append(out, registryOrder...)
	return out
}

// ResetRegistry clears registered adapters between runs.
func ResetRegistry() {
	GlobalBrokerRegistry = make(map[entity.BrokerName]entity.Broker)
	registryOrder = nil
}

const defaultHTTPTimeout = 15 * time.Second

// mintTOTP produces the current one-time code for a configured 2FA secret.
func mintTOTP(secret string) (string, error) {
	code, err := totp.GenerateCode(strings.TrimSpace(secret), time.Now())
	if err != nil {
		return "", fmt.Errorf("generate totp code: %w", err)
	}
	return code, nil
}

// repriceLimit turns a rejected market order into a limit price using the
// best bid/ask plus a one cent offset in the direction of the trade.
func repriceLimit(action entity.OrderAction, ask, bid decimal.Decimal) decimal.Decimal {
	cent := decimal.New(1, -2)
	if action == entity.OrderActionBuy {
		price := bid
		if ask.GreaterThan(bid) {
			price = ask
		}
		return price.Add(cent)
	}

	price := bid
	if ask.LessThan(bid) {
		price = ask
	}
	return price.Sub(cent)
}

// sharesWord pluralizes share counts in status lines.
func sharesWord(order *entity.OrderRequest) string {
	if !order.AmountAll && order.Amount == 1 {
		return "share"
	}
	return "shares"
}

func newOutcome(brokerName entity.BrokerName, identity, account string, order *entity.OrderRequest, symbol, status string) entity.OrderOutcome {
	quantity := decimal.NewFromInt(order.Amount)
	if order.AmountAll {
		quantity = decimal.Zero
	}

	return entity.OrderOutcome{
		RequestID: order.RequestID,
		Broker:    string(brokerName),
		Identity:  identity,
		Account:   account,
		Symbol:    symbol,
		Action:    order.Action,
		Quantity:  quantity,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
}

func failedOutcome(brokerName entity.BrokerName, identity, account string, order *entity.OrderRequest, symbol string, err error) entity.OrderOutcome {
	outcome := newOutcome(brokerName, identity, account, order, symbol, entity.OutcomeStatusFailed)
	outcome.ErrorMessage = null.StringFrom(err.Error())
	return outcome
}
