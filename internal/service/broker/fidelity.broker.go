package broker

import (
	"context"
	"fmt"

	"github.com/braydio/Override-RSA/internal/config"
	"github.com/braydio/Override-RSA/internal/entity"
	"github.com/sirupsen/logrus"
)

// FidelityBroker is recognized so order lines naming it parse, but there
// is no automation behind it. Fidelity has no API surface we can drive
// without a full browser session.
type FidelityBroker struct{}

func InitFidelityBroker() *FidelityBroker {
	b := &FidelityBroker{}

	RegisterBroker(entity.BrokerFidelity, b)

	return b
}

func (b *FidelityBroker) Name() entity.BrokerName {
	return entity.BrokerFidelity
}

func (b *FidelityBroker) Init(ctx context.Context, notifier entity.Notifier) (*entity.Brokerage, error) {
	creds, err := entity.ParseCredentialSets(config.BrokerCredentials(string(entity.BrokerFidelity)), 1)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		logrus.Info("Fidelity not found, skipping...")
		return nil, nil
	}

	notifier.Notify(ctx, "Fidelity is not supported for automated trading")
	return nil, nil
}

func (b *FidelityBroker) Holdings(ctx context.Context, brokerage *entity.Brokerage, notifier entity.Notifier) error {
	return fmt.Errorf("fidelity is not supported for automated trading")
}

func (b *FidelityBroker) Transaction(ctx context.Context, brokerage *entity.Brokerage, order *entity.OrderRequest, notifier entity.Notifier) error {
	return fmt.Errorf("fidelity is not supported for automated trading")
}
