package notify

import (
	"context"
	"fmt"

	"github.com/braydio/Override-RSA/internal/entity"
	"github.com/sirupsen/logrus"
)

// Console prints status lines to stdout, mirroring them into the log.
type Console struct{}

func NewConsole() *Console {
	return &Console{}
}

func (c *Console) Notify(_ context.Context, message string) {
	fmt.Println(message)
}

func (c *Console) Record(_ context.Context, outcome entity.OrderOutcome) {
	logrus.WithFields(logrus.Fields{
		"broker":   outcome.Broker,
		"identity": outcome.Identity,
		"symbol":   outcome.Symbol,
		"action":   outcome.Action,
		"quantity": outcome.Quantity.String(),
		"status":   outcome.Status,
	}).Debug("order outcome")
}

// Multi fans a notification out to every configured sink.
type Multi struct {
	notifiers []entity.Notifier
}

func NewMulti(notifiers ...entity.Notifier) *Multi {
	flattened := make([]entity.Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		flattened = append(flattened, n)
	}
	return &Multi{notifiers: flattened}
}

func (m *Multi) Notify(ctx context.Context, message string) {
	for _, n := range m.notifiers {
		n.Notify(ctx, message)
	}
}

func (m *Multi) Record(ctx context.Context, outcome entity.OrderOutcome) {
	for _, n := range m.notifiers {
		n.Record(ctx, outcome)
	}
}
