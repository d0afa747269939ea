package notify

import (
	"context"
	"testing"

	"github.com/braydio/Override-RSA/internal/entity"
)

type recorder struct {
	messages []string
	outcomes []entity.OrderOutcome
}

func (r *recorder) Notify(_ context.Context, message string) {
	r.messages = append(r.messages, message)
}

func (r *recorder) Record(_ context.Context, outcome entity.OrderOutcome) {
	r.outcomes = append(r.outcomes, outcome)
}

func TestMultiFanOut(t *testing.T) {
	ctx := context.Background()
	first := &recorder{}
	second := &recorder{}

	multi := NewMulti(first, nil, second)
	multi.Notify(ctx, "hello")
	multi.Record(ctx, entity.OrderOutcome{Symbol: "AAPL"})

	for i, r := range []*recorder{first, second} {
		if len(r.messages) != 1 || r.messages[0] != "hello" {
			t.Errorf("sink %d messages = %v", i, r.messages)
		}
		if len(r.outcomes) != 1 || r.outcomes[0].Symbol != "AAPL" {
			t.Errorf("sink %d outcomes = %v", i, r.outcomes)
		}
	}
}

func TestMultiEmpty(t *testing.T) {
	multi := NewMulti(nil)
	// Must not panic with no sinks.
	multi.Notify(context.Background(), "hello")
	multi.Record(context.Background(), entity.OrderOutcome{})
}
