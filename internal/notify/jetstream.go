package notify

import (
	"context"
	"errors"
	"time"

	"github.com/braydio/Override-RSA/internal/constant"
	"github.com/braydio/Override-RSA/internal/entity"
	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Jetstream mirrors order outcomes onto a NATS JetStream stream so
// downstream consumers (audit, accounting) see every submission attempt.
// Notify is a no-op, only structured outcomes are published.
type Jetstream struct {
	js nats.JetStreamContext
}

func NewJetstream(js nats.JetStreamContext) (*Jetstream, error) {
	streamConfig := &nats.StreamConfig{
		Name:      constant.OrderOutcomeStreamName,
		Subjects:  []string{constant.OrderOutcomeStreamSubjectAll},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    30 * 24 * time.Hour,
		Replicas:  1,
	}

	stream, err := js.StreamInfo(constant.OrderOutcomeStreamName)
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		logrus.Error(err)
		return nil, err
	}

	if stream == nil {
		logrus.Infof("creating stream: %s", constant.OrderOutcomeStreamName)
		if _, err := js.AddStream(streamConfig); err != nil {
			return nil, err
		}
	} else {
		if _, err := js.UpdateStream(streamConfig); err != nil {
			logrus.Error(err)
			return nil, err
		}
	}

	return &Jetstream{js: js}, nil
}

func (j *Jetstream) Notify(_ context.Context, _ string) {}

func (j *Jetstream) Record(_ context.Context, outcome entity.OrderOutcome) {
	event := entity.OrderOutcomeEvent{Data: outcome}
	payload, err := json.Marshal(event)
	if err != nil {
		logrus.Errorf("marshal order outcome event: %v", err)
		return
	}

	if _, err := j.js.Publish(constant.OrderOutcomeStreamSubject, payload); err != nil {
		logrus.Errorf("publish order outcome event: %v", err)
	}
}
