// Package dlq publishes abandoned deliveries to an NSQ topic so operators
// can alert on them or replay them by hand.
package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nsqio/go-nsq"

	"github.com/austindbirch/hookline/internal/delivery"
	"github.com/austindbirch/hookline/internal/logging"
	"github.com/austindbirch/hookline/internal/tracing"

	"go.opentelemetry.io/otel/attribute"
)

const DefaultTopic = "webhook_deliveries_dlq"

// Publisher is satisfied by *nsq.Producer
type Publisher interface {
	Publish(topic string, body []byte) error
}

type NSQNotifier struct {
	pub    Publisher
	topic  string
	logger *logging.Logger
}

func NewNSQNotifier(pub Publisher, topic string, logger *logging.Logger) (*NSQNotifier, error) {
	if pub == nil {
		return nil, errors.New("dlq publisher is required")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	if !nsq.IsValidTopicName(topic) {
		return nil, fmt.Errorf("invalid nsq topic %q", topic)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &NSQNotifier{pub: pub, topic: topic, logger: logger}, nil
}

func (n *NSQNotifier) Topic() string { return n.topic }

// Notify publishes dl as JSON. nsq.Producer.Publish is synchronous, so a nil
// error means nsqd acknowledged the message.
func (n *NSQNotifier) Notify(ctx context.Context, dl delivery.DeadLetter) error {
	b, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	if err := n.pub.Publish(n.topic, b); err != nil {
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("publish to %s: %w", n.topic, err)
	}
	tracing.AddSpanEvent(ctx, "nsq.published_dlq", attribute.String("topic", n.topic))
	n.logger.WithContext(ctx).
		WithEndpoint(dl.Job.EndpointID).
		WithField("delivery_id", dl.Job.DeliveryID).
		WithField("topic", n.topic).
		Info("dlq published")
	return nil
}

// NewProducer connects an nsq.Producer to nsqd and verifies it with a ping
func NewProducer(addr string) (*nsq.Producer, error) {
	cfg := nsq.NewConfig()
	p, err := nsq.NewProducer(addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("nsq producer for %s: %w", addr, err)
	}
	p.SetLoggerLevel(nsq.LogLevelWarning)
	if err := p.Ping(); err != nil {
		p.Stop()
		return nil, fmt.Errorf("ping nsqd at %s: %w", addr, err)
	}
	return p, nil
}
