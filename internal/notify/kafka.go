package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/eventflow/realtime/internal/kafka"
	"github.com/eventflow/realtime/internal/observability"
	"github.com/eventflow/realtime/internal/presence"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// KafkaPublisher appends changes to a topic keyed by user id, so per-user order is kept
// within a partition. Produce is asynchronous; failures are logged and counted.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
		kgo.ProducerLinger(5*time.Millisecond),
	)
	if err != nil {
		return nil, err
	}
	return &KafkaPublisher{client: cl, topic: topic}, nil
}

func (p *KafkaPublisher) Name() string { return "kafka" }

func (p *KafkaPublisher) Publish(ctx context.Context, c presence.Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	rec := &kgo.Record{Topic: p.topic, Key: []byte(c.UserID), Value: payload}
	otel.GetTextMapPropagator().Inject(ctx, kafka.RecordCarrier{Record: rec})

	p.client.Produce(context.WithoutCancel(ctx), rec, func(r *kgo.Record, err error) {
		if err != nil {
			observability.NotifyPublishTotal.WithLabelValues(p.Name(), "async_error").Inc()
			observability.GetLogger(ctx).Warn("kafka presence publish failed", zap.String("user_id", string(r.Key)), zap.Error(err))
		}
	})
	return nil
}

func (p *KafkaPublisher) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.client.Flush(ctx)
	p.client.Close()
	return err
}
