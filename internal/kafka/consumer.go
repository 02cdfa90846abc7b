package kafka

import (
	"context"
	"errors"

	"github.com/eventflow/realtime/internal/observability"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

type Handler interface {
	Handle(ctx context.Context, record []byte)
}

// Consumer reads message events for local fan-out. It joins no consumer group:
// every gateway instance needs every record because room members may be
// connected anywhere.
type Consumer struct {
	client  *kgo.Client
	handler Handler
	done    chan struct{}
}

func NewConsumer(brokers, topics []string, handler Handler) (*Consumer, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumeTopics(topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	)
	if err != nil {
		return nil, err
	}
	return &Consumer{client: cl, handler: handler, done: make(chan struct{})}, nil
}

// Start runs the poll loop in the background until ctx ends or Close is called.
func (c *Consumer) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		log := observability.GetLogger(ctx)
		log.Info("kafka consumer started")
		for {
			select {
			case <-ctx.Done():
				log.Info("kafka consumer loop stopping: context canceled")
				return
			default:
				fetches := c.client.PollFetches(ctx)
				if fetches.IsClientClosed() {
					return
				}
				if errs := fetches.Errors(); len(errs) > 0 {
					for _, ferr := range errs {
						if errors.Is(ferr.Err, context.Canceled) {
							return
						}
						log.Error("kafka fetch error", zap.String("topic", ferr.Topic), zap.Int32("partition", ferr.Partition), zap.Error(ferr.Err))
					}
					continue
				}

				fetches.EachRecord(func(r *kgo.Record) {
					ctx := otel.GetTextMapPropagator().Extract(ctx, RecordCarrier{Record: r})
					c.handler.Handle(ctx, r.Value)
				})
			}
		}
	}()
}

// Done is closed once the poll loop has exited.
func (c *Consumer) Done() <-chan struct{} { return c.done }

func (c *Consumer) Close() {
	if c.client != nil {
		c.client.Close()
	}
}
