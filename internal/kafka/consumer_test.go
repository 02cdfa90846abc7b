package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kfake"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type recordingHandler struct {
	mu       sync.Mutex
	values   []string
	traceIDs []trace.TraceID
}

func (h *recordingHandler) Handle(ctx context.Context, record []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.values = append(h.values, string(record))
	h.traceIDs = append(h.traceIDs, trace.SpanContextFromContext(ctx).TraceID())
}

func (h *recordingHandler) snapshot() ([]string, []trace.TraceID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.values...), append([]trace.TraceID(nil), h.traceIDs...)
}

func TestConsumerDeliversRecordsWithTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	const topic = "messages"
	cluster, err := kfake.NewCluster(kfake.NumBrokers(1), kfake.SeedTopics(1, topic))
	require.NoError(t, err)
	t.Cleanup(cluster.Close)

	handler := &recordingHandler{}
	consumer, err := NewConsumer(cluster.ListenAddrs(), []string{topic}, handler)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		consumer.Close()
	})
	consumer.Start(ctx)

	producer, err := kgo.NewClient(kgo.SeedBrokers(cluster.ListenAddrs()...))
	require.NoError(t, err)
	t.Cleanup(producer.Close)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	traced := trace.ContextWithSpanContext(context.Background(), sc)

	// The consumer starts at the log end, so keep producing until it is attached.
	require.Eventually(t, func() bool {
		rec := &kgo.Record{Topic: topic, Value: []byte(`{"messageId":"m-1"}`)}
		otel.GetTextMapPropagator().Inject(traced, RecordCarrier{Record: rec})
		if err := producer.ProduceSync(context.Background(), rec).FirstErr(); err != nil {
			return false
		}
		values, _ := handler.snapshot()
		return len(values) > 0
	}, 10*time.Second, 100*time.Millisecond)

	values, traceIDs := handler.snapshot()
	assert.Equal(t, `{"messageId":"m-1"}`, values[0])
	assert.Equal(t, traceID, traceIDs[0])
}

func TestConsumerStopsOnClose(t *testing.T) {
	cluster, err := kfake.NewCluster(kfake.NumBrokers(1), kfake.SeedTopics(1, "messages"))
	require.NoError(t, err)
	t.Cleanup(cluster.Close)

	consumer, err := NewConsumer(cluster.ListenAddrs(), []string{"messages"}, &recordingHandler{})
	require.NoError(t, err)

	consumer.Start(context.Background())
	consumer.Close()

	select {
	case <-consumer.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("consumer loop still running after Close")
	}
}
