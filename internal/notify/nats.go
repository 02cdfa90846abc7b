package notify

import (
	"context"
	"encoding/json"

	"github.com/eventflow/realtime/internal/presence"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// natsHeaderCarrier adapts nats.Header to propagation.TextMapCarrier.
type natsHeaderCarrier struct {
	header nats.Header
}

func (c natsHeaderCarrier) Get(key string) string { return c.header.Get(key) }

func (c natsHeaderCarrier) Set(key, value string) { c.header.Set(key, value) }

func (c natsHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c.header))
	for k := range c.header {
		keys = append(keys, k)
	}
	return keys
}

type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	owned   bool
}

// NewNATSPublisher dials url and owns the connection.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("realtime-presence"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	p := NewNATSPublisherWithConn(nc, subject)
	p.owned = true
	return p, nil
}

func NewNATSPublisherWithConn(nc *nats.Conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = PresenceSubject
	}
	return &NATSPublisher{nc: nc, subject: subject}
}

func (p *NATSPublisher) Name() string { return "nats" }

func (p *NATSPublisher) Publish(ctx context.Context, c presence.Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	msg := &nats.Msg{
		Subject: p.subject,
		Data:    payload,
		Header:  nats.Header{},
	}
	otel.GetTextMapPropagator().Inject(ctx, natsHeaderCarrier{header: msg.Header})
	return p.nc.PublishMsg(msg)
}

func (p *NATSPublisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.nc.Drain()
}
