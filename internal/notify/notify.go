// Package notify fans presence changes out to the configured message sinks.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/eventflow/realtime/internal/observability"
	"github.com/eventflow/realtime/internal/presence"
	"go.uber.org/zap"
)

const (
	// PresenceChannel is the Redis pub/sub channel gateway instances watch.
	PresenceChannel = "presence:updates"
	// PresenceSubject is the NATS subject other services subscribe to.
	PresenceSubject = "presence.updates"
)

type Publisher interface {
	Name() string
	Publish(ctx context.Context, c presence.Change) error
	Close() error
}

// Multi publishes every change to all sinks. It satisfies presence.Notifier.
type Multi struct {
	pubs []Publisher
}

func NewMulti(pubs ...Publisher) *Multi {
	return &Multi{pubs: pubs}
}

func (m *Multi) Len() int { return len(m.pubs) }

func (m *Multi) Notify(ctx context.Context, c presence.Change) error {
	var errs []error
	for _, p := range m.pubs {
		if err := p.Publish(ctx, c); err != nil {
			observability.NotifyPublishTotal.WithLabelValues(p.Name(), "error").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		observability.NotifyPublishTotal.WithLabelValues(p.Name(), "ok").Inc()
	}
	return errors.Join(errs...)
}

// Close closes every sink, logging failures, and returns them joined.
func (m *Multi) Close() error {
	var errs []error
	for _, p := range m.pubs {
		if err := p.Close(); err != nil {
			observability.GetLogger(context.Background()).Warn("notify: close failed", zap.String("sink", p.Name()), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
