package presence

import (
	"context"
	"sync"
	"time"

	"github.com/eventflow/realtime/internal/observability"
	"go.uber.org/zap"
)

type cleaner interface {
	Cleanup(ctx context.Context) (int, error)
}

// Sweeper runs periodic cleanup on a single ticker goroutine.
type Sweeper struct {
	target   cleaner
	interval time.Duration

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func NewSweeper(target cleaner, interval time.Duration) *Sweeper {
	return &Sweeper{target: target, interval: interval, done: make(chan struct{})}
}

func (sw *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	sw.cancel = cancel

	go func() {
		defer close(sw.done)
		ticker := time.NewTicker(sw.interval)
		defer ticker.Stop()

		log := observability.GetLogger(ctx)
		for {
			select {
			case <-ticker.C:
				if _, err := sw.target.Cleanup(ctx); err != nil && ctx.Err() == nil {
					log.Warn("presence cleanup failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the sweep and waits for an in-flight run to return.
func (sw *Sweeper) Stop() {
	sw.stopOnce.Do(func() {
		if sw.cancel == nil {
			return
		}
		sw.cancel()
		<-sw.done
	})
}
