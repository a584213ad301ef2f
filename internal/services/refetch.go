package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"rujing/internal/store"
)

// drain turns change events into refetches. Events arriving within one
// refetch window collapse into a single Load.
func (v *CommentView) drain(ctx context.Context, events <-chan store.Event) {
	defer close(v.done)

	ticker := time.NewTicker(v.refetchDelay)
	defer ticker.Stop()

	dirty := false
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				// subscription torn down underneath us
				return
			}
			v.logger.Debug("Comment change received",
				zap.String("type", string(ev.Type)),
				zap.Int64("rows", ev.Rows),
			)
			dirty = true
		case <-ticker.C:
			if !dirty {
				continue
			}
			dirty = false
			v.metrics.RecordRefetch()
			if err := v.Load(ctx); err != nil && ctx.Err() == nil {
				v.logger.Warn("Refetch after change failed", zap.Error(err))
			}
		}
	}
}
