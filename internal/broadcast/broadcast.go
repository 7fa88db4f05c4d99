// Package broadcast publishes task status changes for dashboards. Delivery
// is best effort: failures are logged and counted, never returned.
package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jmehdipour/wadispatch/internal/logger"
	"github.com/jmehdipour/wadispatch/internal/metrics"
	"github.com/jmehdipour/wadispatch/internal/model"
)

const DefaultChannel = "wadisp:task_updates"

// Broadcaster is the hook invoked after every task transition.
type Broadcaster interface {
	Publish(ev model.StatusEvent)
}

type Nop struct{}

func (Nop) Publish(model.StatusEvent) {}

type RedisBroadcaster struct {
	rdb     *redis.Client
	channel string
	timeout time.Duration
}

func NewRedis(rdb *redis.Client, channel string, timeout time.Duration) *RedisBroadcaster {
	if channel == "" {
		channel = DefaultChannel
	}

	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return &RedisBroadcaster{rdb: rdb, channel: channel, timeout: timeout}
}

// Publish returns immediately; the PUBLISH runs on its own goroutine.
func (b *RedisBroadcaster) Publish(ev model.StatusEvent) {
	go b.publish(ev)
}

func (b *RedisBroadcaster) publish(ev model.StatusEvent) {
	defer func() {
		if r := recover(); r != nil {
			metrics.BroadcastFailures.Inc()
			logger.Log.Error("broadcast panic", zap.Any("recover", r), zap.String("task_id", ev.TaskID))
		}
	}()

	msg, err := json.Marshal(ev)
	if err != nil {
		metrics.BroadcastFailures.Inc()
		logger.Log.Warn("broadcast marshal failed", zap.String("task_id", ev.TaskID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if err := b.rdb.Publish(ctx, b.channel, msg).Err(); err != nil {
		metrics.BroadcastFailures.Inc()
		logger.Log.Warn("broadcast publish failed",
			zap.String("task_id", ev.TaskID),
			zap.String("status", ev.Status.String()),
			zap.Error(err))
	}
}
