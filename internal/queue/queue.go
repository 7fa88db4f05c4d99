// Package queue hands task envelopes to the delivery workers. Ready work goes
// straight to a Kafka lane; delayed work (retry backoff) waits in a Redis
// sorted set until a pump publishes it.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jmehdipour/wadispatch/internal/logger"
	"github.com/jmehdipour/wadispatch/internal/metrics"
	"github.com/jmehdipour/wadispatch/internal/model"
)

const (
	ExpressTopic      = "tasks.express"
	NormalTopic       = "tasks.normal"
	DefaultDelayedKey = "wadisp:tasks:delayed"
)

// Publisher writes one keyed record to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Config struct {
	ExpressTopic string
	NormalTopic  string
	DelayedKey   string
}

type Queue struct {
	pub        Publisher
	rdb        *redis.Client
	express    string
	normal     string
	delayedKey string
	now        func() time.Time
}

func New(pub Publisher, rdb *redis.Client, cfg Config) *Queue {
	if cfg.ExpressTopic == "" {
		cfg.ExpressTopic = ExpressTopic
	}

	if cfg.NormalTopic == "" {
		cfg.NormalTopic = NormalTopic
	}

	if cfg.DelayedKey == "" {
		cfg.DelayedKey = DefaultDelayedKey
	}

	return &Queue{
		pub:        pub,
		rdb:        rdb,
		express:    cfg.ExpressTopic,
		normal:     cfg.NormalTopic,
		delayedKey: cfg.DelayedKey,
		now:        time.Now,
	}
}

func (q *Queue) Topic(lane model.Lane) string {
	if lane == model.LaneExpress {
		return q.express
	}
	return q.normal
}

// Enqueue publishes env now, or parks it in the delayed set when delay > 0.
func (q *Queue) Enqueue(ctx context.Context, env model.Envelope, delay time.Duration) error {
	if env.TaskID == "" {
		return errors.New("queue: envelope without task id")
	}

	if env.EnqueuedAt.IsZero() {
		env.EnqueuedAt = q.now().UTC()
	}

	if delay <= 0 {
		return q.publish(ctx, env)
	}

	if q.rdb == nil {
		return errors.New("queue: delayed enqueue needs redis")
	}

	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	due := q.now().Add(delay).UnixMilli()
	if err := q.rdb.ZAdd(ctx, q.delayedKey, redis.Z{Score: float64(due), Member: b}).Err(); err != nil {
		metrics.EnqueueFailures.WithLabelValues("delayed").Inc()
		return fmt.Errorf("zadd delayed: %w", err)
	}

	return nil
}

func (q *Queue) publish(ctx context.Context, env model.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	topic := q.Topic(model.LaneFor(env.Priority))
	if err := q.pub.Publish(ctx, topic, []byte(env.TaskID), b); err != nil {
		metrics.EnqueueFailures.WithLabelValues("publish").Inc()
		return fmt.Errorf("publish %s to %s: %w", env.TaskID, topic, err)
	}

	return nil
}

// PumpDue moves up to limit due envelopes from the delayed set onto their
// lanes. ZREM decides ownership, so concurrent pumps never double-publish.
func (q *Queue) PumpDue(ctx context.Context, limit int64) (int, error) {
	if limit <= 0 {
		limit = 100
	}

	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	members, err := q.rdb.ZRangeByScore(ctx, q.delayedKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: limit,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("zrangebyscore: %w", err)
	}

	moved := 0
	for _, m := range members {
		removed, err := q.rdb.ZRem(ctx, q.delayedKey, m).Result()
		if err != nil {
			return moved, fmt.Errorf("zrem: %w", err)
		}

		if removed == 0 {
			continue
		}

		var env model.Envelope
		if err := json.Unmarshal([]byte(m), &env); err != nil {
			logger.Log.Error("dropping malformed delayed envelope", zap.String("member", m), zap.Error(err))
			continue
		}

		if err := q.publish(ctx, env); err != nil {
			// put it back so the next pump retries
			_ = q.rdb.ZAdd(ctx, q.delayedKey, redis.Z{Score: float64(q.now().UnixMilli()), Member: m}).Err()
			return moved, err
		}

		moved++
	}

	return moved, nil
}

// RunPump calls PumpDue every interval until ctx is cancelled.
func (q *Queue) RunPump(ctx context.Context, interval time.Duration, limit int64) {
	if interval <= 0 {
		interval = time.Second
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := q.PumpDue(ctx, limit)
			if err != nil && ctx.Err() == nil {
				logger.Log.Warn("delayed pump failed", zap.Error(err))
			}
			if n > 0 {
				logger.Log.Debug("delayed envelopes released", zap.Int("count", n))
			}
		}
	}
}

// Pending reports how many envelopes wait in the delayed set.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	return q.rdb.ZCard(ctx, q.delayedKey).Result()
}
