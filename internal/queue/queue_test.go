package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/wadispatch/internal/model"
)

type record struct {
	topic string
	key   string
	env   model.Envelope
}

type memPublisher struct {
	mu   sync.Mutex
	recs []record
	err  error
}

func (p *memPublisher) Publish(_ context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	var env model.Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return err
	}
	p.recs = append(p.recs, record{topic: topic, key: string(key), env: env})
	return nil
}

func setup(t *testing.T) (*Queue, *memPublisher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	pub := &memPublisher{}
	q := New(pub, rdb, Config{})
	return q, pub, mr
}

func TestEnqueueRoutesByPriority(t *testing.T) {
	q, pub, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, model.Envelope{TaskID: "A", Priority: 0}, 0))
	require.NoError(t, q.Enqueue(ctx, model.Envelope{TaskID: "B", Priority: 5}, 0))

	require.Len(t, pub.recs, 2)
	assert.Equal(t, ExpressTopic, pub.recs[0].topic)
	assert.Equal(t, "A", pub.recs[0].key)
	assert.Equal(t, NormalTopic, pub.recs[1].topic)
	assert.False(t, pub.recs[1].env.EnqueuedAt.IsZero())
}

func TestEnqueueRejectsEmptyID(t *testing.T) {
	q, _, _ := setup(t)
	assert.Error(t, q.Enqueue(context.Background(), model.Envelope{}, 0))
}

func TestDelayedEnqueueAndPump(t *testing.T) {
	q, pub, _ := setup(t)
	ctx := context.Background()

	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	require.NoError(t, q.Enqueue(ctx, model.Envelope{TaskID: "late", Priority: 7, Attempt: 1}, 30*time.Second))
	assert.Empty(t, pub.recs)

	n, err := q.PumpDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "not yet due")

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)

	now = now.Add(31 * time.Second)
	n, err = q.PumpDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, pub.recs, 1)
	assert.Equal(t, NormalTopic, pub.recs[0].topic)
	assert.Equal(t, 1, pub.recs[0].env.Attempt)

	pending, err = q.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestPumpPutsBackOnPublishFailure(t *testing.T) {
	q, pub, _ := setup(t)
	ctx := context.Background()

	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }
	require.NoError(t, q.Enqueue(ctx, model.Envelope{TaskID: "x"}, time.Second))

	now = now.Add(time.Minute)
	pub.err = errors.New("broker down")
	_, err := q.PumpDue(ctx, 10)
	assert.Error(t, err)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)

	pub.err = nil
	n, err := q.PumpDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
