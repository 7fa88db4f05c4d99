package broadcast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/wadispatch/internal/model"
)

func TestRedisBroadcasterPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	sub := rdb.Subscribe(context.Background(), DefaultChannel)
	defer sub.Close()
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	b := NewRedis(rdb, "", time.Second)
	b.Publish(model.StatusEvent{TaskID: "01J", Status: model.StatusCompleted, Event: "completed"})

	select {
	case msg := <-sub.Channel():
		var ev model.StatusEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, "01J", ev.TaskID)
		assert.Equal(t, model.StatusCompleted, ev.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast received")
	}
}

func TestRedisBroadcasterSwallowsErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	b := NewRedis(rdb, "", 100*time.Millisecond)
	assert.NotPanics(t, func() {
		b.publish(model.StatusEvent{TaskID: "x", Status: model.StatusFailed})
	})
}
