package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuongbtq/face-blur/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "delivery channel closed")
		return d
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	return Delivery{}
}

func TestMemory_PublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewMemory(4)
	require.NoError(t, b.Publish(ctx, domain.TaskMessage{TaskID: "t-1"}))

	snap := b.Inspect(ctx)
	assert.True(t, snap.Available)
	assert.Equal(t, 1, snap.QueuedCount)

	ch, err := b.Consume(ctx, "w1")
	require.NoError(t, err)

	d := receive(t, ch)
	msg, err := d.Decode()
	require.NoError(t, err)
	assert.Equal(t, "t-1", msg.TaskID)
	assert.Equal(t, d.Tag, msg.DeliveryTag)
	require.NoError(t, d.Ack())

	assert.Eventually(t, func() bool { return b.Inspect(ctx).ActiveWorkerCount == 1 }, time.Second, 5*time.Millisecond)
}

func TestMemory_NackRequeue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewMemory(4)
	require.NoError(t, b.Publish(ctx, domain.TaskMessage{TaskID: "t-2"}))
	ch, err := b.Consume(ctx, "w1")
	require.NoError(t, err)

	first := receive(t, ch)
	require.NoError(t, first.Nack(true))

	second := receive(t, ch)
	msg, err := second.Decode()
	require.NoError(t, err)
	assert.Equal(t, "t-2", msg.TaskID)
	assert.NotEqual(t, first.Tag, second.Tag)
}

func TestMemory_Unavailable(t *testing.T) {
	b := NewMemory(1)
	b.FailPublish(errors.New("connection refused"))

	err := b.Publish(context.Background(), domain.TaskMessage{TaskID: "x"})
	assert.Error(t, err)

	snap := b.Inspect(context.Background())
	assert.False(t, snap.Available)
	assert.Equal(t, "connection refused", snap.Reason)
}

func TestDelivery_DecodeMalformed(t *testing.T) {
	_, err := Delivery{Body: []byte("{not json")}.Decode()
	assert.Error(t, err)
}
