package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recorder struct {
	got []string
}

func (r *recorder) Deliver(_ context.Context, _ int64, text string) {
	r.got = append(r.got, text)
}

func TestMultiDeliversToAll(t *testing.T) {
	t.Parallel()

	a, b := &recorder{}, &recorder{}
	Multi{a, nil, b}.Deliver(context.Background(), 1, "hello")

	assert.Equal(t, []string{"hello"}, a.got)
	assert.Equal(t, []string{"hello"}, b.got)
}

func TestLogDeliver(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	NewLog(zap.New(core)).Deliver(context.Background(), 42, "booked")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, int64(42), fields["recipient_id"])
	assert.Equal(t, "booked", fields["text"])
}

type fakeChannel struct {
	published []amqp.Publishing
	keys      []string
	fail      error
	closed    bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if f.fail != nil {
		return f.fail
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPPublishesJSON(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	dials := 0
	a := NewAMQP("amqp://unused", "", nil)
	a.dial = func() (publisher, error) {
		dials++
		return ch, nil
	}
	fixed := time.Date(2025, 10, 20, 8, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return fixed }

	a.Deliver(context.Background(), 7, "first")
	a.Deliver(context.Background(), 7, "second")

	assert.Equal(t, 1, dials)
	require.Len(t, ch.published, 2)
	assert.Equal(t, []string{DefaultQueue, DefaultQueue}, ch.keys)

	pub := ch.published[0]
	assert.Equal(t, amqp.Persistent, pub.DeliveryMode)
	assert.Equal(t, "application/json", pub.ContentType)

	var msg Message
	require.NoError(t, json.Unmarshal(pub.Body, &msg))
	assert.Equal(t, int64(7), msg.RecipientID)
	assert.Equal(t, "first", msg.Text)
	assert.True(t, fixed.Equal(msg.CreatedAt))
	assert.Equal(t, msg.ID.String(), pub.MessageId)
}

func TestAMQPSwallowsFailuresAndRedials(t *testing.T) {
	t.Parallel()

	broken := &fakeChannel{fail: errors.New("channel closed")}
	healthy := &fakeChannel{}
	dials := 0
	a := NewAMQP("amqp://unused", "custom", nil)
	a.dial = func() (publisher, error) {
		dials++
		switch dials {
		case 1:
			return nil, errors.New("connection refused")
		case 2:
			return broken, nil
		default:
			return healthy, nil
		}
	}

	a.Deliver(context.Background(), 1, "lost to dial")
	a.Deliver(context.Background(), 1, "lost to publish")
	a.Deliver(context.Background(), 1, "delivered")

	assert.True(t, broken.closed)
	require.Len(t, healthy.published, 1)
	assert.Equal(t, []string{"custom"}, healthy.keys)
	require.NoError(t, a.Close())
	assert.True(t, healthy.closed)
}
