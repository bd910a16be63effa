package messaging

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePartition struct {
	msgs   chan kafka.Message
	fail   chan error
	closed atomic.Bool
}

func newFakePartition(id int, values ...string) *fakePartition {
	p := &fakePartition{
		msgs: make(chan kafka.Message, len(values)),
		fail: make(chan error, 1),
	}
	for i, v := range values {
		p.msgs <- kafka.Message{Partition: id, Offset: int64(i), Value: []byte(v)}
	}
	return p
}

func (p *fakePartition) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case msg := <-p.msgs:
		return msg, nil
	case err := <-p.fail:
		return kafka.Message{}, err
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (p *fakePartition) Close() error {
	p.closed.Store(true)
	return nil
}

func TestChangeFeed_ConsumesEveryPartition(t *testing.T) {
	p0 := newFakePartition(0, "a1", "a2")
	p1 := newFakePartition(1, "b1", "b2")
	feed := &ChangeFeed{readers: []partitionReader{p0, p1}, topic: DefaultChangesTopic}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		mu       sync.Mutex
		got      []string
		inflight atomic.Int32
	)
	err := feed.Consume(ctx, func(_ context.Context, payload []byte) error {
		if inflight.Add(1) > 1 {
			t.Error("handler called concurrently")
		}
		defer inflight.Add(-1)

		mu.Lock()
		got = append(got, string(payload))
		n := len(got)
		mu.Unlock()
		if n == 4 {
			cancel()
		}
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	assert.ElementsMatch(t, []string{"a1", "a2", "b1", "b2"}, got)
	assert.Less(t, slices.Index(got, "a1"), slices.Index(got, "a2"), "partition order")
	assert.Less(t, slices.Index(got, "b1"), slices.Index(got, "b2"), "partition order")
}

func TestChangeFeed_ReaderFailureEndsConsume(t *testing.T) {
	p0 := newFakePartition(0)
	p1 := newFakePartition(1)
	feed := &ChangeFeed{readers: []partitionReader{p0, p1}, topic: DefaultChangesTopic}

	broken := errors.New("broker went away")
	p1.fail <- broken

	err := feed.Consume(context.Background(), func(context.Context, []byte) error { return nil })
	assert.ErrorIs(t, err, broken)
}

func TestChangeFeed_HandlerErrorEndsConsume(t *testing.T) {
	feed := &ChangeFeed{readers: []partitionReader{newFakePartition(0, "x")}, topic: DefaultChangesTopic}

	stop := errors.New("stop")
	err := feed.Consume(context.Background(), func(context.Context, []byte) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestChangeFeed_CloseClosesEveryReader(t *testing.T) {
	p0 := newFakePartition(0)
	p1 := newFakePartition(1)
	feed := &ChangeFeed{readers: []partitionReader{p0, p1}}

	require.NoError(t, feed.Close())
	assert.True(t, p0.closed.Load())
	assert.True(t, p1.closed.Load())
}
