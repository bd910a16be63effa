package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const DefaultChangesTopic = "orders.changes"

var feedTracer = otel.Tracer("messaging/feed")

// ChangeFeed tails every partition of a change topic from its live end. It
// does not join a consumer group and commits nothing: a new feed never
// replays history.
type ChangeFeed struct {
	readers []partitionReader
	topic   string
}

type partitionReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type FeedOption func(*kafka.ReaderConfig)

func WithMaxWait(d time.Duration) FeedOption {
	return func(cfg *kafka.ReaderConfig) {
		cfg.MaxWait = d
	}
}

// DialChangeFeed looks up the topic's partitions on the first broker that
// answers and returns a feed with one reader per partition, each positioned
// at the newest offset.
func DialChangeFeed(ctx context.Context, brokers []string, topic string, opts ...FeedOption) (*ChangeFeed, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}

	partitions, err := readPartitions(ctx, brokers, topic)
	if err != nil {
		return nil, err
	}

	feed := &ChangeFeed{topic: topic}
	for _, p := range partitions {
		cfg := kafka.ReaderConfig{
			Brokers:   brokers,
			Topic:     topic,
			Partition: p.ID,
			MaxWait:   500 * time.Millisecond,
		}
		for _, opt := range opts {
			opt(&cfg)
		}

		reader := kafka.NewReader(cfg)
		if err := reader.SetOffset(kafka.LastOffset); err != nil {
			_ = reader.Close()
			_ = feed.Close()
			return nil, fmt.Errorf("seek to live end of %s[%d]: %w", topic, p.ID, err)
		}
		feed.readers = append(feed.readers, reader)
	}

	return feed, nil
}

func readPartitions(ctx context.Context, brokers []string, topic string) ([]kafka.Partition, error) {
	var dialErr error
	for _, broker := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			dialErr = errors.Join(dialErr, fmt.Errorf("dial %s: %w", broker, err))
			continue
		}
		partitions, err := conn.ReadPartitions(topic)
		_ = conn.Close()
		if err != nil {
			return nil, fmt.Errorf("read partitions of %s: %w", topic, err)
		}
		if len(partitions) == 0 {
			return nil, fmt.Errorf("topic %s has no partitions", topic)
		}
		return partitions, nil
	}
	return nil, dialErr
}

// Consume delivers each message payload to handler until ctx is cancelled,
// a partition reader fails, or handler returns an error. Messages from all
// partitions are handed over one at a time; within a partition they keep
// their offset order.
func (f *ChangeFeed) Consume(ctx context.Context, handler func(ctx context.Context, payload []byte) error) error {
	g, gctx := errgroup.WithContext(ctx)
	msgs := make(chan kafka.Message)

	for _, reader := range f.readers {
		g.Go(func() error {
			for {
				msg, err := reader.ReadMessage(gctx)
				if err != nil {
					return err
				}
				select {
				case msgs <- msg:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		})
	}

	g.Go(func() error {
		for {
			select {
			case msg := <-msgs:
				if err := f.processMessage(gctx, msg, handler); err != nil {
					return err
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	return g.Wait()
}

func (f *ChangeFeed) processMessage(ctx context.Context, msg kafka.Message, handler func(ctx context.Context, payload []byte) error) error {
	parentCtx := otel.GetTextMapPropagator().Extract(ctx, newHeaderCarrier(&msg))

	spanCtx, span := feedTracer.Start(parentCtx, "process "+f.topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("process"),
			semconv.MessagingOperationTypeDeliver,
			semconv.MessagingDestinationName(f.topic),
			semconv.MessagingKafkaMessageOffset(int(msg.Offset)),
			semconv.MessagingDestinationPartitionID(strconv.Itoa(msg.Partition)),
			semconv.MessagingKafkaMessageKey(string(msg.Key)),
		),
	)
	defer span.End()

	if err := handler(spanCtx, msg.Value); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

func (f *ChangeFeed) Close() error {
	var err error
	for _, reader := range f.readers {
		err = errors.Join(err, reader.Close())
	}
	return err
}
