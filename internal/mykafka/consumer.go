package mykafka

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Skotchmaster/muebleria/pkg/logging"
)

// Handler processes one message. Its error is logged; the offset is committed
// either way so one bad event cannot stall the partition.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       messageReader
	backoff time.Duration
}

func NewConsumer(brokers []string, group, topic string) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			GroupID:        group,
			Topic:          topic,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: 0,
		}),
		backoff: time.Second,
	}
}

// Run blocks until ctx is done or the reader fails for good.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	l := logging.FromContext(ctx).With("component", "kafka.consumer")

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			l.Error("kafka_fetch_error", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		ml := l.With("topic", m.Topic, "partition", m.Partition, "offset", m.Offset)
		if err := h(logging.IntoContext(ctx, ml), m); err != nil {
			ml.Error("kafka_handle_error", "error", err)
		}
		if err := c.r.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			ml.Error("kafka_commit_error", "error", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}
