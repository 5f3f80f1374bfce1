package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type HandlerFunc func(ctx context.Context, m kafka.Message) error

// ErrSkip marks a message that can never be handled (e.g. malformed). It is
// committed without retrying.
var ErrSkip = errors.New("skip message")

func NewReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
}

// Consumer reads a topic until ctx is done. Read errors back off
// exponentially; handler errors are retried a few times before the message
// is committed and dropped, so one bad message cannot wedge a partition.
type Consumer struct {
	Reader     MessageReader
	Handle     HandlerFunc
	Logger     *slog.Logger
	Attempts   int
	RetryDelay time.Duration
	MaxBackoff time.Duration
}

func (c *Consumer) Run(ctx context.Context) error {
	maxBackoff := c.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	initial := min(time.Second, maxBackoff)
	backoff := initial
	for {
		m, err := c.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.Logger.Warn("kafka read error", "error", err, "backoff", backoff)
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = initial

		if err := c.handleWithRetry(ctx, m); err != nil && !errors.Is(err, ErrSkip) {
			if ctx.Err() != nil {
				return nil
			}
			c.Logger.Error("dropping message after handler failure",
				"topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "error", err)
		}
		if err := c.Reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.Logger.Warn("kafka commit failed", "offset", m.Offset, "error", err)
		}
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, m kafka.Message) error {
	attempts := c.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := c.RetryDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = c.Handle(ctx, m); err == nil || errors.Is(err, ErrSkip) {
			return err
		}
		if i == attempts-1 || !sleep(ctx, delay) {
			break
		}
		delay *= 2
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
