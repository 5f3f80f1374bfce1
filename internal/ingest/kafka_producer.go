// Package ingest publishes driver locations and order changes to Kafka for
// the out-of-process consumers in cmd/.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/delivery-dispatch/internal/models"
)

const writeTimeout = 2 * time.Second

// LocationEvent is the payload on the driver location topic.
type LocationEvent struct {
	DriverID  string        `json:"driverId"`
	Available bool          `json:"available"`
	Location  *models.Coord `json:"location,omitempty"`
	At        time.Time     `json:"at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaProducer struct {
	writer messageWriter
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}
	return &KafkaProducer{writer: w}
}

func (k *KafkaProducer) publish(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

// PublishLocation keys by driver so a driver's reports stay ordered.
func (k *KafkaProducer) PublishLocation(ctx context.Context, d models.Driver) error {
	return k.publish(ctx, d.ID, LocationEvent{
		DriverID:  d.ID,
		Available: d.Available,
		Location:  d.Location,
		At:        d.UpdatedAt,
	})
}

// PublishOrderChange implements events.Publisher. Keying by order id keeps
// one order's changes on one partition.
func (k *KafkaProducer) PublishOrderChange(ctx context.Context, change models.OrderChange) error {
	return k.publish(ctx, change.After.ID, change)
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
