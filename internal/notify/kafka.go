package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaNotifier publishes messages to a topic for downstream push, SMS and
// email workers. A message counts as delivered once the broker acknowledges it.
type KafkaNotifier struct {
	writer messageWriter
}

// NewKafkaNotifier creates a producer for topic. Messages for the same site
// land on the same partition.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaNotifier{writer: w}
}

func (k *KafkaNotifier) Notify(ctx context.Context, _ string, msg Message) bool {
	m, err := serializeToMessage(msg)
	if err == nil {
		err = k.writer.WriteMessages(ctx, m)
	}
	if err != nil {
		zap.L().Warn("notify: kafka publish failed",
			zap.String("notification_id", msg.NotificationID),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Close flushes and closes the producer.
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}

func serializeToMessage(msg Message) (kafkago.Message, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return kafkago.Message{}, eris.Wrap(err, "notify: serialize message")
	}
	return kafkago.Message{
		Key:   []byte(msg.Alert.SiteID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "notification_id", Value: []byte(msg.NotificationID)},
			{Key: "method", Value: []byte(msg.Method)},
		},
	}, nil
}
