package panel

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/unipanel/backend/core"
	"github.com/unipanel/backend/core/logger"
)

// KafkaNotifier publishes backend notifications to a Kafka topic. The
// message key is "{resource}/{operation}", the value is the JSON payload.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier creates a notifier writing to the given brokers and
// topic. The topic must exist, the notifier does not create it.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		},
	}
}

// Notify implements core.Notifier. Delivery is asynchronous and best
// effort, a failed write is logged and dropped.
func (n *KafkaNotifier) Notify(resource string, operation core.Operation, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(resource + "/" + string(operation)),
		Value: payload,
	})
	if err != nil {
		logger.Default().Errorln("cannot publish notification:", err)
	}
}

// Close flushes and closes the underlying writer
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
