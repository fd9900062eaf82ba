package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"gateway-reconciler/internal/domain/ports/adapter"
)

var _ adapter.Notifier = (*KafkaNotifier)(nil)

// KafkaNotifier publishes every notification as JSON to topic prefix+event, keyed by subject id
// so events of one payable stay ordered within a partition.
type KafkaNotifier struct {
	producer sarama.SyncProducer
	prefix   string
}

func NewKafkaNotifier(brokers []string, topicPrefix string) (*KafkaNotifier, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Timeout = 5 * time.Second
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewKafkaNotifierWithProducer(producer, topicPrefix), nil
}

func NewKafkaNotifierWithProducer(producer sarama.SyncProducer, topicPrefix string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, prefix: topicPrefix}
}

// Topic maps an event name to its topic.
func (n *KafkaNotifier) Topic(event string) string {
	return n.prefix + strings.ReplaceAll(event, "_", "-")
}

func (n *KafkaNotifier) Notify(ctx context.Context, note adapter.Notification) error {
	data, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", note.Event, err)
	}
	msg := &sarama.ProducerMessage{
		Topic: n.Topic(note.Event),
		Key:   sarama.StringEncoder(note.SubjectID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event"), Value: []byte(note.Event)},
			{Key: []byte("organization_id"), Value: []byte(note.OrganizationID)},
		},
	}
	if !note.OccurredAt.IsZero() {
		msg.Timestamp = note.OccurredAt
	}
	if _, _, err := n.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka publish %s: %w", msg.Topic, err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.producer.Close()
}
