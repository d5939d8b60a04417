package events

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
)

// PaymentNotice is the JSON event emitted after a payment request reaches a
// terminal state. Keyed by correlation id so all events for one request land
// in the same partition.
type PaymentNotice struct {
	Type           string `json:"type"` // payment.confirmed, payment.failed, payment.timed_out, payment.cancelled
	CorrelationID  string `json:"correlation_id"`
	OrderReference string `json:"order_reference"`
	Status         string `json:"status"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	ReceiptNumber  string `json:"receipt_number,omitempty"`
	OccurredAt     string `json:"occurred_at"`
}

type Publisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewPublisher connects a sync producer. Returns nil when no brokers are
// configured; a nil Publisher drops notices silently.
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return &Publisher{producer: producer, topic: topic}, nil
}

func (p *Publisher) Publish(n PaymentNotice) error {
	if p == nil || p.producer == nil {
		return nil
	}
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(n.CorrelationID),
		Value: sarama.ByteEncoder(b),
	})
	return err
}

func (p *Publisher) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
