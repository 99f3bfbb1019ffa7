package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"kitchenops/backend/internal/domain"
)

// Publisher announces committed stock movements. Publishing happens after
// the database commit and never undoes it.
type Publisher interface {
	Publish(ctx context.Context, events ...domain.StockEvent) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, _ ...domain.StockEvent) error {
	return nil
}

// Recorder keeps published events in memory. Used by tests.
type Recorder struct {
	mu     sync.Mutex
	events []domain.StockEvent
}

func (r *Recorder) Publish(_ context.Context, events ...domain.StockEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *Recorder) Events() []domain.StockEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.StockEvent(nil), r.events...)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(brokers []string, topic string, logger logrus.FieldLogger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.WithFields(logrus.Fields{"component": "events", "messages": len(messages)}).WithError(err).Warn("stock event delivery failed")
			}
		},
	}
	return &KafkaPublisher{writer: writer}
}

// Publish keys each message by unit and product so events for one stock row
// land on the same partition in order.
func (p *KafkaPublisher) Publish(ctx context.Context, events ...domain.StockEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.UnitID + ":" + ev.ProductID),
			Value: payload,
			Time:  ev.OccurredAt,
			Headers: []kafka.Header{
				{Key: "workflow", Value: []byte(ev.Workflow)},
			},
		})
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// FromTransactions converts committed log rows into events.
func FromTransactions(workflow string, txs []domain.InventoryTransaction) []domain.StockEvent {
	out := make([]domain.StockEvent, 0, len(txs))
	for _, tx := range txs {
		out = append(out, domain.StockEvent{
			TransactionID: tx.ID,
			Workflow:      workflow,
			ProductID:     tx.ProductID,
			UnitID:        tx.UnitID,
			Type:          tx.Type,
			Quantity:      tx.Quantity,
			Cost:          tx.Cost,
			ReferenceID:   tx.ReferenceID,
			OccurredAt:    tx.CreatedAt,
		})
	}
	return out
}
