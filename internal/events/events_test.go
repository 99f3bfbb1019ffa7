package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"kitchenops/backend/internal/domain"
)

type writerStub struct {
	msgs []kafka.Message
}

func (w *writerStub) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *writerStub) Close() error { return nil }

func TestKafkaPublisherKeysByStockRow(t *testing.T) {
	stub := &writerStub{}
	p := &KafkaPublisher{writer: stub}
	at := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

	evs := FromTransactions("purchase_receive", []domain.InventoryTransaction{
		{ID: "itx-1", ProductID: "prd-a", UnitID: "unit-1", Type: domain.MovementIn, Quantity: decimal.NewFromInt(5), Cost: decimal.NewFromInt(50), ReferenceID: "po-1", CreatedAt: at},
	})
	if err := p.Publish(context.Background(), evs...); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(stub.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(stub.msgs))
	}
	msg := stub.msgs[0]
	if string(msg.Key) != "unit-1:prd-a" {
		t.Fatalf("unexpected key %q", msg.Key)
	}
	var ev domain.StockEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if ev.Workflow != "purchase_receive" || ev.ReferenceID != "po-1" || !ev.Quantity.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestPublishWithoutEventsIsNoop(t *testing.T) {
	stub := &writerStub{}
	p := &KafkaPublisher{writer: stub}
	if err := p.Publish(context.Background()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(stub.msgs) != 0 {
		t.Fatalf("expected no messages, got %d", len(stub.msgs))
	}
}
