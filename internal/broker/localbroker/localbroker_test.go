package localbroker

import (
	"context"
	"testing"

	"github.com/fluxorio/flowmesh/internal/broker"
)

func TestLocalBroker_PublishSubscribe(t *testing.T) {
	b := New()
	ctx := context.Background()
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	received := make(chan broker.Message, 1)
	unsub, err := b.Subscribe(broker.ChannelStateChange, func(m broker.Message) {
		received <- m
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()

	if err := b.Publish(ctx, broker.ChannelStateChange, map[string]interface{}{"machine": "order"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case m := <-received:
		if m.Body["machine"] != "order" {
			t.Fatalf("unexpected body: %v", m.Body)
		}
	default:
		t.Fatal("expected a delivered message")
	}
}

func TestLocalBroker_UnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ctx := context.Background()
	_ = b.Connect(ctx)

	count := 0
	unsub, _ := b.Subscribe("topic", func(m broker.Message) { count++ })
	unsub()

	_ = b.Publish(ctx, "topic", map[string]interface{}{})
	if count != 0 {
		t.Fatalf("expected no delivery after unsubscribe, got %d", count)
	}
}
