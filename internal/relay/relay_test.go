package relay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/chancechat/chance/internal/event"
)

// newTestClient connects to a local NATS server, skipping the test when none
// is running.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	config := DefaultConfig()
	config.Name = "relay-test"

	client, err := Connect(config)
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestPublishSubscribe_RoundTrip(t *testing.T) {
	pub := newTestClient(t)
	sub := newTestClient(t)

	received := make(chan []byte, 1)
	if err := sub.Subscribe(func(data []byte) {
		select {
		case received <- data:
		default:
		}
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	sent := event.NewMatchFound("waiter", "sess-1", "joiner")
	if err := pub.PublishEvent(sent); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}

	select {
	case data := <-received:
		var got event.MatchFound
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got != sent {
			t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, sent)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("event not delivered within 3s")
	}
}

func TestSubscribe_ReceivesOwnPublishes(t *testing.T) {
	client := newTestClient(t)

	received := make(chan []byte, 1)
	if err := client.Subscribe(func(data []byte) {
		select {
		case received <- data:
		default:
		}
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := client.Publish([]byte(`{"type":"welcome","timestamp":1}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	// Self-delivery is part of the contract; subscribers suppress their own
	// events by sender ID, not by connection.
	select {
	case <-received:
	case <-time.After(3 * time.Second):
		t.Fatal("publisher did not receive its own event")
	}
}

func TestPublish_PreservesBytes(t *testing.T) {
	client := newTestClient(t)

	raw := []byte(`{"type":"chat_message","sessionId":"s","senderId":"a","content":"hi","timestamp":42}`)
	received := make(chan []byte, 1)
	if err := client.Subscribe(func(data []byte) {
		select {
		case received <- data:
		default:
		}
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := client.Publish(raw); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != string(raw) {
			t.Errorf("bytes altered in transit:\n got %s\nwant %s", data, raw)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("event not delivered within 3s")
	}
}
