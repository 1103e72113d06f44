package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// startTestNATS starts an embedded NATS server and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func TestNATSPublisherDeliversRecordChanges(t *testing.T) {
	url := startTestNATS(t)

	sub, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting subscriber: %v", err)
	}
	defer sub.Close()
	msgs := make(chan *nats.Msg, 4)
	if _, err := sub.ChanSubscribe("sync.record.>", msgs); err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatalf("flushing subscription: %v", err)
	}

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	ev := RecordChanged{EntityType: "Vendor", Collection: "Vendors", Key: "V1", Changes: map[string]any{"Balance": 20.0}}
	if err := pub.Publish(context.Background(), TopicRecordUpdated, ev); err != nil {
		t.Fatalf("publishing: %v", err)
	}

	select {
	case msg := <-msgs:
		if msg.Subject != TopicRecordUpdated {
			t.Fatalf("unexpected subject %q", msg.Subject)
		}
		var got RecordChanged
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if got.Key != "V1" || got.Changes["Balance"] != 20.0 {
			t.Fatalf("unexpected event %#v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestNATSPublisherHonoursCancelledContext(t *testing.T) {
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pub.Publish(ctx, TopicRecordInserted, RecordChanged{}); err == nil {
		t.Fatal("expected cancelled context to be rejected")
	}
}
