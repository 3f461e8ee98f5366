//go:build integration

package mqtt

import (
	"testing"
	"time"
)

// Integration tests need a broker at 127.0.0.1:1883.
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...

func TestIntegration_PublishSubscribeRoundtrip(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "owfs-int-roundtrip"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	received := make(chan string, 1)
	topic := client.Topics().DeviceState("28.0000063B3E31", "temperature")
	if err := client.Subscribe(client.Topics().AllDeviceStates(), 1, func(topic string, payload []byte) error {
		select {
		case received <- topic + "=" + string(payload):
		default:
		}
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d", client.SubscriptionCount())
	}

	if err := client.PublishRetained(topic, []byte("19.25")); err != nil {
		t.Fatalf("PublishRetained() error = %v", err)
	}

	select {
	case got := <-received:
		if got != topic+"=19.25" {
			t.Errorf("received %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}

	// Clear the retained value so later runs start clean.
	client.PublishRetained(topic, nil) //nolint:errcheck // best effort cleanup

	if err := client.Unsubscribe(client.Topics().AllDeviceStates()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
}

func TestIntegration_HealthCheck(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "owfs-int-health"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := client.HealthCheck(t.Context()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	client.Close()
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
}
