//go:build integration

package mqtt

import (
	"errors"
	"testing"
	"time"
)

// Integration tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func TestIntegration_Connect(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "patchbay-int-connect"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
}

func TestIntegration_ConnectInvalidBroker(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestIntegration_PublishSubscribeRoundtrip(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "patchbay-int-roundtrip"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topics := NewTopics("patchbay-int/jack")
	received := make(chan []byte, 1)

	err = client.Subscribe(topics.PortEvent(), 1, func(_ string, payload []byte) error {
		received <- payload
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(topics.PortEvent()) {
		t.Error("HasSubscription() = false after Subscribe")
	}

	if err := client.PublishJSON(topics.PortEvent(), map[string]any{"handle": 7, "registered": true}, false); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case payload := <-received:
		if string(payload) != `{"handle":7,"registered":true}` {
			t.Errorf("payload = %s", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	if err := client.Unsubscribe(topics.PortEvent()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", client.SubscriptionCount())
	}
}

func TestIntegration_OnConnectCallback(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "patchbay-int-callback"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	called := make(chan struct{}, 1)
	client.SetOnConnect(func() { called <- struct{}{} })

	// Trigger the handler directly; forcing a broker-side reconnect needs
	// external control.
	client.handleConnect()

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Error("OnConnect callback not invoked")
	}
}
