package mqtt

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/tuyalink-core/internal/infrastructure/config"
)

func testMQTTConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "localhost",
			Port:     1883,
			ClientID: "tuyalink-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     60,
		},
	}
}

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		got  string
		want string
	}{
		{topics.DeviceCommand("bf1234"), "tuyalink/command/bf1234"},
		{topics.AllDeviceCommands(), "tuyalink/command/+"},
		{topics.DeviceState("bf1234"), "tuyalink/state/bf1234"},
		{topics.AllDeviceStates(), "tuyalink/state/+"},
		{topics.DispatchEvent(), "tuyalink/event/dispatch"},
		{topics.DiscoveryEvent(), "tuyalink/event/discovery"},
		{topics.SystemStatus(), "tuyalink/system/status"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestDeviceIDFromTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"tuyalink/command/bf1234", "bf1234"},
		{"tuyalink/state/bf1234", "bf1234"},
		{"other/command/bf1234", ""},
		{"tuyalink/command", ""},
		{"tuyalink/command/bf1234/extra", ""},
	}
	for _, tt := range tests {
		if got := DeviceIDFromTopic(tt.topic); got != tt.want {
			t.Errorf("DeviceIDFromTopic(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testMQTTConfig()
	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 {
		t.Fatalf("servers = %d, want 1", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "tcp://localhost:1883" {
		t.Errorf("broker url = %q, want tcp://localhost:1883", got)
	}
	if opts.ClientID != "tuyalink-test" {
		t.Errorf("client id = %q", opts.ClientID)
	}
	if !opts.AutoReconnect {
		t.Error("auto-reconnect not enabled")
	}

	cfg.Broker.TLS = true
	opts = buildClientOptions(cfg)
	if got := opts.Servers[0].Scheme; got != "ssl" {
		t.Errorf("tls scheme = %q, want ssl", got)
	}
}

func TestStatusPayloads(t *testing.T) {
	for _, payload := range []string{
		buildOnlinePayload("tuyalink-core"),
		buildOfflinePayload("tuyalink-core"),
	} {
		var body struct {
			Status    string `json:"status"`
			ClientID  string `json:"client_id"`
			Timestamp string `json:"timestamp"`
		}
		if err := json.Unmarshal([]byte(payload), &body); err != nil {
			t.Fatalf("payload not valid JSON: %v", err)
		}
		if body.ClientID != "tuyalink-core" || body.Timestamp == "" {
			t.Errorf("payload incomplete: %s", payload)
		}
	}
	if !strings.Contains(buildOfflinePayload("x"), "graceful_shutdown") {
		t.Error("graceful offline payload missing reason")
	}
}

func TestPublishValidation(t *testing.T) {
	c := &Client{
		cfg:           testMQTTConfig(),
		subscriptions: make(map[string]subscription),
	}

	if err := c.Publish("", []byte("x"), 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("tuyalink/state/x", []byte("x"), 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos error = %v, want ErrInvalidQoS", err)
	}
	big := make([]byte, maxPayloadSize+1)
	if err := c.Publish("tuyalink/state/x", big, 1, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("oversize payload error = %v, want ErrPublishFailed", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := &Client{
		cfg:           testMQTTConfig(),
		subscriptions: make(map[string]subscription),
	}

	if err := c.Subscribe("", 1, func(string, []byte) error { return nil }); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("tuyalink/#", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v, want ErrSubscribeFailed", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Error("failed subscribe left tracking entry")
	}
}
