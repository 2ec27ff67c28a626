package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/fleetwatch-core/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "fleetwatch-test",
		},
		QoS:         1,
		TopicPrefix: "fleetwatch",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestTopics(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"status", Topics{}.SystemStatus(), "fleetwatch/system/status"},
		{"telemetry", Topics{}.Telemetry("lt-1", ChannelLog), "fleetwatch/telemetry/lt-1/log"},
		{"all telemetry", Topics{}.AllTelemetry(), "fleetwatch/telemetry/+/+"},
		{"event", Topics{}.Event("lt-1"), "fleetwatch/events/lt-1"},
		{"all events", Topics{}.AllEvents(), "fleetwatch/events/+"},
		{"custom prefix", Topics{Prefix: "site-a"}.Telemetry("pc-9", ChannelIP), "site-a/telemetry/pc-9/ip"},
		{"custom status", Topics{Prefix: "site-a"}.SystemStatus(), "site-a/system/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestTopics_ParseTelemetry(t *testing.T) {
	topics := Topics{Prefix: "fleetwatch"}

	tests := []struct {
		topic       string
		wantID      string
		wantChannel string
		wantOK      bool
	}{
		{"fleetwatch/telemetry/lt-1/log", "lt-1", "log", true},
		{"fleetwatch/telemetry/pc-9/hello", "pc-9", "hello", true},
		{"fleetwatch/telemetry/lt-1", "", "", false},
		{"fleetwatch/telemetry//log", "", "", false},
		{"fleetwatch/telemetry/lt-1/", "", "", false},
		{"fleetwatch/telemetry/lt-1/log/extra", "", "", false},
		{"fleetwatch/events/lt-1", "", "", false},
		{"other/telemetry/lt-1/log", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			id, channel, ok := topics.ParseTelemetry(tt.topic)
			if ok != tt.wantOK || id != tt.wantID || channel != tt.wantChannel {
				t.Errorf("ParseTelemetry(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.topic, id, channel, ok, tt.wantID, tt.wantChannel, tt.wantOK)
			}
		})
	}
}

func TestTopics_RoundTrip(t *testing.T) {
	topics := Topics{Prefix: "fw"}
	for _, channel := range []string{ChannelLog, ChannelIP, ChannelHello} {
		id, got, ok := topics.ParseTelemetry(topics.Telemetry("dev-1", channel))
		if !ok || id != "dev-1" || got != channel {
			t.Errorf("round trip %s = (%q, %q, %v)", channel, id, got, ok)
		}
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "core"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want tcp://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "fleetwatch-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "core" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Errorf("AutoReconnect=%v CleanSession=%v, want both true", opts.AutoReconnect, opts.CleanSession)
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)

	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig not set")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, Topics{Prefix: "site-a"}, "fleetwatch-test")

	if !opts.WillEnabled || !opts.WillRetained {
		t.Fatalf("WillEnabled=%v WillRetained=%v, want both true", opts.WillEnabled, opts.WillRetained)
	}
	if opts.WillTopic != "site-a/system/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}

	var p statusPayload
	if err := json.Unmarshal(opts.WillPayload, &p); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if p.Status != statusOffline || p.Reason != reasonUnexpected || p.ClientID != "fleetwatch-test" {
		t.Errorf("will payload = %+v", p)
	}
}

func TestBuildStatusPayload_EscapesClientID(t *testing.T) {
	payload := buildStatusPayload(`core"1`, statusOnline, "")

	var p statusPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if p.ClientID != `core"1` {
		t.Errorf("ClientID = %q", p.ClientID)
	}
	if strings.Contains(string(payload), "reason") {
		t.Errorf("empty reason should be omitted: %s", payload)
	}
}

func TestValidatePublish(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"ok", "fleetwatch/events/a", []byte("{}"), 1, nil},
		{"nil payload", "fleetwatch/events/a", nil, 0, nil},
		{"empty topic", "", []byte("{}"), 1, ErrInvalidTopic},
		{"bad qos", "t", nil, 3, ErrInvalidQoS},
		{"too large", "t", make([]byte, maxPayloadSize+1), 1, ErrPayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePublish(tt.topic, tt.payload, tt.qos)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("validatePublish() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestClient_Disconnected(t *testing.T) {
	c := &Client{cfg: testConfig(), subscriptions: make(map[string]subscription)}
	noop := func(string, []byte) error { return nil }

	if c.IsConnected() {
		t.Error("IsConnected() = true for unconnected client")
	}
	if err := c.Publish("t", nil, 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() = %v, want ErrNotConnected", err)
	}
	if err := c.PublishJSON("t", map[string]int{"a": 1}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishJSON() = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe("t", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe("t", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil) = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") = %v, want ErrInvalidTopic", err)
	}
	if err := c.Unsubscribe("t"); err != nil {
		t.Errorf("Unsubscribe() = %v, want nil", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
}

func TestClient_PublishJSONEncodeError(t *testing.T) {
	c := &Client{cfg: testConfig()}
	err := c.PublishJSON("t", make(chan int))
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON(chan) = %v, want ErrPublishFailed", err)
	}
}

func TestClient_HealthCheckCancelled(t *testing.T) {
	c := &Client{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() = %v, want context.Canceled", err)
	}
}

func TestClient_QoSFallback(t *testing.T) {
	tests := []struct {
		cfgQoS int
		want   byte
	}{
		{0, 0}, {1, 1}, {2, 2}, {-1, 1}, {7, 1},
	}
	for _, tt := range tests {
		c := &Client{cfg: config.MQTTConfig{QoS: tt.cfgQoS}}
		if got := c.qos(); got != tt.want {
			t.Errorf("qos() with %d = %d, want %d", tt.cfgQoS, got, tt.want)
		}
	}
}

func TestClient_DispatchRecoversPanic(t *testing.T) {
	logger := &mockLogger{}
	c := &Client{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { panic("boom") }, "t", nil)
	c.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "t", nil)
	c.dispatch(func(string, []byte) error { return nil }, "t", nil)

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.errors) != 1 {
		t.Errorf("errors logged = %d, want 1", len(logger.errors))
	}
	if len(logger.warns) != 1 {
		t.Errorf("warnings logged = %d, want 1", len(logger.warns))
	}
}

func TestClient_DispatchWithoutLogger(t *testing.T) {
	c := &Client{}
	// Must not panic even though nothing can record the failure.
	c.dispatch(func(string, []byte) error { panic("boom") }, "t", nil)
}

func TestClient_Callbacks(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	var connected, disconnected int
	var lostErr error
	c.SetOnConnect(func() { connected++ })
	c.SetOnDisconnect(func(err error) {
		disconnected++
		lostErr = err
	})

	want := errors.New("link lost")
	c.handleDisconnect(want)

	if disconnected != 1 || !errors.Is(lostErr, want) {
		t.Errorf("disconnect callback = %d calls, err %v", disconnected, lostErr)
	}
	if connected != 0 {
		t.Errorf("connect callback called %d times", connected)
	}
}

type mockLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}
