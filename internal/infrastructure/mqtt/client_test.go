package mqtt

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/hydro-core/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
// Broker-backed tests skip when nothing listens on 127.0.0.1:1883.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "hydro-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			Delay: 100 * time.Millisecond,
		},
		InboxSize: 16,
	}
}

func connectOrSkip(t *testing.T, clientID string) *Client {
	t.Helper()
	cfg := testConfig()
	cfg.Broker.ClientID = clientID

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Connect(ctx, cfg)
	if err != nil {
		t.Skipf("MQTT broker not available: %v", err)
	}
	t.Cleanup(func() { c.Close() }) //nolint:errcheck // Test cleanup
	return c
}

// newOfflineClient builds a Client with no broker behind it so the inbox and
// Drive can be exercised directly.
func newOfflineClient(size int) *Client {
	return &Client{
		subscriptions: make(map[string]subscription),
		inbox:         make(chan inboundMessage, size),
		lost:          make(chan struct{}),
	}
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
	errs  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errs = append(l.errs, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Info(string, ...any) {}

// =============================================================================
// Drive Tests
// =============================================================================

func TestDrive_NonBlockingEmpty(t *testing.T) {
	c := newOfflineClient(4)

	n, err := c.Drive(context.Background(), false)
	if err != nil {
		t.Fatalf("Drive() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Drive() handled %d, want 0", n)
	}
}

func TestDrive_RunsHandlersInArrivalOrder(t *testing.T) {
	c := newOfflineClient(8)

	var got []string
	handler := func(topic string, _ []byte) error {
		got = append(got, topic)
		return nil
	}
	deliver := c.enqueue(handler)
	for _, topic := range []string{"hydro/heartbeat/a", "hydro/heartbeat/b", "hydro/heartbeat/c"} {
		deliver(nil, fakeMessage{topic: topic})
	}

	n, err := c.Drive(context.Background(), false)
	if err != nil {
		t.Fatalf("Drive() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("Drive() handled %d, want 3", n)
	}
	want := []string{"hydro/heartbeat/a", "hydro/heartbeat/b", "hydro/heartbeat/c"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("handler order[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDrive_HandlerPanicAndErrorDoNotEscape(t *testing.T) {
	c := newOfflineClient(8)
	logger := &recordingLogger{}
	c.SetLogger(logger)

	var ran int
	c.enqueue(func(string, []byte) error { panic("bad payload") })(nil, fakeMessage{topic: "hydro/telemetry/x"})
	c.enqueue(func(string, []byte) error { return errors.New("boom") })(nil, fakeMessage{topic: "hydro/telemetry/y"})
	c.enqueue(func(string, []byte) error { ran++; return nil })(nil, fakeMessage{topic: "hydro/telemetry/z"})

	n, err := c.Drive(context.Background(), false)
	if err != nil {
		t.Fatalf("Drive() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Drive() handled %d, want 3", n)
	}
	if ran != 1 {
		t.Errorf("handler after panic ran %d times, want 1", ran)
	}
	if len(logger.errs) != 1 {
		t.Errorf("logged %d errors, want 1 (panic)", len(logger.errs))
	}
	if len(logger.warns) != 1 {
		t.Errorf("logged %d warnings, want 1 (handler error)", len(logger.warns))
	}
}

func TestDrive_BlockingWaitsForMessage(t *testing.T) {
	c := newOfflineClient(4)

	done := make(chan int, 1)
	go func() {
		n, _ := c.Drive(context.Background(), true)
		done <- n
	}()

	select {
	case <-done:
		t.Fatal("blocking Drive returned before any message arrived")
	case <-time.After(50 * time.Millisecond):
	}

	c.enqueue(func(string, []byte) error { return nil })(nil, fakeMessage{topic: "hydro/discovery"})

	select {
	case n := <-done:
		if n != 1 {
			t.Errorf("Drive() handled %d, want 1", n)
		}
	case <-time.After(time.Second):
		t.Fatal("blocking Drive did not return after a message arrived")
	}
}

func TestDrive_BlockingHonoursContext(t *testing.T) {
	c := newOfflineClient(4)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Drive(ctx, true)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Drive() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestDrive_ConnectionLostAfterDrain(t *testing.T) {
	c := newOfflineClient(4)

	var ran int
	c.enqueue(func(string, []byte) error { ran++; return nil })(nil, fakeMessage{topic: "hydro/response/n1"})
	c.handleDisconnect(errors.New("broker went away"))

	n, err := c.Drive(context.Background(), true)
	if n != 1 || ran != 1 {
		t.Errorf("Drive() handled %d (ran %d), want queued message handled first", n, ran)
	}
	if !errors.Is(err, ErrConnectionLost) {
		t.Errorf("Drive() error = %v, want ErrConnectionLost", err)
	}

	// Lost stays lost.
	if _, err := c.Drive(context.Background(), false); !errors.Is(err, ErrConnectionLost) {
		t.Errorf("second Drive() error = %v, want ErrConnectionLost", err)
	}
}

func TestEnqueue_FullInboxDrops(t *testing.T) {
	c := newOfflineClient(1)
	logger := &recordingLogger{}
	c.SetLogger(logger)

	h := func(string, []byte) error { return nil }
	c.enqueue(h)(nil, fakeMessage{topic: "hydro/telemetry/a"})
	c.enqueue(h)(nil, fakeMessage{topic: "hydro/telemetry/b"})

	if c.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", c.Pending())
	}
	if len(logger.warns) != 1 {
		t.Errorf("logged %d warnings, want 1", len(logger.warns))
	}
}

// =============================================================================
// Offline Client Tests
// =============================================================================

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	c := newOfflineClient(1)
	if c.IsConnected() {
		t.Error("IsConnected() = true for client without a session")
	}
}

func TestPublishValidation(t *testing.T) {
	c := newOfflineClient(1)

	tests := []struct {
		name    string
		topic   string
		qos     byte
		payload []byte
		want    error
	}{
		{"empty topic", "", 1, nil, ErrInvalidTopic},
		{"wildcard topic", "hydro/command/+", 1, nil, ErrInvalidTopic},
		{"invalid qos", "hydro/command/a", 3, nil, ErrInvalidQoS},
		{"oversized payload", "hydro/command/a", 1, make([]byte, maxPayloadSize+1), ErrPublishFailed},
		{"not connected", "hydro/command/a", 1, []byte("{}"), ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := newOfflineClient(1)
	h := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		want    error
	}{
		{"empty topic", "", 1, h, ErrInvalidTopic},
		{"bad wildcard", "hydro/#/x", 1, h, ErrInvalidTopic},
		{"invalid qos", "hydro/telemetry/#", 3, h, ErrInvalidQoS},
		{"nil handler", "hydro/telemetry/#", 1, nil, ErrSubscribeFailed},
		{"not connected", "hydro/telemetry/#", 1, h, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Subscribe(tt.topic, tt.qos, tt.handler)
			if !errors.Is(err, tt.want) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.want)
			}
		})
	}
	if subs := c.Subscriptions(); len(subs) != 0 {
		t.Errorf("Subscriptions() = %v after failed subscribes, want none", subs)
	}
}

// =============================================================================
// Broker Tests
// =============================================================================

func TestConnectInvalidBroker(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestBroker_PublishSubscribeRoundtrip(t *testing.T) {
	c := connectOrSkip(t, "hydro-test-roundtrip")

	received := make(chan string, 1)
	err := c.Subscribe("hydro/test/roundtrip/#", 1, func(_ string, payload []byte) error {
		received <- string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !slices.Contains(c.Subscriptions(), "hydro/test/roundtrip/#") {
		t.Error("Subscriptions() missing pattern after Subscribe")
	}

	if err := c.Publish("hydro/test/roundtrip/n1", []byte(`{"ok":true}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := c.Drive(ctx, true); err != nil {
		t.Fatalf("Drive() error = %v", err)
	}

	select {
	case got := <-received:
		if got != `{"ok":true}` {
			t.Errorf("payload = %q", got)
		}
	default:
		t.Fatal("handler did not run inside Drive")
	}
}

func TestBroker_PresenceRetained(t *testing.T) {
	connectOrSkip(t, "hydro-test-presence-server")
	observer := connectOrSkip(t, "hydro-test-presence-observer")

	got := make(chan string, 4)
	if err := observer.Subscribe(Topics{}.Presence(), 1, func(_ string, p []byte) error {
		got <- string(p)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := observer.Drive(ctx, true); err != nil {
		t.Fatalf("Drive() error = %v", err)
	}

	select {
	case v := <-got:
		if v != PresenceOnline {
			t.Errorf("retained presence = %q, want %q", v, PresenceOnline)
		}
	default:
		t.Fatal("no retained presence message")
	}
}

func TestBroker_CloseEndsDrive(t *testing.T) {
	c := connectOrSkip(t, "hydro-test-close")

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if _, err := c.Drive(context.Background(), true); !errors.Is(err, ErrConnectionLost) {
		t.Errorf("Drive() after Close error = %v, want ErrConnectionLost", err)
	}
}

// =============================================================================
// Options Tests
// =============================================================================

func TestClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "hydro", Password: "secret"}

	opts := clientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want tcp://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "hydro-test" || opts.Username != "hydro" {
		t.Errorf("ClientID/Username = %q/%q", opts.ClientID, opts.Username)
	}
	if opts.AutoReconnect || opts.ConnectRetry {
		t.Error("paho reconnect must stay disabled; the Supervisor owns reconnection")
	}
	if !opts.WillEnabled || opts.WillTopic != "hydro/server/status" ||
		string(opts.WillPayload) != PresenceOffline || !opts.WillRetained || opts.WillQos != presenceQoS {
		t.Errorf("will = %q %q retained=%v qos=%d", opts.WillTopic, opts.WillPayload, opts.WillRetained, opts.WillQos)
	}
}

func TestBrokerURL_TLS(t *testing.T) {
	got := brokerURL(config.MQTTBrokerConfig{Host: "broker.local", Port: 8883, TLS: true})
	if got != "ssl://broker.local:8883" {
		t.Errorf("brokerURL() = %q, want ssl://broker.local:8883", got)
	}
}
