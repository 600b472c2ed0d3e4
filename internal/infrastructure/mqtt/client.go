package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/hydro-core/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang for the hydro node mesh.
//
// Inbound messages are not handled on paho's goroutines. They are queued in
// a bounded inbox and run one at a time, in arrival order, by whoever calls
// Drive. The client does not reconnect by itself; when the broker drops the
// session Drive returns ErrConnectionLost and the owner (see Supervisor)
// dials a new client.
//
// Thread Safety:
//   - Publish, Subscribe and Close are safe for concurrent use.
//   - Drive must only be called from one goroutine.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	// subscriptions tracks active subscriptions so an owner can inspect
	// what the session is listening to.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	inbox chan inboundMessage

	// lost is closed once when the session ends (broker drop or Close).
	lost     chan struct{}
	lostOnce sync.Once
	lostErr  error

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

// subscription holds subscription details.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// inboundMessage is one queued message waiting for Drive.
type inboundMessage struct {
	topic   string
	payload []byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// Handlers run synchronously inside Drive, one at a time.
// A returned error is logged and does not affect other messages.
type MessageHandler func(topic string, payload []byte) error

// Connect establishes a session with the MQTT broker.
//
// It performs the following setup:
//  1. Builds connection options from config (broker URL, auth, TLS)
//  2. Configures the Last Will so the broker marks the server offline on a crash
//  3. Connects, bounded by ctx and the connect timeout
//  4. Publishes the retained "online" presence marker
func Connect(ctx context.Context, cfg config.MQTTConfig) (*Client, error) {
	opts := clientOptions(cfg)

	inboxSize := cfg.InboxSize
	if inboxSize <= 0 {
		inboxSize = defaultInboxSize
	}

	c := &Client{
		cfg:           cfg,
		subscriptions: make(map[string]subscription),
		inbox:         make(chan inboundMessage, inboxSize),
		lost:          make(chan struct{}),
	}

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(opts)
	if err := waitToken(ctx, c.client.Connect(), defaultConnectTimeout); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	token := c.client.Publish(Topics{}.Presence(), presenceQoS, true, PresenceOnline)
	if err := waitToken(ctx, token, defaultPublishTimeout); err != nil {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: publishing presence: %w", ErrConnectionFailed, err)
	}

	return c, nil
}

// waitToken blocks until the token completes, ctx is done or timeout elapses.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
}

// handleDisconnect is called by paho when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}
	c.markLost(err)
}

func (c *Client) markLost(err error) {
	c.lostOnce.Do(func() {
		c.lostErr = err
		close(c.lost)
	})
}

// Drive runs queued message handlers.
//
// With blocking=false it handles whatever is already queued and returns
// immediately, possibly with zero messages. With blocking=true it first waits
// for a message, loss of the session or ctx cancellation.
//
// It returns the number of messages handled. Once the session has ended and
// the queue is drained it returns ErrConnectionLost.
func (c *Client) Drive(ctx context.Context, blocking bool) (int, error) {
	handled := 0

	if blocking {
		select {
		case msg := <-c.inbox:
			c.dispatch(msg)
			handled++
		case <-c.lost:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	// Bound one call to what was queued on entry so a busy broker cannot
	// starve the caller's loop. Drive is the only consumer, so every
	// counted message is there to receive.
	for n := len(c.inbox); n > 0; n-- {
		c.dispatch(<-c.inbox)
		handled++
	}

	select {
	case <-c.lost:
		if len(c.inbox) == 0 {
			return handled, c.connectionLostError()
		}
	default:
	}

	return handled, nil
}

func (c *Client) connectionLostError() error {
	if c.lostErr != nil {
		return fmt.Errorf("%w: %w", ErrConnectionLost, c.lostErr)
	}
	return ErrConnectionLost
}

// dispatch runs one handler with panic recovery.
func (c *Client) dispatch(msg inboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("MQTT handler panic recovered",
					"topic", msg.topic,
					"panic", r,
				)
			}
		}
	}()

	if err := msg.handler(msg.topic, msg.payload); err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT handler returned error",
				"topic", msg.topic,
				"error", err,
			)
		}
	}
}

// enqueue returns the paho callback that queues messages for Drive.
// A full inbox drops the message with a warning.
func (c *Client) enqueue(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		in := inboundMessage{
			topic:   msg.Topic(),
			payload: msg.Payload(),
			handler: handler,
		}
		select {
		case c.inbox <- in:
		default:
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT inbox full, dropping message", "topic", in.topic)
			}
		}
	}
}

// Close publishes the retained "offline" presence marker and disconnects.
//
// Close is safe to call more than once. After Close, Drive reports
// ErrConnectionLost.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(Topics{}.Presence(), presenceQoS, true, PresenceOffline)
		token.WaitTimeout(defaultPublishTimeout)
		c.client.Disconnect(defaultDisconnectQuiesce)
	}

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.markLost(ErrClientClosed)
	return nil
}

// HealthCheck reports whether the session is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// Pending returns the number of messages waiting for Drive.
func (c *Client) Pending() int {
	return len(c.inbox)
}

// SetLogger sets a logger for handler errors, panics and connection loss.
// If not set, they are silently ignored.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
