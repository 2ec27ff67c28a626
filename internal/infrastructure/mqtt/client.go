package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/fleetwatch-core/internal/infrastructure/config"
)

// Client wraps a paho connection to the broker that carries endpoint
// telemetry and registry events.
//
// Subscriptions are remembered and replayed on every reconnect, and a
// retained status message on Topics.SystemStatus tracks whether core is up.
//
// All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	subMu         sync.RWMutex
	subscriptions map[string]subscription

	connMu    sync.RWMutex
	connected bool

	hookMu       sync.RWMutex
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Logger is the subset of logging.Logger the client reports through.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler processes one received message.
//
// paho calls handlers from its own goroutines, so handlers must not block.
// A returned error is logged and otherwise ignored.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker described by cfg and waits for the first
// connection to complete.
//
// The broker is told to publish a retained offline status if core vanishes
// without disconnecting; once connected, core publishes a retained online
// status on the same topic.
//
// Parameters:
//   - cfg: MQTT settings (broker address, TLS, credentials, QoS, topic prefix)
//
// Returns:
//   - *Client: Connected client, ready to Subscribe and Publish
//   - error: ErrConnectionFailed if the broker refuses or does not answer
//     within 10 seconds
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		topics:        Topics{Prefix: cfg.TopicPrefix},
		subscriptions: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, c.topics, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		// Stop the background connect retry loop.
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: no answer from broker within %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously; mark the client usable now
	// so callers can subscribe straight after Connect returns.
	c.setConnected(true)
	return c, nil
}

// Topics returns the topic builder for the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

func (c *Client) handleConnect() {
	c.setConnected(true)
	c.restoreSubscriptions()
	c.publishStatus(statusOnline, "")

	c.hookMu.RLock()
	fn := c.onConnect
	c.hookMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.setConnected(false)

	c.hookMu.RLock()
	fn := c.onDisconnect
	c.hookMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}

func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for topic, sub := range c.subscriptions {
		token := c.client.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
		if token.WaitTimeout(defaultPublishTimeout) && token.Error() == nil {
			continue
		}
		if logger := c.getLogger(); logger != nil {
			logger.Warn("restoring MQTT subscription failed", "topic", topic, "error", token.Error())
		}
	}
}

// publishStatus publishes the retained core status and returns the token.
func (c *Client) publishStatus(status, reason string) pahomqtt.Token {
	payload := buildStatusPayload(c.cfg.Broker.ClientID, status, reason)
	return c.client.Publish(c.topics.SystemStatus(), c.qos(), true, payload)
}

func (c *Client) qos() byte {
	if c.cfg.QoS < 0 || c.cfg.QoS > maxQoS {
		return 1
	}
	return byte(c.cfg.QoS)
}

// Close publishes a graceful offline status and disconnects.
// Closing an already closed client is a no-op.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		c.publishStatus(statusOffline, reasonShutdown).WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the broker link is currently up.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetOnConnect registers a callback run after every (re)connect.
func (c *Client) SetOnConnect(fn func()) {
	c.hookMu.Lock()
	c.onConnect = fn
	c.hookMu.Unlock()
}

// SetOnDisconnect registers a callback run when the link drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.hookMu.Lock()
	c.onDisconnect = fn
	c.hookMu.Unlock()
}

// SetLogger sets where handler errors and panics are reported.
func (c *Client) SetLogger(logger Logger) {
	c.hookMu.Lock()
	c.logger = logger
	c.hookMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.hookMu.RLock()
	defer c.hookMu.RUnlock()
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho, recovering panics so one bad
// payload cannot take down the paho router goroutine.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.dispatch(handler, msg.Topic(), msg.Payload())
	}
}

func (c *Client) dispatch(handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("MQTT handler panicked", "topic", topic, "panic", r)
			}
		}
	}()

	if err := handler(topic, payload); err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT handler failed", "topic", topic, "error", err)
		}
	}
}
