package mqtt

import (
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/unitkey/unitkey-core/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second

	// maxPayloadSize bounds event payloads well below broker limits.
	maxPayloadSize = 1 << 20
)

// Client wraps paho.mqtt.golang for the security event bus.
//
// All methods are safe for concurrent use. The underlying paho client
// auto-reconnects with backoff; publishes during an outage fail fast with
// ErrNotConnected rather than queueing.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	connected bool
	connMu    sync.RWMutex
}

// Connect establishes a connection to the broker and publishes a retained
// online status.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetOrderMatters(false)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// Last will marks the core offline if the connection drops uncleanly.
	opts.SetWill(TopicSystemStatus, `{"status":"offline"}`, byte(cfg.QoS), true)

	c := &Client{cfg: cfg}
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.setConnected(true)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, _ error) {
		c.setConnected(false)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	c.setConnected(true)

	if err := c.Publish(TopicSystemStatus, []byte(`{"status":"online"}`), true); err != nil {
		return nil, fmt.Errorf("publishing online status: %w", err)
	}

	return c, nil
}

// Publish sends a payload to a topic at the configured QoS.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, byte(c.cfg.QoS), retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// IsConnected reports the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// HealthCheck returns nil when the bus connection is up.
func (c *Client) HealthCheck() error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close publishes a retained offline status and disconnects.
func (c *Client) Close() {
	if c.IsConnected() {
		// Best effort; the will covers unclean exits.
		_ = c.Publish(TopicSystemStatus, []byte(`{"status":"offline"}`), true) //nolint:errcheck
	}
	c.client.Disconnect(uint(defaultPublishTimeout.Milliseconds())) //nolint:gosec // small constant
	c.setConnected(false)
}

func (c *Client) setConnected(connected bool) {
	c.connMu.Lock()
	c.connected = connected
	c.connMu.Unlock()
}
