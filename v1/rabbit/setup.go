package rabbit

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/singleflight"

	"github.com/dizzycode/rabbitkit/v1/logger"
	"github.com/dizzycode/rabbitkit/v1/observability"
)

// Connection owns a single broker link, its default channel and any number of named
// channels. Named channels isolate roles (for example a publisher from a consumer) so a
// channel-level exception in one does not tear down the other.
//
// A Connection is safe for concurrent use.
type Connection struct {
	cfg      Config
	logger   Logger
	observer observability.Observer
	tracer   Tracer
	dial     dialFunc

	mu             sync.RWMutex
	conn           amqpConnection
	defaultChannel Channel
	channels       map[string]Channel
	consumers      map[string]consumerRef
	closed         bool

	queuesMu      sync.RWMutex
	checkedQueues map[string]struct{}
	queueChecks   singleflight.Group

	returnMu sync.RWMutex
	onReturn func(channelID string, ret amqp.Return)
}

type consumerRef struct {
	tag       string
	channelID string
}

// NewConnection creates a Connection. Nothing is dialed until Connect is called.
// A nil log results in a silent logger.
func NewConnection(cfg Config, log Logger) *Connection {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	return &Connection{
		cfg:           cfg,
		logger:        log,
		dial:          dialAMQP,
		channels:      make(map[string]Channel),
		consumers:     make(map[string]consumerRef),
		checkedQueues: make(map[string]struct{}),
	}
}

// WithLogger replaces the logger. Returns the connection for chaining.
func (c *Connection) WithLogger(log Logger) *Connection {
	if log != nil {
		c.logger = log
	}
	return c
}

// WithObserver attaches an observer that is notified of every publish, consume, retry,
// dead-letter and returned message.
func (c *Connection) WithObserver(observer observability.Observer) *Connection {
	c.observer = observer
	return c
}

// WithTracer attaches a tracer. Publishes then carry trace context in their headers and
// every handler invocation runs inside a span continuing that context.
func (c *Connection) WithTracer(tracer Tracer) *Connection {
	c.tracer = tracer
	return c
}

// OnReturn registers a hook for messages the broker returned as unroutable. Only
// publishes with Mandatory set can be returned.
func (c *Connection) OnReturn(fn func(channelID string, ret amqp.Return)) {
	c.returnMu.Lock()
	defer c.returnMu.Unlock()
	c.onReturn = fn
}

// Logger returns the logger the connection was built with.
func (c *Connection) Logger() Logger {
	return c.logger
}

// Config returns the connection configuration.
func (c *Connection) Config() Config {
	return c.cfg
}

// Connect dials the broker, opens the default channel, applies the prefetch and
// registers close observers. It returns immediately if already connected.
func (c *Connection) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.defaultChannel != nil {
		return nil
	}

	masked := maskURL(c.cfg.URL)
	c.logger.Info("connecting to RabbitMQ", "url", masked)

	amqpCfg, err := c.amqpConfig()
	if err != nil {
		c.logger.Error("failed to prepare TLS configuration", "error", err)
		return &ConnectionError{Op: "configure tls", URL: masked, Err: err}
	}

	conn, err := c.dial(c.cfg.URL, amqpCfg)
	if err != nil {
		c.logger.Error("failed to connect to RabbitMQ", "url", masked, "error", err)
		return &ConnectionError{Op: "dial", URL: masked, Err: err}
	}

	ch, err := c.openChannel(conn, DefaultChannelID)
	if err != nil {
		_ = conn.Close()
		return err
	}

	c.conn = conn
	c.defaultChannel = ch
	c.closed = false

	c.watchConnection(conn)
	c.watchChannel(ch, DefaultChannelID)

	c.logger.Info("RabbitMQ connected", "url", masked, "prefetch", c.cfg.Prefetch)
	return nil
}

// openChannel opens a channel and applies QoS. The channel is closed again if QoS fails.
func (c *Connection) openChannel(conn amqpConnection, channelID string) (Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		c.logger.Error("failed to open channel", "channelId", channelID, "error", err)
		return nil, &ConnectionError{Op: "open channel " + channelID, Err: err}
	}

	if c.cfg.Prefetch > 0 {
		if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
			_ = ch.Close()
			c.logger.Error("failed to set QoS", "channelId", channelID, "prefetch", c.cfg.Prefetch, "error", err)
			return nil, &ConnectionError{Op: "set qos on channel " + channelID, Err: err}
		}
	}
	return ch, nil
}

// amqpConfig builds the dial configuration. TLS settings are only applied to amqps URLs.
func (c *Connection) amqpConfig() (amqp.Config, error) {
	props := amqp.NewConnectionProperties()
	if c.cfg.ConnectionName != "" {
		props.SetClientConnectionName(c.cfg.ConnectionName)
	}
	cfg := amqp.Config{
		Heartbeat:  c.cfg.Heartbeat,
		Properties: props,
		Locale:     "en_US",
	}

	if !strings.HasPrefix(c.cfg.URL, "amqps://") {
		return cfg, nil
	}
	if c.cfg.CACertPath == "" && c.cfg.ClientCertPath == "" && c.cfg.ServerName == "" {
		return cfg, nil
	}

	tlsConfig := &tls.Config{
		ServerName: c.cfg.ServerName,
		MinVersion: tls.VersionTLS12,
	}

	if c.cfg.CACertPath != "" {
		caCert, err := os.ReadFile(c.cfg.CACertPath)
		if err != nil {
			return cfg, fmt.Errorf("read CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return cfg, fmt.Errorf("no certificates found in %s", c.cfg.CACertPath)
		}
		tlsConfig.RootCAs = pool
	}

	if c.cfg.ClientCertPath != "" && c.cfg.ClientKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(c.cfg.ClientCertPath, c.cfg.ClientKeyPath)
		if err != nil {
			return cfg, fmt.Errorf("load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	cfg.TLSClientConfig = tlsConfig
	return cfg, nil
}

// maskURL hides the password of an AMQP URL so it can be logged.
func maskURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url"
	}
	return parsed.Redacted()
}
