package rabbitmq

import (
	"crypto/tls"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// defaultChannelMax is the channel cap applied when the factory does not
// request one
const defaultChannelMax = 2047

// ConnectionFactory creates and configures AMQP connections
type ConnectionFactory struct {
	// Connection settings
	Host     string
	Port     int
	VHost    string
	Username string
	Password string

	// Hosts is an optional failover list. When set it takes precedence over
	// Host; initial connects and recovery attempts round-robin through it.
	Hosts []string

	// TLS configuration
	TLS *tls.Config

	// Timeouts and negotiated parameters
	ConnectionTimeout time.Duration
	Heartbeat         time.Duration
	ChannelMax        uint16

	// Recovery settings
	AutomaticRecovery    bool
	TopologyRecovery     bool
	NetworkRecoveryDelay time.Duration

	// Client properties sent to the server
	ClientProperties map[string]interface{}

	// Metrics receives client events; nil means no collection
	Metrics MetricsCollector

	// Logger for connection and recovery events
	Logger zerolog.Logger

	// round-robin cursor over the endpoint list
	endpointCursor atomic.Uint32
}

// NewConnectionFactory creates a new ConnectionFactory with sensible
// defaults. Automatic connection and topology recovery are on by default.
func NewConnectionFactory(opts ...FactoryOption) *ConnectionFactory {
	cf := &ConnectionFactory{
		Host:                 "localhost",
		Port:                 5672,
		VHost:                "/",
		Username:             "guest",
		Password:             "guest",
		ConnectionTimeout:    30 * time.Second,
		Heartbeat:            10 * time.Second,
		AutomaticRecovery:    true,
		TopologyRecovery:     true,
		NetworkRecoveryDelay: 5 * time.Second,
		ClientProperties:     defaultClientProperties(),
		Logger:               zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(cf)
	}

	return cf
}

// NewConnection establishes a connection using the factory settings. Errors
// here (refused, unknown host, bad credentials) surface synchronously and are
// never retried automatically, recovery configuration notwithstanding: the
// initial connect is the caller's responsibility.
func (cf *ConnectionFactory) NewConnection() (*Connection, error) {
	if err := cf.Validate(); err != nil {
		return nil, err
	}

	metrics := cf.Metrics
	if metrics == nil {
		metrics = NewNoOpMetricsCollector()
	}

	amqpConn, err := cf.dial()
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	channelMax := int(cf.ChannelMax)
	if channelMax == 0 {
		channelMax = defaultChannelMax
	}

	conn := &Connection{
		logger:     cf.Logger,
		metrics:    metrics,
		amqpConn:   amqpConn,
		channels:   make(map[uint16]*Channel),
		channelMax: channelMax,
		shutdown:   newShutdownBus(cf.Logger),
	}
	conn.state.Store(int32(StateOpen))
	conn.recovery = newRecoveryCoordinator(conn, cf)
	conn.attachBlocked(amqpConn)

	go conn.recovery.watch(amqpConn)

	metrics.ConnectionCreated()
	cf.Logger.Info().Str("vhost", cf.VHost).Msg("connected")

	return conn, nil
}

// endpoints returns the host:port list used for connects and recovery
func (cf *ConnectionFactory) endpoints() []string {
	if len(cf.Hosts) > 0 {
		out := make([]string, len(cf.Hosts))
		for i, h := range cf.Hosts {
			out[i] = withDefaultPort(h, cf.Port)
		}
		return out
	}
	return []string{fmt.Sprintf("%s:%d", cf.Host, cf.Port)}
}

func withDefaultPort(host string, port int) string {
	for _, c := range host {
		if c == ':' {
			return host
		}
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// dial connects to the next endpoint in round-robin order, falling through
// the rest of the list before giving up
func (cf *ConnectionFactory) dial() (*amqp.Connection, error) {
	endpoints := cf.endpoints()
	start := int(cf.endpointCursor.Add(1)-1) % len(endpoints)

	config := amqp.Config{
		Vhost:           cf.VHost,
		ChannelMax:      cf.ChannelMax,
		Heartbeat:       cf.Heartbeat,
		TLSClientConfig: cf.TLS,
		Properties:      amqp.Table(cf.ClientProperties),
		Dial:            amqp.DefaultDial(cf.ConnectionTimeout),
	}

	scheme := "amqp"
	if cf.TLS != nil {
		scheme = "amqps"
	}

	var lastErr error
	for i := 0; i < len(endpoints); i++ {
		addr := endpoints[(start+i)%len(endpoints)]
		uri := fmt.Sprintf("%s://%s:%s@%s/", scheme, escapeCredential(cf.Username), escapeCredential(cf.Password), addr)

		conn, err := amqp.DialConfig(uri, config)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		cf.Logger.Debug().Err(err).Str("endpoint", addr).Msg("dial failed")
	}
	return nil, lastErr
}

// Validate validates the ConnectionFactory configuration
func (cf *ConnectionFactory) Validate() error {
	if cf.Host == "" && len(cf.Hosts) == 0 {
		return fmt.Errorf("host cannot be empty")
	}
	if cf.Port <= 0 || cf.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cf.Port)
	}
	if cf.Username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	if cf.ConnectionTimeout < 0 {
		return fmt.Errorf("connection timeout cannot be negative, got %v", cf.ConnectionTimeout)
	}
	if cf.Heartbeat < 0 {
		return fmt.Errorf("heartbeat cannot be negative, got %v", cf.Heartbeat)
	}
	if cf.NetworkRecoveryDelay < 0 {
		return fmt.Errorf("network recovery delay cannot be negative, got %v", cf.NetworkRecoveryDelay)
	}
	return nil
}

// defaultClientProperties returns default client properties
func defaultClientProperties() map[string]interface{} {
	return map[string]interface{}{
		"product":  "burrow",
		"platform": "Go",
		"capabilities": Table{
			"publisher_confirms":         true,
			"exchange_exchange_bindings": true,
			"basic.nack":                 true,
			"consumer_cancel_notify":     true,
			"connection.blocked":         true,
		},
	}
}
