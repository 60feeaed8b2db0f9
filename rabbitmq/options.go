package rabbitmq

import (
	"crypto/tls"
	"time"

	"github.com/rs/zerolog"
)

// FactoryOption configures a ConnectionFactory
type FactoryOption func(*ConnectionFactory)

// WithHost sets the host
func WithHost(host string) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.Host = host
	}
}

// WithHosts sets a failover endpoint list. Entries may carry an explicit
// ":port" suffix; those that do not use the factory port.
func WithHosts(hosts ...string) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.Hosts = hosts
	}
}

// WithPort sets the port
func WithPort(port int) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.Port = port
	}
}

// WithCredentials sets the username and password
func WithCredentials(username, password string) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.Username = username
		cf.Password = password
	}
}

// WithVHost sets the virtual host
func WithVHost(vhost string) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.VHost = vhost
	}
}

// WithTLS enables TLS with the given configuration and switches the default
// port to 5671 unless one was set explicitly
func WithTLS(config *tls.Config) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.TLS = config
		if cf.Port == 5672 {
			cf.Port = 5671
		}
	}
}

// WithConnectionTimeout sets the connection timeout
func WithConnectionTimeout(timeout time.Duration) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.ConnectionTimeout = timeout
	}
}

// WithHeartbeat sets the requested heartbeat interval
func WithHeartbeat(interval time.Duration) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.Heartbeat = interval
	}
}

// WithChannelMax sets the requested channel-max. Zero means the client
// default cap.
func WithChannelMax(max uint16) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.ChannelMax = max
	}
}

// WithAutomaticRecovery enables or disables automatic connection recovery
func WithAutomaticRecovery(enabled bool) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.AutomaticRecovery = enabled
	}
}

// WithTopologyRecovery enables or disables topology recovery. It has no
// effect unless automatic recovery is also enabled.
func WithTopologyRecovery(enabled bool) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.TopologyRecovery = enabled
	}
}

// WithNetworkRecoveryDelay sets the delay before each recovery attempt
func WithNetworkRecoveryDelay(delay time.Duration) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.NetworkRecoveryDelay = delay
	}
}

// WithClientProperties sets additional client properties reported to the
// server, merged over the defaults
func WithClientProperties(props map[string]interface{}) FactoryOption {
	return func(cf *ConnectionFactory) {
		if cf.ClientProperties == nil {
			cf.ClientProperties = make(map[string]interface{})
		}
		for k, v := range props {
			cf.ClientProperties[k] = v
		}
	}
}

// WithLogger sets the logger used for connection and recovery events
func WithLogger(logger zerolog.Logger) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.Logger = logger
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics MetricsCollector) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.Metrics = metrics
	}
}

// WithURI applies host, port, credentials and vhost from an AMQP URI.
// Invalid URIs are ignored here; use SetURI to observe the parse error.
func WithURI(uri string) FactoryOption {
	return func(cf *ConnectionFactory) {
		_ = cf.SetURI(uri)
	}
}
