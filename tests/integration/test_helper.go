package integration

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/burrowmq/burrow/rabbitmq"
)

// The suite runs against a live broker. Coordinates come from the RABBITMQ_*
// environment and default to a stock local install; every test skips rather
// than fails when no broker is listening.

// TestConfig holds the broker coordinates for one suite run
type TestConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	VHost    string
}

// GetTestConfig reads broker coordinates from the environment
func GetTestConfig() TestConfig {
	cfg := TestConfig{
		Host:     "localhost",
		Port:     5672,
		Username: "guest",
		Password: "guest",
		VHost:    "/",
	}
	if v := os.Getenv("RABBITMQ_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("RABBITMQ_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("RABBITMQ_USER"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("RABBITMQ_PASS"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("RABBITMQ_VHOST"); v != "" {
		cfg.VHost = v
	}
	return cfg
}

func (c TestConfig) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// RequireRabbitMQ skips the test when nothing answers on the broker port
func RequireRabbitMQ(t *testing.T) {
	t.Helper()

	cfg := GetTestConfig()
	conn, err := net.DialTimeout("tcp", cfg.addr(), 2*time.Second)
	if err != nil {
		t.Skipf("no broker at %s: %v", cfg.addr(), err)
		return
	}
	conn.Close()
}

// NewTestConnectionFactory builds a factory pointed at the suite's broker
func NewTestConnectionFactory(t *testing.T) *rabbitmq.ConnectionFactory {
	t.Helper()

	cfg := GetTestConfig()
	return rabbitmq.NewConnectionFactory(
		rabbitmq.WithHost(cfg.Host),
		rabbitmq.WithPort(cfg.Port),
		rabbitmq.WithCredentials(cfg.Username, cfg.Password),
		rabbitmq.WithVHost(cfg.VHost),
		rabbitmq.WithConnectionTimeout(10*time.Second),
	)
}

// NewTestConnection connects to the suite's broker, skipping when it cannot
func NewTestConnection(t *testing.T) *rabbitmq.Connection {
	t.Helper()

	conn, err := NewTestConnectionFactory(t).NewConnection()
	if err != nil {
		t.Skipf("no broker at %s: %v", GetTestConfig().addr(), err)
	}
	return conn
}

// NewTestChannel connects and opens one channel
func NewTestChannel(t *testing.T) (*rabbitmq.Connection, *rabbitmq.Channel) {
	t.Helper()

	conn := NewTestConnection(t)
	ch, err := conn.NewChannel()
	if err != nil || ch == nil {
		conn.Close()
		t.Fatalf("open channel: %v", err)
	}
	return conn, ch
}

// generateName builds an entity name unique to one test run so parallel and
// repeated runs never collide on broker state
func generateName(kind string, t *testing.T) string {
	return fmt.Sprintf("test.%s.%s.%d", kind, t.Name(), time.Now().UnixNano())
}

// GenerateQueueName returns a queue name unique to this test run
func GenerateQueueName(t *testing.T) string {
	return generateName("queue", t)
}

// GenerateExchangeName returns an exchange name unique to this test run
func GenerateExchangeName(t *testing.T) string {
	return generateName("exchange", t)
}

// CleanupQueue deletes a queue, ignoring errors
func CleanupQueue(t *testing.T, ch *rabbitmq.Channel, name string) {
	if ch != nil && name != "" {
		ch.QueueDelete(name, rabbitmq.QueueDeleteOptions{})
	}
}

// CleanupExchange deletes an exchange, ignoring errors
func CleanupExchange(t *testing.T, ch *rabbitmq.Channel, name string) {
	if ch != nil && name != "" {
		ch.ExchangeDelete(name, rabbitmq.ExchangeDeleteOptions{})
	}
}

// WaitForCondition polls check every 10ms until it reports true or the
// timeout lapses
func WaitForCondition(timeout time.Duration, check func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if check() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}
