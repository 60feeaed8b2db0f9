package rabbitmq

import (
	"net"
	"testing"
	"time"
)

// requireRabbitMQ skips the test if RabbitMQ is not available on localhost:5672
func requireRabbitMQ(t *testing.T) *ConnectionFactory {
	t.Helper()

	conn, err := net.DialTimeout("tcp", "localhost:5672", 2*time.Second)
	if err != nil {
		t.Skipf("RabbitMQ not available on localhost:5672: %v", err)
		return nil
	}
	conn.Close()

	factory := NewConnectionFactory(
		WithHost("localhost"),
		WithPort(5672),
		WithCredentials("guest", "guest"),
		WithConnectionTimeout(10*time.Second),
	)

	return factory
}

// mustConnect creates a connection or fails the test
func mustConnect(t *testing.T, factory *ConnectionFactory) *Connection {
	t.Helper()

	conn, err := factory.NewConnection()
	if err != nil {
		t.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	return conn
}

// mustCreateChannel creates a channel or fails the test
func mustCreateChannel(t *testing.T, conn *Connection) *Channel {
	t.Helper()

	ch, err := conn.NewChannel()
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}
	if ch == nil {
		t.Fatalf("Channel limit reached")
	}

	return ch
}

func TestConnectChannelSmoke(t *testing.T) {
	factory := requireRabbitMQ(t)
	conn := mustConnect(t, factory)
	defer conn.Close()

	if !conn.IsOpen() {
		t.Fatalf("expected connection to be open, state %v", conn.GetState())
	}

	ch := mustCreateChannel(t, conn)
	if !ch.IsOpen() {
		t.Fatalf("expected channel to be open")
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("channel close: %v", err)
	}
	if conn.GetChannelCount() != 0 {
		t.Fatalf("expected 0 channels after close, got %d", conn.GetChannelCount())
	}
}
