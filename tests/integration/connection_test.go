package integration

import (
	"testing"
	"time"

	"github.com/burrowmq/burrow/rabbitmq"
)

// TestConnectionLifecycle tests basic connection open/close
func TestConnectionLifecycle(t *testing.T) {
	RequireRabbitMQ(t)

	factory := NewTestConnectionFactory(t)

	conn, err := factory.NewConnection()
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}

	if !conn.IsOpen() {
		t.Error("Connection should be open")
	}
	if conn.GetState() != rabbitmq.StateOpen {
		t.Errorf("Connection state: got %v, want StateOpen", conn.GetState())
	}

	if err := conn.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	if !conn.IsClosed() {
		t.Error("Connection should be closed")
	}

	// Close is idempotent
	if err := conn.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

// TestConnectionShutdownNotification tests that an explicit close delivers
// exactly one application-initiated shutdown event
func TestConnectionShutdownNotification(t *testing.T) {
	RequireRabbitMQ(t)

	conn := NewTestConnection(t)

	events := make(chan rabbitmq.ShutdownEvent, 4)
	conn.NotifyShutdown(func(ev rabbitmq.ShutdownEvent) {
		events <- ev
	})

	conn.Close()
	conn.Close()

	select {
	case ev := <-events:
		if !ev.InitiatedByApplication() {
			t.Errorf("Shutdown initiator: got %v, want application", ev.Initiator)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Did not receive shutdown notification")
	}

	select {
	case ev := <-events:
		t.Errorf("Received a second shutdown event: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

// TestWaitForShutdown tests the blocking shutdown wait
func TestWaitForShutdown(t *testing.T) {
	RequireRabbitMQ(t)

	conn := NewTestConnection(t)

	if _, ok := conn.WaitForShutdown(100 * time.Millisecond); ok {
		t.Error("WaitForShutdown should time out before close")
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		conn.Close()
	}()

	ev, ok := conn.WaitForShutdown(2 * time.Second)
	if !ok {
		t.Fatal("WaitForShutdown timed out after close")
	}
	if !ev.InitiatedByApplication() {
		t.Errorf("Shutdown initiator: got %v, want application", ev.Initiator)
	}
}

// TestMultipleChannels tests creating and closing several channels
func TestMultipleChannels(t *testing.T) {
	RequireRabbitMQ(t)

	conn := NewTestConnection(t)
	defer conn.Close()

	numChannels := 5
	channels := make([]*rabbitmq.Channel, numChannels)

	for i := 0; i < numChannels; i++ {
		ch, err := conn.NewChannel()
		if err != nil {
			t.Fatalf("Failed to create channel %d: %v", i, err)
		}
		channels[i] = ch
	}

	if got := conn.GetChannelCount(); got != numChannels {
		t.Errorf("Channel count: got %d, want %d", got, numChannels)
	}

	for i, ch := range channels {
		if err := ch.Close(); err != nil {
			t.Errorf("Failed to close channel %d: %v", i, err)
		}
	}

	if got := conn.GetChannelCount(); got != 0 {
		t.Errorf("Channel count after close: got %d, want 0", got)
	}
}

// TestChannelLimit tests that the requested channel-max is honored by
// returning a nil channel instead of an error
func TestChannelLimit(t *testing.T) {
	RequireRabbitMQ(t)

	config := GetTestConfig()
	factory := rabbitmq.NewConnectionFactory(
		rabbitmq.WithHost(config.Host),
		rabbitmq.WithPort(config.Port),
		rabbitmq.WithCredentials(config.Username, config.Password),
		rabbitmq.WithChannelMax(2),
	)

	conn, err := factory.NewConnection()
	if err != nil {
		t.Skipf("Cannot connect to RabbitMQ: %v", err)
	}
	defer conn.Close()

	first, err := conn.NewChannel()
	if err != nil || first == nil {
		t.Fatalf("First channel: %v", err)
	}
	second, err := conn.NewChannel()
	if err != nil || second == nil {
		t.Fatalf("Second channel: %v", err)
	}

	over, err := conn.NewChannel()
	if err != nil {
		t.Errorf("Channel over limit should not error: %v", err)
	}
	if over != nil {
		t.Error("Channel over limit should be nil")
	}

	// closing a channel frees its slot
	first.Close()
	replacement, err := conn.NewChannel()
	if err != nil || replacement == nil {
		t.Fatalf("Replacement channel: %v", err)
	}
}

// TestChannelLifecycle tests channel open/close
func TestChannelLifecycle(t *testing.T) {
	RequireRabbitMQ(t)

	conn, ch := NewTestChannel(t)
	defer conn.Close()

	if ch.IsClosed() {
		t.Error("Channel should be open")
	}

	if err := ch.Close(); err != nil {
		t.Errorf("Channel close failed: %v", err)
	}

	if !ch.IsClosed() {
		t.Error("Channel should be closed")
	}

	if _, err := ch.QueueDeclare("test", rabbitmq.QueueDeclareOptions{}); err == nil {
		t.Error("Should not be able to declare queue on closed channel")
	}
}

// TestChannelShutdownNotification tests channel shutdown delivery
func TestChannelShutdownNotification(t *testing.T) {
	RequireRabbitMQ(t)

	conn, ch := NewTestChannel(t)
	defer conn.Close()

	events := make(chan rabbitmq.ShutdownEvent, 1)
	ch.NotifyShutdown(func(ev rabbitmq.ShutdownEvent) {
		events <- ev
	})

	ch.Close()

	select {
	case ev := <-events:
		if !ev.InitiatedByApplication() {
			t.Errorf("Shutdown initiator: got %v, want application", ev.Initiator)
		}
	case <-time.After(2 * time.Second):
		t.Error("Did not receive channel shutdown notification")
	}
}

// TestConnectionHeartbeat tests that a connection with a short heartbeat
// stays alive while idle
func TestConnectionHeartbeat(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping heartbeat test in short mode")
	}
	RequireRabbitMQ(t)

	config := GetTestConfig()
	factory := rabbitmq.NewConnectionFactory(
		rabbitmq.WithHost(config.Host),
		rabbitmq.WithPort(config.Port),
		rabbitmq.WithCredentials(config.Username, config.Password),
		rabbitmq.WithHeartbeat(2*time.Second),
	)

	conn, err := factory.NewConnection()
	if err != nil {
		t.Skipf("Cannot connect to RabbitMQ: %v", err)
	}
	defer conn.Close()

	time.Sleep(5 * time.Second)

	if conn.IsClosed() {
		t.Error("Connection should still be alive with heartbeats")
	}
}
