package integration

import (
	"testing"
	"time"

	"github.com/burrowmq/burrow/rabbitmq"
)

// TestRecoveryDisabledConnectionStaysClosed tests that without automatic
// recovery a lost connection is terminal
func TestRecoveryDisabledConnectionStaysClosed(t *testing.T) {
	t.Skip("Requires killing the connection server-side - run manually with rabbitmqctl close_connection")
}

// TestAutomaticRecovery exercises the full recovery sequence. The connection
// must be killed externally while the test waits, so it is skipped by default.
//
// To run manually:
//  1. go test -run TestAutomaticRecovery -manual (remove the skip first)
//  2. rabbitmqctl list_connections and close the test connection:
//     rabbitmqctl close_connection "<pid>" "test kill"
//  3. The test observes the shutdown, waits for recovery and verifies the
//     topology and consumer came back.
func TestAutomaticRecovery(t *testing.T) {
	t.Skip("Requires killing the connection server-side - run manually")

	RequireRabbitMQ(t)

	config := GetTestConfig()
	metrics := rabbitmq.NewStandardMetricsCollector()
	factory := rabbitmq.NewConnectionFactory(
		rabbitmq.WithHost(config.Host),
		rabbitmq.WithPort(config.Port),
		rabbitmq.WithCredentials(config.Username, config.Password),
		rabbitmq.WithAutomaticRecovery(true),
		rabbitmq.WithTopologyRecovery(true),
		rabbitmq.WithNetworkRecoveryDelay(time.Second),
		rabbitmq.WithMetrics(metrics),
	)

	conn, err := factory.NewConnection()
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	ch, err := conn.NewChannel()
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}

	queue := GenerateQueueName(t)
	defer CleanupQueue(t, ch, queue)
	if _, err := ch.QueueDeclare(queue, rabbitmq.QueueDeclareOptions{}); err != nil {
		t.Fatalf("QueueDeclare failed: %v", err)
	}

	deliveries, err := ch.Consume(queue, "", rabbitmq.ConsumeOptions{AutoAck: true})
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	recovered := make(chan struct{}, 1)
	conn.OnRecovery(func(*rabbitmq.Connection) {
		recovered <- struct{}{}
	})

	t.Log("Kill the connection now: rabbitmqctl close_connection <pid> 'test kill'")

	select {
	case <-recovered:
	case <-time.After(60 * time.Second):
		t.Fatal("Connection did not recover")
	}

	if !conn.IsOpen() {
		t.Error("Connection should be open after recovery")
	}
	if metrics.RecoveriesCompleted() != 1 {
		t.Errorf("RecoveriesCompleted: got %d, want 1", metrics.RecoveriesCompleted())
	}

	// the consumer must keep delivering through the same stream
	if err := ch.Publish("", queue, false, false, rabbitmq.Publishing{
		Body: []byte("after recovery"),
	}); err != nil {
		t.Fatalf("Publish after recovery failed: %v", err)
	}

	select {
	case d := <-deliveries:
		if string(d.Body) != "after recovery" {
			t.Errorf("Body: got %q", d.Body)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Consumer did not survive recovery")
	}
}

// TestServerNamedQueueRecovery verifies the queue rename listener contract.
// Skipped by default for the same reason as TestAutomaticRecovery.
func TestServerNamedQueueRecovery(t *testing.T) {
	t.Skip("Requires killing the connection server-side - run manually")

	RequireRabbitMQ(t)

	conn := NewTestConnection(t)
	defer conn.Close()

	ch, err := conn.NewChannel()
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}

	declared, err := ch.QueueDeclare("", rabbitmq.QueueDeclareOptions{Exclusive: true})
	if err != nil {
		t.Fatalf("QueueDeclare failed: %v", err)
	}

	renames := make(chan [2]string, 1)
	conn.OnQueueRecovery(func(oldName, newName string) {
		renames <- [2]string{oldName, newName}
	})

	t.Logf("Server-named queue %s declared; kill the connection now", declared.Name)

	select {
	case r := <-renames:
		if r[0] != declared.Name {
			t.Errorf("Old name: got %q, want %q", r[0], declared.Name)
		}
		if r[1] == "" || r[1] == r[0] {
			t.Errorf("New name: got %q", r[1])
		}
	case <-time.After(60 * time.Second):
		t.Fatal("Queue rename was not reported")
	}
}

// TestAwaitRecoveryOnOpenConnection tests that AwaitRecovery returns
// immediately when no recovery is in progress
func TestAwaitRecoveryOnOpenConnection(t *testing.T) {
	RequireRabbitMQ(t)

	conn := NewTestConnection(t)
	defer conn.Close()

	start := time.Now()
	if !conn.AwaitRecovery(5 * time.Second) {
		t.Error("AwaitRecovery on an open connection should report true")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("AwaitRecovery blocked for %v on an open connection", elapsed)
	}
}
