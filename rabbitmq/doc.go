// Package rabbitmq is a RabbitMQ (AMQP 0-9-1) client binding built on
// github.com/rabbitmq/amqp091-go. The underlying library performs all protocol
// work: framing, socket I/O, heartbeats and channel multiplexing. This package
// adds the pieces applications end up writing themselves: a configurable
// connection factory with AMQP URI and settings-map support, automatic
// connection recovery with configurable delay and host failover, topology
// recovery (exchanges, queues, bindings and consumers re-declared after an
// unexpected connection loss), and shutdown/recovery listener registration.
//
// A minimal consumer that survives broker restarts:
//
//	factory := rabbitmq.NewConnectionFactory(
//		rabbitmq.WithHost("localhost"),
//		rabbitmq.WithNetworkRecoveryDelay(5*time.Second),
//	)
//	conn, err := factory.NewConnection()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer conn.Close()
//
//	ch, err := conn.NewChannel()
//	if err != nil {
//		log.Fatal(err)
//	}
//	q, _ := ch.QueueDeclare("tasks", rabbitmq.QueueDeclareOptions{Durable: true})
//	deliveries, _ := ch.Consume(q.Name, "", rabbitmq.ConsumeOptions{})
//	for d := range deliveries {
//		// the stream keeps delivering across recoveries
//		d.Ack(false)
//	}
//
// Automatic recovery is enabled by default. Declarations made through a
// Channel are recorded and replayed after reconnection; explicit deletes and
// unbinds remove the records synchronously so a removed entity is never
// resurrected by a later recovery cycle.
package rabbitmq
