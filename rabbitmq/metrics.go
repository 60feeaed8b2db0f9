package rabbitmq

import "sync/atomic"

// MetricsCollector receives client lifecycle and messaging events
type MetricsCollector interface {
	// Connection events
	ConnectionCreated()
	ConnectionClosed()
	ConnectionError(err error)

	// Channel events
	ChannelCreated()
	ChannelClosed()

	// Message events
	MessagePublished()
	MessageConsumed()
	MessageAcked()
	MessageNacked()
	MessageRejected()
	MessageReturned()

	// Recovery events
	RecoveryStarted()
	RecoveryAttemptFailed(err error)
	RecoveryCompleted()
	TopologyReplayFailed(err error)
}

// NoOpMetricsCollector discards all events
type NoOpMetricsCollector struct{}

// NewNoOpMetricsCollector creates a collector that discards all events
func NewNoOpMetricsCollector() *NoOpMetricsCollector {
	return &NoOpMetricsCollector{}
}

func (n *NoOpMetricsCollector) ConnectionCreated()               {}
func (n *NoOpMetricsCollector) ConnectionClosed()                {}
func (n *NoOpMetricsCollector) ConnectionError(err error)        {}
func (n *NoOpMetricsCollector) ChannelCreated()                  {}
func (n *NoOpMetricsCollector) ChannelClosed()                   {}
func (n *NoOpMetricsCollector) MessagePublished()                {}
func (n *NoOpMetricsCollector) MessageConsumed()                 {}
func (n *NoOpMetricsCollector) MessageAcked()                    {}
func (n *NoOpMetricsCollector) MessageNacked()                   {}
func (n *NoOpMetricsCollector) MessageRejected()                 {}
func (n *NoOpMetricsCollector) MessageReturned()                 {}
func (n *NoOpMetricsCollector) RecoveryStarted()                 {}
func (n *NoOpMetricsCollector) RecoveryAttemptFailed(err error)  {}
func (n *NoOpMetricsCollector) RecoveryCompleted()               {}
func (n *NoOpMetricsCollector) TopologyReplayFailed(err error)   {}

// StandardMetricsCollector keeps in-process counters for all events
type StandardMetricsCollector struct {
	connectionsCreated     atomic.Int64
	connectionsClosed      atomic.Int64
	connectionErrors       atomic.Int64
	channelsCreated        atomic.Int64
	channelsClosed         atomic.Int64
	messagesPublished      atomic.Int64
	messagesConsumed       atomic.Int64
	messagesAcked          atomic.Int64
	messagesNacked         atomic.Int64
	messagesRejected       atomic.Int64
	messagesReturned       atomic.Int64
	recoveriesStarted      atomic.Int64
	recoveryAttemptsFailed atomic.Int64
	recoveriesCompleted    atomic.Int64
	topologyReplaysFailed  atomic.Int64
}

// NewStandardMetricsCollector creates a counter-backed collector
func NewStandardMetricsCollector() *StandardMetricsCollector {
	return &StandardMetricsCollector{}
}

func (m *StandardMetricsCollector) ConnectionCreated()       { m.connectionsCreated.Add(1) }
func (m *StandardMetricsCollector) ConnectionClosed()        { m.connectionsClosed.Add(1) }
func (m *StandardMetricsCollector) ConnectionError(error)    { m.connectionErrors.Add(1) }
func (m *StandardMetricsCollector) ChannelCreated()          { m.channelsCreated.Add(1) }
func (m *StandardMetricsCollector) ChannelClosed()           { m.channelsClosed.Add(1) }
func (m *StandardMetricsCollector) MessagePublished()        { m.messagesPublished.Add(1) }
func (m *StandardMetricsCollector) MessageConsumed()         { m.messagesConsumed.Add(1) }
func (m *StandardMetricsCollector) MessageAcked()            { m.messagesAcked.Add(1) }
func (m *StandardMetricsCollector) MessageNacked()           { m.messagesNacked.Add(1) }
func (m *StandardMetricsCollector) MessageRejected()         { m.messagesRejected.Add(1) }
func (m *StandardMetricsCollector) MessageReturned()         { m.messagesReturned.Add(1) }
func (m *StandardMetricsCollector) RecoveryStarted()         { m.recoveriesStarted.Add(1) }
func (m *StandardMetricsCollector) RecoveryAttemptFailed(error) { m.recoveryAttemptsFailed.Add(1) }
func (m *StandardMetricsCollector) RecoveryCompleted()       { m.recoveriesCompleted.Add(1) }
func (m *StandardMetricsCollector) TopologyReplayFailed(error) { m.topologyReplaysFailed.Add(1) }

// ConnectionsCreated returns the number of connections created
func (m *StandardMetricsCollector) ConnectionsCreated() int64 { return m.connectionsCreated.Load() }

// ConnectionsClosed returns the number of connections closed
func (m *StandardMetricsCollector) ConnectionsClosed() int64 { return m.connectionsClosed.Load() }

// ConnectionErrors returns the number of connection errors observed
func (m *StandardMetricsCollector) ConnectionErrors() int64 { return m.connectionErrors.Load() }

// ChannelsCreated returns the number of channels created
func (m *StandardMetricsCollector) ChannelsCreated() int64 { return m.channelsCreated.Load() }

// ChannelsClosed returns the number of channels closed
func (m *StandardMetricsCollector) ChannelsClosed() int64 { return m.channelsClosed.Load() }

// MessagesPublished returns the number of messages published
func (m *StandardMetricsCollector) MessagesPublished() int64 { return m.messagesPublished.Load() }

// MessagesConsumed returns the number of messages delivered to consumers
func (m *StandardMetricsCollector) MessagesConsumed() int64 { return m.messagesConsumed.Load() }

// MessagesAcked returns the number of messages acknowledged
func (m *StandardMetricsCollector) MessagesAcked() int64 { return m.messagesAcked.Load() }

// MessagesNacked returns the number of messages negatively acknowledged
func (m *StandardMetricsCollector) MessagesNacked() int64 { return m.messagesNacked.Load() }

// MessagesRejected returns the number of messages rejected
func (m *StandardMetricsCollector) MessagesRejected() int64 { return m.messagesRejected.Load() }

// MessagesReturned returns the number of unroutable messages returned
func (m *StandardMetricsCollector) MessagesReturned() int64 { return m.messagesReturned.Load() }

// RecoveriesStarted returns the number of recovery sequences started
func (m *StandardMetricsCollector) RecoveriesStarted() int64 { return m.recoveriesStarted.Load() }

// RecoveryAttemptsFailed returns the number of failed reconnect attempts
func (m *StandardMetricsCollector) RecoveryAttemptsFailed() int64 {
	return m.recoveryAttemptsFailed.Load()
}

// RecoveriesCompleted returns the number of recovery sequences completed
func (m *StandardMetricsCollector) RecoveriesCompleted() int64 {
	return m.recoveriesCompleted.Load()
}

// TopologyReplaysFailed returns the number of topology replays that reported
// at least one error
func (m *StandardMetricsCollector) TopologyReplaysFailed() int64 {
	return m.topologyReplaysFailed.Load()
}
