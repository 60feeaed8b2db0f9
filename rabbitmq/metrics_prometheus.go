package rabbitmq

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsCollector exposes client events as Prometheus counters
type PrometheusMetricsCollector struct {
	connectionsCreated     prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionErrors       prometheus.Counter
	channelsCreated        prometheus.Counter
	channelsClosed         prometheus.Counter
	messagesPublished      prometheus.Counter
	messagesConsumed       prometheus.Counter
	messagesAcked          prometheus.Counter
	messagesNacked         prometheus.Counter
	messagesRejected       prometheus.Counter
	messagesReturned       prometheus.Counter
	recoveriesStarted      prometheus.Counter
	recoveryAttemptsFailed prometheus.Counter
	recoveriesCompleted    prometheus.Counter
	topologyReplaysFailed  prometheus.Counter
}

// NewPrometheusMetricsCollector creates a collector and registers its
// counters with the given registerer. Passing prometheus.DefaultRegisterer
// uses the process-wide registry.
func NewPrometheusMetricsCollector(reg prometheus.Registerer) (*PrometheusMetricsCollector, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "burrow",
			Name:      name,
			Help:      help,
		})
	}

	m := &PrometheusMetricsCollector{
		connectionsCreated:     counter("connections_created_total", "Connections opened."),
		connectionsClosed:      counter("connections_closed_total", "Connections closed."),
		connectionErrors:       counter("connection_errors_total", "Connection failures observed."),
		channelsCreated:        counter("channels_created_total", "Channels opened."),
		channelsClosed:         counter("channels_closed_total", "Channels closed."),
		messagesPublished:      counter("messages_published_total", "Messages published."),
		messagesConsumed:       counter("messages_consumed_total", "Messages delivered to consumers."),
		messagesAcked:          counter("messages_acked_total", "Messages acknowledged."),
		messagesNacked:         counter("messages_nacked_total", "Messages negatively acknowledged."),
		messagesRejected:       counter("messages_rejected_total", "Messages rejected."),
		messagesReturned:       counter("messages_returned_total", "Unroutable messages returned by the server."),
		recoveriesStarted:      counter("recoveries_started_total", "Recovery sequences started."),
		recoveryAttemptsFailed: counter("recovery_attempts_failed_total", "Reconnect attempts that failed."),
		recoveriesCompleted:    counter("recoveries_completed_total", "Recovery sequences completed."),
		topologyReplaysFailed:  counter("topology_replays_failed_total", "Topology replays that reported errors."),
	}

	for _, c := range []prometheus.Counter{
		m.connectionsCreated, m.connectionsClosed, m.connectionErrors,
		m.channelsCreated, m.channelsClosed,
		m.messagesPublished, m.messagesConsumed, m.messagesAcked,
		m.messagesNacked, m.messagesRejected, m.messagesReturned,
		m.recoveriesStarted, m.recoveryAttemptsFailed,
		m.recoveriesCompleted, m.topologyReplaysFailed,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *PrometheusMetricsCollector) ConnectionCreated()        { m.connectionsCreated.Inc() }
func (m *PrometheusMetricsCollector) ConnectionClosed()         { m.connectionsClosed.Inc() }
func (m *PrometheusMetricsCollector) ConnectionError(error)     { m.connectionErrors.Inc() }
func (m *PrometheusMetricsCollector) ChannelCreated()           { m.channelsCreated.Inc() }
func (m *PrometheusMetricsCollector) ChannelClosed()            { m.channelsClosed.Inc() }
func (m *PrometheusMetricsCollector) MessagePublished()         { m.messagesPublished.Inc() }
func (m *PrometheusMetricsCollector) MessageConsumed()          { m.messagesConsumed.Inc() }
func (m *PrometheusMetricsCollector) MessageAcked()             { m.messagesAcked.Inc() }
func (m *PrometheusMetricsCollector) MessageNacked()            { m.messagesNacked.Inc() }
func (m *PrometheusMetricsCollector) MessageRejected()          { m.messagesRejected.Inc() }
func (m *PrometheusMetricsCollector) MessageReturned()          { m.messagesReturned.Inc() }
func (m *PrometheusMetricsCollector) RecoveryStarted()          { m.recoveriesStarted.Inc() }
func (m *PrometheusMetricsCollector) RecoveryAttemptFailed(error) { m.recoveryAttemptsFailed.Inc() }
func (m *PrometheusMetricsCollector) RecoveryCompleted()        { m.recoveriesCompleted.Inc() }
func (m *PrometheusMetricsCollector) TopologyReplayFailed(error) { m.topologyReplaysFailed.Inc() }
