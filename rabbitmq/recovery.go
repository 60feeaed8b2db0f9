package rabbitmq

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// recordedExchange records an exchange declaration
type recordedExchange struct {
	name string
	kind string
	opts ExchangeDeclareOptions
}

// recordedQueue records a queue declaration. The registry entry is the stable
// handle for a queue whose server-generated name changes on every recovery.
type recordedQueue struct {
	name        string
	opts        QueueDeclareOptions
	serverNamed bool
	ch          *Channel
}

// recordedBinding records an edge between a source exchange and a destination
// queue or exchange
type recordedBinding struct {
	destination string
	destQueue   bool // destination is a queue, not an exchange
	source      string
	routingKey  string
	args        Table
}

func (b *recordedBinding) sameEdge(destination string, destQueue bool, source, routingKey string) bool {
	return b.destination == destination && b.destQueue == destQueue &&
		b.source == source && b.routingKey == routingKey
}

// topologySnapshot is the replay input, in dependency order: exchanges first,
// then queues, then exchange-to-exchange bindings, then queue bindings
type topologySnapshot struct {
	exchanges        []recordedExchange
	queues           []recordedQueue
	exchangeBindings []recordedBinding
	queueBindings    []recordedBinding
}

// topologyRegistry records every exchange, queue and binding declared through
// the connection so they can be replayed after recovery. Deletes and unbinds
// remove records synchronously: a deleted entity never transiently reappears
// in a snapshot and an unbound edge is never replayed, across any number of
// recovery cycles. Passive declares never touch the registry.
type topologyRegistry struct {
	mu sync.Mutex

	exchangeOrder []string
	exchanges     map[string]*recordedExchange

	queueOrder []string
	queues     map[string]*recordedQueue

	bindings []*recordedBinding
}

func newTopologyRegistry() *topologyRegistry {
	return &topologyRegistry{
		exchanges: make(map[string]*recordedExchange),
		queues:    make(map[string]*recordedQueue),
	}
}

// recordExchange records an exchange declaration, replacing any previous
// record under the same name
func (tr *topologyRegistry) recordExchange(name, kind string, opts ExchangeDeclareOptions) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if _, ok := tr.exchanges[name]; !ok {
		tr.exchangeOrder = append(tr.exchangeOrder, name)
	}
	tr.exchanges[name] = &recordedExchange{name: name, kind: kind, opts: opts}
}

// deleteExchange tombstones an exchange and every binding attached to it
func (tr *topologyRegistry) deleteExchange(name string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	delete(tr.exchanges, name)
	tr.exchangeOrder = removeString(tr.exchangeOrder, name)
	tr.bindings = filterBindings(tr.bindings, func(b *recordedBinding) bool {
		return b.source != name && (b.destQueue || b.destination != name)
	})
}

// recordQueue records a queue declaration
func (tr *topologyRegistry) recordQueue(rec *recordedQueue) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if _, ok := tr.queues[rec.name]; !ok {
		tr.queueOrder = append(tr.queueOrder, rec.name)
	}
	tr.queues[rec.name] = rec
}

// deleteQueue tombstones a queue and every binding attached to it
func (tr *topologyRegistry) deleteQueue(name string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	delete(tr.queues, name)
	tr.queueOrder = removeString(tr.queueOrder, name)
	tr.bindings = filterBindings(tr.bindings, func(b *recordedBinding) bool {
		return !(b.destQueue && b.destination == name)
	})
}

// recordBinding records a binding edge, replacing a record of the same edge
func (tr *topologyRegistry) recordBinding(rec *recordedBinding) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for i, b := range tr.bindings {
		if b.sameEdge(rec.destination, rec.destQueue, rec.source, rec.routingKey) {
			tr.bindings[i] = rec
			return
		}
	}
	tr.bindings = append(tr.bindings, rec)
}

// deleteBinding tombstones a binding edge so it is never replayed again
func (tr *topologyRegistry) deleteBinding(destination string, destQueue bool, source, routingKey string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.bindings = filterBindings(tr.bindings, func(b *recordedBinding) bool {
		return !b.sameEdge(destination, destQueue, source, routingKey)
	})
}

// renameQueue is the single update point for a server-named queue whose name
// changed on re-declaration: it rekeys the queue record and repoints every
// dependent binding. Consumer records are repointed by the consumer registry.
func (tr *topologyRegistry) renameQueue(oldName, newName string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	rec, ok := tr.queues[oldName]
	if !ok {
		return
	}
	delete(tr.queues, oldName)
	rec.name = newName
	tr.queues[newName] = rec
	for i, n := range tr.queueOrder {
		if n == oldName {
			tr.queueOrder[i] = newName
			break
		}
	}
	for _, b := range tr.bindings {
		if b.destQueue && b.destination == oldName {
			b.destination = newName
		}
	}
}

// removeExclusiveForChannel drops records of exclusive queues owned by a
// closed channel; the server deletes them, so replaying them would be wrong
func (tr *topologyRegistry) removeExclusiveForChannel(ch *Channel) {
	tr.mu.Lock()
	names := make([]string, 0)
	for name, rec := range tr.queues {
		if rec.ch == ch && rec.opts.Exclusive {
			names = append(names, name)
		}
	}
	tr.mu.Unlock()
	for _, name := range names {
		tr.deleteQueue(name)
	}
}

// snapshot returns the recorded topology in dependency order
func (tr *topologyRegistry) snapshot() topologySnapshot {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	var snap topologySnapshot
	for _, name := range tr.exchangeOrder {
		if rec := tr.exchanges[name]; rec != nil {
			snap.exchanges = append(snap.exchanges, *rec)
		}
	}
	for _, name := range tr.queueOrder {
		if rec := tr.queues[name]; rec != nil {
			snap.queues = append(snap.queues, *rec)
		}
	}
	for _, b := range tr.bindings {
		if b.destQueue {
			snap.queueBindings = append(snap.queueBindings, *b)
		} else {
			snap.exchangeBindings = append(snap.exchangeBindings, *b)
		}
	}
	return snap
}

func removeString(s []string, v string) []string {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

func filterBindings(s []*recordedBinding, keep func(*recordedBinding) bool) []*recordedBinding {
	out := s[:0]
	for _, b := range s {
		if keep(b) {
			out = append(out, b)
		}
	}
	return out
}

// replayTarget is the surface topology replay needs from a channel
type replayTarget interface {
	declareExchange(ex recordedExchange) error
	// declareQueue returns the declared queue's actual name, which differs
	// from the recorded one for server-named queues
	declareQueue(q recordedQueue) (string, error)
	bind(b recordedBinding) error
}

// amqpReplayTarget replays topology onto a channel of the new connection
type amqpReplayTarget struct {
	ch *amqp.Channel
}

func (t *amqpReplayTarget) declareExchange(ex recordedExchange) error {
	return t.ch.ExchangeDeclare(ex.name, ex.kind, ex.opts.Durable, ex.opts.AutoDelete, ex.opts.Internal, false, ex.opts.Args)
}

func (t *amqpReplayTarget) declareQueue(q recordedQueue) (string, error) {
	name := q.name
	if q.serverNamed {
		name = ""
	}
	res, err := t.ch.QueueDeclare(name, q.opts.Durable, q.opts.AutoDelete, q.opts.Exclusive, false, q.opts.Args)
	if err != nil {
		return "", err
	}
	return res.Name, nil
}

func (t *amqpReplayTarget) bind(b recordedBinding) error {
	if b.destQueue {
		return t.ch.QueueBind(b.destination, b.routingKey, b.source, false, b.args)
	}
	return t.ch.ExchangeBind(b.destination, b.routingKey, b.source, false, b.args)
}

// recoveryCoordinator drives automatic recovery for one Connection. Only one
// recovery sequence is in flight per connection; concurrent shutdown
// detections collapse into it.
type recoveryCoordinator struct {
	conn      *Connection
	topology  *topologyRegistry
	consumers *consumerRegistry

	// dial establishes the replacement connection during recovery
	dial func() (*amqp.Connection, error)

	enabled         bool
	recoverTopology bool
	delay           time.Duration

	running atomic.Bool
	logger  zerolog.Logger
}

func newRecoveryCoordinator(conn *Connection, cf *ConnectionFactory) *recoveryCoordinator {
	return &recoveryCoordinator{
		conn:            conn,
		topology:        newTopologyRegistry(),
		consumers:       newConsumerRegistry(),
		dial:            cf.dial,
		enabled:         cf.AutomaticRecovery,
		recoverTopology: cf.TopologyRecovery,
		delay:           cf.NetworkRecoveryDelay,
		logger:          cf.Logger,
	}
}

// watch waits for the underlying connection to close and starts recovery for
// any shutdown that was not requested by the application. It runs once per
// underlying connection; recovery installs a new watch on the replacement.
func (rc *recoveryCoordinator) watch(amqpConn *amqp.Connection) {
	amqpErr := <-amqpConn.NotifyClose(make(chan *amqp.Error, 1))
	rc.handleClose(fromAMQPError(amqpErr))
}

// handleClose reacts to one close notification from the underlying
// connection: classify, deliver the shutdown event, and recover when enabled.
// A nil cause or an in-progress explicit close is not ours to handle; the
// explicit close path owns that shutdown event delivery.
func (rc *recoveryCoordinator) handleClose(cause *Error) {
	if rc.conn.closing.Load() {
		return
	}
	if cause == nil {
		return
	}

	ev := classifyShutdown(cause)
	rc.logger.Warn().
		Int("code", ev.Code).
		Str("initiator", ev.Initiator.String()).
		Str("reason", ev.Reason).
		Msg("connection shut down unexpectedly")
	rc.conn.metrics.ConnectionError(cause)
	rc.conn.fireShutdown(ev)

	if !rc.enabled {
		rc.conn.markClosed()
		return
	}
	rc.recover()
}

// recover runs one full recovery sequence: delay, reconnect until success,
// re-open channels, replay topology, re-subscribe consumers, notify.
// An explicit close at any point wins and suppresses callbacks.
func (rc *recoveryCoordinator) recover() {
	if !rc.running.CompareAndSwap(false, true) {
		return
	}
	defer rc.running.Store(false)

	c := rc.conn
	c.setState(StateRecovering)
	c.metrics.RecoveryStarted()
	rc.logger.Info().Dur("delay", rc.delay).Msg("starting automatic connection recovery")

	time.Sleep(rc.delay)

	var newConn *amqp.Connection
	attempt := func() error {
		if c.closing.Load() {
			return backoff.Permanent(ErrClosed)
		}
		conn, err := rc.dial()
		if err != nil {
			// Transient failures, auth failures included, are retried at the
			// same interval; a single failed attempt never abandons recovery.
			c.metrics.RecoveryAttemptFailed(err)
			rc.logger.Warn().Err(err).Bool("auth_failure", isAuthFailure(err)).
				Dur("retry_in", rc.delay).Msg("recovery attempt failed")
			return err
		}
		newConn = conn
		return nil
	}

	if err := backoff.Retry(attempt, backoff.NewConstantBackOff(rc.delay)); err != nil {
		// Only an explicit close makes the retry loop stop.
		c.markClosed()
		rc.logger.Info().Msg("recovery cancelled by explicit close")
		return
	}
	if c.closing.Load() {
		newConn.Close()
		c.markClosed()
		return
	}

	c.adopt(newConn)
	go rc.watch(newConn)

	channels := c.openChannels()
	for _, ch := range channels {
		if err := ch.reopen(newConn); err != nil {
			rc.logger.Error().Err(err).Uint16("channel", ch.id).Msg("channel re-open failed")
		}
	}

	if rc.recoverTopology {
		rc.replay(newConn, channels)
	}

	if c.closing.Load() || !c.completeRecovery() {
		// Close raced the replay: suppress recovery callbacks.
		newConn.Close()
		c.markClosed()
		return
	}

	c.signalRecovered()
	c.metrics.RecoveryCompleted()
	rc.logger.Info().Msg("connection recovered")

	c.notifyRecovered()
	for _, ch := range channels {
		ch.notifyRecovered()
	}
}

// replay re-declares the recorded topology on the new connection and
// re-subscribes recorded consumers. Replay is best-effort per entity: a
// failed declaration is logged and skipped, and surfaces to the application
// later through the invalid handle.
func (rc *recoveryCoordinator) replay(newConn *amqp.Connection, channels []*Channel) {
	tmp, err := newConn.Channel()
	if err != nil {
		rc.logger.Error().Err(err).Msg("cannot open channel for topology recovery")
		return
	}
	defer tmp.Close()

	if errs := rc.replayTopology(&amqpReplayTarget{ch: tmp}); errs != nil {
		rc.conn.metrics.TopologyReplayFailed(errs)
		rc.logger.Error().Err(errs).Msg("topology recovery finished with errors")
	}

	for _, ch := range channels {
		rc.resubscribe(ch)
	}
}

// replayTopology replays exchanges, queues and bindings in dependency order.
// Server-named queues come back under new names; the rename is applied to the
// registries and delivered to queue-recovery listeners before any binding or
// consumer replay uses the new name.
func (rc *recoveryCoordinator) replayTopology(target replayTarget) error {
	snap := rc.topology.snapshot()
	var errs *multierror.Error

	for _, ex := range snap.exchanges {
		if err := target.declareExchange(ex); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	for _, q := range snap.queues {
		actual, err := target.declareQueue(q)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if actual != q.name {
			rc.topology.renameQueue(q.name, actual)
			rc.consumers.renameQueue(q.name, actual)
			rc.conn.notifyQueueRecovered(q.name, actual)
		}
	}
	// Bindings replay against the post-rename snapshot so queue bindings use
	// the new server-generated names.
	snap = rc.topology.snapshot()
	for _, b := range snap.exchangeBindings {
		if err := target.bind(b); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	for _, b := range snap.queueBindings {
		if err := target.bind(b); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// resubscribe re-establishes the channel's recorded consumers, preserving
// explicitly assigned tags and generating fresh ones otherwise. The delivery
// handler is reused unchanged.
func (rc *recoveryCoordinator) resubscribe(ch *Channel) {
	for _, rec := range rc.consumers.snapshotForChannel(ch) {
		tag := rec.tag
		if !rec.explicitTag {
			tag = generateConsumerTag()
			rc.consumers.replaceTag(rec.tag, tag)
		}
		deliveries, err := ch.underlying().Consume(
			rec.queue, tag, rec.opts.AutoAck, rec.opts.Exclusive, rec.opts.NoLocal, rec.opts.NoWait, rec.opts.Args)
		if err != nil {
			rc.logger.Error().Err(err).Str("queue", rec.queue).Str("tag", tag).
				Msg("consumer recovery failed")
			continue
		}
		go ch.runConsumer(rec, deliveries)
		rec.callback.HandleRecoverOk(tag)
	}
}
