package rabbitmq

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ChannelState represents the current state of a channel
type ChannelState int32

const (
	ChannelStateOpen ChannelState = iota
	ChannelStateRecovering
	ChannelStateClosed
)

// ChannelRecoveryListener is invoked with the recovered channel after its
// connection completed a recovery sequence
type ChannelRecoveryListener func(ch *Channel)

// Channel is an AMQP channel with automatic recovery. The wrapped channel is
// replaced after a connection recovery; prefetch settings and confirm mode
// are re-applied to the replacement.
type Channel struct {
	conn *Connection
	id   uint16

	mu     sync.RWMutex
	amqpCh *amqp.Channel

	state     atomic.Int32
	closeOnce sync.Once

	shutdown *shutdownBus

	listenerMu        sync.Mutex
	recoveryListeners []ChannelRecoveryListener

	// prefetch settings re-applied on recovery
	prefetchMu     sync.Mutex
	prefetchSet    bool
	prefetchCount  int
	prefetchSize   int
	prefetchGlobal bool

	confirms *confirmManager
}

func newChannel(conn *Connection, id uint16, amqpCh *amqp.Channel) *Channel {
	ch := &Channel{
		conn:     conn,
		id:       id,
		amqpCh:   amqpCh,
		shutdown: newShutdownBus(conn.logger),
	}
	ch.state.Store(int32(ChannelStateOpen))
	return ch
}

// underlying returns the current wrapped channel
func (ch *Channel) underlying() *amqp.Channel {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.amqpCh
}

// GetChannelID returns the channel's id within its connection
func (ch *Channel) GetChannelID() uint16 {
	return ch.id
}

// GetState returns the current channel state
func (ch *Channel) GetState() ChannelState {
	return ChannelState(ch.state.Load())
}

// IsOpen reports whether the channel is currently usable
func (ch *Channel) IsOpen() bool {
	return ch.GetState() == ChannelStateOpen
}

// IsClosed reports whether the channel is terminally closed
func (ch *Channel) IsClosed() bool {
	return ch.GetState() == ChannelStateClosed
}

// NotifyShutdown registers a handler for this channel's shutdown events.
// Handlers run in registration order.
func (ch *Channel) NotifyShutdown(h ShutdownHandler) {
	ch.shutdown.addHandler(h)
}

// OnRecovery registers a listener invoked after the channel was recovered
func (ch *Channel) OnRecovery(l ChannelRecoveryListener) {
	ch.listenerMu.Lock()
	defer ch.listenerMu.Unlock()
	ch.recoveryListeners = append(ch.recoveryListeners, l)
}

// Close closes the channel. Close is idempotent and application-initiated;
// the channel's consumers are cancelled and its exclusive queues forgotten.
func (ch *Channel) Close() error {
	ch.closeOnce.Do(func() {
		ch.state.Store(int32(ChannelStateClosed))

		ev := classifyShutdown(nil)
		removed := ch.conn.recovery.consumers.removeForChannel(ch)
		ch.conn.recovery.topology.removeExclusiveForChannel(ch)

		if err := ch.underlying().Close(); err != nil {
			ch.conn.logger.Debug().Err(err).Uint16("channel", ch.id).Msg("underlying channel close failed")
		}
		ch.conn.removeChannel(ch)

		ch.shutdown.fire(ev)
		for _, rec := range removed {
			rec.callback.HandleShutdown(rec.tag, ev)
		}
		ch.mu.RLock()
		cm := ch.confirms
		ch.mu.RUnlock()
		if cm != nil {
			cm.shutdown()
		}
		ch.conn.metrics.ChannelClosed()
	})
	return nil
}

// handleConnectionShutdown propagates a connection-level shutdown to this
// channel: the channel's listeners and consumers each get the event once
func (ch *Channel) handleConnectionShutdown(ev ShutdownEvent) {
	if ev.InitiatedByApplication() || !ch.conn.recovery.enabled {
		ch.state.Store(int32(ChannelStateClosed))
	} else {
		ch.state.Store(int32(ChannelStateRecovering))
	}

	ch.shutdown.fire(ev)
	for _, rec := range ch.conn.recovery.consumers.snapshotForChannel(ch) {
		rec.callback.HandleShutdown(rec.tag, ev)
	}
}

// reopen swaps in a channel on the new connection and re-applies prefetch and
// confirm settings
func (ch *Channel) reopen(conn *amqp.Connection) error {
	amqpCh, err := conn.Channel()
	if err != nil {
		return err
	}

	ch.mu.Lock()
	ch.amqpCh = amqpCh
	cm := ch.confirms
	ch.mu.Unlock()

	ch.prefetchMu.Lock()
	set, count, size, global := ch.prefetchSet, ch.prefetchCount, ch.prefetchSize, ch.prefetchGlobal
	ch.prefetchMu.Unlock()
	if set {
		if err := amqpCh.Qos(count, size, global); err != nil {
			return err
		}
	}

	if cm != nil {
		if err := amqpCh.Confirm(false); err != nil {
			return err
		}
		cm.attach(amqpCh)
	}
	return nil
}

func (ch *Channel) notifyRecovered() {
	ch.state.Store(int32(ChannelStateOpen))

	ch.listenerMu.Lock()
	listeners := make([]ChannelRecoveryListener, len(ch.recoveryListeners))
	copy(listeners, ch.recoveryListeners)
	ch.listenerMu.Unlock()

	for _, l := range listeners {
		l(ch)
	}
}

// runConsumer pumps deliveries from one consumer incarnation to its callback.
// The pump ends when the underlying delivery stream closes; recovery starts a
// new pump on the replacement stream with the same callback.
func (ch *Channel) runConsumer(rec *recordedConsumer, deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		ch.conn.metrics.MessageConsumed()
		if err := rec.callback.HandleDelivery(rec.tag, newDelivery(ch, d)); err != nil {
			ch.conn.logger.Error().Err(err).Str("tag", rec.tag).Msg("delivery handler returned error")
		}
	}
}

// Consume starts a consumer and returns its delivery stream. The stream stays
// open across recoveries; it closes when the consumer is cancelled or the
// channel shuts down terminally.
func (ch *Channel) Consume(queue, consumerTag string, opts ConsumeOptions) (<-chan Delivery, error) {
	cc := &channelConsumer{
		out:         make(chan Delivery),
		recoverable: ch.conn.recovery.enabled,
	}
	if _, err := ch.ConsumeWithCallback(queue, consumerTag, opts, cc); err != nil {
		return nil, err
	}
	return cc.out, nil
}

// ConsumeWithHandler starts a consumer with a simple function handler
func (ch *Channel) ConsumeWithHandler(queue, consumerTag string, opts ConsumeOptions, handler DeliveryHandlerFunc) (string, error) {
	return ch.ConsumeWithCallback(queue, consumerTag, opts, &handlerConsumer{handler: handler})
}

// ConsumeWithCallback starts a consumer with a callback interface and returns
// the consumer tag. An empty tag is replaced by a generated one; generated
// tags are re-generated on recovery while explicit tags are preserved.
func (ch *Channel) ConsumeWithCallback(queue, consumerTag string, opts ConsumeOptions, callback ConsumerCallback) (string, error) {
	if ch.GetState() != ChannelStateOpen {
		return "", ErrChannelClosed
	}

	explicit := consumerTag != ""
	if !explicit {
		consumerTag = generateConsumerTag()
	}

	deliveries, err := ch.underlying().Consume(
		queue, consumerTag, opts.AutoAck, opts.Exclusive, opts.NoLocal, opts.NoWait, opts.Args)
	if err != nil {
		return "", wrapAMQPError(err)
	}

	rec := &recordedConsumer{
		tag:         consumerTag,
		queue:       queue,
		callback:    callback,
		opts:        opts,
		explicitTag: explicit,
		ch:          ch,
	}
	ch.conn.recovery.consumers.recordSubscribe(rec)

	go ch.runConsumer(rec, deliveries)
	callback.HandleConsumeOk(consumerTag)

	return consumerTag, nil
}

// BasicCancel cancels a consumer and removes it from the registry so it is
// never re-subscribed by recovery
func (ch *Channel) BasicCancel(consumerTag string, noWait bool) error {
	if ch.GetState() != ChannelStateOpen {
		return ErrChannelClosed
	}

	rec := ch.conn.recovery.consumers.recordCancel(consumerTag)
	if err := ch.underlying().Cancel(consumerTag, noWait); err != nil {
		return wrapAMQPError(err)
	}
	if rec != nil {
		rec.callback.HandleCancelOk(consumerTag)
	}
	return nil
}

// Publish publishes a message
func (ch *Channel) Publish(exchange, routingKey string, mandatory, immediate bool, msg Publishing) error {
	return ch.PublishWithContext(context.Background(), exchange, routingKey, mandatory, immediate, msg)
}

// PublishWithContext publishes a message with context support
func (ch *Channel) PublishWithContext(ctx context.Context, exchange, routingKey string, mandatory, immediate bool, msg Publishing) error {
	if ch.GetState() != ChannelStateOpen {
		return ErrChannelClosed
	}
	ch.mu.RLock()
	cm := ch.confirms
	ch.mu.RUnlock()
	if cm != nil {
		cm.published()
	}

	if err := ch.underlying().PublishWithContext(ctx, exchange, routingKey, mandatory, immediate, msg.toAMQP()); err != nil {
		if cm != nil {
			cm.publishFailed()
		}
		return wrapAMQPError(err)
	}
	ch.conn.metrics.MessagePublished()
	return nil
}

// BasicGet synchronously fetches a single message from a queue
func (ch *Channel) BasicGet(queue string, autoAck bool) (*GetResponse, bool, error) {
	if ch.GetState() != ChannelStateOpen {
		return nil, false, ErrChannelClosed
	}
	d, ok, err := ch.underlying().Get(queue, autoAck)
	if err != nil {
		return nil, false, wrapAMQPError(err)
	}
	if !ok {
		return nil, false, nil
	}
	ch.conn.metrics.MessageConsumed()
	return &GetResponse{
		Delivery:     newDelivery(ch, d),
		MessageCount: int(d.MessageCount),
	}, true, nil
}

// BasicAck acknowledges a delivery
func (ch *Channel) BasicAck(deliveryTag uint64, multiple bool) error {
	if err := ch.underlying().Ack(deliveryTag, multiple); err != nil {
		return wrapAMQPError(err)
	}
	ch.conn.metrics.MessageAcked()
	return nil
}

// BasicNack negatively acknowledges a delivery
func (ch *Channel) BasicNack(deliveryTag uint64, multiple, requeue bool) error {
	if err := ch.underlying().Nack(deliveryTag, multiple, requeue); err != nil {
		return wrapAMQPError(err)
	}
	ch.conn.metrics.MessageNacked()
	return nil
}

// BasicReject rejects a delivery
func (ch *Channel) BasicReject(deliveryTag uint64, requeue bool) error {
	if err := ch.underlying().Reject(deliveryTag, requeue); err != nil {
		return wrapAMQPError(err)
	}
	ch.conn.metrics.MessageRejected()
	return nil
}

// Qos sets the channel's prefetch. The setting is recorded and re-applied
// after recovery.
func (ch *Channel) Qos(prefetchCount, prefetchSize int, global bool) error {
	if ch.GetState() != ChannelStateOpen {
		return ErrChannelClosed
	}
	if err := ch.underlying().Qos(prefetchCount, prefetchSize, global); err != nil {
		return wrapAMQPError(err)
	}
	ch.prefetchMu.Lock()
	ch.prefetchSet = true
	ch.prefetchCount = prefetchCount
	ch.prefetchSize = prefetchSize
	ch.prefetchGlobal = global
	ch.prefetchMu.Unlock()
	return nil
}

// WaitForShutdown blocks until the channel has seen a shutdown event or the
// timeout expires
func (ch *Channel) WaitForShutdown(timeout time.Duration) (ShutdownEvent, bool) {
	return ch.shutdown.wait(timeout)
}
