package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/burrowmq/burrow/internal/util"
)

// Confirmation is a publisher confirm for a single delivery tag
type Confirmation struct {
	DeliveryTag uint64
	Ack         bool
}

// confirmManager tracks publisher confirms across channel replacements. The
// broker restarts delivery tags at 1 on a replacement channel, so confirms
// outstanding at the moment of a connection loss can never arrive and are
// dropped when the replacement is attached.
type confirmManager struct {
	mu          sync.Mutex
	listeners   []chan Confirmation
	outstanding int
	idle        chan struct{}
	closed      bool
}

func newConfirmManager() *confirmManager {
	idle := make(chan struct{})
	close(idle)
	return &confirmManager{idle: idle}
}

// attach registers on a channel incarnation and starts forwarding its
// confirms
func (cm *confirmManager) attach(amqpCh *amqp.Channel) {
	inner := make(chan amqp.Confirmation, 16)
	amqpCh.NotifyPublish(inner)

	cm.mu.Lock()
	if cm.outstanding > 0 {
		cm.outstanding = 0
		close(cm.idle)
	}
	cm.mu.Unlock()

	go cm.pump(inner)
}

func (cm *confirmManager) pump(inner chan amqp.Confirmation) {
	for conf := range inner {
		cm.mu.Lock()
		if cm.outstanding > 0 {
			cm.outstanding--
			if cm.outstanding == 0 {
				close(cm.idle)
			}
		}
		listeners := make([]chan Confirmation, len(cm.listeners))
		copy(listeners, cm.listeners)
		cm.mu.Unlock()

		out := Confirmation{DeliveryTag: conf.DeliveryTag, Ack: conf.Ack}
		for _, l := range listeners {
			l <- out
		}
	}
}

// published counts a message awaiting confirmation. Call before the wire
// publish so the confirm cannot race the count.
func (cm *confirmManager) published() {
	cm.mu.Lock()
	if cm.outstanding == 0 {
		cm.idle = make(chan struct{})
	}
	cm.outstanding++
	cm.mu.Unlock()
}

// publishFailed undoes a published count after a failed wire publish
func (cm *confirmManager) publishFailed() {
	cm.mu.Lock()
	if cm.outstanding > 0 {
		cm.outstanding--
		if cm.outstanding == 0 {
			close(cm.idle)
		}
	}
	cm.mu.Unlock()
}

func (cm *confirmManager) addListener(c chan Confirmation) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.closed {
		close(c)
		return
	}
	cm.listeners = append(cm.listeners, c)
}

func (cm *confirmManager) waitIdle(ctx context.Context) error {
	cm.mu.Lock()
	idle := cm.idle
	cm.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shutdown closes all listener channels. Called once, on final channel close.
func (cm *confirmManager) shutdown() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.closed {
		return
	}
	cm.closed = true
	for _, l := range cm.listeners {
		close(l)
	}
	cm.listeners = nil
}

// ConfirmSelect puts the channel into publisher confirm mode. Confirm mode
// is re-selected on the replacement channel after recovery.
func (ch *Channel) ConfirmSelect() error {
	if ch.GetState() != ChannelStateOpen {
		return ErrChannelClosed
	}

	amqpCh := ch.underlying()
	if err := amqpCh.Confirm(false); err != nil {
		return wrapAMQPError(err)
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.confirms == nil {
		ch.confirms = newConfirmManager()
		ch.confirms.attach(amqpCh)
	}
	return nil
}

// NotifyPublish registers a listener for publisher confirms. The channel is
// closed immediately if confirm mode was never selected, and on final
// channel close otherwise. Listeners survive recovery.
func (ch *Channel) NotifyPublish(c chan Confirmation) chan Confirmation {
	ch.mu.RLock()
	cm := ch.confirms
	ch.mu.RUnlock()

	if cm == nil {
		close(c)
		return c
	}
	cm.addListener(c)
	return c
}

// WaitForConfirms blocks until every message published on this channel since
// ConfirmSelect has been confirmed, or the context is done
func (ch *Channel) WaitForConfirms(ctx context.Context) error {
	ch.mu.RLock()
	cm := ch.confirms
	ch.mu.RUnlock()

	if cm == nil {
		return fmt.Errorf("channel is not in confirm mode")
	}
	return cm.waitIdle(ctx)
}

// PublishWithConfirm publishes a message and waits up to timeout for the
// broker to confirm it. A nack or a lapsed timeout is an error. The channel
// must already be in confirm mode.
func (ch *Channel) PublishWithConfirm(ctx context.Context, exchange, routingKey string, mandatory bool, msg Publishing, timeout time.Duration) error {
	if ch.GetState() != ChannelStateOpen {
		return ErrChannelClosed
	}

	ch.mu.RLock()
	cm := ch.confirms
	ch.mu.RUnlock()
	if cm == nil {
		return fmt.Errorf("channel is not in confirm mode")
	}

	cm.published()
	dc, err := ch.underlying().PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, mandatory, false, msg.toAMQP())
	if err != nil {
		cm.publishFailed()
		return wrapAMQPError(err)
	}
	ch.conn.metrics.MessagePublished()

	cell := util.NewBlockingCell()
	go func() {
		<-dc.Done()
		_ = cell.Set(dc.Acked())
	}()

	v, err := cell.GetWithTimeout(timeout)
	if err != nil {
		return fmt.Errorf("confirm wait: %w", err)
	}
	if acked, _ := v.(bool); !acked {
		return fmt.Errorf("message nacked by server")
	}
	return nil
}
