package rabbitmq

import (
	"sync"

	"github.com/google/uuid"
)

// ConsumeOptions configures a consumer subscription
type ConsumeOptions struct {
	AutoAck   bool
	Exclusive bool
	NoLocal   bool
	NoWait    bool
	Args      Table
}

// ConsumerCallback is a callback-based consumer interface
type ConsumerCallback interface {
	HandleConsumeOk(consumerTag string)
	HandleCancelOk(consumerTag string)
	HandleCancel(consumerTag string) error
	HandleDelivery(consumerTag string, delivery Delivery) error
	HandleShutdown(consumerTag string, cause ShutdownEvent)
	HandleRecoverOk(consumerTag string)
}

// DefaultConsumer provides default no-op implementations of ConsumerCallback
type DefaultConsumer struct{}

// HandleConsumeOk is called when the consumer is successfully registered
func (dc *DefaultConsumer) HandleConsumeOk(consumerTag string) {}

// HandleCancelOk is called when the consumer is successfully cancelled
func (dc *DefaultConsumer) HandleCancelOk(consumerTag string) {}

// HandleCancel is called when the server cancels the consumer
func (dc *DefaultConsumer) HandleCancel(consumerTag string) error {
	return nil
}

// HandleDelivery is called when a message is delivered
func (dc *DefaultConsumer) HandleDelivery(consumerTag string, delivery Delivery) error {
	return nil
}

// HandleShutdown is called when the channel shuts down
func (dc *DefaultConsumer) HandleShutdown(consumerTag string, cause ShutdownEvent) {}

// HandleRecoverOk is called after the consumer has been re-subscribed by
// automatic recovery. The tag passed is the consumer's current tag, which
// differs from the original for generated tags.
func (dc *DefaultConsumer) HandleRecoverOk(consumerTag string) {}

// DeliveryHandlerFunc is a function-based delivery handler
type DeliveryHandlerFunc func(consumerTag string, delivery Delivery) error

// handlerConsumer wraps a DeliveryHandlerFunc
type handlerConsumer struct {
	DefaultConsumer
	handler DeliveryHandlerFunc
}

// HandleDelivery delegates to the handler function
func (hc *handlerConsumer) HandleDelivery(consumerTag string, delivery Delivery) error {
	return hc.handler(consumerTag, delivery)
}

// channelConsumer feeds deliveries into a Go channel for Consume. The output
// channel stays open across recoveries and closes when the consumer is
// cancelled or the owning channel shuts down for good.
type channelConsumer struct {
	DefaultConsumer
	out chan Delivery
	// recoverable mirrors the owning connection's recovery setting so that a
	// network shutdown with recovery disabled still closes the stream
	recoverable bool
	closeOnce   sync.Once
}

func (cc *channelConsumer) HandleDelivery(consumerTag string, delivery Delivery) error {
	cc.out <- delivery
	return nil
}

func (cc *channelConsumer) HandleCancelOk(consumerTag string) {
	cc.closeOnce.Do(func() { close(cc.out) })
}

func (cc *channelConsumer) HandleCancel(consumerTag string) error {
	cc.closeOnce.Do(func() { close(cc.out) })
	return nil
}

func (cc *channelConsumer) HandleShutdown(consumerTag string, cause ShutdownEvent) {
	// Recovery re-subscribes the consumer; only a terminal shutdown ends the
	// delivery stream.
	if cause.InitiatedByApplication() || !cc.recoverable {
		cc.closeOnce.Do(func() { close(cc.out) })
	}
}

// recordedConsumer is one Consumer Registry entry: everything needed to
// re-subscribe after recovery
type recordedConsumer struct {
	tag         string
	queue       string
	callback    ConsumerCallback
	opts        ConsumeOptions
	explicitTag bool // explicitly assigned tags are preserved across recovery
	ch          *Channel
}

// consumerRegistry maps consumer tags to recorded consumers. Mutations come
// from application threads; the recovery path reads snapshots under the same
// lock so a subscribe or cancel racing a replay serializes cleanly.
type consumerRegistry struct {
	mu    sync.Mutex
	order []string
	byTag map[string]*recordedConsumer
}

func newConsumerRegistry() *consumerRegistry {
	return &consumerRegistry{byTag: make(map[string]*recordedConsumer)}
}

// recordSubscribe records a consumer for replay
func (cr *consumerRegistry) recordSubscribe(rec *recordedConsumer) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if _, ok := cr.byTag[rec.tag]; !ok {
		cr.order = append(cr.order, rec.tag)
	}
	cr.byTag[rec.tag] = rec
}

// recordCancel removes a consumer so it is never replayed
func (cr *consumerRegistry) recordCancel(tag string) *recordedConsumer {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	rec, ok := cr.byTag[tag]
	if !ok {
		return nil
	}
	delete(cr.byTag, tag)
	cr.removeOrderLocked(tag)
	return rec
}

// replaceTag rekeys a consumer whose generated tag changed during recovery
func (cr *consumerRegistry) replaceTag(oldTag, newTag string) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	rec, ok := cr.byTag[oldTag]
	if !ok {
		return
	}
	delete(cr.byTag, oldTag)
	rec.tag = newTag
	cr.byTag[newTag] = rec
	for i, t := range cr.order {
		if t == oldTag {
			cr.order[i] = newTag
			break
		}
	}
}

// renameQueue repoints consumers of a renamed server-named queue
func (cr *consumerRegistry) renameQueue(oldName, newName string) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	for _, rec := range cr.byTag {
		if rec.queue == oldName {
			rec.queue = newName
		}
	}
}

// snapshotForChannel returns the channel's consumers in subscription order
func (cr *consumerRegistry) snapshotForChannel(ch *Channel) []*recordedConsumer {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	var out []*recordedConsumer
	for _, tag := range cr.order {
		if rec := cr.byTag[tag]; rec != nil && rec.ch == ch {
			out = append(out, rec)
		}
	}
	return out
}

// removeForChannel drops all consumers owned by a closed channel
func (cr *consumerRegistry) removeForChannel(ch *Channel) []*recordedConsumer {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	var removed []*recordedConsumer
	for tag, rec := range cr.byTag {
		if rec.ch == ch {
			removed = append(removed, rec)
			delete(cr.byTag, tag)
			cr.removeOrderLocked(tag)
		}
	}
	return removed
}

func (cr *consumerRegistry) removeOrderLocked(tag string) {
	for i, t := range cr.order {
		if t == tag {
			cr.order = append(cr.order[:i], cr.order[i+1:]...)
			return
		}
	}
}

// generateConsumerTag generates a unique consumer tag
func generateConsumerTag() string {
	return "ctag-" + uuid.NewString()
}
