package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/burrowmq/burrow/internal/util"
)

var errRPCClosed = errors.New("rpc client closed")

// RPCClient implements the request/reply pattern over an exclusive
// server-named reply queue. Each request carries a generated correlation id
// and the reply queue in reply-to; replies are matched back to the waiting
// caller by correlation id. The reply queue comes back under a new name after
// a recovery and subsequent requests use the new name transparently.
type RPCClient struct {
	ch *Channel

	mu          sync.Mutex
	replyQueue  string
	consumerTag string
	pending     map[string]*util.BlockingCell
	closed      bool
}

// NewRPCClient opens a dedicated channel on the connection, declares the
// reply queue and starts consuming replies
func NewRPCClient(conn *Connection) (*RPCClient, error) {
	ch, err := conn.NewChannel()
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, ErrClosed
	}

	q, err := ch.QueueDeclare("", QueueDeclareOptions{Exclusive: true, AutoDelete: true})
	if err != nil {
		ch.Close()
		return nil, err
	}

	c := &RPCClient{
		ch:         ch,
		replyQueue: q.Name,
		pending:    make(map[string]*util.BlockingCell),
	}

	tag, err := ch.ConsumeWithCallback(q.Name, "", ConsumeOptions{AutoAck: true}, &rpcReplyConsumer{client: c})
	if err != nil {
		ch.Close()
		return nil, err
	}
	c.consumerTag = tag

	conn.OnQueueRecovery(func(oldName, newName string) {
		c.mu.Lock()
		if c.replyQueue == oldName {
			c.replyQueue = newName
		}
		c.mu.Unlock()
	})

	return c, nil
}

// rpcReplyConsumer routes replies back to waiting callers
type rpcReplyConsumer struct {
	DefaultConsumer
	client *RPCClient
}

func (rc *rpcReplyConsumer) HandleDelivery(consumerTag string, d Delivery) error {
	rc.client.resolve(d)
	return nil
}

// resolve hands a reply to the caller waiting on its correlation id. Replies
// with no waiting caller (late replies after a context expired) are dropped.
func (c *RPCClient) resolve(d Delivery) {
	c.mu.Lock()
	cell, ok := c.pending[d.Properties.CorrelationID]
	if ok {
		delete(c.pending, d.Properties.CorrelationID)
	}
	c.mu.Unlock()
	if ok {
		_ = cell.Set(d)
	}
}

// Call publishes a request and blocks until the reply arrives or the context
// is done. The message's CorrelationID and ReplyTo fields are overwritten.
func (c *RPCClient) Call(ctx context.Context, exchange, routingKey string, msg Publishing) (Delivery, error) {
	corrID := uuid.NewString()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Delivery{}, errRPCClosed
	}
	msg.CorrelationID = corrID
	msg.ReplyTo = c.replyQueue
	cell := util.NewBlockingCell()
	c.pending[corrID] = cell
	c.mu.Unlock()

	if err := c.ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
		c.forget(corrID)
		return Delivery{}, err
	}

	v, err := cell.GetWithContext(ctx)
	if err != nil {
		c.forget(corrID)
		return Delivery{}, fmt.Errorf("rpc reply wait: %w", err)
	}
	if err, ok := v.(error); ok {
		return Delivery{}, err
	}
	return v.(Delivery), nil
}

func (c *RPCClient) forget(corrID string) {
	c.mu.Lock()
	delete(c.pending, corrID)
	c.mu.Unlock()
}

// Close cancels the reply consumer, fails any in-flight calls and closes the
// client's channel. Close is idempotent.
func (c *RPCClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]*util.BlockingCell)
	tag := c.consumerTag
	c.mu.Unlock()

	for _, cell := range pending {
		_ = cell.Set(errRPCClosed)
	}
	if tag != "" {
		_ = c.ch.BasicCancel(tag, false)
	}
	return c.ch.Close()
}
