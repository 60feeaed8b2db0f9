package rabbitmq

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ConnectionState represents the current state of a connection
type ConnectionState int32

const (
	StateOpen ConnectionState = iota
	StateRecovering
	StateClosing
	StateClosed
)

// String returns a string representation of the connection state
func (cs ConnectionState) String() string {
	switch cs {
	case StateOpen:
		return "open"
	case StateRecovering:
		return "recovering"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RecoveryListener is invoked with the recovered connection after a full
// recovery sequence completed
type RecoveryListener func(conn *Connection)

// QueueRecoveryListener is invoked when a server-named queue came back under
// a new name during recovery, before any dependent binding or consumer replay
// uses the new name
type QueueRecoveryListener func(oldName, newName string)

// Connection is an AMQP connection with automatic recovery. It wraps the
// underlying client connection and replaces it transparently after an
// unexpected shutdown.
type Connection struct {
	logger  zerolog.Logger
	metrics MetricsCollector

	mu       sync.RWMutex
	amqpConn *amqp.Connection
	channels map[uint16]*Channel

	channelMax int

	state     atomic.Int32
	closing   atomic.Bool
	closeOnce sync.Once

	shutdown *shutdownBus
	recovery *recoveryCoordinator

	listenerMu             sync.Mutex
	recoveryListeners      []RecoveryListener
	queueRecoveryListeners []QueueRecoveryListener

	recoveredMu sync.Mutex
	recoveredCh chan struct{}

	blockedMu        sync.Mutex
	blockedListeners []chan Blocking
}

// Blocking reports a connection.blocked or connection.unblocked frame from
// the server, typically sent under memory or disk pressure
type Blocking struct {
	Active bool
	Reason string
}

// IsOpen reports whether the connection is currently usable. During recovery
// it reports false until the recovery sequence completed.
func (c *Connection) IsOpen() bool {
	return c.GetState() == StateOpen
}

// IsClosed reports whether the connection is terminally closed
func (c *Connection) IsClosed() bool {
	return c.GetState() == StateClosed
}

// GetState returns the current connection state
func (c *Connection) GetState() ConnectionState {
	return ConnectionState(c.state.Load())
}

func (c *Connection) setState(s ConnectionState) {
	if s == StateRecovering {
		c.recoveredMu.Lock()
		c.recoveredCh = make(chan struct{})
		c.recoveredMu.Unlock()
	}
	c.state.Store(int32(s))
}

func (c *Connection) markClosed() {
	c.state.Store(int32(StateClosed))
}

// completeRecovery flips the state back to open, unless an explicit close
// intervened since recovery started. A false result means the connection is
// closing or closed and recovery callbacks must not fire.
func (c *Connection) completeRecovery() bool {
	return c.state.CompareAndSwap(int32(StateRecovering), int32(StateOpen))
}

// underlying returns the current wrapped connection
func (c *Connection) underlying() *amqp.Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.amqpConn
}

// adopt swaps in the connection established by recovery
func (c *Connection) adopt(conn *amqp.Connection) {
	c.mu.Lock()
	c.amqpConn = conn
	c.mu.Unlock()
	c.attachBlocked(conn)
}

// NotifyBlocked registers a listener for flow control notifications from the
// server. Listeners survive recovery.
func (c *Connection) NotifyBlocked(ch chan Blocking) chan Blocking {
	c.blockedMu.Lock()
	c.blockedListeners = append(c.blockedListeners, ch)
	c.blockedMu.Unlock()
	return ch
}

// attachBlocked forwards flow control frames from a connection incarnation
// to the registered listeners
func (c *Connection) attachBlocked(conn *amqp.Connection) {
	inner := make(chan amqp.Blocking, 1)
	conn.NotifyBlocked(inner)
	go func() {
		for b := range inner {
			c.blockedMu.Lock()
			listeners := make([]chan Blocking, len(c.blockedListeners))
			copy(listeners, c.blockedListeners)
			c.blockedMu.Unlock()
			for _, l := range listeners {
				l <- Blocking{Active: b.Active, Reason: b.Reason}
			}
		}
	}()
}

// NewChannel opens a channel on this connection. Channel ids are reused; when
// the number of open channels has reached the requested channel-max the
// result is a nil channel with no error.
func (c *Connection) NewChannel() (*Channel, error) {
	if c.GetState() != StateOpen {
		return nil, ErrClosed
	}

	c.mu.Lock()
	if len(c.channels) >= c.channelMax {
		c.mu.Unlock()
		return nil, nil
	}
	var id uint16
	for id = 1; ; id++ {
		if _, taken := c.channels[id]; !taken {
			break
		}
	}
	amqpConn := c.amqpConn
	c.mu.Unlock()

	amqpCh, err := amqpConn.Channel()
	if err != nil {
		return nil, wrapAMQPError(err)
	}

	ch := newChannel(c, id, amqpCh)

	c.mu.Lock()
	c.channels[id] = ch
	c.mu.Unlock()

	c.metrics.ChannelCreated()
	return ch, nil
}

// removeChannel drops a closed channel so its id can be reused
func (c *Connection) removeChannel(ch *Channel) {
	c.mu.Lock()
	delete(c.channels, ch.id)
	c.mu.Unlock()
}

// openChannels returns the open channels ordered by id, the order recovery
// re-opens them in
func (c *Connection) openChannels() []*Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Channel, 0, len(c.channels))
	for id := uint16(1); len(out) < len(c.channels) && int(id) <= c.channelMax; id++ {
		if ch, ok := c.channels[id]; ok {
			out = append(out, ch)
		}
	}
	return out
}

// GetChannelCount returns the current number of open channels
func (c *Connection) GetChannelCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.channels)
}

// Close closes the connection. Close is idempotent, always classified as
// application-initiated, and always wins a race against an in-progress
// recovery: further recovery attempts and callbacks are suppressed.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.setState(StateClosing)

		if conn := c.underlying(); conn != nil && !conn.IsClosed() {
			if err := conn.Close(); err != nil {
				c.logger.Debug().Err(err).Msg("underlying close failed")
			}
		}

		c.markClosed()
		c.fireShutdown(classifyShutdown(nil))
		c.metrics.ConnectionClosed()
		c.logger.Info().Msg("connection closed")
	})
	return nil
}

// fireShutdown delivers one shutdown event to the connection's listeners and
// to every channel's listeners and consumers
func (c *Connection) fireShutdown(ev ShutdownEvent) {
	c.shutdown.fire(ev)
	for _, ch := range c.openChannels() {
		ch.handleConnectionShutdown(ev)
	}
}

// NotifyShutdown registers a handler for this connection's shutdown events.
// Handlers run in registration order.
func (c *Connection) NotifyShutdown(h ShutdownHandler) {
	c.shutdown.addHandler(h)
}

// WaitForShutdown blocks until the connection has seen a shutdown event or
// the timeout expires. Expiry is reported as ok=false; it does not mean the
// connection failed.
func (c *Connection) WaitForShutdown(timeout time.Duration) (ShutdownEvent, bool) {
	return c.shutdown.wait(timeout)
}

// OnRecovery registers a listener invoked after every completed recovery
func (c *Connection) OnRecovery(l RecoveryListener) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.recoveryListeners = append(c.recoveryListeners, l)
}

// OnQueueRecovery registers a listener for server-named queue renames
func (c *Connection) OnQueueRecovery(l QueueRecoveryListener) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.queueRecoveryListeners = append(c.queueRecoveryListeners, l)
}

func (c *Connection) notifyRecovered() {
	c.listenerMu.Lock()
	listeners := make([]RecoveryListener, len(c.recoveryListeners))
	copy(listeners, c.recoveryListeners)
	c.listenerMu.Unlock()

	for _, l := range listeners {
		l(c)
	}
}

func (c *Connection) notifyQueueRecovered(oldName, newName string) {
	c.listenerMu.Lock()
	listeners := make([]QueueRecoveryListener, len(c.queueRecoveryListeners))
	copy(listeners, c.queueRecoveryListeners)
	c.listenerMu.Unlock()

	c.logger.Info().Str("old", oldName).Str("new", newName).Msg("server-named queue recovered")
	for _, l := range listeners {
		l(oldName, newName)
	}
}

func (c *Connection) signalRecovered() {
	c.recoveredMu.Lock()
	defer c.recoveredMu.Unlock()
	if c.recoveredCh != nil {
		close(c.recoveredCh)
		c.recoveredCh = nil
	}
}

// AwaitRecovery blocks until an in-progress recovery completes or the timeout
// expires, reporting whether the connection is open. Timeout expiry does not
// abort the recovery, which may still complete afterwards.
func (c *Connection) AwaitRecovery(timeout time.Duration) bool {
	if c.IsOpen() {
		return true
	}
	c.recoveredMu.Lock()
	ch := c.recoveredCh
	c.recoveredMu.Unlock()
	if ch == nil {
		return c.IsOpen()
	}
	select {
	case <-ch:
		return c.IsOpen()
	case <-time.After(timeout):
		return false
	}
}
