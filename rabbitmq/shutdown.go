package rabbitmq

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ShutdownInitiator classifies who caused a shutdown
type ShutdownInitiator int

const (
	// InitiatorApplication means the shutdown was requested by an explicit
	// Close from the application
	InitiatorApplication ShutdownInitiator = iota + 1
	// InitiatorPeer means the broker closed the connection or channel with a
	// protocol error
	InitiatorPeer
	// InitiatorNetwork means the transport failed (lost connection, I/O error)
	InitiatorNetwork
)

// String returns a string representation of the initiator
func (si ShutdownInitiator) String() string {
	switch si {
	case InitiatorApplication:
		return "application"
	case InitiatorPeer:
		return "peer"
	case InitiatorNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// ShutdownEvent describes one shutdown of a Connection or Channel
type ShutdownEvent struct {
	Initiator ShutdownInitiator
	Code      int
	Reason    string
	Err       error
}

// InitiatedByApplication reports whether the shutdown was an explicit close.
// Only shutdowns that were not application-initiated trigger recovery.
func (ev ShutdownEvent) InitiatedByApplication() bool {
	return ev.Initiator == InitiatorApplication
}

// ShutdownHandler receives shutdown events for the Connection or Channel it
// was registered on
type ShutdownHandler func(ShutdownEvent)

// classifyShutdown builds a shutdown event from a close notification.
// A nil cause means the close was requested by the application.
func classifyShutdown(cause *Error) ShutdownEvent {
	if cause == nil {
		return ShutdownEvent{Initiator: InitiatorApplication, Reason: "closed by application"}
	}
	initiator := InitiatorNetwork
	if cause.Server {
		initiator = InitiatorPeer
	}
	return ShutdownEvent{
		Initiator: initiator,
		Code:      cause.Code,
		Reason:    cause.Reason,
		Err:       cause,
	}
}

// shutdownBus delivers shutdown events to listeners registered on a single
// Connection or Channel. Handlers run synchronously in registration order on
// the goroutine that detected the event; a panicking handler is isolated so
// it cannot affect the teardown path or the remaining handlers.
type shutdownBus struct {
	mu       sync.Mutex
	handlers []ShutdownHandler

	// first fire closes fired and records the event for blocking waiters
	firstEv ShutdownEvent
	fired   chan struct{}

	logger zerolog.Logger
}

func newShutdownBus(logger zerolog.Logger) *shutdownBus {
	return &shutdownBus{
		fired:  make(chan struct{}),
		logger: logger,
	}
}

// addHandler registers a handler. Order of registration is delivery order.
func (b *shutdownBus) addHandler(h ShutdownHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// fire delivers one shutdown event to every registered handler
func (b *shutdownBus) fire(ev ShutdownEvent) {
	b.mu.Lock()
	select {
	case <-b.fired:
	default:
		b.firstEv = ev
		close(b.fired)
	}
	handlers := make([]ShutdownHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	for _, h := range handlers {
		b.invoke(h, ev)
	}
}

func (b *shutdownBus) invoke(h ShutdownHandler, ev ShutdownEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Msg("shutdown handler panicked")
		}
	}()
	h(ev)
}

// wait blocks until the first shutdown event or the timeout. The second
// return value is false when the timeout expired; expiry says nothing about
// whether a shutdown has happened or will happen.
func (b *shutdownBus) wait(timeout time.Duration) (ShutdownEvent, bool) {
	select {
	case <-b.fired:
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.firstEv, true
	case <-time.After(timeout):
		return ShutdownEvent{}, false
	}
}
