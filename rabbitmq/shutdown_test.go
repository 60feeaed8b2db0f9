package rabbitmq

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestShutdownInitiatorString(t *testing.T) {
	assert.Equal(t, "application", InitiatorApplication.String())
	assert.Equal(t, "peer", InitiatorPeer.String())
	assert.Equal(t, "network", InitiatorNetwork.String())
	assert.Equal(t, "unknown", ShutdownInitiator(0).String())
}

func TestClassifyShutdown(t *testing.T) {
	tests := []struct {
		name      string
		cause     *Error
		initiator ShutdownInitiator
	}{
		{"nil cause is application", nil, InitiatorApplication},
		{"server error is peer", NewError(amqp.NotAllowed, "access to vhost refused", true), InitiatorPeer},
		{"client error is network", NewError(amqp.ChannelError, "use of closed network connection", false), InitiatorNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := classifyShutdown(tt.cause)
			assert.Equal(t, tt.initiator, ev.Initiator)
			if tt.cause != nil {
				assert.Equal(t, tt.cause.Code, ev.Code)
				assert.Equal(t, tt.cause.Reason, ev.Reason)
				assert.Equal(t, tt.cause, ev.Err)
			}
		})
	}
}

func TestShutdownEventInitiatedByApplication(t *testing.T) {
	assert.True(t, classifyShutdown(nil).InitiatedByApplication())
	assert.False(t, classifyShutdown(NewError(amqp.ConnectionForced, "forced", true)).InitiatedByApplication())
}

func TestShutdownBusDeliversInRegistrationOrder(t *testing.T) {
	bus := newShutdownBus(zerolog.Nop())

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		bus.addHandler(func(ShutdownEvent) {
			order = append(order, i)
		})
	}

	bus.fire(classifyShutdown(nil))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestShutdownBusIsolatesPanickingHandler(t *testing.T) {
	bus := newShutdownBus(zerolog.Nop())

	var reached bool
	bus.addHandler(func(ShutdownEvent) {
		panic("handler failure")
	})
	bus.addHandler(func(ShutdownEvent) {
		reached = true
	})

	assert.NotPanics(t, func() {
		bus.fire(classifyShutdown(nil))
	})
	assert.True(t, reached, "handler after the panicking one must still run")
}

func TestShutdownBusWait(t *testing.T) {
	bus := newShutdownBus(zerolog.Nop())

	_, ok := bus.wait(10 * time.Millisecond)
	assert.False(t, ok, "wait must report expiry before any shutdown")

	want := classifyShutdown(NewError(amqp.ConnectionForced, "forced", true))
	go func() {
		time.Sleep(10 * time.Millisecond)
		bus.fire(want)
	}()

	ev, ok := bus.wait(time.Second)
	require.True(t, ok)
	assert.Equal(t, want, ev)

	// waiters after the fact see the same first event
	ev, ok = bus.wait(time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, want, ev)
}

func TestShutdownBusWaitKeepsFirstEvent(t *testing.T) {
	bus := newShutdownBus(zerolog.Nop())

	first := classifyShutdown(NewError(amqp.ConnectionForced, "forced", true))
	bus.fire(first)
	bus.fire(classifyShutdown(nil))

	ev, ok := bus.wait(time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, first, ev)
}

func TestShutdownBusHandlerSeesEvent(t *testing.T) {
	bus := newShutdownBus(zerolog.Nop())

	var got ShutdownEvent
	bus.addHandler(func(ev ShutdownEvent) { got = ev })

	want := classifyShutdown(NewError(amqp.AccessRefused, "refused", true))
	bus.fire(want)
	assert.Equal(t, want, got)
}
