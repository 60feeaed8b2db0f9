package rabbitmq

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateConsumerTag(t *testing.T) {
	a := generateConsumerTag()
	b := generateConsumerTag()

	assert.True(t, strings.HasPrefix(a, "ctag-"))
	assert.NotEqual(t, a, b)
}

func TestConsumerRegistrySubscribeAndCancel(t *testing.T) {
	cr := newConsumerRegistry()
	ch := &Channel{}

	rec := &recordedConsumer{tag: "ctag-1", queue: "tasks", callback: &DefaultConsumer{}, ch: ch}
	cr.recordSubscribe(rec)

	got := cr.snapshotForChannel(ch)
	require.Len(t, got, 1)
	assert.Equal(t, "ctag-1", got[0].tag)

	cancelled := cr.recordCancel("ctag-1")
	require.NotNil(t, cancelled)
	assert.Equal(t, rec, cancelled)
	assert.Empty(t, cr.snapshotForChannel(ch))

	// cancelling an unknown tag is a no-op
	assert.Nil(t, cr.recordCancel("ctag-1"))
}

func TestConsumerRegistrySnapshotPreservesSubscriptionOrder(t *testing.T) {
	cr := newConsumerRegistry()
	ch := &Channel{}
	other := &Channel{}

	cr.recordSubscribe(&recordedConsumer{tag: "ctag-1", queue: "q1", ch: ch})
	cr.recordSubscribe(&recordedConsumer{tag: "ctag-2", queue: "q2", ch: other})
	cr.recordSubscribe(&recordedConsumer{tag: "ctag-3", queue: "q3", ch: ch})

	got := cr.snapshotForChannel(ch)
	require.Len(t, got, 2)
	assert.Equal(t, "ctag-1", got[0].tag)
	assert.Equal(t, "ctag-3", got[1].tag)
}

func TestConsumerRegistryReplaceTag(t *testing.T) {
	cr := newConsumerRegistry()
	ch := &Channel{}

	cr.recordSubscribe(&recordedConsumer{tag: "ctag-old", queue: "tasks", ch: ch})
	cr.replaceTag("ctag-old", "ctag-new")

	got := cr.snapshotForChannel(ch)
	require.Len(t, got, 1)
	assert.Equal(t, "ctag-new", got[0].tag)
	assert.Nil(t, cr.recordCancel("ctag-old"))

	// replacing an unknown tag is a no-op
	cr.replaceTag("ctag-missing", "ctag-whatever")
	assert.Len(t, cr.snapshotForChannel(ch), 1)
}

func TestConsumerRegistryRenameQueue(t *testing.T) {
	cr := newConsumerRegistry()
	ch := &Channel{}

	cr.recordSubscribe(&recordedConsumer{tag: "ctag-1", queue: "amq.gen-abc", ch: ch})
	cr.recordSubscribe(&recordedConsumer{tag: "ctag-2", queue: "tasks", ch: ch})

	cr.renameQueue("amq.gen-abc", "amq.gen-xyz")

	got := cr.snapshotForChannel(ch)
	require.Len(t, got, 2)
	assert.Equal(t, "amq.gen-xyz", got[0].queue)
	assert.Equal(t, "tasks", got[1].queue)
}

func TestConsumerRegistryRemoveForChannel(t *testing.T) {
	cr := newConsumerRegistry()
	ch := &Channel{}
	other := &Channel{}

	cr.recordSubscribe(&recordedConsumer{tag: "ctag-1", queue: "q1", ch: ch})
	cr.recordSubscribe(&recordedConsumer{tag: "ctag-2", queue: "q2", ch: other})
	cr.recordSubscribe(&recordedConsumer{tag: "ctag-3", queue: "q3", ch: ch})

	removed := cr.removeForChannel(ch)
	assert.Len(t, removed, 2)
	assert.Empty(t, cr.snapshotForChannel(ch))

	remaining := cr.snapshotForChannel(other)
	require.Len(t, remaining, 1)
	assert.Equal(t, "ctag-2", remaining[0].tag)
}

func TestChannelConsumerClosesOnCancel(t *testing.T) {
	cc := &channelConsumer{out: make(chan Delivery, 1), recoverable: true}

	cc.HandleCancelOk("ctag-1")
	_, open := <-cc.out
	assert.False(t, open)

	// double close must not panic
	assert.NotPanics(t, func() { cc.HandleCancelOk("ctag-1") })
	assert.NotPanics(t, func() { _ = cc.HandleCancel("ctag-1") })
}

func TestChannelConsumerShutdownSemantics(t *testing.T) {
	network := classifyShutdown(NewError(320, "connection forced", true))
	app := classifyShutdown(nil)

	t.Run("recoverable network shutdown keeps stream open", func(t *testing.T) {
		cc := &channelConsumer{out: make(chan Delivery, 1), recoverable: true}
		cc.HandleShutdown("ctag-1", network)

		select {
		case _, open := <-cc.out:
			assert.True(t, open, "stream must stay open while recovery is pending")
		default:
			// nothing delivered and still open
		}
	})

	t.Run("application shutdown closes stream", func(t *testing.T) {
		cc := &channelConsumer{out: make(chan Delivery, 1), recoverable: true}
		cc.HandleShutdown("ctag-1", app)
		_, open := <-cc.out
		assert.False(t, open)
	})

	t.Run("network shutdown without recovery closes stream", func(t *testing.T) {
		cc := &channelConsumer{out: make(chan Delivery, 1), recoverable: false}
		cc.HandleShutdown("ctag-1", network)
		_, open := <-cc.out
		assert.False(t, open)
	})
}

func TestDeliveryHandlerFunc(t *testing.T) {
	var gotTag string
	hc := &handlerConsumer{handler: func(tag string, d Delivery) error {
		gotTag = tag
		return nil
	}}

	require.NoError(t, hc.HandleDelivery("ctag-1", Delivery{}))
	assert.Equal(t, "ctag-1", gotTag)
}
