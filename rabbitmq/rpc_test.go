package rabbitmq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowmq/burrow/internal/util"
)

func newTestRPCClient() *RPCClient {
	return &RPCClient{
		replyQueue: "amq.gen-reply",
		pending:    make(map[string]*util.BlockingCell),
	}
}

func TestRPCClientResolveMatchesCorrelationID(t *testing.T) {
	c := newTestRPCClient()

	cell := util.NewBlockingCell()
	c.pending["corr-1"] = cell

	c.resolve(Delivery{
		Properties: Properties{CorrelationID: "corr-1"},
		Body:       []byte("reply"),
	})

	v, err := cell.GetWithTimeout(time.Second)
	require.NoError(t, err)
	d, ok := v.(Delivery)
	require.True(t, ok)
	assert.Equal(t, []byte("reply"), d.Body)

	_, stillPending := c.pending["corr-1"]
	assert.False(t, stillPending)
}

func TestRPCClientResolveDropsUnknownCorrelationID(t *testing.T) {
	c := newTestRPCClient()

	cell := util.NewBlockingCell()
	c.pending["corr-1"] = cell

	c.resolve(Delivery{Properties: Properties{CorrelationID: "corr-other"}})

	_, err := cell.GetWithTimeout(20 * time.Millisecond)
	assert.Error(t, err)
	_, stillPending := c.pending["corr-1"]
	assert.True(t, stillPending)
}

func TestRPCClientCallAfterClose(t *testing.T) {
	c := newTestRPCClient()
	c.closed = true

	_, err := c.Call(context.Background(), "", "rpc.queue", Publishing{})
	assert.ErrorIs(t, err, errRPCClosed)
}

func TestRPCReplyConsumerRoutesDelivery(t *testing.T) {
	c := newTestRPCClient()
	cell := util.NewBlockingCell()
	c.pending["corr-1"] = cell

	rc := &rpcReplyConsumer{client: c}
	err := rc.HandleDelivery("ctag-x", Delivery{
		Properties: Properties{CorrelationID: "corr-1"},
		Body:       []byte("pong"),
	})
	require.NoError(t, err)

	v, err := cell.GetWithTimeout(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), v.(Delivery).Body)
}
